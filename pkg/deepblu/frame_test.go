// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package deepblu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// ============================================================
// Wire Fixtures
// ============================================================

// reply builds one '$'-framed reply line, newline included.
func reply(cmd byte, data []byte) []byte {
	csum := cmd + byte(2*len(data))
	for _, b := range data {
		csum += b
	}
	csum = -csum

	buf := []byte{'$'}
	buf = divecom.HexEncodeByte(buf, cmd)
	buf = divecom.HexEncodeByte(buf, csum)
	buf = divecom.HexEncodeByte(buf, byte(2*len(data)))
	for _, b := range data {
		buf = divecom.HexEncodeByte(buf, b)
	}
	return append(buf, '\n')
}

// ============================================================
// Encoding Tests
// ============================================================

func TestEncodeFrame_Wire(t *testing.T) {
	// Command 0xA1, data "2": csum = -(0xA1 + 0x02 + 0x32) & 0xFF = 0x2B.
	got := encodeFrame(0xA1, []byte("2"))
	want := []byte("#A12B0232\n")
	if !bytes.Equal(got, want) {
		t.Errorf("encodeFrame: got %q, want %q", got, want)
	}
}

func TestEncodeFrame_NoData(t *testing.T) {
	// Command 0xA0 alone: csum = -0xA0 & 0xFF = 0x60.
	got := encodeFrame(0xA0, nil)
	want := []byte("#A06000\n")
	if !bytes.Equal(got, want) {
		t.Errorf("encodeFrame: got %q, want %q", got, want)
	}
}

// ============================================================
// Decoding Tests
// ============================================================

func TestDecodeFrame_RoundTrip(t *testing.T) {
	data := []byte{0x30, 0x31, 0x32, 0x33}
	line := reply(0xA0, data)
	cmd, got, err := decodeFrame(line[:len(line)-1])
	if err != nil {
		t.Fatalf("decodeFrame failed: %v", err)
	}
	if cmd != 0xA0 {
		t.Errorf("command: expected 0xA0, got %#02x", cmd)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("data: expected % X, got % X", data, got)
	}
}

func TestDecodeFrame_Rejects(t *testing.T) {
	valid := reply(0xA0, []byte("7"))
	valid = valid[:len(valid)-1]

	tests := []struct {
		name string
		line []byte
	}{
		{"too short", []byte("$A060")},
		{"wrong start", append([]byte("#"), valid[1:]...)},
		{"non-hex header", []byte("$ZZ600037")},
		{"odd length", func() []byte {
			l := append([]byte(nil), valid...)
			copy(l[5:7], "03")
			return append(l, '7')
		}()},
		{"length mismatch", append(append([]byte(nil), valid...), "37"...)},
		{"checksum mismatch", func() []byte {
			l := append([]byte(nil), valid...)
			copy(l[3:5], "00")
			return l
		}()},
		{"non-hex data", func() []byte {
			l := append([]byte(nil), valid...)
			l[len(l)-1] = 'X'
			return l
		}()},
	}
	for _, tt := range tests {
		if _, _, err := decodeFrame(tt.line); !errors.Is(err, divecom.ErrProtocol) {
			t.Errorf("%s: expected ErrProtocol, got %v", tt.name, err)
		}
	}
}

// ============================================================
// Fuzz Targets
// ============================================================

func FuzzDecodeFrame(f *testing.F) {
	f.Add([]byte(nil))
	f.Add(reply(0x41, []byte{0x01, 0x02}))
	f.Add([]byte("$7A8600"))
	f.Add([]byte("#7A8600"))
	f.Fuzz(func(t *testing.T, line []byte) {
		cmd, data, err := decodeFrame(line)
		if err != nil {
			return
		}
		if line[0] != '$' {
			t.Errorf("accepted a line without the reply marker: %q", line)
		}
		if 2*len(data) != len(line)-7 {
			t.Errorf("cmd %#02x: data length %d does not cover the line (%d bytes)", cmd, len(data), len(line))
		}
	})
}
