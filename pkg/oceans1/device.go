// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package oceans1 downloads dive logs from the Oceans S1 over its BLE
// serial bridge. Commands and replies are newline-terminated ASCII;
// bulk data arrives in a framed blob mode that the host enters by
// sending 'C' and acknowledges packet by packet.
package oceans1

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Blob mode control bytes.
const (
	blobData  = 0x01 // framed data packet follows
	blobEnd   = 0x04 // end of stream
	blobAck   = 0x06 // host acknowledgement
	blobStart = 'C'  // host request to enter blob mode
)

// Every blob packet carries exactly this many payload bytes; the last
// packet is zero padded.
const blobPayload = 512

// FingerprintSize is the width of a dive fingerprint: the dive header
// line, zero padded.
const FingerprintSize = 32

const maxLine = 128

type device struct {
	divecom.DeviceBase
}

// Open binds an Oceans S1 over t and reads the device clock.
func Open(t divecom.Transport, sink divecom.EventSink) (divecom.Device, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", divecom.ErrInvalidArgs)
	}
	if err := t.SetTimeout(1000 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("setting timeout: %w", err)
	}
	d := &device{}
	d.InitBase(t, sink)

	clock, err := d.command("utc")
	if err != nil {
		return nil, err
	}
	devtime, err := strconv.ParseUint(clock, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad clock reply %q", divecom.ErrProtocol, clock)
	}
	d.EmitClock(uint(devtime))
	return d, nil
}

// readLine reads one newline-terminated ASCII reply, reassembling the
// short packets the BLE link delivers. It reads one byte at a time so it
// never consumes blob bytes that follow the reply.
func (d *device) readLine() (string, error) {
	t := d.Transport()
	line := make([]byte, 0, maxLine)
	var chunk [1]byte
	for {
		n, err := t.Read(chunk[:])
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", fmt.Errorf("%w: empty reply packet", divecom.ErrIO)
		}
		if len(line)+n > maxLine {
			return "", fmt.Errorf("%w: reply line too long", divecom.ErrIO)
		}
		line = append(line, chunk[:n]...)
		if line[len(line)-1] == '\n' {
			return string(bytes.TrimRight(line, "\r\n")), nil
		}
	}
}

// command sends one text command and returns the payload after the
// "cmd>ok" marker of its reply.
func (d *device) command(cmd string) (string, error) {
	if err := divecom.WriteFull(d.Transport(), []byte(cmd+"\n")); err != nil {
		return "", err
	}
	line, err := d.readLine()
	if err != nil {
		return "", err
	}
	name := cmd
	if i := bytes.IndexByte([]byte(cmd), ' '); i >= 0 {
		name = cmd[:i]
	}
	prefix := name + ">ok"
	if !bytes.HasPrefix([]byte(line), []byte(prefix)) {
		return "", fmt.Errorf("%w: unexpected reply %q to %q", divecom.ErrProtocol, line, cmd)
	}
	return string(bytes.TrimLeft([]byte(line[len(prefix):]), " ")), nil
}

// readBlob switches the remote into blob mode and reassembles the
// streamed packets. Each packet carries a sequence byte and its
// complement; the two trailing checksum bytes are consumed but carry no
// information the sequence bytes do not.
func (d *device) readBlob() ([]byte, error) {
	t := d.Transport()
	if err := divecom.WriteFull(t, []byte{blobStart}); err != nil {
		return nil, err
	}

	var blob []byte
	var seq byte
	var packet [1 + 2 + blobPayload + 2]byte
	for {
		if err := d.CheckCancelled(); err != nil {
			return nil, err
		}
		if err := divecom.ReadFull(t, packet[:1]); err != nil {
			return nil, err
		}
		if packet[0] == blobEnd {
			if err := divecom.WriteFull(t, []byte{blobAck}); err != nil {
				return nil, err
			}
			return bytes.TrimRight(blob, "\x00"), nil
		}
		if packet[0] != blobData {
			return nil, fmt.Errorf("%w: unexpected blob control byte %#02x", divecom.ErrProtocol, packet[0])
		}
		if err := divecom.ReadFull(t, packet[1:]); err != nil {
			return nil, err
		}
		if packet[1] != seq || packet[2]+seq != 255 {
			return nil, fmt.Errorf("%w: blob sequence mismatch (packet %d, expected %d)", divecom.ErrIO, packet[1], seq)
		}
		blob = append(blob, packet[3:3+blobPayload]...)
		if err := divecom.WriteFull(t, []byte{blobAck}); err != nil {
			return nil, err
		}
		seq++
	}
}

// fingerprint pads a dive header line to the fixed fingerprint width.
func fingerprint(line string) []byte {
	fp := make([]byte, FingerprintSize)
	copy(fp, line)
	return fp
}

// SetFingerprint implements divecom.Device.
func (d *device) SetFingerprint(fp []byte) error {
	return d.StoreFingerprint(fp, FingerprintSize)
}

// Dump implements divecom.Device. The S1 exposes no raw memory read.
func (d *device) Dump(buf *bytes.Buffer) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	return divecom.ErrUnsupported
}

// Foreach implements divecom.Device. The dive list blob names every
// stored dive; each one is then downloaded with its samples and handed
// to cb as the text block from its header line through its trailer
// line. The device lists dives oldest first, so the list is walked
// backwards.
func (d *device) Foreach(cb divecom.DiveCallback) error {
	restore, err := d.BeginDownload()
	if err != nil {
		return err
	}
	defer restore()

	if _, err := d.command("dllist"); err != nil {
		return err
	}
	list, err := d.readBlob()
	if err != nil {
		return err
	}
	entries, err := parseDivelog(list)
	if err != nil {
		return err
	}
	d.EmitProgress(0, uint(len(entries)))

	for i := len(entries) - 1; i >= 0; i-- {
		if err := d.CheckCancelled(); err != nil {
			return err
		}
		entry := entries[i]
		fp := fingerprint(entry.header)
		if d.FingerprintMatches(fp) {
			break
		}

		if _, err := d.command(fmt.Sprintf("dlget %d %d", entry.nr, entry.nr+1)); err != nil {
			return err
		}
		blob, err := d.readBlob()
		if err != nil {
			return err
		}
		dive, err := extractDive(blob, entry.nr)
		if err != nil {
			return err
		}
		if !cb(dive, fp) {
			break
		}
		d.EmitProgress(uint(len(entries)-i), uint(len(entries)))
	}
	return nil
}

// TimeSync implements divecom.Device. The S1 reports its clock but has
// no command to set it.
func (d *device) TimeSync(t time.Time) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	return divecom.ErrUnsupported
}

// Close implements divecom.Device.
func (d *device) Close() error {
	return d.CloseBase()
}

func init() {
	divecom.Register(divecom.Backend{
		Name:        "oceans-s1",
		Description: "Oceans S1 dive computer",
		OpenDevice:  Open,
		NewParser:   NewParser,
	})
}
