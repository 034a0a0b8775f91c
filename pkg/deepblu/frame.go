// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package deepblu downloads dive logs from the Deepblu Cosmiq+ over its
// BLE serial bridge. The protocol is ASCII line based: every command is
// a '#'-framed hex line, every reply a '$'-framed one, both protected by
// a two's-complement modular checksum over the header and data bytes.
package deepblu

import (
	"fmt"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// The BLE chip delivers at most 20 payload bytes per notification, so a
// line arrives in short packets that must be reassembled.
const maxData = 20

const maxLine = 8 + 2*maxData

// encodeFrame builds one command line: '#', then the command byte, the
// checksum, and the doubled data length as hex pairs, then the data in
// hex, then a newline.
func encodeFrame(cmd byte, data []byte) []byte {
	csum := cmd + byte(2*len(data))
	for _, b := range data {
		csum += b
	}
	csum = -csum

	buf := make([]byte, 0, 8+2*len(data))
	buf = append(buf, '#')
	buf = divecom.HexEncodeByte(buf, cmd)
	buf = divecom.HexEncodeByte(buf, csum)
	buf = divecom.HexEncodeByte(buf, byte(2*len(data)))
	for _, b := range data {
		buf = divecom.HexEncodeByte(buf, b)
	}
	return append(buf, '\n')
}

// decodeFrame parses one reply line with the trailing newline removed.
// The header checksum must satisfy cmd + csum + ndata + sum(data) == 0
// modulo 256.
func decodeFrame(line []byte) (cmd byte, data []byte, err error) {
	if len(line) < 7 || line[0] != '$' {
		return 0, nil, fmt.Errorf("%w: malformed reply line", divecom.ErrProtocol)
	}
	c := divecom.HexDecodeByte(line[1], line[2])
	csum := divecom.HexDecodeByte(line[3], line[4])
	ndata := divecom.HexDecodeByte(line[5], line[6])
	if c < 0 || csum < 0 || ndata < 0 {
		return 0, nil, fmt.Errorf("%w: non-hex reply header", divecom.ErrProtocol)
	}
	if ndata&1 != 0 || ndata != len(line)-7 {
		return 0, nil, fmt.Errorf("%w: reply data length mismatch (claimed %d, got %d)", divecom.ErrProtocol, ndata, len(line)-7)
	}

	sum := c + csum + ndata
	data = make([]byte, 0, ndata/2)
	for i := 7; i < len(line); i += 2 {
		b := divecom.HexDecodeByte(line[i], line[i+1])
		if b < 0 {
			return 0, nil, fmt.Errorf("%w: non-hex reply data", divecom.ErrProtocol)
		}
		data = append(data, byte(b))
		sum += b
	}
	if sum&0xFF != 0 {
		return 0, nil, fmt.Errorf("%w: reply checksum mismatch", divecom.ErrProtocol)
	}
	return byte(c), data, nil
}
