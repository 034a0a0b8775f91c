// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package mclean downloads dive logs from the McLean Extreme rebreather
// computer. The wire protocol is a framed packet exchange over a serial
// or BLE-bridged link: every frame starts with an STX byte, carries a
// 32-bit payload length and a command byte, and ends with a big-endian
// XMODEM CRC over everything after the STX.
package mclean

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Protocol command bytes
const (
	cmdComputer = 0xA0 // download the computer configuration
	cmdDive     = 0xA3 // download one dive header plus samples
	cmdClose    = 0xAA // close the connection and turn off bluetooth
)

// Wire format sizes
const (
	stx        = 0x7E
	maxPayload = 512

	szComputer = 0x97 // computer state dump
	szDive     = 0x5E // dive header
	szSample   = 0x04 // one sample record

	// FingerprintSize is the width of a dive fingerprint: the first
	// seven bytes of the dive header.
	FingerprintSize = 7
)

// The STX of a reply takes 6 to 8 seconds to arrive, so the 1000 ms read
// timeout is stretched by an outer retry loop that keeps the download
// cancellable.
const maxSTXRetries = 14

// DefaultReadChunk is the payload read granularity. BLE bridges with a
// small MTU can pass a smaller chunk to OpenChunked.
const DefaultReadChunk = 1000

type device struct {
	divecom.DeviceBase
	readChunk int
	computer  []byte
}

// Open connects to a McLean Extreme over t using the default read chunk.
func Open(t divecom.Transport, sink divecom.EventSink) (divecom.Device, error) {
	return OpenChunked(t, sink, DefaultReadChunk)
}

// OpenChunked connects to a McLean Extreme over t, capping payload reads
// at readChunk bytes per transport read. It configures the serial line,
// performs the configuration handshake, and leaves the device ready for
// enumeration.
func OpenChunked(t divecom.Transport, sink divecom.EventSink, readChunk int) (divecom.Device, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", divecom.ErrInvalidArgs)
	}
	if readChunk <= 0 {
		return nil, fmt.Errorf("%w: read chunk must be positive, got %d", divecom.ErrInvalidArgs, readChunk)
	}
	d := &device{readChunk: readChunk}
	d.InitBase(t, sink)

	if err := t.Configure(divecom.LineConfig{BaudRate: 115200, DataBits: 8}); err != nil {
		return nil, fmt.Errorf("configuring serial line: %w", err)
	}
	if err := t.SetTimeout(1000 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("setting timeout: %w", err)
	}

	if err := d.send(cmdComputer, nil); err != nil {
		return nil, fmt.Errorf("requesting computer state: %w", err)
	}
	computer, err := d.receive(cmdComputer, szComputer)
	if err != nil {
		return nil, fmt.Errorf("reading computer state: %w", err)
	}
	if len(computer) < szComputer || computer[0] != 0 {
		return nil, fmt.Errorf("%w: unsupported computer state format", divecom.ErrDataFormat)
	}
	d.computer = computer
	return d, nil
}

// send frames and writes one command packet. The computer needs a quiet
// period before every command.
func (d *device) send(cmd byte, payload []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: payload too large (%d)", divecom.ErrInvalidArgs, len(payload))
	}
	packet := make([]byte, len(payload)+11)
	packet[0] = stx
	packet[1] = 0x00
	divecom.PutU32LE(packet[2:], uint32(len(payload)))
	packet[6] = cmd
	copy(packet[7:], payload)
	crc := divecom.CRC16XModem(packet[1:7+len(payload)], 0)
	divecom.PutU16BE(packet[7+len(payload):], crc)

	t := d.Transport()
	t.Sleep(300 * time.Millisecond)
	return divecom.WriteFull(t, packet)
}

// receive reads one reply packet, expecting the rsp command byte and a
// payload of at most maxSize bytes.
func (d *device) receive(rsp byte, maxSize int) ([]byte, error) {
	t := d.Transport()

	var hdr [7]byte
	retries := 0
	for {
		if err := divecom.ReadFull(t, hdr[:1]); err != nil {
			if !errors.Is(err, divecom.ErrTimeout) {
				return nil, err
			}
			if retries >= maxSTXRetries {
				return nil, err
			}
			retries++
			if err := d.CheckCancelled(); err != nil {
				return nil, err
			}
			continue
		}
		if hdr[0] == stx {
			break
		}
		retries = 0
	}

	if err := divecom.ReadFull(t, hdr[1:]); err != nil {
		return nil, err
	}
	if hdr[1] != 0x00 {
		return nil, fmt.Errorf("%w: unexpected type byte %#02x", divecom.ErrProtocol, hdr[1])
	}
	length := int(divecom.U32LE(hdr[2:6]))
	if length > maxSize {
		return nil, fmt.Errorf("%w: reply length %d exceeds %d", divecom.ErrProtocol, length, maxSize)
	}
	if hdr[6] != rsp {
		return nil, fmt.Errorf("%w: unexpected command byte %#02x", divecom.ErrProtocol, hdr[6])
	}

	payload := make([]byte, length)
	for n := 0; n < length; {
		chunk := length - n
		if chunk > d.readChunk {
			chunk = d.readChunk
		}
		if err := divecom.ReadFull(t, payload[n:n+chunk]); err != nil {
			return nil, err
		}
		n += chunk
	}

	var trailer [4]byte
	if err := divecom.ReadFull(t, trailer[:]); err != nil {
		return nil, err
	}
	crc := divecom.CRC16XModem(hdr[1:], 0)
	crc = divecom.CRC16XModem(payload, crc)
	if divecom.U16BE(trailer[:2]) != crc || trailer[2] != 0 || trailer[3] != 0 {
		return nil, fmt.Errorf("%w: reply checksum mismatch", divecom.ErrProtocol)
	}
	return payload, nil
}

// readDive downloads the dive with the given id: the header in the first
// reply packet, then as many sample packets as the header announces.
func (d *device) readDive(id int) ([]byte, error) {
	if err := d.send(cmdDive, []byte{byte(id), byte(id >> 8)}); err != nil {
		return nil, err
	}
	header, err := d.receive(cmdDive, maxPayload)
	if err != nil {
		return nil, err
	}
	if len(header) < szDive {
		return nil, fmt.Errorf("%w: short dive header (%d bytes)", divecom.ErrDataFormat, len(header))
	}
	if header[0] != 0 {
		return nil, fmt.Errorf("%w: unsupported dive format %d", divecom.ErrDataFormat, header[0])
	}

	remaining := int(divecom.U16LE(header[0x5C:]))
	dive := make([]byte, 0, szDive+remaining*szSample)
	dive = append(dive, header[:szDive]...)

	for remaining > 0 {
		packet, err := d.receive(cmdDive, maxPayload)
		if err != nil {
			return nil, err
		}
		if len(packet)%szSample != 0 {
			return nil, fmt.Errorf("%w: partial samples received", divecom.ErrDataFormat)
		}
		count := len(packet) / szSample
		if count > remaining {
			return nil, fmt.Errorf("%w: too many samples received", divecom.ErrDataFormat)
		}
		dive = append(dive, packet...)
		remaining -= count
	}
	return dive, nil
}

// SetFingerprint implements divecom.Device.
func (d *device) SetFingerprint(fp []byte) error {
	return d.StoreFingerprint(fp, FingerprintSize)
}

// Dump implements divecom.Device. The Extreme has no full-memory read;
// the dump is the computer state snapshot captured during the handshake.
func (d *device) Dump(buf *bytes.Buffer) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	d.EmitProgress(0, uint(len(d.computer)))
	buf.Write(d.computer)
	d.EmitProgress(uint(len(d.computer)), uint(len(d.computer)))
	return nil
}

// Foreach implements divecom.Device, downloading dives newest-first.
func (d *device) Foreach(cb divecom.DiveCallback) error {
	restore, err := d.BeginDownload()
	if err != nil {
		return err
	}
	defer restore()

	count := int(divecom.U16LE(d.computer[0x19:]))
	d.EmitProgress(0, uint(count))

	for i := count - 1; i >= 0; i-- {
		if err := d.CheckCancelled(); err != nil {
			return err
		}
		dive, err := d.readDive(i)
		if err != nil {
			return err
		}
		fp := dive[:FingerprintSize]
		if d.FingerprintMatches(fp) {
			break
		}
		if !cb(dive, fp) {
			break
		}
		d.EmitProgress(uint(count-i), uint(count))
	}
	return nil
}

// TimeSync implements divecom.Device. The protocol has no clock command.
func (d *device) TimeSync(t time.Time) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	return divecom.ErrUnsupported
}

// Close implements divecom.Device, asking the computer to drop the link
// before releasing the transport.
func (d *device) Close() error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	sendErr := d.send(cmdClose, nil)
	if err := d.CloseBase(); err != nil {
		return err
	}
	return sendErr
}

func init() {
	divecom.Register(divecom.Backend{
		Name:        "mclean-extreme",
		Description: "McLean Extreme rebreather computer",
		OpenDevice:  Open,
		NewParser:   NewParser,
	})
}
