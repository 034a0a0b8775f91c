// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package deepblu

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Protocol command bytes. Replies echo the command byte; numeric reply
// payloads (dive count, download size) are ASCII decimal, bulk dive data
// is raw binary.
const (
	cmdDiveCount = 0xA0 // number of stored dives
	cmdDive      = 0xA1 // download one dive, newest is the highest number
	cmdSetTime   = 0xB0 // set the device clock
)

// FingerprintSize is the width of a dive fingerprint: the first eight
// bytes of the dive header, which carry the dive number and date.
const FingerprintSize = 8

type device struct {
	divecom.DeviceBase
}

// Open binds a Cosmiq+ over t. The BLE bridge is ready as soon as it is
// connected; there is no handshake.
func Open(t divecom.Transport, sink divecom.EventSink) (divecom.Device, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", divecom.ErrInvalidArgs)
	}
	if err := t.SetTimeout(1000 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("setting timeout: %w", err)
	}
	d := &device{}
	d.InitBase(t, sink)
	return d, nil
}

// recvLine reassembles one newline-terminated reply from the short
// packets the BLE chip delivers. It reads one byte at a time so it never
// consumes bytes of the following reply. The accumulated length is
// tracked explicitly so an empty first packet cannot be misread as a line.
func (d *device) recvLine() ([]byte, error) {
	t := d.Transport()
	line := make([]byte, 0, maxLine)
	var chunk [1]byte
	for {
		n, err := t.Read(chunk[:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: empty reply packet", divecom.ErrIO)
		}
		if len(line)+n > maxLine {
			return nil, fmt.Errorf("%w: reply line too long", divecom.ErrIO)
		}
		line = append(line, chunk[:n]...)
		if line[len(line)-1] == '\n' {
			return line[:len(line)-1], nil
		}
	}
}

// transfer sends one command and returns the matching reply's data.
func (d *device) transfer(cmd byte, data []byte) ([]byte, error) {
	if err := divecom.WriteFull(d.Transport(), encodeFrame(cmd, data)); err != nil {
		return nil, err
	}
	return d.receive(cmd)
}

// receive reads one reply, which must echo the expected command byte.
func (d *device) receive(cmd byte) ([]byte, error) {
	line, err := d.recvLine()
	if err != nil {
		return nil, err
	}
	got, data, err := decodeFrame(line)
	if err != nil {
		return nil, err
	}
	if got != cmd {
		return nil, fmt.Errorf("%w: reply %#02x for command %#02x", divecom.ErrProtocol, got, cmd)
	}
	return data, nil
}

// asciiNumber parses a decimal reply payload.
func asciiNumber(data []byte) (int, error) {
	n, err := strconv.Atoi(string(data))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad numeric reply %q", divecom.ErrProtocol, data)
	}
	return n, nil
}

// readDive downloads dive nr: an ASCII length reply, then binary data
// frames until the announced byte count is complete.
func (d *device) readDive(nr int) ([]byte, error) {
	sizeReply, err := d.transfer(cmdDive, []byte(strconv.Itoa(nr)))
	if err != nil {
		return nil, err
	}
	total, err := asciiNumber(sizeReply)
	if err != nil {
		return nil, err
	}

	dive := make([]byte, 0, total)
	for len(dive) < total {
		if err := d.CheckCancelled(); err != nil {
			return nil, err
		}
		chunk, err := d.receive(cmdDive)
		if err != nil {
			return nil, err
		}
		if len(dive)+len(chunk) > total {
			return nil, fmt.Errorf("%w: dive data overrun", divecom.ErrProtocol)
		}
		dive = append(dive, chunk...)
	}
	if len(dive) < FingerprintSize {
		return nil, fmt.Errorf("%w: dive shorter than its fingerprint", divecom.ErrDataFormat)
	}
	return dive, nil
}

// SetFingerprint implements divecom.Device.
func (d *device) SetFingerprint(fp []byte) error {
	return d.StoreFingerprint(fp, FingerprintSize)
}

// Dump implements divecom.Device. The Cosmiq+ exposes no raw memory
// read.
func (d *device) Dump(buf *bytes.Buffer) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	return divecom.ErrUnsupported
}

// Foreach implements divecom.Device, downloading dives newest-first.
func (d *device) Foreach(cb divecom.DiveCallback) error {
	restore, err := d.BeginDownload()
	if err != nil {
		return err
	}
	defer restore()

	countReply, err := d.transfer(cmdDiveCount, nil)
	if err != nil {
		return err
	}
	count, err := asciiNumber(countReply)
	if err != nil {
		return err
	}
	d.EmitProgress(0, uint(count))

	for nr := count; nr >= 1; nr-- {
		if err := d.CheckCancelled(); err != nil {
			return err
		}
		dive, err := d.readDive(nr)
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
		d.EmitProgress(uint(count-nr+1), uint(count))
	}
	return nil
}

// TimeSync implements divecom.Device, setting the device clock to t.
func (d *device) TimeSync(t time.Time) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	if t.Year() < 2000 || t.Year() > 2255 {
		return fmt.Errorf("%w: year %d out of device range", divecom.ErrInvalidArgs, t.Year())
	}
	payload := []byte{
		byte(t.Year() - 2000),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	}
	_, err := d.transfer(cmdSetTime, payload)
	return err
}

// Close implements divecom.Device.
func (d *device) Close() error {
	return d.CloseBase()
}

func init() {
	divecom.Register(divecom.Backend{
		Name:        "deepblu",
		Description: "Deepblu Cosmiq+ dive computer",
		OpenDevice:  Open,
		NewParser:   NewParser,
	})
}
