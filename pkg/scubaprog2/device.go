// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package scubaprog2 downloads dive logs from the Scubapro G2 family
// over its HID-style packet protocol. Received packets carry a length
// byte followed by payload; commands are padded to a fixed report
// size. The whole log memory is fetched in one incremental dump and
// dives are cut out of it afterwards.
package scubaprog2

import (
	"bytes"
	"fmt"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Supported models.
const (
	ModelAladinSportMatrix = 0x17
	ModelAladinSquare      = 0x22
	ModelG2                = 0x32
)

const (
	rxPacketSize = 64
	txPacketSize = 32
)

// Info and download command bytes.
const (
	cmdHandshake1 = 0x1B
	cmdHandshake2 = 0x1C
	cmdModel      = 0x10
	cmdSerial     = 0x14
	cmdDevtime    = 0x1A
	cmdDataSize   = 0xC6
	cmdData       = 0xC4
)

// FingerprintSize is the width of a dive fingerprint: the dive's
// 32-bit timestamp, which the device also accepts as a download
// watermark.
const FingerprintSize = 4

// diveMarker starts every dive header in the dump.
var diveMarker = []byte{0xA5, 0xA5, 0x5A, 0x5A}

type device struct {
	divecom.DeviceBase
	packetSize int
	timestamp  uint32
}

// Open binds a Scubapro G2 over t.
func Open(t divecom.Transport, sink divecom.EventSink) (divecom.Device, error) {
	return OpenNamed(t, sink, "", ModelG2)
}

// OpenNamed binds a device of the given model, unlocking the BLE link
// first when an advertised name is known.
func OpenNamed(t divecom.Transport, sink divecom.EventSink, name string, model uint) (divecom.Device, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", divecom.ErrInvalidArgs)
	}
	if err := t.SetTimeout(1000 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("setting timeout: %w", err)
	}
	d := &device{packetSize: rxPacketSize}
	if pt, ok := t.(divecom.PacketTransport); ok {
		d.packetSize = pt.PacketSize()
	}
	d.InitBase(t, sink)

	if d.ble() && len(name) >= 8 {
		if err := divecom.WriteFull(t, blePassphrase(name)); err != nil {
			return nil, err
		}
	}

	// The vendor software does no handshake for the Aladin Sport
	// Matrix.
	if model != ModelAladinSportMatrix {
		if err := d.handshake(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ble reports whether the link is a BLE GATT bridge rather than USB
// HID; BLE writes omit the report type byte.
func (d *device) ble() bool {
	return d.packetSize < rxPacketSize
}

// blePassphrase builds the BLE unlock packet from the advertised
// device name, for example "G2001124": 0xE5, the name's six serial
// digits as raw byte values padded to eight bytes, and a modular sum
// of those eight bytes. The derivation mirrors the vendor app traffic;
// why the digits unlock the link is not understood.
func blePassphrase(name string) []byte {
	packet := make([]byte, 10)
	packet[0] = 0xE5
	for i := 0; i < 6; i++ {
		packet[1+i] = name[i+2] - '0'
	}
	var sum byte
	for _, b := range packet[1:9] {
		sum += b
	}
	packet[9] = sum
	return packet
}

// send pads one command into a report-sized frame and writes it.
func (d *device) send(command []byte) error {
	if len(command) > txPacketSize-1 {
		return fmt.Errorf("%w: command too big (%d bytes)", divecom.ErrInvalidArgs, len(command))
	}
	frame := make([]byte, txPacketSize+1)
	frame[1] = byte(len(command))
	copy(frame[2:], command)
	if d.ble() {
		return divecom.WriteFull(d.Transport(), frame[1:2+len(command)])
	}
	return divecom.WriteFull(d.Transport(), frame)
}

// receive fills dst from length-prefixed packets. A packet shorter
// than its own length byte claims is corrupt; a packet longer than the
// remaining buffer is truncated. onData, if set, observes every
// payload chunk as it lands.
func (d *device) receive(dst []byte, onData func(n int)) error {
	t := d.Transport()
	var packet [rxPacketSize]byte
	for len(dst) > 0 {
		n, err := t.Read(packet[:])
		if err != nil {
			return err
		}
		if n < 1 {
			return fmt.Errorf("%w: empty packet", divecom.ErrIO)
		}
		length := int(packet[0])
		if length >= len(packet) {
			return fmt.Errorf("%w: impossible packet size %d", divecom.ErrIO, length)
		}
		if n < length+1 {
			return fmt.Errorf("%w: short packet (got %d, expected %d)", divecom.ErrIO, n, length+1)
		}
		if length > len(dst) {
			length = len(dst)
		}
		copy(dst, packet[1:1+length])
		dst = dst[length:]
		if onData != nil {
			onData(length)
		}
	}
	return nil
}

// transfer sends one command and fills answer from the reply packets.
func (d *device) transfer(command, answer []byte) error {
	if err := d.send(command); err != nil {
		return err
	}
	return d.receive(answer, nil)
}

// handshake runs the two-stage unlock; each stage must answer 0x01.
func (d *device) handshake() error {
	var answer [1]byte
	if err := d.transfer([]byte{cmdHandshake1}, answer[:]); err != nil {
		return err
	}
	if answer[0] != 0x01 {
		return fmt.Errorf("%w: handshake refused (%#02x)", divecom.ErrProtocol, answer[0])
	}
	if err := d.transfer([]byte{cmdHandshake2, 0x10, 0x27, 0, 0}, answer[:]); err != nil {
		return err
	}
	if answer[0] != 0x01 {
		return fmt.Errorf("%w: handshake refused (%#02x)", divecom.ErrProtocol, answer[0])
	}
	return nil
}

// SetFingerprint implements divecom.Device. The fingerprint doubles as
// the device-side download watermark.
func (d *device) SetFingerprint(fp []byte) error {
	if err := d.StoreFingerprint(fp, FingerprintSize); err != nil {
		return err
	}
	if len(fp) == 0 {
		d.timestamp = 0
	} else {
		d.timestamp = divecom.U32LE(fp)
	}
	return nil
}

// dump fetches the device identity and everything recorded after the
// download watermark into buf.
func (d *device) dump(buf *bytes.Buffer) error {
	restore, err := d.BeginDownload()
	if err != nil {
		return err
	}
	defer restore()

	var model [1]byte
	if err := d.transfer([]byte{cmdModel}, model[:]); err != nil {
		return err
	}
	var serial [4]byte
	if err := d.transfer([]byte{cmdSerial}, serial[:]); err != nil {
		return err
	}
	var devtime [4]byte
	if err := d.transfer([]byte{cmdDevtime}, devtime[:]); err != nil {
		return err
	}
	d.EmitClock(uint(divecom.U32LE(devtime[:])))
	d.EmitDevinfo(uint(model[0]), 0, uint(divecom.U32LE(serial[:])))
	current := uint(9)
	d.EmitProgress(current, 0)

	command := make([]byte, 9)
	command[0] = cmdDataSize
	divecom.PutU32LE(command[1:], d.timestamp)
	command[5] = 0x10
	command[6] = 0x27

	var answer [4]byte
	if err := d.transfer(command, answer[:]); err != nil {
		return err
	}
	length := divecom.U32LE(answer[:])

	maximum := uint(4 + 9)
	if length > 0 {
		maximum += uint(length) + 4
	}
	current += 4
	d.EmitProgress(current, maximum)
	if length == 0 {
		return nil
	}

	command[0] = cmdData
	if err := d.transfer(command, answer[:]); err != nil {
		return err
	}
	total := divecom.U32LE(answer[:])
	current += 4
	d.EmitProgress(current, maximum)
	if total != length+4 {
		return fmt.Errorf("%w: download size %d does not match announced %d", divecom.ErrProtocol, total, length)
	}

	data := make([]byte, length)
	err = d.receive(data, func(n int) {
		current += uint(n)
		d.EmitProgress(current, maximum)
	})
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// Dump implements divecom.Device.
func (d *device) Dump(buf *bytes.Buffer) error {
	return d.dump(buf)
}

// Foreach implements divecom.Device: one full dump, then a backward
// scan for dive start markers so dives surface newest first.
func (d *device) Foreach(cb divecom.DiveCallback) error {
	var buf bytes.Buffer
	if err := d.dump(&buf); err != nil {
		return err
	}
	return d.extractDives(buf.Bytes(), cb)
}

// extractDives walks data backwards for marker hits. Each dive records
// its own length after the marker; its fingerprint is the 32-bit
// timestamp that follows.
func (d *device) extractDives(data []byte, cb divecom.DiveCallback) error {
	previous := len(data)
	current := len(data) - len(diveMarker)
	for current > 0 {
		current--
		if !bytes.Equal(data[current:current+len(diveMarker)], diveMarker) {
			continue
		}
		if current+8+FingerprintSize > len(data) {
			return fmt.Errorf("%w: truncated dive header", divecom.ErrDataFormat)
		}
		length := int(divecom.U32LE(data[current+4:]))
		if current+length > previous {
			return fmt.Errorf("%w: dive length %d overruns the preceding dive", divecom.ErrDataFormat, length)
		}
		fp := data[current+8 : current+8+FingerprintSize]
		if d.FingerprintMatches(fp) {
			return nil
		}
		if !cb(data[current:current+length], fp) {
			return nil
		}
		previous = current
		if current >= 4 {
			current -= 4
		} else {
			current = 0
		}
	}
	return nil
}

// TimeSync implements divecom.Device. The G2 reports its clock during
// the download handshake but has no command to set it.
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
		Name:        "scubapro-g2",
		Description: "Scubapro G2, Aladin Square and Aladin Sport Matrix",
		OpenDevice:  Open,
	})
}
