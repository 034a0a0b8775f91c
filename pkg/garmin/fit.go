// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package garmin

import (
	"fmt"
	"math"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Seconds between the FIT epoch (1989-12-31 00:00:00 UTC) and the Unix
// epoch.
const garminEpochOffset = 631065600

// FingerprintSize is the width of the filename fingerprint prepended to
// every dive blob delivered by the Garmin device.
const FingerprintSize = 24

// Record header bit layout
const (
	hdrCompressed  = 0x80
	hdrDefinition  = 0x40
	hdrDevFields   = 0x20
	hdrLocalMask   = 0x0F
	compTimeMask   = 0x1F
	compLocalShift = 5
	compLocalMask  = 0x03
)

const maxLocalTypes = 16

// fieldDef is one field slot of an installed definition record.
type fieldDef struct {
	number byte
	size   int
	base   baseTypeInfo
}

// localType is one of the sixteen definition slots. A data record that
// references a slot with a nil descriptor is a fatal decode error.
type localType struct {
	desc      *messageDesc
	bigEndian bool
	fields    []fieldDef
}

// fitValue is one decoded field value handed to a message handler. The
// raw bytes are kept alongside the widened scalar so string and array
// handlers can reinterpret them.
type fitValue struct {
	raw       []byte
	base      baseTypeInfo
	bigEndian bool
}

// uint64v widens the first element to an unsigned 64-bit scalar.
func (v fitValue) uint64v() uint64 {
	return divecom.UintEndian(v.raw, v.base.size, v.bigEndian)
}

// int64v widens the first element with sign extension.
func (v fitValue) int64v() int64 {
	u := v.uint64v()
	shift := uint(64 - 8*v.base.size)
	return int64(u<<shift) >> shift
}

// float64v reinterprets the first element as an IEEE-754 value for the
// float base types, or converts the integer value otherwise.
func (v fitValue) float64v() float64 {
	switch v.base.size {
	case 4:
		if v.base.name == "float32" {
			return float64(math.Float32frombits(uint32(v.uint64v())))
		}
	case 8:
		if v.base.name == "float64" {
			return math.Float64frombits(v.uint64v())
		}
	}
	if v.base.signed {
		return float64(v.int64v())
	}
	return float64(v.uint64v())
}

// stringv interprets the raw bytes as a NUL-terminated string.
func (v fitValue) stringv() string {
	b := v.raw
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b)
}

// fitDecoder walks one FIT byte stream and feeds the parser state. The
// same decoder runs twice per dive: once during SetData to prime the
// field cache, and once per SamplesForeach with a live callback.
type fitDecoder struct {
	state   *diveState
	cache   *divecom.FieldCache
	cb      divecom.SampleCallback
	locals  [maxLocalTypes]localType
	pending pendingRecord
}

// emit delivers one sample when a callback is bound.
func (d *fitDecoder) emit(s divecom.Sample) {
	if d.cb != nil {
		d.cb(s)
	}
}

// emitTime delivers a time sample for the given relative second, keeping
// sample time monotonic. Times that would run backward are dropped.
func (d *fitDecoder) emitTime(rel uint32) {
	if d.state.haveEmitted && rel < d.state.lastEmitted {
		return
	}
	d.emit(divecom.TimeSample{Seconds: uint(rel)})
	d.state.lastEmitted = rel
	d.state.haveEmitted = true
}

// run decodes the full dive blob: fingerprint, FIT header, then the
// record stream until data_size bytes are consumed.
func (d *fitDecoder) run(data []byte) error {
	if len(data) < FingerprintSize {
		return fmt.Errorf("%w: dive shorter than the filename fingerprint", divecom.ErrIO)
	}
	data = data[FingerprintSize:]

	if len(data) < 12 {
		return fmt.Errorf("%w: truncated FIT header", divecom.ErrIO)
	}
	headerSize := int(data[0])
	if headerSize < 12 || headerSize > len(data) {
		return fmt.Errorf("%w: bad FIT header size %d", divecom.ErrIO, headerSize)
	}
	if string(data[8:12]) != ".FIT" {
		return fmt.Errorf("%w: missing .FIT magic", divecom.ErrIO)
	}
	dataSize := int(divecom.U32LE(data[4:8]))
	if headerSize+dataSize+2 > len(data) {
		return fmt.Errorf("%w: FIT data size %d exceeds input", divecom.ErrIO, dataSize)
	}
	if crc := divecom.U16LE(data[headerSize+dataSize:]); crc != 0 {
		if got := fitCRC(data[:headerSize+dataSize]); got != crc {
			return fmt.Errorf("%w: FIT file checksum mismatch: stored %04x, computed %04x", divecom.ErrIO, crc, got)
		}
	}

	offset := headerSize
	end := headerSize + dataSize
	for offset < end {
		hdr := data[offset]
		offset++
		var err error
		switch {
		case hdr&hdrCompressed != 0:
			offset, err = d.compressedRecord(data, offset, end, hdr)
		case hdr&hdrDefinition != 0:
			offset, err = d.definitionRecord(data, offset, end, hdr)
		default:
			offset, err = d.dataRecord(data, offset, end, int(hdr&hdrLocalMask))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// definitionRecord installs or overwrites one local type slot.
func (d *fitDecoder) definitionRecord(data []byte, offset, end int, hdr byte) (int, error) {
	if hdr&hdrDevFields != 0 {
		return 0, fmt.Errorf("%w: developer fields are not supported", divecom.ErrIO)
	}
	if offset+5 > end {
		return 0, fmt.Errorf("%w: truncated definition record", divecom.ErrIO)
	}
	bigEndian := data[offset+1] != 0
	global := divecom.UintEndian(data[offset+2:offset+4], 2, bigEndian)
	fieldCount := int(data[offset+4])
	offset += 5
	if fieldCount > 128 {
		return 0, fmt.Errorf("%w: definition declares %d fields", divecom.ErrIO, fieldCount)
	}
	if offset+3*fieldCount > end {
		return 0, fmt.Errorf("%w: truncated definition field list", divecom.ErrIO)
	}

	lt := localType{
		desc:      messageLookup(uint16(global)),
		bigEndian: bigEndian,
		fields:    make([]fieldDef, fieldCount),
	}
	for i := 0; i < fieldCount; i++ {
		lt.fields[i] = fieldDef{
			number: data[offset],
			size:   int(data[offset+1]),
			base:   baseTypeLookup(data[offset+2]),
		}
		offset += 3
	}
	d.locals[hdr&hdrLocalMask] = lt
	return offset, nil
}

// compressedRecord decodes a compressed-timestamp data record: the
// header carries the local type and a 5-bit delta against the previous
// timestamp.
func (d *fitDecoder) compressedRecord(data []byte, offset, end int, hdr byte) (int, error) {
	delta := uint32(hdr & compTimeMask)
	local := int(hdr>>compLocalShift) & compLocalMask
	t := d.state.prevTime&^uint32(compTimeMask) | delta
	if t < d.state.prevTime {
		t += compTimeMask + 1
	}
	d.handleTimestamp(t)
	return d.dataRecord(data, offset, end, local)
}

// dataRecord decodes one data record against its installed definition,
// then flushes the pending-record buffer.
func (d *fitDecoder) dataRecord(data []byte, offset, end, local int) (int, error) {
	lt := &d.locals[local]
	if lt.desc == nil {
		return 0, fmt.Errorf("%w: data record references undefined local type %d", divecom.ErrIO, local)
	}

	// Timestamps apply before the other fields of the same record, so
	// the sample clock is already advanced when the handlers emit.
	scan := offset
	for _, f := range lt.fields {
		if scan+f.size > end {
			return 0, fmt.Errorf("%w: truncated data record", divecom.ErrIO)
		}
		if f.number == fieldAnyTimestamp {
			v := fitValue{raw: data[scan : scan+f.size], base: f.base, bigEndian: lt.bigEndian}
			if !v.isInvalid() {
				d.handleTimestamp(uint32(v.uint64v()))
			}
		}
		scan += f.size
	}

	for _, f := range lt.fields {
		if f.size%f.base.size != 0 {
			return 0, fmt.Errorf("%w: field size %d not a multiple of base size %d", divecom.ErrIO, f.size, f.base.size)
		}
		v := fitValue{raw: data[offset : offset+f.size], base: f.base, bigEndian: lt.bigEndian}
		offset += f.size
		if v.isInvalid() {
			continue
		}
		switch f.number {
		case fieldAnyTimestamp:
			// Already applied in the pre-pass.
		case fieldAnyMessageIndex:
			d.pending.messageIndex = int(v.uint64v())
		case fieldAnyPartIndex:
			d.pending.partIndex = int(v.uint64v())
		default:
			if h := lt.desc.fields[f.number]; h != nil {
				h(d, v)
			}
		}
	}

	d.flushPending()
	return offset, nil
}

// handleTimestamp records the absolute device time and, once the dive
// start is known, emits the relative time sample.
func (d *fitDecoder) handleTimestamp(t uint32) {
	d.state.prevTime = t
	if d.state.startTime == 0 || t < d.state.startTime {
		return
	}
	d.emitTime(t - d.state.startTime)
}

// isInvalid reports whether the first element holds the base type's
// absent-value sentinel. Strings are absent when they begin with NUL.
func (v fitValue) isInvalid() bool {
	if v.base.name == "string" {
		return len(v.raw) == 0 || v.raw[0] == 0
	}
	return divecom.UintEndian(v.raw, v.base.size, v.bigEndian) == v.base.invalid
}

// element returns the i-th array element of a multi-element field as its
// own value.
func (v fitValue) element(i int) fitValue {
	off := i * v.base.size
	return fitValue{raw: v.raw[off : off+v.base.size], base: v.base, bigEndian: v.bigEndian}
}

// count returns the number of elements carried by the field.
func (v fitValue) count() int {
	return len(v.raw) / v.base.size
}
