// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package logbook

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// formatVersion is bumped on incompatible layout changes.
const formatVersion = 1

// DeviceInfo identifies the computer a logbook was downloaded from.
type DeviceInfo struct {
	Backend  string `cbor:"1,keyasint"`
	Model    uint   `cbor:"2,keyasint,omitempty"`
	Firmware uint   `cbor:"3,keyasint,omitempty"`
	Serial   uint   `cbor:"4,keyasint,omitempty"`
}

// Logbook is one export file: the source device and its dives, newest
// first.
type Logbook struct {
	Version int          `cbor:"1,keyasint"`
	Device  DeviceInfo   `cbor:"2,keyasint"`
	Dives   []DiveRecord `cbor:"3,keyasint"`
}

// New returns an empty logbook for the given device.
func New(device DeviceInfo) *Logbook {
	return &Logbook{Version: formatVersion, Device: device}
}

// Add appends one dive record.
func (l *Logbook) Add(r *DiveRecord) {
	l.Dives = append(l.Dives, *r)
}

// encMode uses core deterministic encoding so identical logbooks
// produce identical bytes.
var encMode, _ = cbor.CoreDetEncOptions().EncMode()

// decMode caps decoded arrays and maps at 1<<20 elements.
var decMode, _ = cbor.DecOptions{
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 20,
}.DecMode()

// Marshal encodes the logbook as CBOR.
func (l *Logbook) Marshal() ([]byte, error) {
	data, err := encMode.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encoding logbook: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a CBOR logbook and checks its format version.
func Unmarshal(data []byte) (*Logbook, error) {
	var l Logbook
	if err := decMode.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decoding logbook: %w", err)
	}
	if l.Version != formatVersion {
		return nil, fmt.Errorf("unsupported logbook version %d", l.Version)
	}
	return &l, nil
}

// Write encodes the logbook to w.
func (l *Logbook) Write(w io.Writer) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Read decodes one logbook from r.
func Read(r io.Reader) (*Logbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
