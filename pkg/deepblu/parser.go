// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package deepblu

import (
	"fmt"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Dive header field offsets. The header is 256 bytes; samples follow.
const (
	offO2          = 3  // oxygen percent of the single gas
	offYear        = 6  // u16le
	offDay         = 8
	offMonth       = 9
	offMinute      = 10
	offHour        = 11
	offDivetime    = 12 // minutes, u16le
	offMaxPressure = 22 // millibar absolute, u16le
)

const szHeader = 256

const szRecord = 4

const recordInterval = 20 // seconds

// pressureToDepth converts absolute pressure in millibar to a depth in
// meters of salt water, treating anything at or above the surface as
// zero depth.
func pressureToDepth(mbar uint16) float64 {
	const atmospheric = 1013 // mbar
	if mbar < atmospheric {
		return 0
	}
	return float64(mbar-atmospheric) / (1.024 * 0.980665) / 100
}

// parser decodes one Cosmiq+ dive: a 256-byte header followed by 4-byte
// records at a 20 second interval.
type parser struct {
	data  []byte
	cache divecom.FieldCache
}

// NewParser returns an empty Cosmiq+ parser.
func NewParser() divecom.Parser {
	return &parser{}
}

// SetData binds one dive's bytes and primes the summary cache.
func (p *parser) SetData(data []byte) error {
	p.data = nil
	p.cache.Reset()

	if len(data) < szHeader {
		return fmt.Errorf("%w: dive shorter than header (%d bytes)", divecom.ErrDataFormat, len(data))
	}

	p.cache.SetDivetime(60 * uint(divecom.U16LE(data[offDivetime:])))
	p.cache.SetMaxDepth(pressureToDepth(divecom.U16LE(data[offMaxPressure:])))

	p.cache.SetGasMixCount(0)
	if o2 := data[offO2]; o2 > 0 && o2 <= 100 {
		p.cache.SetGasMix(0, divecom.GasMix{Oxygen: 0.01 * float64(o2)})
	}

	p.data = data
	return nil
}

// DateTime reads the broken-down start time stored in the header. The
// device does not record seconds.
func (p *parser) DateTime() (time.Time, error) {
	if p.data == nil {
		return time.Time{}, divecom.ErrUnsupported
	}
	year := int(divecom.U16LE(p.data[offYear:]))
	month := time.Month(p.data[offMonth])
	if year < 2000 || month < time.January || month > time.December {
		return time.Time{}, fmt.Errorf("%w: invalid dive timestamp", divecom.ErrDataFormat)
	}
	return time.Date(year, month, int(p.data[offDay]),
		int(p.data[offHour]), int(p.data[offMinute]), 0, 0, time.UTC), nil
}

// Field retrieves a cached summary value.
func (p *parser) Field(t divecom.FieldType, idx int) (interface{}, error) {
	if p.data == nil {
		return nil, divecom.ErrUnsupported
	}
	return p.cache.Field(t, idx)
}

// SamplesForeach replays the dive's 4-byte records in time order. Each
// record carries a temperature and an absolute pressure, both u16le.
func (p *parser) SamplesForeach(cb divecom.SampleCallback) error {
	if p.data == nil {
		return divecom.ErrUnsupported
	}

	records := p.data[szHeader:]
	count := len(records) / szRecord
	for i := 0; i < count; i++ {
		rec := records[i*szRecord : i*szRecord+szRecord]
		cb(divecom.TimeSample{Seconds: uint(i * recordInterval)})
		cb(divecom.TemperatureSample{Celsius: float64(divecom.U16LE(rec)) / 10})
		cb(divecom.DepthSample{Meters: pressureToDepth(divecom.U16LE(rec[2:]))})
	}
	return nil
}
