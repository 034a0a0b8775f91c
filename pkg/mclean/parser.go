// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package mclean

import (
	"fmt"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Dive header field offsets. The header shares its first 0x2D bytes with
// the computer configuration block; the log block follows at 0x2D.
const (
	offGases        = 0x01 // 8 pairs of (O2 %, He %)
	offSetpoints    = 0x13 // 3 setpoints in cbar
	offSurfacePres  = 0x1E // millibar, u16le
	offDensityIndex = 0x23
	offMode         = 0x2C
	offLogStart     = 0x2D // seconds since 2000-01-01, u32le
	offLogEnd       = 0x39
	offTempMin      = 0x3D
	offTempMax      = 0x3E
	offPressureMax  = 0x43 // millibar, u16le
	offPressureAvg  = 0x45
	offSampleCount  = 0x5C
)

// Raw times count from the start of 2000.
const epoch2000 = 946684800

const sampleInterval = 20 // seconds

const gasCount = 8

// densities indexed by the header's water density setting, in kg/m3.
var densities = [3]float64{1000, 1020, 1030}

var diveModes = [4]divecom.DiveMode{
	divecom.ModeOpenCircuit,
	divecom.ModeOpenCircuit,
	divecom.ModeClosedCircuit,
	divecom.ModeGauge,
}

// parser decodes one McLean Extreme dive: a fixed 0x5E-byte header
// followed by 4-byte samples at a 20 second interval.
type parser struct {
	data  []byte
	cache divecom.FieldCache
}

// NewParser returns an empty McLean Extreme parser.
func NewParser() divecom.Parser {
	return &parser{}
}

// SetData binds one dive's bytes and primes the summary cache.
func (p *parser) SetData(data []byte) error {
	p.data = nil
	p.cache.Reset()

	if len(data) < szDive {
		return fmt.Errorf("%w: dive shorter than header (%d bytes)", divecom.ErrDataFormat, len(data))
	}
	if data[0] != 0 {
		return fmt.Errorf("%w: unsupported dive format %d", divecom.ErrDataFormat, data[0])
	}
	count := int(divecom.U16LE(data[offSampleCount:]))
	if len(data) != szDive+count*szSample {
		return fmt.Errorf("%w: dive size %d does not match %d samples", divecom.ErrDataFormat, len(data), count)
	}
	densityIdx := int(data[offDensityIndex])
	if densityIdx >= len(densities) {
		return fmt.Errorf("%w: water density index %d out of range", divecom.ErrDataFormat, densityIdx)
	}

	logStart := divecom.U32LE(data[offLogStart:])
	logEnd := divecom.U32LE(data[offLogEnd:])
	p.cache.SetDivetime(uint(logEnd - logStart))

	density := densities[densityIdx]
	surface := float64(divecom.U16LE(data[offSurfacePres:]))
	// Depth is hydrostatic pressure over water density, in units where
	// 1 mbar of fresh water is 1 cm.
	p.cache.SetMaxDepth(10 * (float64(divecom.U16LE(data[offPressureMax:])) - surface) / density)
	p.cache.SetAvgDepth(10 * (float64(divecom.U16LE(data[offPressureAvg:])) - surface) / density)
	p.cache.SetAtmospheric(surface / 1000)

	kind := divecom.WaterSalt
	if densityIdx == 0 {
		kind = divecom.WaterFresh
	}
	p.cache.SetSalinity(divecom.Salinity{Kind: kind, Density: density})

	if mode := int(data[offMode]); mode < len(diveModes) {
		p.cache.SetDiveMode(diveModes[mode])
	}

	for i := 0; i < gasCount; i++ {
		p.cache.SetGasMix(i, divecom.GasMix{
			Oxygen: 0.01 * float64(data[offGases+2*i]),
			Helium: 0.01 * float64(data[offGases+2*i+1]),
		})
	}

	p.cache.AddStringf("Minimum temperature", "%d C", data[offTempMin])
	p.cache.AddStringf("Maximum temperature", "%d C", data[offTempMax])

	p.data = data
	return nil
}

// DateTime derives the dive start from the log start timestamp.
func (p *parser) DateTime() (time.Time, error) {
	if p.data == nil {
		return time.Time{}, divecom.ErrUnsupported
	}
	start := divecom.U32LE(p.data[offLogStart:])
	return time.Unix(epoch2000+int64(start), 0).UTC(), nil
}

// Field retrieves a cached summary value.
func (p *parser) Field(t divecom.FieldType, idx int) (interface{}, error) {
	if p.data == nil {
		return nil, divecom.ErrUnsupported
	}
	return p.cache.Field(t, idx)
}

// SamplesForeach replays the dive's 4-byte sample records in time order.
func (p *parser) SamplesForeach(cb divecom.SampleCallback) error {
	if p.data == nil {
		return divecom.ErrUnsupported
	}

	count := int(divecom.U16LE(p.data[offSampleCount:]))
	samples := p.data[szDive:]
	t := uint(0)
	for i := 0; i < count; i++ {
		rec := samples[i*szSample : i*szSample+szSample]
		cb(divecom.TimeSample{Seconds: t})
		cb(divecom.DepthSample{Meters: float64(divecom.U16LE(rec)) / 10})
		cb(divecom.TemperatureSample{Celsius: float64(rec[2])})
		cb(divecom.GasMixSample{Index: int((rec[3] & 0b00011100) >> 2)})
		if rec[3]&0b10000000 != 0 {
			spIndex := int((rec[3] & 0b01100000) >> 5)
			cb(divecom.SetpointSample{Bar: float64(p.data[offSetpoints+spIndex]) / 100})
		}
		t += sampleInterval
	}
	return nil
}
