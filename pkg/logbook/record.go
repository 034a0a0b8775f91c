// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package logbook assembles normalized dive records from backend
// parsers and serializes them as CBOR.
package logbook

import (
	"errors"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// GasMix is one breathing gas as fractions of 1.
type GasMix struct {
	Oxygen float64 `cbor:"1,keyasint"`
	Helium float64 `cbor:"2,keyasint,omitempty"`
}

// TankPressure is one pressure reading on a numbered tank.
type TankPressure struct {
	Tank int     `cbor:"1,keyasint"`
	Bar  float64 `cbor:"2,keyasint"`
}

// Deco is the decompression state at one profile point.
type Deco struct {
	Kind    int     `cbor:"1,keyasint"`
	Seconds uint    `cbor:"2,keyasint,omitempty"`
	Meters  float64 `cbor:"3,keyasint,omitempty"`
}

// Point is one profile point: the samples reported at a single time
// offset. Absent readings stay nil.
type Point struct {
	Time        uint           `cbor:"1,keyasint"`
	Depth       *float64       `cbor:"2,keyasint,omitempty"`
	Temperature *float64       `cbor:"3,keyasint,omitempty"`
	Pressures   []TankPressure `cbor:"4,keyasint,omitempty"`
	GasMix      *int           `cbor:"5,keyasint,omitempty"`
	Deco        *Deco          `cbor:"6,keyasint,omitempty"`
	PPO2        []float64      `cbor:"7,keyasint,omitempty"`
	Setpoint    *float64       `cbor:"8,keyasint,omitempty"`
	CNS         *float64       `cbor:"9,keyasint,omitempty"`
	RBT         *uint          `cbor:"10,keyasint,omitempty"`
	Heartbeat   *uint          `cbor:"11,keyasint,omitempty"`
}

// Text is one free-form annotation from the dive computer.
type Text struct {
	Desc  string `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint"`
}

// DiveRecord is a fully decoded dive: summary fields, annotations and
// the sample profile.
type DiveRecord struct {
	Fingerprint []byte    `cbor:"1,keyasint"`
	DateTime    time.Time `cbor:"2,keyasint"`
	Divetime    uint      `cbor:"3,keyasint,omitempty"`
	MaxDepth    float64   `cbor:"4,keyasint,omitempty"`
	AvgDepth    float64   `cbor:"5,keyasint,omitempty"`
	Atmospheric float64   `cbor:"6,keyasint,omitempty"`
	Salinity    *Salinity `cbor:"7,keyasint,omitempty"`
	Mode        *int      `cbor:"8,keyasint,omitempty"`
	Gases       []GasMix  `cbor:"9,keyasint,omitempty"`
	Strings     []Text    `cbor:"10,keyasint,omitempty"`
	Profile     []Point   `cbor:"11,keyasint,omitempty"`
}

// Salinity is the water density setting of a dive.
type Salinity struct {
	Kind    int     `cbor:"1,keyasint"`
	Density float64 `cbor:"2,keyasint"`
}

// Assemble runs parser over one dive's bytes and collects every
// summary field and sample the backend can decode. Fields a backend
// does not support are simply left unset.
func Assemble(parser divecom.Parser, dive, fingerprint []byte) (*DiveRecord, error) {
	if err := parser.SetData(dive); err != nil {
		return nil, err
	}
	r := &DiveRecord{Fingerprint: append([]byte(nil), fingerprint...)}

	if dt, err := parser.DateTime(); err == nil {
		r.DateTime = dt
	} else if !errors.Is(err, divecom.ErrUnsupported) {
		return nil, err
	}
	if err := r.fields(parser); err != nil {
		return nil, err
	}
	if err := r.profile(parser); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *DiveRecord) fields(parser divecom.Parser) error {
	get := func(t divecom.FieldType, idx int) (interface{}, error) {
		v, err := parser.Field(t, idx)
		if errors.Is(err, divecom.ErrUnsupported) {
			return nil, nil
		}
		return v, err
	}

	v, err := get(divecom.FieldDivetime, 0)
	if err != nil {
		return err
	}
	if v != nil {
		r.Divetime = v.(uint)
	}
	v, err = get(divecom.FieldMaxDepth, 0)
	if err != nil {
		return err
	}
	if v != nil {
		r.MaxDepth = v.(float64)
	}
	v, err = get(divecom.FieldAvgDepth, 0)
	if err != nil {
		return err
	}
	if v != nil {
		r.AvgDepth = v.(float64)
	}
	v, err = get(divecom.FieldAtmospheric, 0)
	if err != nil {
		return err
	}
	if v != nil {
		r.Atmospheric = v.(float64)
	}
	v, err = get(divecom.FieldSalinity, 0)
	if err != nil {
		return err
	}
	if v != nil {
		s := v.(divecom.Salinity)
		r.Salinity = &Salinity{Kind: int(s.Kind), Density: s.Density}
	}
	v, err = get(divecom.FieldDiveMode, 0)
	if err != nil {
		return err
	}
	if v != nil {
		mode := int(v.(divecom.DiveMode))
		r.Mode = &mode
	}

	v, err = get(divecom.FieldGasMixCount, 0)
	if err != nil {
		return err
	}
	if v != nil {
		for i := 0; i < v.(int); i++ {
			gv, err := parser.Field(divecom.FieldGasMix, i)
			if err != nil {
				return err
			}
			g := gv.(divecom.GasMix)
			r.Gases = append(r.Gases, GasMix{Oxygen: g.Oxygen, Helium: g.Helium})
		}
	}

	for i := 0; ; i++ {
		v, err := parser.Field(divecom.FieldString, i)
		if err != nil {
			break
		}
		fs := v.(divecom.FieldString)
		r.Strings = append(r.Strings, Text{Desc: fs.Desc, Value: fs.Value})
	}
	return nil
}

// profile folds the sample stream into per-time points. A time sample
// opens a new point; every other sample attaches to the current one.
func (r *DiveRecord) profile(parser divecom.Parser) error {
	var current *Point
	err := parser.SamplesForeach(func(s divecom.Sample) {
		if t, ok := s.(divecom.TimeSample); ok {
			r.Profile = append(r.Profile, Point{Time: t.Seconds})
			current = &r.Profile[len(r.Profile)-1]
			return
		}
		if current == nil {
			r.Profile = append(r.Profile, Point{})
			current = &r.Profile[0]
		}
		switch v := s.(type) {
		case divecom.DepthSample:
			m := v.Meters
			current.Depth = &m
		case divecom.TemperatureSample:
			c := v.Celsius
			current.Temperature = &c
		case divecom.PressureSample:
			current.Pressures = append(current.Pressures, TankPressure{Tank: v.Tank, Bar: v.Bar})
		case divecom.GasMixSample:
			idx := v.Index
			current.GasMix = &idx
		case divecom.DecoSample:
			current.Deco = &Deco{Kind: int(v.Kind), Seconds: v.Seconds, Meters: v.Meters}
		case divecom.PPO2Sample:
			current.PPO2 = append(current.PPO2, v.Bar)
		case divecom.SetpointSample:
			b := v.Bar
			current.Setpoint = &b
		case divecom.CNSSample:
			f := v.Fraction
			current.CNS = &f
		case divecom.RBTSample:
			m := v.Minutes
			current.RBT = &m
		case divecom.HeartbeatSample:
			b := v.BPM
			current.Heartbeat = &b
		}
	})
	return err
}
