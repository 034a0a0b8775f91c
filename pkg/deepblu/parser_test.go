// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package deepblu

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// ============================================================
// Parser Fixtures
// ============================================================

// testDive builds a dive header with known values and appends samples.
func testDive(samples ...[szRecord]byte) []byte {
	dive := make([]byte, szHeader+len(samples)*szRecord)
	dive[offO2] = 21
	divecom.PutU16LE(dive[offYear:], 2024)
	dive[offDay] = 17
	dive[offMonth] = 6
	dive[offMinute] = 42
	dive[offHour] = 14
	divecom.PutU16LE(dive[offDivetime:], 38)           // minutes
	divecom.PutU16LE(dive[offMaxPressure:], 1013+3013) // ~30 m
	for i, s := range samples {
		copy(dive[szHeader+i*szRecord:], s[:])
	}
	return dive
}

func field(t *testing.T, p divecom.Parser, ft divecom.FieldType, idx int) interface{} {
	t.Helper()
	v, err := p.Field(ft, idx)
	if err != nil {
		t.Fatalf("Field(%d, %d) failed: %v", ft, idx, err)
	}
	return v
}

// ============================================================
// Header Tests
// ============================================================

func TestSetData_RejectsShortDive(t *testing.T) {
	p := NewParser()
	if err := p.SetData(make([]byte, szHeader-1)); !errors.Is(err, divecom.ErrDataFormat) {
		t.Errorf("expected ErrDataFormat, got %v", err)
	}
	if _, err := p.Field(divecom.FieldDivetime, 0); !errors.Is(err, divecom.ErrUnsupported) {
		t.Error("fields must be unsupported after a failed SetData")
	}
}

func TestFields_Summary(t *testing.T) {
	p := NewParser()
	if err := p.SetData(testDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	if v := field(t, p, divecom.FieldDivetime, 0).(uint); v != 38*60 {
		t.Errorf("divetime: expected %d, got %d", 38*60, v)
	}
	want := 3013.0 / (1.024 * 0.980665) / 100
	if v := field(t, p, divecom.FieldMaxDepth, 0).(float64); math.Abs(v-want) > 1e-9 {
		t.Errorf("maxdepth: expected %v, got %v", want, v)
	}
	if v := field(t, p, divecom.FieldGasMixCount, 0).(int); v != 1 {
		t.Errorf("gasmix count: expected 1, got %d", v)
	}
	g := field(t, p, divecom.FieldGasMix, 0).(divecom.GasMix)
	if math.Abs(g.Oxygen-0.21) > 1e-9 || g.Helium != 0 {
		t.Errorf("gas 0: expected air, got %+v", g)
	}
}

func TestFields_NoGasWhenO2Invalid(t *testing.T) {
	dive := testDive()
	dive[offO2] = 0
	p := NewParser()
	if err := p.SetData(dive); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if v := field(t, p, divecom.FieldGasMixCount, 0).(int); v != 0 {
		t.Errorf("gasmix count: expected 0, got %d", v)
	}
}

func TestDateTime_BrokenDownTime(t *testing.T) {
	p := NewParser()
	if err := p.SetData(testDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	dt, err := p.DateTime()
	if err != nil {
		t.Fatalf("DateTime failed: %v", err)
	}
	want := time.Date(2024, time.June, 17, 14, 42, 0, 0, time.UTC)
	if !dt.Equal(want) {
		t.Errorf("expected %v, got %v", want, dt)
	}
}

func TestDateTime_RejectsBadMonth(t *testing.T) {
	dive := testDive()
	dive[offMonth] = 13
	p := NewParser()
	if err := p.SetData(dive); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if _, err := p.DateTime(); !errors.Is(err, divecom.ErrDataFormat) {
		t.Errorf("expected ErrDataFormat, got %v", err)
	}
}

// ============================================================
// Sample Tests
// ============================================================

func TestSamplesForeach_DecodesRecords(t *testing.T) {
	// 18.5 C at ~10 m, then 18.2 C back at the surface.
	var s0, s1 [szRecord]byte
	divecom.PutU16LE(s0[:], 185)
	divecom.PutU16LE(s0[2:], 2013)
	divecom.PutU16LE(s1[:], 182)
	divecom.PutU16LE(s1[2:], 1000)

	p := NewParser()
	if err := p.SetData(testDive(s0, s1)); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	var got []divecom.Sample
	if err := p.SamplesForeach(func(s divecom.Sample) { got = append(got, s) }); err != nil {
		t.Fatalf("SamplesForeach failed: %v", err)
	}

	depth := 1000.0 / (1.024 * 0.980665) / 100
	want := []divecom.Sample{
		divecom.TimeSample{Seconds: 0},
		divecom.TemperatureSample{Celsius: 18.5},
		divecom.DepthSample{Meters: depth},
		divecom.TimeSample{Seconds: 20},
		divecom.TemperatureSample{Celsius: 18.2},
		divecom.DepthSample{Meters: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %#v, got %#v", i, want[i], got[i])
		}
	}
}

func TestSamplesForeach_EmptyDive(t *testing.T) {
	p := NewParser()
	if err := p.SetData(testDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	var count int
	if err := p.SamplesForeach(func(divecom.Sample) { count++ }); err != nil {
		t.Fatalf("SamplesForeach failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no samples, got %d", count)
	}
}
