// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package shearwater

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// ============================================================
// Fixtures
// ============================================================

func field(t *testing.T, p divecom.Parser, ft divecom.FieldType, idx int) interface{} {
	t.Helper()
	v, err := p.Field(ft, idx)
	if err != nil {
		t.Fatalf("Field(%d, %d) failed: %v", ft, idx, err)
	}
	return v
}

func collect(t *testing.T, p divecom.Parser) []divecom.Sample {
	t.Helper()
	var got []divecom.Sample
	if err := p.SamplesForeach(func(s divecom.Sample) { got = append(got, s) }); err != nil {
		t.Fatalf("SamplesForeach failed: %v", err)
	}
	return got
}

func compareSamples(t *testing.T, got, want []divecom.Sample) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d: %#v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %#v, got %#v", i, want[i], got[i])
		}
	}
}

// predatorHeader fills the fixed opening block of an older dive.
func predatorHeader(data []byte, imperial byte) {
	data[4] = 30 // GF low
	data[5] = 85 // GF high
	data[8] = imperial
	data[9] = 41 // battery, 4.1 V
	divecom.PutU32BE(data[12:], 1500000000)
	data[17] = 70  // setpoint low
	data[18] = 130 // setpoint high
	data[19] = 0x25
	divecom.PutU16BE(data[47:], 1013) // atmospheric, mbar
	data[67] = 0                      // GF deco model
	divecom.PutU16BE(data[83:], 1000) // fresh water
	data[86] = 0x07                   // calibration mask
	divecom.PutU16BE(data[87:], 2100)
	divecom.PutU16BE(data[89:], 2100)
	divecom.PutU16BE(data[91:], 2100)
}

// predatorDive builds a metric open circuit dive with two samples.
func predatorDive() []byte {
	data := make([]byte, blockSize+2*szSamplePredator+blockSize)
	predatorHeader(data, 0)

	s := data[blockSize:]
	divecom.PutU16BE(s[0:], 102) // depth, dm
	s[7] = 21
	s[9] = 1 // deco time, minutes
	s[11] = statusOpenCircuit
	s[13] = 19 // temperature

	s = s[szSamplePredator:]
	divecom.PutU16BE(s[0:], 155)
	divecom.PutU16BE(s[2:], 3) // stop ceiling
	s[7] = 21
	s[9] = 1
	s[11] = statusOpenCircuit
	s[13] = 18

	footer := data[len(data)-blockSize:]
	divecom.PutU16BE(footer[4:], 16) // max depth
	divecom.PutU16BE(footer[6:], 23) // dive time, minutes
	return data
}

// petrelCCRDive builds a closed circuit dive with one sample, voted
// PPO2 cells and paired tank transmitters.
func petrelCCRDive() []byte {
	data := make([]byte, blockSize+szSamplePetrel+2*blockSize)
	predatorHeader(data, 0)
	data[127] = 7 // log version

	s := data[blockSize:]
	divecom.PutU16BE(s[0:], 450)
	divecom.PutU16BE(s[2:], 6) // stop ceiling
	s[6] = 95                  // voted ppo2
	s[7] = 10
	s[8] = 50
	s[9] = 3 // deco time, minutes
	s[11] = 0
	s[13] = 12
	s[18] = 70                    // setpoint
	divecom.PutU16BE(s[19:], 800) // tank 1
	s[21] = 40                    // rbt
	s[22] = 25                    // cns
	divecom.PutU16BE(s[27:], 512) // tank 0

	footer := data[len(data)-2*blockSize:]
	divecom.PutU16BE(footer[4:], 46)
	divecom.PutU16BE(footer[6:], 30)
	return data
}

// pnfRecord appends one tagged 32 byte record and returns its body.
func pnfRecord(data []byte, offset int, kind byte) []byte {
	rec := data[offset : offset+recordSize]
	rec[0] = kind
	return rec
}

// pnfDive builds a tagged-record dive with one sample.
func pnfDive() []byte {
	data := make([]byte, 12*recordSize)

	opening := pnfRecord(data, 0, 0x10)
	opening[4] = 30
	opening[5] = 85
	opening[8] = 0 // metric
	opening[9] = 38
	divecom.PutU32BE(opening[12:], 1600000000)
	opening[19] = 0x31

	env := pnfRecord(data, 1*recordSize, 0x11)
	divecom.PutU16BE(env[16:], 1002)

	deco := pnfRecord(data, 2*recordSize, 0x12)
	deco[18] = 0 // GF model

	water := pnfRecord(data, 3*recordSize, 0x13)
	divecom.PutU16BE(water[3:], 1020)
	water[6] = 0x07
	divecom.PutU16BE(water[7:], 2100)
	divecom.PutU16BE(water[9:], 2100)
	divecom.PutU16BE(water[11:], 2100)

	meta := pnfRecord(data, 4*recordSize, 0x14)
	meta[9] = 2   // battery type
	meta[16] = 9  // log version

	rate := pnfRecord(data, 5*recordSize, 0x15)
	divecom.PutU16BE(rate[23:], 10000) // sample interval, ms

	sample := pnfRecord(data, 6*recordSize, 0x01)
	divecom.PutU16BE(sample[1:], 155)
	sample[8] = 21
	sample[10] = 2 // deco time, minutes
	sample[12] = statusOpenCircuit
	sample[14] = 18
	divecom.PutU16BE(sample[20:], 0xFFFF)
	sample[22] = 0xFF
	sample[23] = 12 // cns
	divecom.PutU16BE(sample[28:], 0xFFFF)

	closing := pnfRecord(data, 7*recordSize, 0x20)
	divecom.PutU16BE(closing[4:], 155)
	divecom.PutU16BE(closing[6:], 1)

	final := pnfRecord(data, 8*recordSize, 0xFF)
	final[1] = 0xFD
	return data
}

// ============================================================
// Summary Tests
// ============================================================

func TestFields_PredatorSummary(t *testing.T) {
	p := NewPredatorParser(0x1234)
	if err := p.SetData(predatorDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	if v := field(t, p, divecom.FieldDivetime, 0).(uint); v != 23*60 {
		t.Errorf("divetime: expected %d, got %d", 23*60, v)
	}
	if v := field(t, p, divecom.FieldMaxDepth, 0).(float64); v != 16 {
		t.Errorf("maxdepth: expected 16, got %v", v)
	}
	if v := field(t, p, divecom.FieldDiveMode, 0).(divecom.DiveMode); v != divecom.ModeOpenCircuit {
		t.Errorf("divemode: expected open circuit, got %v", v)
	}
	if v := field(t, p, divecom.FieldGasMixCount, 0).(int); v != 1 {
		t.Errorf("gas count: expected 1, got %d", v)
	}
	g := field(t, p, divecom.FieldGasMix, 0).(divecom.GasMix)
	if math.Abs(g.Oxygen-0.21) > 1e-9 || g.Helium != 0 {
		t.Errorf("gas 0: expected air, got %+v", g)
	}
	s := field(t, p, divecom.FieldSalinity, 0).(divecom.Salinity)
	if s.Kind != divecom.WaterFresh || s.Density != 1000 {
		t.Errorf("salinity: expected fresh 1000, got %+v", s)
	}
	if v := field(t, p, divecom.FieldAtmospheric, 0).(float64); v != 1013/1000.0 {
		t.Errorf("atmospheric: expected 1.013, got %v", v)
	}
}

func TestFields_Strings(t *testing.T) {
	p := NewPredatorParser(0xCAFE)
	if err := p.SetData(predatorDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	want := map[string]string{
		"Serial":         "0000cafe",
		"Logversion":     "6",
		"Deco model":     "GF 30/85",
		"Battery at end": "4.1 V",
	}
	for i := 0; ; i++ {
		v, err := p.Field(divecom.FieldString, i)
		if err != nil {
			break
		}
		fs := v.(divecom.FieldString)
		if expected, ok := want[fs.Desc]; ok {
			if fs.Value != expected {
				t.Errorf("%s: expected %q, got %q", fs.Desc, expected, fs.Value)
			}
			delete(want, fs.Desc)
		}
	}
	for desc := range want {
		t.Errorf("missing string %q", desc)
	}
}

func TestFields_ImperialMaxDepth(t *testing.T) {
	data := predatorDive()
	data[8] = 1 // imperial units
	p := NewPredatorParser(1)
	if err := p.SetData(data); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if v := field(t, p, divecom.FieldMaxDepth, 0).(float64); v != 16*feet {
		t.Errorf("maxdepth: expected %v, got %v", 16*feet, v)
	}
}

func TestDateTime_BigEndianEpoch(t *testing.T) {
	p := NewPredatorParser(1)
	if err := p.SetData(predatorDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	dt, err := p.DateTime()
	if err != nil {
		t.Fatalf("DateTime failed: %v", err)
	}
	want := time.Unix(1500000000, 0).UTC()
	if !dt.Equal(want) {
		t.Errorf("expected %v, got %v", want, dt)
	}
}

func TestSetData_Rejects(t *testing.T) {
	short := make([]byte, 2*blockSize-1)
	if err := NewPredatorParser(1).SetData(short); !errors.Is(err, divecom.ErrDataFormat) {
		t.Errorf("short dive: expected ErrDataFormat, got %v", err)
	}

	tagged := make([]byte, 4*blockSize)
	tagged[0] = 0x10
	if err := NewPredatorParser(1).SetData(tagged); !errors.Is(err, divecom.ErrDataFormat) {
		t.Errorf("tagged records on a Predator: expected ErrDataFormat, got %v", err)
	}

	p := NewPredatorParser(1)
	p.SetData(short)
	if _, err := p.Field(divecom.FieldDivetime, 0); !errors.Is(err, divecom.ErrUnsupported) {
		t.Errorf("fields must be unsupported after a failed SetData, got %v", err)
	}
}

// ============================================================
// Sample Tests
// ============================================================

func TestSamplesForeach_PredatorOpenCircuit(t *testing.T) {
	p := NewPredatorParser(1)
	if err := p.SetData(predatorDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	want := []divecom.Sample{
		divecom.TimeSample{Seconds: 10},
		divecom.DepthSample{Meters: 102 / 10.0},
		divecom.TemperatureSample{Celsius: 19},
		divecom.GasMixSample{Index: 0},
		divecom.DecoSample{Kind: divecom.DecoNDL, Seconds: 60},
		divecom.TimeSample{Seconds: 20},
		divecom.DepthSample{Meters: 155 / 10.0},
		divecom.TemperatureSample{Celsius: 18},
		divecom.DecoSample{Kind: divecom.DecoStop, Seconds: 60, Meters: 3},
	}
	compareSamples(t, collect(t, p), want)
}

func TestSamplesForeach_PetrelClosedCircuit(t *testing.T) {
	p := NewPetrelParser(1)
	if err := p.SetData(petrelCCRDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if v := field(t, p, divecom.FieldDiveMode, 0).(divecom.DiveMode); v != divecom.ModeClosedCircuit {
		t.Fatalf("divemode: expected closed circuit, got %v", v)
	}
	want := []divecom.Sample{
		divecom.TimeSample{Seconds: 10},
		divecom.DepthSample{Meters: 450 / 10.0},
		divecom.TemperatureSample{Celsius: 12},
		divecom.PPO2Sample{Bar: 95 / 100.0},
		divecom.SetpointSample{Bar: 70 / 100.0},
		divecom.CNSSample{Fraction: 25 / 100.0},
		divecom.GasMixSample{Index: 0},
		divecom.DecoSample{Kind: divecom.DecoStop, Seconds: 180, Meters: 6},
		divecom.PressureSample{Tank: 0, Bar: 512 * 2 * psi / bar},
		divecom.PressureSample{Tank: 1, Bar: 800 * 2 * psi / bar},
		divecom.RBTSample{Minutes: 40},
	}
	compareSamples(t, collect(t, p), want)
}

func TestSamplesForeach_PPO2Cells(t *testing.T) {
	data := petrelCCRDive()
	// Sensors 0 and 2 enabled, not at the factory default.
	data[86] = 0x05
	divecom.PutU16BE(data[87:], 2000)
	divecom.PutU16BE(data[91:], 2200)
	s := data[blockSize:]
	s[12] = 50 // cell 0 reading
	s[15] = 48 // cell 2 reading

	p := NewPetrelParser(1)
	if err := p.SetData(data); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	var ppo2 []float64
	if err := p.SamplesForeach(func(smp divecom.Sample) {
		if v, ok := smp.(divecom.PPO2Sample); ok {
			ppo2 = append(ppo2, v.Bar)
		}
	}); err != nil {
		t.Fatalf("SamplesForeach failed: %v", err)
	}
	want := []float64{50 * (2000 / 100000.0), 48 * (2200 / 100000.0)}
	if len(ppo2) != len(want) {
		t.Fatalf("expected %d ppo2 samples, got %d: %v", len(want), len(ppo2), ppo2)
	}
	for i := range want {
		if math.Abs(ppo2[i]-want[i]) > 1e-9 {
			t.Errorf("ppo2 %d: expected %v, got %v", i, want[i], ppo2[i])
		}
	}
}

func TestSamplesForeach_GasChange(t *testing.T) {
	data := predatorDive()
	second := data[blockSize+szSamplePredator:]
	second[7] = 50 // switch to EAN50
	p := NewPredatorParser(1)
	if err := p.SetData(data); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if v := field(t, p, divecom.FieldGasMixCount, 0).(int); v != 2 {
		t.Fatalf("gas count: expected 2, got %d", v)
	}
	var mixes []int
	if err := p.SamplesForeach(func(smp divecom.Sample) {
		if v, ok := smp.(divecom.GasMixSample); ok {
			mixes = append(mixes, v.Index)
		}
	}); err != nil {
		t.Fatalf("SamplesForeach failed: %v", err)
	}
	if len(mixes) != 2 || mixes[0] != 0 || mixes[1] != 1 {
		t.Errorf("expected gas switches [0 1], got %v", mixes)
	}
}

func TestSamplesForeach_SkipsEmptyRecords(t *testing.T) {
	data := make([]byte, blockSize+3*szSamplePredator+blockSize)
	predatorHeader(data, 0)
	s := data[blockSize+szSamplePredator:] // first and last stay zero
	divecom.PutU16BE(s[0:], 100)
	s[7] = 21
	s[11] = statusOpenCircuit
	s[13] = 20
	divecom.PutU16BE(data[len(data)-blockSize+4:], 10)
	divecom.PutU16BE(data[len(data)-blockSize+6:], 5)

	p := NewPredatorParser(1)
	if err := p.SetData(data); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	var times []uint
	if err := p.SamplesForeach(func(smp divecom.Sample) {
		if v, ok := smp.(divecom.TimeSample); ok {
			times = append(times, v.Seconds)
		}
	}); err != nil {
		t.Fatalf("SamplesForeach failed: %v", err)
	}
	if len(times) != 1 || times[0] != 10 {
		t.Errorf("expected one sample at 10s, got %v", times)
	}
}

// ============================================================
// Tagged Record Tests
// ============================================================

func TestPNF_SummaryAndSamples(t *testing.T) {
	p := NewPetrelParser(1)
	if err := p.SetData(pnfDive()); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	if v := field(t, p, divecom.FieldDivetime, 0).(uint); v != 60 {
		t.Errorf("divetime: expected 60, got %d", v)
	}
	if v := field(t, p, divecom.FieldMaxDepth, 0).(float64); v != 155/10.0 {
		t.Errorf("maxdepth: expected 15.5, got %v", v)
	}
	s := field(t, p, divecom.FieldSalinity, 0).(divecom.Salinity)
	if s.Kind != divecom.WaterSalt || s.Density != 1020 {
		t.Errorf("salinity: expected salt 1020, got %+v", s)
	}
	if v := field(t, p, divecom.FieldAtmospheric, 0).(float64); v != 1002/1000.0 {
		t.Errorf("atmospheric: expected 1.002, got %v", v)
	}

	dt, err := p.DateTime()
	if err != nil {
		t.Fatalf("DateTime failed: %v", err)
	}
	if want := time.Unix(1600000000, 0).UTC(); !dt.Equal(want) {
		t.Errorf("datetime: expected %v, got %v", want, dt)
	}

	want := []divecom.Sample{
		divecom.TimeSample{Seconds: 10},
		divecom.DepthSample{Meters: 155 / 10.0},
		divecom.TemperatureSample{Celsius: 18},
		divecom.CNSSample{Fraction: 12 / 100.0},
		divecom.GasMixSample{Index: 0},
		divecom.DecoSample{Kind: divecom.DecoNDL, Seconds: 120},
	}
	compareSamples(t, collect(t, p), want)
}

func TestPNF_FreediveRejected(t *testing.T) {
	data := pnfDive()
	data[4*recordSize+16] = 10 // log version
	data[5*recordSize+25] = 0x02
	if err := NewPetrelParser(1).SetData(data); !errors.Is(err, divecom.ErrDataFormat) {
		t.Errorf("expected ErrDataFormat, got %v", err)
	}
}
