// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package logbook

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// ============================================================
// Fixtures
// ============================================================

// stubParser plays back a fixed summary and sample stream.
type stubParser struct {
	data    []byte
	failSet bool
	cache   divecom.FieldCache
	when    time.Time
	samples []divecom.Sample
}

func (p *stubParser) SetData(data []byte) error {
	if p.failSet {
		return divecom.ErrDataFormat
	}
	p.data = data
	return nil
}

func (p *stubParser) DateTime() (time.Time, error) {
	if p.when.IsZero() {
		return time.Time{}, divecom.ErrUnsupported
	}
	return p.when, nil
}

func (p *stubParser) Field(t divecom.FieldType, idx int) (interface{}, error) {
	return p.cache.Field(t, idx)
}

func (p *stubParser) SamplesForeach(cb divecom.SampleCallback) error {
	for _, s := range p.samples {
		cb(s)
	}
	return nil
}

func testParser() *stubParser {
	p := &stubParser{when: time.Unix(1591372057, 0).UTC()}
	p.cache.SetDivetime(1800)
	p.cache.SetMaxDepth(31.5)
	p.cache.SetDiveMode(divecom.ModeOpenCircuit)
	p.cache.SetGasMix(0, divecom.GasMix{Oxygen: 0.32})
	p.cache.SetSalinity(divecom.Salinity{Kind: divecom.WaterSalt, Density: 1025})
	p.cache.AddString("Serial", "00001234")
	p.samples = []divecom.Sample{
		divecom.TimeSample{Seconds: 10},
		divecom.DepthSample{Meters: 5.2},
		divecom.TemperatureSample{Celsius: 18},
		divecom.GasMixSample{Index: 0},
		divecom.TimeSample{Seconds: 20},
		divecom.DepthSample{Meters: 10.4},
		divecom.PressureSample{Tank: 0, Bar: 190.5},
		divecom.DecoSample{Kind: divecom.DecoStop, Seconds: 120, Meters: 3},
	}
	return p
}

// ============================================================
// Assembly Tests
// ============================================================

func TestAssemble_SummaryFields(t *testing.T) {
	r, err := Assemble(testParser(), []byte("rawdive"), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if !bytes.Equal(r.Fingerprint, []byte{1, 2, 3, 4}) {
		t.Errorf("fingerprint: got %v", r.Fingerprint)
	}
	if !r.DateTime.Equal(time.Unix(1591372057, 0)) {
		t.Errorf("datetime: got %v", r.DateTime)
	}
	if r.Divetime != 1800 {
		t.Errorf("divetime: expected 1800, got %d", r.Divetime)
	}
	if r.MaxDepth != 31.5 {
		t.Errorf("maxdepth: expected 31.5, got %v", r.MaxDepth)
	}
	if r.Mode == nil || *r.Mode != int(divecom.ModeOpenCircuit) {
		t.Errorf("mode: got %v", r.Mode)
	}
	if len(r.Gases) != 1 || r.Gases[0].Oxygen != 0.32 {
		t.Errorf("gases: got %+v", r.Gases)
	}
	if r.Salinity == nil || r.Salinity.Density != 1025 {
		t.Errorf("salinity: got %+v", r.Salinity)
	}
	if len(r.Strings) != 1 || r.Strings[0].Desc != "Serial" || r.Strings[0].Value != "00001234" {
		t.Errorf("strings: got %+v", r.Strings)
	}
}

func TestAssemble_Profile(t *testing.T) {
	r, err := Assemble(testParser(), []byte("rawdive"), nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(r.Profile) != 2 {
		t.Fatalf("expected 2 points, got %d", len(r.Profile))
	}

	p0 := r.Profile[0]
	if p0.Time != 10 || p0.Depth == nil || *p0.Depth != 5.2 {
		t.Errorf("point 0: got %+v", p0)
	}
	if p0.Temperature == nil || *p0.Temperature != 18 {
		t.Errorf("point 0 temperature: got %+v", p0.Temperature)
	}
	if p0.GasMix == nil || *p0.GasMix != 0 {
		t.Errorf("point 0 gas: got %+v", p0.GasMix)
	}

	p1 := r.Profile[1]
	if p1.Time != 20 || p1.Depth == nil || *p1.Depth != 10.4 {
		t.Errorf("point 1: got %+v", p1)
	}
	if len(p1.Pressures) != 1 || p1.Pressures[0].Bar != 190.5 {
		t.Errorf("point 1 pressures: got %+v", p1.Pressures)
	}
	if p1.Deco == nil || p1.Deco.Kind != int(divecom.DecoStop) || p1.Deco.Meters != 3 {
		t.Errorf("point 1 deco: got %+v", p1.Deco)
	}
	if p1.Temperature != nil {
		t.Errorf("point 1 must not inherit the previous temperature")
	}
}

func TestAssemble_MissingFieldsStayUnset(t *testing.T) {
	p := &stubParser{}
	r, err := Assemble(p, []byte("rawdive"), nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !r.DateTime.IsZero() || r.Divetime != 0 || r.Mode != nil || r.Salinity != nil {
		t.Errorf("expected an empty record, got %+v", r)
	}
}

func TestAssemble_ParserErrorPropagates(t *testing.T) {
	p := &stubParser{failSet: true}
	if _, err := Assemble(p, []byte("bad"), nil); !errors.Is(err, divecom.ErrDataFormat) {
		t.Errorf("expected ErrDataFormat, got %v", err)
	}
}

// ============================================================
// CBOR Tests
// ============================================================

func TestLogbook_RoundTrip(t *testing.T) {
	r, err := Assemble(testParser(), []byte("rawdive"), []byte{9, 9})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	book := New(DeviceInfo{Backend: "oceans-s1", Model: 1, Serial: 0x1234})
	book.Add(r)

	var buf bytes.Buffer
	if err := book.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if got.Version != formatVersion {
		t.Errorf("version: got %d", got.Version)
	}
	if got.Device != book.Device {
		t.Errorf("device: expected %+v, got %+v", book.Device, got.Device)
	}
	if len(got.Dives) != 1 {
		t.Fatalf("expected 1 dive, got %d", len(got.Dives))
	}
	dive := got.Dives[0]
	if !bytes.Equal(dive.Fingerprint, []byte{9, 9}) {
		t.Errorf("fingerprint: got %v", dive.Fingerprint)
	}
	if !dive.DateTime.Equal(r.DateTime) {
		t.Errorf("datetime: expected %v, got %v", r.DateTime, dive.DateTime)
	}
	if dive.Divetime != r.Divetime || dive.MaxDepth != r.MaxDepth {
		t.Errorf("summary mismatch: %+v", dive)
	}
	if len(dive.Profile) != 2 || *dive.Profile[1].Depth != 10.4 {
		t.Errorf("profile mismatch: %+v", dive.Profile)
	}
}

func TestLogbook_Deterministic(t *testing.T) {
	r, err := Assemble(testParser(), []byte("rawdive"), nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	book := New(DeviceInfo{Backend: "deepblu"})
	book.Add(r)
	a, err := book.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b, err := book.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical logbooks must encode to identical bytes")
	}
}

func TestUnmarshal_RejectsVersion(t *testing.T) {
	book := New(DeviceInfo{})
	book.Version = 99
	data, err := book.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected an error for an unknown version")
	}
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xFF, 0x00, 0x01}); err == nil {
		t.Error("expected an error for malformed bytes")
	}
}
