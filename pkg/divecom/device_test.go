// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package divecom

import (
	"errors"
	"testing"
	"time"
)

// ============================================================
// Fingerprint Tests
// ============================================================

func TestDeviceBase_StoreFingerprint(t *testing.T) {
	var b DeviceBase
	b.InitBase(NewMemTransport(), nil)

	if err := b.StoreFingerprint([]byte{1, 2, 3, 4}, 4); err != nil {
		t.Fatalf("StoreFingerprint failed: %v", err)
	}
	if !b.FingerprintMatches([]byte{1, 2, 3, 4}) {
		t.Error("stored fingerprint must match itself")
	}
	if b.FingerprintMatches([]byte{1, 2, 3, 5}) {
		t.Error("different bytes must not match")
	}
}

func TestDeviceBase_StoreFingerprintWrongWidth(t *testing.T) {
	var b DeviceBase
	b.InitBase(NewMemTransport(), nil)

	if err := b.StoreFingerprint([]byte{1, 2, 3}, 4); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("expected ErrInvalidArgs for a short fingerprint, got %v", err)
	}
}

func TestDeviceBase_EmptyFingerprintClears(t *testing.T) {
	var b DeviceBase
	b.InitBase(NewMemTransport(), nil)

	if err := b.StoreFingerprint([]byte{1, 2, 3, 4}, 4); err != nil {
		t.Fatalf("StoreFingerprint failed: %v", err)
	}
	if err := b.StoreFingerprint(nil, 4); err != nil {
		t.Fatalf("clearing failed: %v", err)
	}
	if b.FingerprintMatches([]byte{1, 2, 3, 4}) {
		t.Error("a cleared anchor must match nothing")
	}
}

func TestDeviceBase_StoredCopyIsOwned(t *testing.T) {
	var b DeviceBase
	b.InitBase(NewMemTransport(), nil)

	fp := []byte{1, 2, 3, 4}
	b.StoreFingerprint(fp, 4)
	fp[0] = 0xFF
	if !b.FingerprintMatches([]byte{1, 2, 3, 4}) {
		t.Error("mutating the caller's slice must not affect the stored anchor")
	}
}

// ============================================================
// Cancellation Tests
// ============================================================

func TestDeviceBase_Cancel(t *testing.T) {
	var b DeviceBase
	b.InitBase(NewMemTransport(), nil)

	if err := b.CheckCancelled(); err != nil {
		t.Fatalf("fresh device must not be cancelled: %v", err)
	}
	b.Cancel()
	if !b.Cancelled() {
		t.Error("Cancelled must report true after Cancel")
	}
	if err := b.CheckCancelled(); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestDeviceBase_CloseIsTerminal(t *testing.T) {
	m := NewMemTransport()
	var b DeviceBase
	b.InitBase(m, nil)

	if err := b.CloseBase(); err != nil {
		t.Fatalf("CloseBase failed: %v", err)
	}
	if _, err := m.Read(make([]byte, 1)); !errors.Is(err, ErrInvalidArgs) {
		t.Error("CloseBase must close the transport")
	}

	if err := b.CheckOpen(); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("CheckOpen after close: got %v", err)
	}
	if err := b.CloseBase(); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("double close: got %v", err)
	}
	if err := b.StoreFingerprint([]byte{1, 2, 3, 4}, 4); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("StoreFingerprint after close: got %v", err)
	}
	if _, err := b.BeginDownload(); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("BeginDownload after close: got %v", err)
	}
}

func TestDeviceBase_BeginDownloadRestores(t *testing.T) {
	var b DeviceBase
	b.InitBase(NewMemTransport(), nil)

	restore, err := b.BeginDownload()
	if err != nil {
		t.Fatalf("BeginDownload failed: %v", err)
	}
	restore()
	if err := b.CheckOpen(); err != nil {
		t.Errorf("device must be open again after restore: %v", err)
	}
}

func TestDeviceBase_NilTransportClose(t *testing.T) {
	var b DeviceBase
	b.InitBase(nil, nil)
	if err := b.CloseBase(); err != nil {
		t.Errorf("closing a transportless device must succeed: %v", err)
	}
}

// ============================================================
// Event Emission Tests
// ============================================================

func TestDeviceBase_EmitHelpers(t *testing.T) {
	var events []Event
	var b DeviceBase
	b.InitBase(NewMemTransport(), func(ev Event) { events = append(events, ev) })

	before := time.Now()
	b.EmitProgress(10, 100)
	b.EmitDevinfo(3, 7, 0xCAFE)
	b.EmitClock(12345)
	b.Emit(VendorEvent{Data: []byte{0xAA}})

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	p, ok := events[0].(ProgressEvent)
	if !ok || p.Current != 10 || p.Maximum != 100 {
		t.Errorf("progress: got %+v", events[0])
	}
	di, ok := events[1].(DevinfoEvent)
	if !ok || di.Model != 3 || di.Firmware != 7 || di.Serial != 0xCAFE {
		t.Errorf("devinfo: got %+v", events[1])
	}
	ck, ok := events[2].(ClockEvent)
	if !ok || ck.DevTime != 12345 {
		t.Errorf("clock: got %+v", events[2])
	}
	if ck.SysTime.Before(before) || ck.SysTime.After(time.Now()) {
		t.Errorf("clock host stamp out of range: %v", ck.SysTime)
	}
	ve, ok := events[3].(VendorEvent)
	if !ok || len(ve.Data) != 1 || ve.Data[0] != 0xAA {
		t.Errorf("vendor: got %+v", events[3])
	}
}

func TestDeviceBase_NilSinkIsSafe(t *testing.T) {
	var b DeviceBase
	b.InitBase(NewMemTransport(), nil)
	b.EmitProgress(1, 2)
	b.EmitDevinfo(1, 2, 3)
	b.EmitClock(4)
}
