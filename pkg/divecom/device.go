// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package divecom

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"
)

// DiveCallback receives one dive during Foreach: the dive's raw bytes and
// its fingerprint. Both slices are borrowed for the duration of the call.
// Returning false halts enumeration.
type DiveCallback func(dive, fingerprint []byte) bool

// Device is the capability contract over one connected dive computer. All
// operations are synchronous and drive the transport on the caller's
// goroutine. A Device owns its transport exclusively until Close.
type Device interface {
	// SetFingerprint stores the incremental-sync anchor. Enumeration
	// stops (without delivering) at the first dive whose fingerprint
	// matches. Empty input clears the anchor; any other length must
	// equal the backend's fingerprint width or SetFingerprint fails
	// with ErrInvalidArgs.
	SetFingerprint(fp []byte) error

	// Dump reads the full device memory into buf, emitting progress
	// events as it goes.
	Dump(buf *bytes.Buffer) error

	// Foreach enumerates dives newest-first, invoking cb per dive.
	// It stops early when cb returns false, when the stored
	// fingerprint matches, or when the device is cancelled.
	Foreach(cb DiveCallback) error

	// TimeSync sets the device clock.
	TimeSync(t time.Time) error

	// Close releases the transport. Safe to call exactly once; all
	// operations on a closed device fail with ErrInvalidArgs.
	Close() error
}

// Device lifecycle states
const (
	devStateOpen = iota
	devStateDownloading
	devStateClosed
)

// DeviceBase carries the state every backend shares: the transport, the
// event sink, the fingerprint anchor, the cancellation flag, and the
// lifecycle state. Backends embed it and call its helpers; it is not a
// Device by itself.
type DeviceBase struct {
	transport   Transport
	sink        EventSink
	fingerprint []byte
	cancelled   atomic.Bool
	state       int
}

// InitBase binds the transport and event sink. Backend open functions call
// this exactly once.
func (b *DeviceBase) InitBase(t Transport, sink EventSink) {
	b.transport = t
	b.sink = sink
	b.state = devStateOpen
}

// Transport returns the bound transport.
func (b *DeviceBase) Transport() Transport {
	return b.transport
}

// Cancel sets the cancellation flag. It is the only Device entry point
// safe to call from another goroutine; the download observes the flag at
// the next transport boundary.
func (b *DeviceBase) Cancel() {
	b.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (b *DeviceBase) Cancelled() bool {
	return b.cancelled.Load()
}

// CheckCancelled converts a pending cancellation into ErrCancelled.
// Backends call it between transport operations and between dives.
func (b *DeviceBase) CheckCancelled() error {
	if b.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Emit delivers an event to the sink, if one is bound.
func (b *DeviceBase) Emit(ev Event) {
	if b.sink != nil {
		b.sink(ev)
	}
}

// EmitProgress delivers a ProgressEvent.
func (b *DeviceBase) EmitProgress(current, maximum uint) {
	b.Emit(ProgressEvent{Current: current, Maximum: maximum})
}

// EmitDevinfo delivers a DevinfoEvent.
func (b *DeviceBase) EmitDevinfo(model, firmware, serial uint) {
	b.Emit(DevinfoEvent{Model: model, Firmware: firmware, Serial: serial})
}

// EmitClock delivers a ClockEvent for the given device time, stamping the
// host side now.
func (b *DeviceBase) EmitClock(devtime uint) {
	b.Emit(ClockEvent{SysTime: time.Now(), DevTime: devtime})
}

// StoreFingerprint implements the shared SetFingerprint contract for a
// backend whose fingerprints are width bytes wide: empty clears, the exact
// width stores a copy, anything else is ErrInvalidArgs.
func (b *DeviceBase) StoreFingerprint(fp []byte, width int) error {
	if err := b.CheckOpen(); err != nil {
		return err
	}
	if len(fp) == 0 {
		b.fingerprint = nil
		return nil
	}
	if len(fp) != width {
		return fmt.Errorf("%w: fingerprint must be %d bytes, got %d", ErrInvalidArgs, width, len(fp))
	}
	b.fingerprint = append([]byte(nil), fp...)
	return nil
}

// FingerprintMatches reports whether fp equals the stored anchor. A
// cleared anchor matches nothing.
func (b *DeviceBase) FingerprintMatches(fp []byte) bool {
	return b.fingerprint != nil && bytes.Equal(b.fingerprint, fp)
}

// CheckOpen fails with ErrInvalidArgs once the device is closed.
func (b *DeviceBase) CheckOpen() error {
	if b.state == devStateClosed {
		return fmt.Errorf("%w: device is closed", ErrInvalidArgs)
	}
	return nil
}

// BeginDownload marks the device as downloading for the duration of a
// Foreach or Dump. The returned func restores the open state.
func (b *DeviceBase) BeginDownload() (func(), error) {
	if err := b.CheckOpen(); err != nil {
		return nil, err
	}
	b.state = devStateDownloading
	return func() { b.state = devStateOpen }, nil
}

// CloseBase releases the transport and moves to the terminal state.
func (b *DeviceBase) CloseBase() error {
	if err := b.CheckOpen(); err != nil {
		return err
	}
	b.state = devStateClosed
	if b.transport == nil {
		return nil
	}
	return b.transport.Close()
}
