// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package divecom

import (
	"bytes"
	"time"
)

// MemTransport is an in-memory Transport for backend tests. Reads drain a
// scripted input buffer; writes accumulate into an output buffer that tests
// inspect. An optional OnWrite hook lets a test script the device side of a
// command/response exchange by appending replies as commands arrive.
type MemTransport struct {
	in      bytes.Buffer
	out     bytes.Buffer
	closed  bool
	timeout time.Duration

	// OnWrite, if set, observes every chunk written by the device layer.
	OnWrite func(p []byte)

	// ReadChunk caps how many bytes a single Read returns, mimicking a
	// packetized link. Zero means unlimited.
	ReadChunk int
}

// NewMemTransport creates an empty in-memory transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{}
}

// Feed appends bytes to the scripted input.
func (m *MemTransport) Feed(p []byte) {
	m.in.Write(p)
}

// FeedString appends a string to the scripted input.
func (m *MemTransport) FeedString(s string) {
	m.in.WriteString(s)
}

// Sent returns everything written by the device layer so far.
func (m *MemTransport) Sent() []byte {
	return m.out.Bytes()
}

// Configure implements Transport. The line parameters are recorded nowhere;
// an in-memory link has no line.
func (m *MemTransport) Configure(cfg LineConfig) error {
	if m.closed {
		return ErrInvalidArgs
	}
	return nil
}

// SetTimeout implements Transport.
func (m *MemTransport) SetTimeout(d time.Duration) error {
	if m.closed {
		return ErrInvalidArgs
	}
	m.timeout = d
	return nil
}

// Read implements Transport. An exhausted input buffer reports ErrTimeout,
// which is what a real transport does when the device stops talking.
func (m *MemTransport) Read(p []byte) (int, error) {
	if m.closed {
		return 0, ErrInvalidArgs
	}
	if m.in.Len() == 0 {
		return 0, ErrTimeout
	}
	if m.ReadChunk > 0 && len(p) > m.ReadChunk {
		p = p[:m.ReadChunk]
	}
	return m.in.Read(p)
}

// Write implements Transport.
func (m *MemTransport) Write(p []byte) (int, error) {
	if m.closed {
		return 0, ErrInvalidArgs
	}
	n, err := m.out.Write(p)
	if err == nil && m.OnWrite != nil {
		m.OnWrite(p)
	}
	return n, err
}

// Flush implements Transport.
func (m *MemTransport) Flush() error { return nil }

// Purge implements Transport.
func (m *MemTransport) Purge(dir Direction) error {
	if dir&DirectionInput != 0 {
		m.in.Reset()
	}
	if dir&DirectionOutput != 0 {
		m.out.Reset()
	}
	return nil
}

// Sleep implements Transport. Tests do not wait.
func (m *MemTransport) Sleep(d time.Duration) {}

// Close implements Transport.
func (m *MemTransport) Close() error {
	m.closed = true
	return nil
}
