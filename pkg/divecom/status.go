// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package divecom provides the device-independent core for downloading and
// decoding dive logs from underwater dive computers.
//
// The package defines the capability contracts shared by every vendor
// backend: a synchronous byte Transport, the Device handle that drives a
// download, the Parser handle that decodes one dive, the typed event bus,
// the field cache for dive-summary scalars, and the closed set of sample
// variants delivered during sample replay. Byte-level primitives (endian
// readers, hex codec, checksum kernels) live here as well so that backends
// share a single implementation.
package divecom

import "errors"

// Status errors form the closed error taxonomy shared by all backends.
// Backends wrap these with context via fmt.Errorf("...: %w", err); callers
// classify with errors.Is.
var (
	// ErrUnsupported reports an operation or field not implemented for
	// this backend.
	ErrUnsupported = errors.New("unsupported")

	// ErrInvalidArgs reports arguments that violate an operation's
	// contract (wrong fingerprint width, closed device, bad datetime).
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrNoDevice reports that no device was found on the transport.
	ErrNoDevice = errors.New("no device")

	// ErrNoAccess reports insufficient permission on the transport.
	ErrNoAccess = errors.New("no access")

	// ErrIO reports a transport failure or malformed incoming bytes.
	ErrIO = errors.New("input/output error")

	// ErrTimeout reports an expired transport read or write deadline.
	ErrTimeout = errors.New("timeout")

	// ErrProtocol reports a checksum mismatch, unexpected opcode, or
	// framing violation. There is no resync; close and reopen.
	ErrProtocol = errors.New("protocol error")

	// ErrCancelled reports that the device's cancellation flag was set.
	ErrCancelled = errors.New("cancelled")

	// ErrNack reports a transport-level negative acknowledgement.
	ErrNack = errors.New("negative acknowledgement")

	// ErrDataFormat reports dive data in an unrecognized or corrupt
	// layout.
	ErrDataFormat = errors.New("data format error")
)
