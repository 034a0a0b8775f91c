// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package divecom

import "time"

// Parser is the capability contract over one dive's raw bytes, as
// delivered by a Device's DiveCallback. A Parser borrows the bytes bound
// by SetData; the caller guarantees they outlive the parser.
type Parser interface {
	// SetData binds one dive's bytes and walks them once, without a
	// callback, to prime the field cache. Repeated calls reset state.
	// On error the parser is left empty: every Field call reports
	// ErrUnsupported.
	SetData(data []byte) error

	// DateTime returns the dive's wall-clock start time. The location
	// is time.UTC unless the format encodes a timezone.
	DateTime() (time.Time, error)

	// Field retrieves a cached scalar or indexed value; see FieldType
	// for the value type per field. Fields the format never produced
	// report ErrUnsupported.
	Field(t FieldType, idx int) (interface{}, error)

	// SamplesForeach replays the dive, delivering samples in time
	// order: a TimeSample first, then the values for that instant.
	SamplesForeach(cb SampleCallback) error
}
