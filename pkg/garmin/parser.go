// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package garmin decodes Garmin dive computer activity logs. The on-disk
// format is FIT, a self-describing binary container: definition records
// install per-file record layouts that later data records reference by
// local type number. The parser normalizes FIT dive messages into the
// shared field cache and sample stream; the device side enumerates
// activity files from the watch's mass-storage filesystem.
package garmin

import (
	"fmt"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// parser decodes one FIT dive blob. It walks the record stream twice:
// SetData primes the field cache without a callback, SamplesForeach
// replays with one.
type parser struct {
	data  []byte
	state diveState
	cache divecom.FieldCache
}

// NewParser returns an empty FIT parser.
func NewParser() divecom.Parser {
	return &parser{}
}

// SetData binds one dive's bytes and primes the summary cache. On error
// the parser reports ErrUnsupported for every field.
func (p *parser) SetData(data []byte) error {
	p.data = nil
	p.state = diveState{}
	p.cache.Reset()

	p.cache.SetGasMixCount(0)
	p.cache.SetTankCount(0)
	dec := &fitDecoder{state: &p.state, cache: &p.cache}
	if err := dec.run(data); err != nil {
		p.state = diveState{}
		p.cache.Reset()
		return err
	}
	dec.finishDive()
	p.data = data
	return nil
}

// DateTime derives the dive start from the SESSION start_time, applying
// the recorded timezone offsets. When no session was decoded it falls
// back to parsing the filename fingerprint.
func (p *parser) DateTime() (time.Time, error) {
	if p.data == nil {
		return time.Time{}, divecom.ErrUnsupported
	}
	if p.state.startTime != 0 {
		loc := time.UTC
		if p.state.haveUTCOff {
			loc = time.FixedZone("", int(p.state.utcOffset))
		} else if p.state.haveTimeOff {
			loc = time.FixedZone("", int(p.state.timeOffset))
		}
		unix := int64(p.state.startTime) + garminEpochOffset
		return time.Unix(unix, 0).In(loc), nil
	}
	return fingerprintTime(p.data[:FingerprintSize])
}

// fingerprintTime parses the "YYYY-MM-DD-HH-MM-SS.fit" filename carried
// in the fingerprint prefix.
func fingerprintTime(fp []byte) (time.Time, error) {
	name := string(fp)
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	t, err := time.ParseInLocation("2006-01-02-15-04-05.fit", name, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: no session start and unparseable filename %q", divecom.ErrUnsupported, name)
	}
	return t, nil
}

// Field retrieves a cached summary value.
func (p *parser) Field(t divecom.FieldType, idx int) (interface{}, error) {
	if p.data == nil {
		return nil, divecom.ErrUnsupported
	}
	return p.cache.Field(t, idx)
}

// SamplesForeach replays the dive, delivering samples in time order.
// The summary cache keeps the values from SetData; only the sample
// stream is re-decoded.
func (p *parser) SamplesForeach(cb divecom.SampleCallback) error {
	if p.data == nil {
		return divecom.ErrUnsupported
	}
	state := diveState{}
	var scratch divecom.FieldCache
	dec := &fitDecoder{state: &state, cache: &scratch, cb: cb}
	return dec.run(p.data)
}
