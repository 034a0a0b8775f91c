// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package oceans1

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

const sampleInterval = 10 // seconds

var diveModes = [3]divecom.DiveMode{
	divecom.ModeOpenCircuit,
	divecom.ModeGauge,
	divecom.ModeFreedive,
}

// parser decodes one S1 dive: the text block from its "dive" header
// line through its "enddive" trailer line.
type parser struct {
	lines  []string
	header diveHeader
	cache  divecom.FieldCache
}

// NewParser returns an empty Oceans S1 parser.
func NewParser() divecom.Parser {
	return &parser{}
}

// SetData binds one dive's text and primes the summary cache.
func (p *parser) SetData(data []byte) error {
	p.lines = nil
	p.cache.Reset()

	lines := strings.Split(string(data), "\n")
	start := -1
	for i, raw := range lines {
		if strings.HasPrefix(strings.TrimSpace(raw), "dive ") {
			start = i
			break
		}
	}
	if start < 0 {
		return fmt.Errorf("%w: missing dive header line", divecom.ErrDataFormat)
	}
	header, err := parseDiveHeader(strings.TrimSpace(lines[start]))
	if err != nil {
		return err
	}

	var trailer []string
	for _, raw := range lines[start+1:] {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "enddive ") {
			trailer, err = splitFields(line, "enddive", 2)
			if err != nil {
				return err
			}
			break
		}
	}
	if trailer == nil {
		return fmt.Errorf("%w: missing enddive line", divecom.ErrDataFormat)
	}
	maxdepth, err := strconv.Atoi(trailer[0])
	if err != nil {
		return fmt.Errorf("%w: malformed enddive line", divecom.ErrDataFormat)
	}
	divetime, err := strconv.Atoi(trailer[1])
	if err != nil {
		return fmt.Errorf("%w: malformed enddive line", divecom.ErrDataFormat)
	}

	p.cache.SetMaxDepth(float64(maxdepth) / 100)
	p.cache.SetDivetime(uint(divetime))
	if header.mode >= 0 && header.mode < len(diveModes) {
		p.cache.SetDiveMode(diveModes[header.mode])
	}
	if header.o2 > 0 && header.o2 <= 100 {
		p.cache.SetGasMix(0, divecom.GasMix{Oxygen: 0.01 * float64(header.o2)})
	}

	p.header = header
	p.lines = lines[start:]
	return nil
}

// DateTime derives the dive start from the header's epoch timestamp.
func (p *parser) DateTime() (time.Time, error) {
	if p.lines == nil {
		return time.Time{}, divecom.ErrUnsupported
	}
	return time.Unix(p.header.epoch, 0).UTC(), nil
}

// Field retrieves a cached summary value.
func (p *parser) Field(t divecom.FieldType, idx int) (interface{}, error) {
	if p.lines == nil {
		return nil, divecom.ErrUnsupported
	}
	return p.cache.Field(t, idx)
}

// SamplesForeach replays the dive's sample lines in time order. A
// "continue" line marks a surface interval, rendered as a zero depth
// sample at each end of the gap.
func (p *parser) SamplesForeach(cb divecom.SampleCallback) error {
	if p.lines == nil {
		return divecom.ErrUnsupported
	}

	t := uint(0)
	for _, raw := range p.lines[1:] {
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || strings.HasPrefix(line, "endlog"):
			continue
		case strings.HasPrefix(line, "enddive "):
			return nil
		case strings.HasPrefix(line, "continue "):
			fields, err := splitFields(line, "continue", 2)
			if err != nil {
				return err
			}
			surface, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("%w: malformed continue line", divecom.ErrDataFormat)
			}
			cb(divecom.TimeSample{Seconds: t})
			cb(divecom.DepthSample{Meters: 0})
			t += uint(surface)
			cb(divecom.TimeSample{Seconds: t})
			cb(divecom.DepthSample{Meters: 0})
			t += sampleInterval
		default:
			fields := strings.Split(line, ",")
			if len(fields) != 3 {
				return fmt.Errorf("%w: malformed sample line %q", divecom.ErrDataFormat, line)
			}
			depth, err := strconv.Atoi(fields[0])
			if err != nil {
				return fmt.Errorf("%w: malformed sample line %q", divecom.ErrDataFormat, line)
			}
			temp, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("%w: malformed sample line %q", divecom.ErrDataFormat, line)
			}
			if _, err := strconv.ParseUint(fields[2], 16, 32); err != nil {
				return fmt.Errorf("%w: malformed sample line %q", divecom.ErrDataFormat, line)
			}
			cb(divecom.TimeSample{Seconds: t})
			cb(divecom.DepthSample{Meters: float64(depth) / 100})
			cb(divecom.TemperatureSample{Celsius: float64(temp)})
			t += sampleInterval
		}
	}
	return nil
}
