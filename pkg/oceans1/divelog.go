// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package oceans1

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// A divelog blob is line-oriented text:
//
//	divelog v1,10s/sample
//	 dive nr,mode,o2,epoch
//	 continue bottom_cm,surface_s
//	 enddive maxdepth_cm,duration_s
//	endlog
//
// with one "depth_cm,temp_c,flags_hex" sample line per interval between
// a dive line and its enddive line.

// logEntry names one dive in a dive list blob.
type logEntry struct {
	nr     int
	header string
}

// diveHeader is the decoded " dive nr,mode,o2,epoch" line.
type diveHeader struct {
	nr    int
	mode  int
	o2    int
	epoch int64
}

// splitFields splits the argument list of a divelog keyword line.
func splitFields(line, keyword string, n int) ([]string, error) {
	rest := strings.TrimPrefix(line, keyword+" ")
	fields := strings.Split(rest, ",")
	if rest == line || len(fields) != n {
		return nil, fmt.Errorf("%w: malformed %q line %q", divecom.ErrDataFormat, keyword, line)
	}
	return fields, nil
}

func parseDiveHeader(line string) (diveHeader, error) {
	var h diveHeader
	fields, err := splitFields(line, "dive", 4)
	if err != nil {
		return h, err
	}
	h.nr, err = strconv.Atoi(fields[0])
	if err == nil {
		h.mode, err = strconv.Atoi(fields[1])
	}
	if err == nil {
		h.o2, err = strconv.Atoi(fields[2])
	}
	if err == nil {
		h.epoch, err = strconv.ParseInt(fields[3], 10, 64)
	}
	if err != nil {
		return h, fmt.Errorf("%w: malformed dive header %q", divecom.ErrDataFormat, line)
	}
	return h, nil
}

// parseDivelog lists the dives named by a divelog blob, in blob order.
func parseDivelog(blob []byte) ([]logEntry, error) {
	lines := strings.Split(string(blob), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "divelog") {
		return nil, fmt.Errorf("%w: missing divelog header", divecom.ErrDataFormat)
	}

	var entries []logEntry
	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "dive ") {
			continue
		}
		h, err := parseDiveHeader(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, logEntry{nr: h.nr, header: line})
	}
	return entries, nil
}

// extractDive cuts one dive's text block out of a divelog blob: the
// lines from its "dive nr,..." header through the next "enddive" line.
func extractDive(blob []byte, nr int) ([]byte, error) {
	lines := strings.Split(string(blob), "\n")
	start := -1
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if start < 0 {
			if strings.HasPrefix(line, "dive ") {
				h, err := parseDiveHeader(line)
				if err != nil {
					return nil, err
				}
				if h.nr == nr {
					start = i
				}
			}
			continue
		}
		if strings.HasPrefix(line, "enddive ") {
			return []byte(strings.Join(lines[start:i+1], "\n") + "\n"), nil
		}
	}
	return nil, fmt.Errorf("%w: dive %d not found in divelog", divecom.ErrDataFormat, nr)
}
