// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/halocline-dive/halocline/pkg/divecom"
	"github.com/halocline-dive/halocline/pkg/garmin"
)

// openDevice opens the selected backend's device over the configured
// connection and returns it together with the backend and a short
// human-readable connection description.
//
// The garmin backend is filesystem-based and never appears in the
// transport registry; it is dispatched here on --mount instead of
// --port/--url.
func openDevice(sink divecom.EventSink) (divecom.Device, divecom.Backend, string, error) {
	if backendName == "" {
		return nil, divecom.Backend{}, "", fmt.Errorf("--backend is required (see 'halocline backends')")
	}

	if backendName == "garmin" {
		if mountPath == "" {
			return nil, divecom.Backend{}, "", fmt.Errorf("the garmin backend reads a mounted watch; use --mount")
		}
		dev, err := garmin.OpenFS(os.DirFS(mountPath), sink)
		if err != nil {
			return nil, divecom.Backend{}, "", err
		}
		b := divecom.Backend{
			Name:        "garmin",
			Description: "Garmin Descent watch (USB mass storage)",
			NewParser:   garmin.NewParser,
		}
		return dev, b, fmt.Sprintf("Filesystem: %s", mountPath), nil
	}

	b, err := divecom.Lookup(backendName)
	if err != nil {
		return nil, divecom.Backend{}, "", err
	}

	t, info, err := openTransport()
	if err != nil {
		return nil, divecom.Backend{}, "", err
	}

	dev, err := b.OpenDevice(t, sink)
	if err != nil {
		t.Close()
		return nil, divecom.Backend{}, "", err
	}

	return dev, b, info, nil
}

// parseFingerprint decodes the --fingerprint hex string. Empty input
// means no anchor.
func parseFingerprint(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	fp, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint %q: %v", s, err)
	}
	return fp, nil
}

// deviceHolder hands an opened device from the download goroutine to
// the TUI so a keypress can cancel a download in flight.
type deviceHolder struct {
	mu  sync.Mutex
	dev divecom.Device
}

func (h *deviceHolder) set(d divecom.Device) {
	h.mu.Lock()
	h.dev = d
	h.mu.Unlock()
}

// cancel flags the held device as cancelled. It reports whether a
// device was there to cancel; if not, the caller can quit directly.
func (h *deviceHolder) cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev == nil {
		return false
	}
	if c, ok := h.dev.(interface{ Cancel() }); ok {
		c.Cancel()
		return true
	}
	return false
}
