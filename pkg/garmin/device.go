// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package garmin

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// ActivityDir is the watch's activity folder relative to the mount root.
const ActivityDir = "Garmin/Activity"

// device enumerates dives from a Garmin watch mounted as USB mass
// storage. Each activity file is one dive; the zero-padded filename is
// its fingerprint.
type device struct {
	divecom.DeviceBase
	fsys fs.FS
}

// OpenFS opens a Garmin device over the watch's mounted filesystem.
func OpenFS(fsys fs.FS, sink divecom.EventSink) (divecom.Device, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: nil filesystem", divecom.ErrInvalidArgs)
	}
	d := &device{fsys: fsys}
	d.InitBase(nil, sink)
	return d, nil
}

// SetFingerprint stores the 24-byte filename anchor.
func (d *device) SetFingerprint(fp []byte) error {
	return d.StoreFingerprint(fp, FingerprintSize)
}

// activityFiles lists the activity folder newest-first. The timestamped
// filenames make reverse string order reverse chronological order.
func (d *device) activityFiles() ([]string, error) {
	entries, err := fs.ReadDir(d.fsys, ActivityDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", divecom.ErrNoDevice, ActivityDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".fit" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// fingerprintFor pads a filename to the fixed fingerprint width.
func fingerprintFor(name string) []byte {
	fp := make([]byte, FingerprintSize)
	copy(fp, name)
	return fp
}

// Foreach walks the activity files newest-first, delivering each file's
// bytes with the filename fingerprint prepended.
func (d *device) Foreach(cb divecom.DiveCallback) error {
	done, err := d.BeginDownload()
	if err != nil {
		return err
	}
	defer done()

	names, err := d.activityFiles()
	if err != nil {
		return err
	}
	d.EmitProgress(0, uint(len(names)))
	for i, name := range names {
		if err := d.CheckCancelled(); err != nil {
			return err
		}
		fp := fingerprintFor(name)
		if d.FingerprintMatches(fp) {
			break
		}
		raw, err := fs.ReadFile(d.fsys, path.Join(ActivityDir, name))
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", divecom.ErrIO, name, err)
		}
		dive := make([]byte, 0, FingerprintSize+len(raw))
		dive = append(dive, fp...)
		dive = append(dive, raw...)
		d.EmitProgress(uint(i+1), uint(len(names)))
		if !cb(dive, fp) {
			break
		}
	}
	d.EmitProgress(uint(len(names)), uint(len(names)))
	return nil
}

// Dump concatenates every activity file into buf, newest first.
func (d *device) Dump(buf *bytes.Buffer) error {
	done, err := d.BeginDownload()
	if err != nil {
		return err
	}
	defer done()

	names, err := d.activityFiles()
	if err != nil {
		return err
	}
	d.EmitProgress(0, uint(len(names)))
	for i, name := range names {
		if err := d.CheckCancelled(); err != nil {
			return err
		}
		raw, err := fs.ReadFile(d.fsys, path.Join(ActivityDir, name))
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", divecom.ErrIO, name, err)
		}
		buf.Write(raw)
		d.EmitProgress(uint(i+1), uint(len(names)))
	}
	return nil
}

// TimeSync is not available over mass storage: the watch owns its own
// clock while mounted.
func (d *device) TimeSync(t time.Time) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	return divecom.ErrUnsupported
}

// Close releases the device. The filesystem handle belongs to the
// caller.
func (d *device) Close() error {
	d.fsys = nil
	return d.CloseBase()
}
