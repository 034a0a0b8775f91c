// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/halocline-dive/halocline/pkg/divecom"
	"github.com/halocline-dive/halocline/pkg/logbook"
)

var (
	downloadOutput      string
	downloadFingerprint string
	downloadPlain       bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download dives into a CBOR logbook",
	Long: `Download dives from a dive computer and write them as a portable CBOR
logbook file.

Dives are delivered newest-first. With --fingerprint, enumeration stops
at the first dive already present in an earlier download, so only new
dives are transferred. The fingerprint of the newest dive is printed
after a successful download for use in the next one.

Examples:
  # Full download over serial
  halocline download --backend mclean --port /dev/ttyUSB0 -o dives.cbor

  # Incremental download through a WebSocket bridge
  halocline download --backend oceans-s1 --url ws://bridge.local/ble \
    --fingerprint 6469766520323032... -o new-dives.cbor

  # Garmin watch mounted as USB mass storage
  halocline download --backend garmin --mount /media/DESCENT -o dives.cbor`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "logbook.cbor", "Output logbook file")
	downloadCmd.Flags().StringVar(&downloadFingerprint, "fingerprint", "", "Hex fingerprint of the newest already-downloaded dive")
	downloadCmd.Flags().BoolVar(&downloadPlain, "plain", false, "Log progress to stderr instead of the interactive view")
}

func runDownload(cmd *cobra.Command, args []string) error {
	fp, err := parseFingerprint(downloadFingerprint)
	if err != nil {
		return err
	}

	var book *logbook.Logbook
	if downloadPlain {
		book, err = downloadPlainRun(fp)
	} else {
		book, err = downloadTUIRun(fp)
	}
	if err != nil {
		return err
	}

	if err := writeLogbook(book, downloadOutput); err != nil {
		return err
	}

	fmt.Printf("Wrote %d dives to %s\n", len(book.Dives), downloadOutput)
	if len(book.Dives) > 0 && len(book.Dives[0].Fingerprint) > 0 {
		fmt.Printf("Newest fingerprint: %x\n", book.Dives[0].Fingerprint)
	}
	return nil
}

// collectDives opens the device, enumerates dives newest-first and
// assembles each one into a normalized record. The opened callback
// fires once the device handshake succeeds; onDive fires after each
// assembled dive. Both may be nil.
func collectDives(fp []byte, sink divecom.EventSink, opened func(divecom.Device, string), onDive func(int)) (*logbook.Logbook, error) {
	var device logbook.DeviceInfo

	wrapped := func(ev divecom.Event) {
		if di, ok := ev.(divecom.DevinfoEvent); ok {
			device.Model = di.Model
			device.Firmware = di.Firmware
			device.Serial = di.Serial
		}
		if sink != nil {
			sink(ev)
		}
	}

	dev, backend, info, err := openDevice(wrapped)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	if backend.NewParser == nil {
		return nil, fmt.Errorf("backend %s delivers raw memory only; use 'halocline dump'", backend.Name)
	}

	if opened != nil {
		opened(dev, info)
	}

	if len(fp) > 0 {
		if err := dev.SetFingerprint(fp); err != nil {
			return nil, err
		}
	}

	var (
		dives   []*logbook.DiveRecord
		diveErr error
	)
	err = dev.Foreach(func(dive, fingerprint []byte) bool {
		parser := backend.NewParser()
		r, err := logbook.Assemble(parser, dive, fingerprint)
		if err != nil {
			diveErr = err
			return false
		}
		dives = append(dives, r)
		if onDive != nil {
			onDive(len(dives))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if diveErr != nil {
		return nil, diveErr
	}

	device.Backend = backend.Name
	book := logbook.New(device)
	for _, r := range dives {
		book.Add(r)
	}
	return book, nil
}

func writeLogbook(book *logbook.Logbook, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := book.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// downloadPlainRun downloads without the interactive view, logging
// device events to stderr.
func downloadPlainRun(fp []byte) (*logbook.Logbook, error) {
	lastPercent := -1
	sink := func(ev divecom.Event) {
		switch ev := ev.(type) {
		case divecom.ProgressEvent:
			if ev.Maximum == 0 {
				return
			}
			// Progress events arrive per transfer chunk; only every
			// tenth percent is worth a log line.
			percent := int(ev.Current * 100 / ev.Maximum)
			if percent/10 != lastPercent/10 {
				lastPercent = percent
				log.Printf("Progress: %d%%", percent)
			}
		case divecom.DevinfoEvent:
			log.Printf("Device: model=%d firmware=%d serial=%d", ev.Model, ev.Firmware, ev.Serial)
		case divecom.ClockEvent:
			log.Printf("Device clock: %d (host %s)", ev.DevTime, ev.SysTime.Format(time.RFC3339))
		}
	}

	opened := func(_ divecom.Device, info string) {
		log.Printf("Connected: %s", info)
	}
	onDive := func(n int) {
		log.Printf("Dive %d downloaded", n)
	}

	return collectDives(fp, sink, opened, onDive)
}

// downloadTUIRun downloads behind the interactive progress view. All
// results travel through the final model, so the worker goroutine and
// the caller never share state directly.
func downloadTUIRun(fp []byte) (*logbook.Logbook, error) {
	hold := &deviceHolder{}
	p := tea.NewProgram(newDownloadModel(hold), tea.WithOutput(os.Stderr))

	go func() {
		sink := func(ev divecom.Event) {
			p.Send(deviceEventMsg{ev})
		}
		opened := func(d divecom.Device, info string) {
			hold.set(d)
			p.Send(connectedMsg{info: info})
		}
		onDive := func(n int) {
			p.Send(diveMsg{count: n})
		}
		book, err := collectDives(fp, sink, opened, onDive)
		p.Send(doneMsg{book: book, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}

	m := final.(downloadModel)
	if m.err != nil {
		if errors.Is(m.err, divecom.ErrCancelled) {
			return nil, fmt.Errorf("download cancelled")
		}
		return nil, m.err
	}
	if m.book == nil {
		return nil, fmt.Errorf("download cancelled")
	}
	return m.book, nil
}
