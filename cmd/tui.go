// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/halocline-dive/halocline/pkg/divecom"
	"github.com/halocline-dive/halocline/pkg/logbook"
)

// Messages from the download goroutine
type connectedMsg struct {
	info string
}
type deviceEventMsg struct {
	ev divecom.Event
}
type diveMsg struct {
	count int
}
type doneMsg struct {
	book *logbook.Logbook
	err  error
}

// Log entry shown in the event pane
type logEntry struct {
	timestamp time.Time
	message   string
}

// TUI model for a running download
type downloadModel struct {
	hold *deviceHolder

	spin spinner.Model
	bar  progress.Model

	connInfo   string
	devinfo    *divecom.DevinfoEvent
	clock      *divecom.ClockEvent
	current    uint
	maximum    uint
	dives      int
	entries    []logEntry
	maxEntries int

	cancelling bool
	done       bool
	book       *logbook.Logbook
	err        error

	width  int
	height int
}

func newDownloadModel(hold *deviceHolder) downloadModel {
	s := spinner.New()
	s.Spinner = spinner.Dot

	b := progress.New(progress.WithDefaultGradient())

	return downloadModel{
		hold:       hold,
		spin:       s,
		bar:        b,
		entries:    make([]logEntry, 0),
		maxEntries: 50,
		width:      80,
		height:     24,
	}
}

func (m downloadModel) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		tea.EnterAltScreen,
	)
}

func (m *downloadModel) addEntry(message string) {
	m.entries = append(m.entries, logEntry{timestamp: time.Now(), message: message})
	if len(m.entries) > m.maxEntries {
		m.entries = m.entries[len(m.entries)-m.maxEntries:]
	}
}

func (m downloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// Cancelling rides on the device's cancellation flag; the
			// worker goroutine delivers doneMsg once the backend backs
			// out. Before the handshake there is no device yet, so
			// just leave.
			if !m.hold.cancel() {
				return m, tea.Quit
			}
			m.cancelling = true
			m.addEntry("Cancelling, waiting for the device to back out")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 8
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case connectedMsg:
		m.connInfo = msg.info
		m.addEntry(fmt.Sprintf("Connected (%s)", msg.info))

	case deviceEventMsg:
		switch ev := msg.ev.(type) {
		case divecom.ProgressEvent:
			m.current = ev.Current
			m.maximum = ev.Maximum
		case divecom.DevinfoEvent:
			m.devinfo = &ev
			m.addEntry(fmt.Sprintf("Device identified: model %d, firmware %d, serial %d",
				ev.Model, ev.Firmware, ev.Serial))
		case divecom.ClockEvent:
			m.clock = &ev
		}

	case diveMsg:
		m.dives = msg.count
		m.addEntry(fmt.Sprintf("Dive %d downloaded", msg.count))

	case doneMsg:
		m.done = true
		m.book = msg.book
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m downloadModel) View() string {
	if m.done {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("HALOCLINE - DOWNLOAD"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Backend: %s | Press 'q' to cancel", backendName)))
	s.WriteString("\n\n")

	// Connection and device identity
	if m.connInfo == "" {
		s.WriteString(warningStyle.Render(m.spin.View() + "Connecting..."))
		s.WriteString("\n\n")
	} else {
		info := strings.Builder{}
		info.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Connection:"), valueStyle.Render(m.connInfo)))
		if m.devinfo != nil {
			info.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
				labelStyle.Render("Model:"), valueStyle.Render(fmt.Sprintf("%d", m.devinfo.Model)),
				labelStyle.Render("Firmware:"), valueStyle.Render(fmt.Sprintf("%d", m.devinfo.Firmware)),
				labelStyle.Render("Serial:"), valueStyle.Render(fmt.Sprintf("%d", m.devinfo.Serial)),
			))
		}
		if m.clock != nil {
			info.WriteString(fmt.Sprintf("%s %s (host %s)\n",
				labelStyle.Render("Device clock:"),
				valueStyle.Render(fmt.Sprintf("%d", m.clock.DevTime)),
				m.clock.SysTime.Format("15:04:05"),
			))
		}
		info.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("Dives:"), valueStyle.Render(fmt.Sprintf("%d", m.dives))))
		s.WriteString(boxStyle.Render(info.String()))
		s.WriteString("\n\n")
	}

	// Progress: a bar once the budget is known, a spinner before that
	if m.maximum > 0 {
		percent := float64(m.current) / float64(m.maximum)
		if percent > 1 {
			percent = 1
		}
		s.WriteString(m.bar.ViewAs(percent))
		s.WriteString(headerStyle.Render(fmt.Sprintf("  %d / %d", m.current, m.maximum)))
	} else {
		s.WriteString(m.spin.View())
		s.WriteString(headerStyle.Render("Waiting for the device..."))
	}
	s.WriteString("\n\n")

	if m.cancelling {
		s.WriteString(warningStyle.Render("Cancelling..."))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Events:"))
	s.WriteString("\n")

	logHeight := m.height - 14
	if logHeight < 3 {
		logHeight = 3
	}
	start := len(m.entries) - logHeight
	if start < 0 {
		start = 0
	}
	logContent := strings.Builder{}
	for i, e := range m.entries[start:] {
		if i > 0 {
			logContent.WriteString("\n")
		}
		logContent.WriteString(headerStyle.Render(e.timestamp.Format("15:04:05")))
		logContent.WriteString(" ")
		logContent.WriteString(e.message)
	}
	if len(m.entries) == 0 {
		logContent.WriteString(headerStyle.Render("(none yet)"))
	}
	s.WriteString(boxStyle.Render(logContent.String()))
	s.WriteString("\n")

	return s.String()
}
