// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// frame check TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	tracker       *frameTracker
	eventLog      []logEntry
	maxLogEntries int
	lastFrame     *acomms.ModemTransmission
	lastFrameAt   time.Time
	closed        error
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type frameMsg frameResult
type connClosedMsg struct {
	err error
}

// Shared styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		tracker:       newFrameTracker(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(m.rateInterval()),
		tea.EnterAltScreen,
	)
}

// rateInterval is how often the line and error rates are recomputed.
func (m model) rateInterval() time.Duration {
	if m.statsInterval <= 0 {
		return time.Second
	}
	return time.Duration(m.statsInterval) * time.Second
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.tracker.stats.CalculateRates(time.Time(msg))
		return m, tickCmd(m.rateInterval())

	case connClosedMsg:
		m.closed = msg.err
		m.eventLog = appendLog(m.eventLog, m.maxLogEntries, fmt.Sprintf("Connection closed: %v", msg.err), true)

	case frameMsg:
		r := frameResult(msg)
		wasSynced := m.tracker.synchronized
		if !m.tracker.add(r) {
			return m, nil
		}
		if !wasSynced && m.tracker.synchronized {
			m.eventLog = appendLog(m.eventLog, m.maxLogEntries, fmt.Sprintf("Synchronized after skipping %d lines", m.tracker.skipped), false)
		}
		switch {
		case r.err != nil:
			m.eventLog = appendLog(m.eventLog, m.maxLogEntries, fmt.Sprintf("%s: %v", describeFrameError(r.err), r.err), true)
		default:
			m.lastFrame = r.m
			m.lastFrameAt = r.at
			if m.showAll {
				m.eventLog = appendLog(m.eventLog, m.maxLogEntries, r.m.String(), false)
			}
		}
	}

	return m, nil
}

// appendLog adds an entry and keeps only the last limit entries.
func appendLog(entries []logEntry, limit int, message string, isError bool) []logEntry {
	entries = append(entries, logEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

func renderLog(entries []logEntry, height, width int) string {
	logContent := strings.Builder{}
	startIdx := max(len(entries)-height, 0)

	if len(entries) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range entries[startIdx:] {
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}
	return boxStyle.Width(width).Render(logContent.String())
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("ACOMMS - FRAME CHECK"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.closed != nil:
		s.WriteString(errorStyle.Render("✗ Connection closed"))
	case !m.tracker.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for a valid frame..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.tracker.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d lines)", m.tracker.skipped)))
		}
	}
	s.WriteString("\n\n")

	st := m.tracker.stats
	totalErrors := st.FramingErrors + st.CRCErrors + st.ParseErrors
	checked := st.LinesIn - m.tracker.textLines
	var errorPercent float64
	if checked > 0 {
		errorPercent = float64(totalErrors) * 100.0 / float64(checked)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Lines:"), statsValueStyle.Render(fmt.Sprintf("%d", st.LinesIn)),
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.FramesReceived)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))
	if totalErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", st.FramingErrors)),
			statsLabelStyle.Render("CRC:"), errorStyle.Render(fmt.Sprintf("%d", st.CRCErrors)),
			statsLabelStyle.Render("Payload:"), errorStyle.Render(fmt.Sprintf("%d", st.ParseErrors)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Text:"), statsValueStyle.Render(fmt.Sprintf("%d", m.tracker.textLines)),
		statsLabelStyle.Render("Line Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f lines/s", st.LineRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	if m.lastFrame != nil {
		s.WriteString(statsLabelStyle.Render("Latest Frame:"))
		s.WriteString("\n")
		f := m.lastFrame
		frame := strings.Builder{}
		frame.WriteString(fmt.Sprintf("%s %s   %s %d → %d   %s %d\n",
			statsLabelStyle.Render("Type:"), statsValueStyle.Render(f.Type.String()),
			statsLabelStyle.Render("Route:"), f.Src, f.Dest,
			statsLabelStyle.Render("Rate:"), f.Rate,
		))
		frame.WriteString(fmt.Sprintf("%s %d from #%d   %s %t   %s %s",
			statsLabelStyle.Render("Frames:"), len(f.Frames), f.FrameStart,
			statsLabelStyle.Render("Ack:"), f.AckRequested,
			statsLabelStyle.Render("At:"), m.lastFrameAt.Format("15:04:05.000"),
		))
		s.WriteString(boxStyle.Render(frame.String()))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(renderLog(m.eventLog, max(m.height-17, 5), m.width-4))

	return s.String()
}
