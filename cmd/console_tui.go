// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusModemList = iota
	focusDestInput
	focusTextInput
	focusButton
)

// Transmission types the console can send, cycled with ctrl+t.
var consoleTypes = []acomms.TransmissionType{acomms.TypeData, acomms.TypeTwoWayPing}

// Console event kinds
const (
	eventReceive = iota
	eventAck
	eventRange
	eventStatus
)

var (
	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))

	buttonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 2)

	focusedButtonStyle = buttonStyle.
				Background(lipgloss.Color("10"))
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// modemItem is a heard modem in the list.
type modemItem heardModem

// Implement list.Item interface
func (h modemItem) Title() string { return fmt.Sprintf("Modem %d", h.id) }
func (h modemItem) Description() string {
	return fmt.Sprintf("%d rx, last %s", h.count, h.lastType)
}
func (h modemItem) FilterValue() string { return strconv.Itoa(h.id) }

// consoleEvent is something the driver reported, queued for the TUI.
type consoleEvent struct {
	at    time.Time
	kind  int
	m     *acomms.ModemTransmission
	state string
	stats driver.Statistics
}

// consoleModel is the Bubble Tea model for the console TUI
type consoleModel struct {
	dm       *driverManager
	connInfo string
	vendor   string
	modemID  int

	// Remote modems
	heard     *heardTable
	modemList list.Model

	// Driver status
	state     string
	stats     driver.Statistics
	hasStats  bool
	lastRx    *acomms.ModemTransmission
	lastRxAt  time.Time
	awaiting  map[int]bool // frames sent with an ack requested
	eventLog  []logEntry
	maxLogLen int

	// Sending
	destInput    textinput.Model
	textInput    textinput.Model
	typeIdx      int
	ackRequested bool
	focusedField int

	// UI state
	width      int
	height     int
	quitting   bool
	driverLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type consoleBatchMsg struct {
	events []consoleEvent
}

type driverLostMsg struct {
	err error
}

type driverRestartedMsg struct{}

type sendResultMsg struct {
	m   *acomms.ModemTransmission
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialConsoleModel(dm *driverManager, connInfo, vendor string, modemID int) consoleModel {
	dest := textinput.New()
	dest.Placeholder = "0"
	dest.CharLimit = 5
	dest.Width = 8

	text := textinput.New()
	text.Placeholder = "hello"
	text.CharLimit = 256
	text.Width = 40

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	modemList := list.New([]list.Item{}, delegate, 30, 10)
	modemList.Title = "Heard Modems"
	modemList.SetShowStatusBar(false)
	modemList.SetShowHelp(false)
	modemList.SetFilteringEnabled(false)

	return consoleModel{
		dm:           dm,
		connInfo:     connInfo,
		vendor:       vendor,
		modemID:      modemID,
		heard:        newHeardTable(modemID),
		modemList:    modemList,
		state:        "starting",
		awaiting:     make(map[int]bool),
		maxLogLen:    100,
		destInput:    dest,
		textInput:    text,
		focusedField: focusModemList,
		width:        80,
		height:       24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m consoleModel) Init() tea.Cmd {
	return nil
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.modemList, _ = m.modemList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case consoleBatchMsg:
		for _, e := range msg.events {
			m.processEvent(e)
		}

	case sendResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Send failed: %v", msg.err), true)
			break
		}
		if msg.m.AckRequested {
			for i := range msg.m.Frames {
				m.awaiting[msg.m.FrameStart+i] = true
			}
		}
		m.addLogEntry("Initiated "+msg.m.String(), false)

	case driverLostMsg:
		m.driverLost = true
		m.awaiting = make(map[int]bool)
		m.addLogEntry(fmt.Sprintf("Driver stopped: %v - restarting...", msg.err), true)

	case driverRestartedMsg:
		m.driverLost = false
		m.addLogEntry("Driver restarted", false)
	}

	// Update child components
	var cmd tea.Cmd
	switch m.focusedField {
	case focusDestInput:
		m.destInput, cmd = m.destInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusTextInput:
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusModemList:
		m.modemList, cmd = m.modemList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *consoleModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusModemList || m.focusedField == focusButton {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "ctrl+t":
		m.typeIdx = (m.typeIdx + 1) % len(consoleTypes)
		return m, nil

	case "ctrl+a":
		m.ackRequested = !m.ackRequested
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	// Pass through to focused component
	var cmd tea.Cmd
	switch m.focusedField {
	case focusDestInput:
		m.destInput, cmd = m.destInput.Update(msg)
	case focusTextInput:
		m.textInput, cmd = m.textInput.Update(msg)
	case focusModemList:
		m.modemList, cmd = m.modemList.Update(msg)
	}
	return m, cmd
}

func (m *consoleModel) cycleFocus(delta int) *consoleModel {
	n := focusButton + 1
	m.focusedField = (m.focusedField + delta + n) % n

	// Ping carries no text
	if m.focusedField == focusTextInput && consoleTypes[m.typeIdx] != acomms.TypeData {
		m.focusedField = (m.focusedField + delta + n) % n
	}

	m.destInput.Blur()
	m.textInput.Blur()
	switch m.focusedField {
	case focusDestInput:
		m.destInput.Focus()
	case focusTextInput:
		m.textInput.Focus()
	}
	return m
}

func (m *consoleModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.focusedField == focusModemList {
		if sel, ok := m.modemList.SelectedItem().(modemItem); ok {
			m.destInput.SetValue(strconv.Itoa(sel.id))
			m.addLogEntry(fmt.Sprintf("Destination set to modem %d", sel.id), false)
		}
		return m, nil
	}

	// Don't send while the driver is down
	if m.driverLost {
		m.addLogEntry("Cannot send: driver not running", true)
		return m, nil
	}

	tx, err := m.buildTransmission()
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}
	dm := m.dm
	return m, func() tea.Msg {
		return sendResultMsg{m: tx, err: dm.send(tx)}
	}
}

// buildTransmission reads the send form.
func (m *consoleModel) buildTransmission() (*acomms.ModemTransmission, error) {
	destText := strings.TrimSpace(m.destInput.Value())
	if destText == "" {
		destText = m.destInput.Placeholder
	}
	dest, err := strconv.Atoi(destText)
	if err != nil || dest < acomms.BroadcastID {
		return nil, fmt.Errorf("invalid destination %q", destText)
	}

	tx := &acomms.ModemTransmission{Type: consoleTypes[m.typeIdx], Dest: dest, Rate: consoleRate}
	if tx.Type == acomms.TypeData {
		text := m.textInput.Value()
		if text == "" {
			return nil, fmt.Errorf("nothing to send")
		}
		if err := tx.AppendFrame([]byte(text), m.ackRequested); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func (m *consoleModel) processEvent(e consoleEvent) {
	switch e.kind {
	case eventStatus:
		m.state = e.state
		m.stats = e.stats
		m.hasStats = true

	case eventReceive:
		if m.heard.add(e.m, e.at) {
			m.addLogEntry(fmt.Sprintf("New modem heard: %d", e.m.Src), false)
		}
		m.updateModemList()
		if e.m.Type == acomms.TypeData {
			m.lastRx = e.m
			m.lastRxAt = e.at
		}
		if e.m.Type != acomms.TypeAck && !e.m.Type.IsRanging() {
			m.addLogEntry("Received "+e.m.String(), false)
		}

	case eventAck:
		for _, f := range e.m.AckedFrames {
			delete(m.awaiting, f)
		}
		m.addLogEntry(fmt.Sprintf("ACK from %d for frames %v", e.m.Src, e.m.AckedFrames), false)

	case eventRange:
		m.addLogEntry(fmt.Sprintf("Range reply from %d: %s", e.m.Src, describeRange(e.m.Ranging)), false)
	}
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("ACOMMS CONSOLE"))
	s.WriteString(" ")
	connStatus := fmt.Sprintf("%s #%d | %s", m.vendor, m.modemID, m.connInfo)
	if m.driverLost {
		connStatus = warningStyle.Render("RESTARTING DRIVER...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Tab=switch ^T=type ^A=ack q=quit", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (modems) | right panel (send form)
	leftWidth := 30
	rightWidth := max(m.width-leftWidth-6, 20)

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusModemList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	modemPanel := listStyle.Render(m.modemList.View())
	sendPanel := boxStyle.Width(rightWidth).Render(m.renderSendPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, modemPanel, " ", sendPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")

	if m.lastRx != nil {
		s.WriteString(m.renderLastReceive())
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(renderLog(m.eventLog, max(m.height-24, 5), m.width-4))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m consoleModel) renderSendPanel() string {
	var s strings.Builder

	typ := consoleTypes[m.typeIdx]
	s.WriteString(fmt.Sprintf("%s %s   %s %t\n\n",
		statsLabelStyle.Render("Type:"), statsValueStyle.Render(typ.String()),
		statsLabelStyle.Render("Ack:"), m.ackRequested))

	s.WriteString(statsLabelStyle.Render("Dest: "))
	s.WriteString(m.inputView(m.destInput, focusDestInput))
	s.WriteString("\n")

	if typ == acomms.TypeData {
		s.WriteString(statsLabelStyle.Render("Text: "))
		s.WriteString(m.inputView(m.textInput, focusTextInput))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	btnText := "[ Send ]"
	if m.focusedField == focusButton {
		s.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		s.WriteString(buttonStyle.Render(btnText))
	}

	if len(m.awaiting) > 0 {
		s.WriteString(headerStyle.Render(fmt.Sprintf("  awaiting ack for %d frame(s)", len(m.awaiting))))
	}
	return s.String()
}

// inputView shows a text input, or its value as plain text when not focused.
func (m consoleModel) inputView(in textinput.Model, field int) string {
	if m.focusedField == field {
		return in.View()
	}
	val := in.Value()
	if val == "" {
		val = in.Placeholder
	}
	return fmt.Sprintf("[%s]", val)
}

func (m consoleModel) renderStatisticsBar() string {
	var content string
	if !m.hasStats {
		content = headerStyle.Render("Waiting for driver status...")
	} else {
		st := m.stats
		stateRender := statsValueStyle.Render(m.state)
		if m.driverLost {
			stateRender = errorStyle.Render(m.state)
		}
		content = fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
			statsLabelStyle.Render("State:"), stateRender,
			statsLabelStyle.Render("Lines:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", st.LinesIn, st.LinesOut)),
			statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", st.FramesReceived, st.FramesSent)),
			statsLabelStyle.Render("Acks:"), statsValueStyle.Render(fmt.Sprintf("%d", st.AcksReceived)),
			statsLabelStyle.Render("Errors:"), func() string {
				n := st.FramingErrors + st.CRCErrors + st.ParseErrors + st.Drops
				if n > 0 {
					return errorStyle.Render(fmt.Sprintf("%d", n))
				}
				return statsValueStyle.Render("0")
			}(),
		)
	}
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m consoleModel) renderLastReceive() string {
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("LAST DATA"))
	content.WriteString(headerStyle.Render(fmt.Sprintf("  %s from %d", m.lastRxAt.Format("15:04:05"), m.lastRx.Src)))
	content.WriteString("\n")
	for i, f := range m.lastRx.Frames {
		body := fmt.Sprintf("%x", f)
		if isText(string(f)) {
			body = fmt.Sprintf("%q", f)
		}
		content.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render(fmt.Sprintf("#%d", m.lastRx.FrameStart+i)), statsValueStyle.Render(body)))
	}
	return boxStyle.Width(m.width - 4).Render(strings.TrimRight(content.String(), "\n"))
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *consoleModel) addLogEntry(message string, isError bool) {
	m.eventLog = appendLog(m.eventLog, m.maxLogLen, message, isError)
}

func (m *consoleModel) updateModemList() {
	modems := m.heard.sorted()
	items := make([]list.Item, len(modems))
	for i, h := range modems {
		items[i] = modemItem(h)
	}
	m.modemList.SetItems(items)
}

func (m *consoleModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.modemList.SetSize(28, listHeight)
}
