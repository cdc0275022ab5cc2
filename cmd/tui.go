// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/panelsim/pkg/engine"
	"github.com/Thermoquad/panelsim/pkg/fleet"
	"github.com/Thermoquad/panelsim/pkg/stateblock"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model
type fleetModel struct {
	registry   *fleet.Registry
	serverInfo string
	table      table.Model
	eventLog   []eventLogEntry
	maxLog     int
	width      int
	height     int
	quitting   bool
}

// Messages
type tickMsg time.Time
type fleetEventMsg fleet.Event

var fleetColumns = []table.Column{
	{Title: "Phone", Width: 16},
	{Title: "Name", Width: 14},
	{Title: "Run", Width: 4},
	{Title: "Link", Width: 5},
	{Title: "Rx", Width: 7},
	{Title: "Tx", Width: 7},
	{Title: "Syncs", Width: 6},
	{Title: "Errors", Width: 6},
	{Title: "Relays", Width: 8},
	{Title: "Regen", Width: 5},
}

func newFleetModel(registry *fleet.Registry, cfg *fleet.Config) fleetModel {
	t := table.New(
		table.WithColumns(fleetColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12"))
	t.SetStyles(styles)

	server := cfg.ServerAddress()
	switch cfg.Server.Transport {
	case fleet.TransportWebSocket:
		server = cfg.Server.URL
	case fleet.TransportSerial:
		server = fmt.Sprintf("%s @ %d baud", cfg.Server.SerialPort, cfg.Server.Baud)
	}

	m := fleetModel{
		registry:   registry,
		serverInfo: server,
		table:      t,
		eventLog:   make([]eventLogEntry, 0),
		maxLog:     100,
		width:      80,
		height:     24,
	}
	m.refreshRows()
	return m
}

// forwardEvents feeds registry events into the program until it exits
func forwardEvents(p *tea.Program, registry *fleet.Registry) {
	for ev := range registry.Events() {
		p.Send(fleetEventMsg(ev))
	}
}

func (m fleetModel) Init() tea.Cmd {
	return fleetTickCmd()
}

func fleetTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m fleetModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(5, min(m.registry.Len()+1, m.height/2)))

	case tickMsg:
		m.refreshRows()
		return m, fleetTickCmd()

	case fleetEventMsg:
		ev := fleet.Event(msg)
		isErr := ev.Kind == fleet.EventSignal || ev.Kind == fleet.EventTransportError
		m.addLogEntry(ev.Time, fmt.Sprintf("%s %s", ev.Phone, describeEvent(ev)), isErr)
		m.refreshRows()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func describeEvent(ev fleet.Event) string {
	switch {
	case ev.Err != nil:
		return fmt.Sprintf("%s: %v", ev.Kind, ev.Err)
	case ev.Kind == fleet.EventConnected:
		return fmt.Sprintf("connected (session %s)", ev.Session)
	default:
		return ev.Kind.String()
	}
}

func (m fleetModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "s":
		if d := m.selected(); d != nil {
			if d.Running() {
				d.Stop()
				m.addLogEntry(time.Now(), d.Phone()+" stopped", false)
			} else {
				d.Start()
				m.addLogEntry(time.Now(), d.Phone()+" started", false)
			}
		}

	case "r":
		if d := m.selected(); d != nil {
			d.Randomize()
			m.addLogEntry(time.Now(), d.Phone()+" state randomized", false)
		}

	case "g":
		if d := m.selected(); d != nil {
			d.SetAutoRegen(!d.AutoRegen())
		}

	case "0", "1", "2", "3":
		if d := m.selected(); d != nil {
			index := msg.String()[0] - '0'
			edit := index
			if d.Store().Relays()&(1<<index) == 0 {
				edit |= 0x10
			}
			if err := d.Store().EditRelayBit(edit); err != nil {
				m.addLogEntry(time.Now(), fmt.Sprintf("%s relay %d: %v", d.Phone(), index, err), true)
			}
		}

	default:
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}

	m.refreshRows()
	return m, nil
}

func (m *fleetModel) selected() *fleet.Device {
	devices := m.registry.Devices()
	i := m.table.Cursor()
	if i < 0 || i >= len(devices) {
		return nil
	}
	return devices[i]
}

func (m *fleetModel) refreshRows() {
	devices := m.registry.Devices()
	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		st := d.Stats()
		rows = append(rows, table.Row{
			d.Phone(),
			d.Name(),
			yesNo(d.Running()),
			linkState(d),
			fmt.Sprintf("%d", st.FramesReceived),
			fmt.Sprintf("%d", st.FramesSent),
			fmt.Sprintf("%d", st.Syncs),
			fmt.Sprintf("%d", st.TotalErrors()),
			relayBits(d.Store()),
			yesNo(d.AutoRegen()),
		})
	}
	m.table.SetRows(rows)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func linkState(d *fleet.Device) string {
	switch {
	case !d.Connected():
		return "down"
	case d.Engine().State() == engine.Synced:
		return "sync"
	default:
		return "up"
	}
}

// relayBits renders the relay byte with bit 7 first
func relayBits(s *stateblock.Store) string {
	return fmt.Sprintf("%08b", s.Relays())
}

func (m *fleetModel) addLogEntry(ts time.Time, message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: ts,
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLog {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLog:]
	}
}

func (m fleetModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("PANELSIM - FLEET MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Server: %s | s start/stop  r randomize  g auto-regen  0-3 relays  q quit",
		m.serverInfo)))
	s.WriteString("\n\n")

	// Fleet totals
	totals := m.registry.Totals()
	totals.CalculateRates()
	connected := 0
	for _, d := range m.registry.Devices() {
		if d.Connected() {
			connected++
		}
	}

	errCount := fmt.Sprintf("%d", totals.TotalErrors())
	errRendered := statsValueStyle.Render(errCount)
	if totals.TotalErrors() > 0 {
		errRendered = errorStyle.Render(errCount)
	}

	s.WriteString(boxStyle.Render(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		statsLabelStyle.Render("Connected:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", connected, m.registry.Len())),
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d in / %d out", totals.FramesReceived, totals.FramesSent)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", totals.FrameRate)),
		statsLabelStyle.Render("Errors:"), errRendered,
	)))
	s.WriteString("\n")

	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - m.table.Height() - 12
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					infoStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(max(20, m.width-4)).Render(logContent.String()))

	return s.String()
}
