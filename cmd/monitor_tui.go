// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tuyastat/internal/driver"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connInfo string

	// Link state reported by the driver
	state          tuya.State
	productID      string
	version        string
	initializedAt  time.Time
	configRequests int
	dataPoints     map[uint8]tuya.DataPoint
	dpUpdated      map[uint8]time.Time

	// Statistics are owned by the engine observer; the model keeps a copy
	stats    *lockedStats
	snapshot tuya.Statistics

	// Widgets
	dpTable table.Model
	spinner spinner.Model

	eventLog      []errorLogEntry
	maxLogEntries int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connInfo string, stats *lockedStats) monitorModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 4},
			{Title: "Type", Width: 7},
			{Title: "Value", Width: 32},
			{Title: "Updated", Width: 12},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		connInfo:      connInfo,
		state:         tuya.StateInitHeartbeat,
		dataPoints:    make(map[uint8]tuya.DataPoint),
		dpUpdated:     make(map[uint8]time.Time),
		stats:         stats,
		snapshot:      stats.Snapshot(),
		dpTable:       t,
		spinner:       sp,
		eventLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), m.spinner.Tick)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.snapshot = m.stats.Snapshot()
			m.addLogEntry("Statistics reset", false)
			return m, nil
		}
		var cmd tea.Cmd
		m.dpTable, cmd = m.dpTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dpTable.SetWidth(min(m.width-6, 64))

	case monitorTickMsg:
		m.snapshot = m.stats.Snapshot()
		return m, monitorTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case monitorBatchMsg:
		for _, inner := range msg {
			m.apply(inner)
		}
		m.refreshTable()

	default:
		m.apply(msg)
		m.refreshTable()
	}

	return m, nil
}

// apply folds a single link message into the model
func (m *monitorModel) apply(msg tea.Msg) {
	switch msg := msg.(type) {
	case driver.Event:
		m.handleEvent(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.state = tuya.StateInitHeartbeat
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}
}

func (m *monitorModel) handleEvent(ev driver.Event) {
	switch ev.Kind {
	case driver.EventStateChanged:
		prev := m.state
		m.state = ev.State
		switch {
		case ev.State == tuya.StateInitialized:
			m.productID = ev.ProductID
			m.version = ev.Version
			m.initializedAt = ev.Time
			m.addLogEntry(fmt.Sprintf("Device initialized: ID=%s, ver=%s", ev.ProductID, ev.Version), false)
		case prev == tuya.StateInitialized:
			m.addLogEntry(fmt.Sprintf("Link dropped to %s", ev.State), true)
		default:
			m.addLogEntry(fmt.Sprintf("State: %s", ev.State), false)
		}

	case driver.EventConfigRequest:
		m.configRequests++
		m.addLogEntry("Config request from MCU", false)

	case driver.EventDataPoint:
		m.dataPoints[ev.DataPoint.ID] = ev.DataPoint
		m.dpUpdated[ev.DataPoint.ID] = ev.Time
	}
}

// refreshTable rebuilds the data point rows ordered by ID
func (m *monitorModel) refreshTable() {
	ids := make([]int, 0, len(m.dataPoints))
	for id := range m.dataPoints {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		dp := m.dataPoints[uint8(id)]
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", id),
			strings.ToLower(dp.Type.String()),
			tuya.FormatValue(dp),
			m.dpUpdated[uint8(id)].Format("15:04:05.000"),
		})
	}
	m.dpTable.SetRows(rows)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	noticeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder

	s.WriteString(titleStyle.Render("TUYASTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | ↑/↓ data points | 'r' reset stats | 'q' quit", m.connInfo)))
	s.WriteString("\n\n")

	// Link status
	switch {
	case m.connectionLost:
		s.WriteString(errorStyle.Render("✗ Connection lost, reconnecting"))
	case m.state != tuya.StateInitialized:
		s.WriteString(m.spinner.View())
		s.WriteString(noticeStyle.Render(fmt.Sprintf(" Bringing up link (%s)", m.state)))
	default:
		s.WriteString(valueStyle.Render("✓ Initialized"))
		s.WriteString(headerStyle.Render(" for " + formatDuration(time.Since(m.initializedAt))))
	}
	s.WriteString("\n\n")

	// Device and statistics side by side
	var device strings.Builder
	fmt.Fprintf(&device, "%s %s\n", labelStyle.Render("Product:"), valueStyle.Render(orDash(m.productID)))
	fmt.Fprintf(&device, "%s %s\n", labelStyle.Render("MCU Version:"), valueStyle.Render(orDash(m.version)))
	fmt.Fprintf(&device, "%s %s\n", labelStyle.Render("State:"), valueStyle.Render(m.state.String()))
	fmt.Fprintf(&device, "%s %s", labelStyle.Render("Config Requests:"), valueStyle.Render(fmt.Sprintf("%d", m.configRequests)))

	st := m.snapshot
	errCount := st.ErrorCount()
	var stats strings.Builder
	fmt.Fprintf(&stats, "%s %s  %s %s\n",
		labelStyle.Render("Received:"), valueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d", st.SentFrames)))
	errorsText := valueStyle.Render("0")
	if errCount > 0 {
		errorsText = errorStyle.Render(fmt.Sprintf("%d", errCount))
	}
	fmt.Fprintf(&stats, "%s %s %s\n", labelStyle.Render("Errors:"), errorsText,
		headerStyle.Render(fmt.Sprintf("(checksum %d, framing %d, transport %d)",
			st.ChecksumErrors, st.FramingErrors, st.TransportErrors)))
	fmt.Fprintf(&stats, "%s %s  %s %s",
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		labelStyle.Render("Data Points:"), valueStyle.Render(fmt.Sprintf("%d", st.DataPoints)))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(device.String()),
		" ",
		boxStyle.Render(stats.String()),
	))
	s.WriteString("\n")

	// Data points
	s.WriteString(labelStyle.Render("Data Points:"))
	s.WriteString("\n")
	if len(m.dataPoints) == 0 {
		s.WriteString(boxStyle.Render(headerStyle.Render("(none reported yet)")))
	} else {
		s.WriteString(boxStyle.Render(m.dpTable.View()))
	}
	s.WriteString("\n")

	// Event log fills the remaining height
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 24
	if logHeight < 5 {
		logHeight = 5
	}
	start := max(len(m.eventLog)-logHeight, 0)

	var log strings.Builder
	if len(m.eventLog) == 0 {
		log.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[start:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			fmt.Fprintf(&log, "%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&log, "%s %s\n", timestamp, noticeStyle.Render("ℹ "+entry.message))
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(strings.TrimSuffix(log.String(), "\n")))

	return s.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
