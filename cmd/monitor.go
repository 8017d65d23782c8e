// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Thermoquad/meridian/pkg/protocol"
	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live status screen for a tracker",
	Long: `Poll the tracker's system info and show it in a terminal UI.

Keys:
  w  request a GPS wakeup
  k  keep the receiver on for 10 more minutes
  c  cancel keep-alive
  q  quit`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Poll interval")
}

const keepAliveStep = 10 // minutes

// Event log entry
type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Device is the subset of the protocol client the monitor drives
type Device interface {
	SystemInfo() (system.Info, error)
	Wakeup() error
	KeepAlive(minutes uint16) error
}

var _ Device = (*protocol.Client)(nil)

type monitorModel struct {
	dev      Device
	connInfo string
	interval time.Duration

	info       *system.Info
	lastUpdate time.Time
	polls      int
	failures   int

	events    []eventEntry
	maxEvents int
	battery   progress.Model

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time

type infoMsg struct {
	info system.Info
	err  error
	at   time.Time
}

type actionMsg struct {
	what string
	err  error
}

func newMonitorModel(dev Device, connInfo string, interval time.Duration) monitorModel {
	return monitorModel{
		dev:       dev,
		connInfo:  connInfo,
		interval:  interval,
		maxEvents: 100,
		battery:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		width:     80,
		height:    24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), tea.EnterAltScreen)
}

func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) poll() tea.Cmd {
	dev := m.dev
	return func() tea.Msg {
		info, err := dev.SystemInfo()
		return infoMsg{info: info, err: err, at: time.Now()}
	}
}

func (m monitorModel) action(what string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{what: what, err: fn()}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "w":
			return m, m.action("wakeup", m.dev.Wakeup)
		case "k":
			minutes := uint16(keepAliveStep)
			if m.info != nil {
				minutes += uint16((int(m.info.KeepAliveRemaining) + 59) / 60)
			}
			return m, m.action(fmt.Sprintf("keep-alive %d min", minutes), func() error {
				return m.dev.KeepAlive(minutes)
			})
		case "c":
			return m, m.action("keep-alive cancel", func() error { return m.dev.KeepAlive(0) })
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		return m, m.poll()

	case infoMsg:
		m.polls++
		if msg.err != nil {
			m.failures++
			m.addEvent(fmt.Sprintf("poll failed: %v", msg.err), true)
		} else {
			m.noteChanges(msg.info)
			info := msg.info
			m.info = &info
			m.lastUpdate = msg.at
		}
		return m, m.tick()

	case actionMsg:
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("%s failed: %v", msg.what, msg.err), true)
		} else {
			m.addEvent(msg.what+" sent", false)
		}
	}

	return m, nil
}

// noteChanges logs the transitions worth seeing between two polls
func (m *monitorModel) noteChanges(next system.Info) {
	if m.info == nil {
		m.addEvent(fmt.Sprintf("connected, GPS %s", next.GPSState), false)
		return
	}
	prev := *m.info
	if prev.GPSState != next.GPSState {
		m.addEvent(fmt.Sprintf("GPS %s → %s", prev.GPSState, next.GPSState), false)
	}
	if prev.LocationValid != next.LocationValid {
		if next.LocationValid {
			m.addEvent(fmt.Sprintf("fix acquired (%d sats)", next.Satellites), false)
		} else {
			m.addEvent("fix lost", true)
		}
	}
	if prev.IsStationary != next.IsStationary {
		if next.IsStationary {
			m.addEvent("device at rest", false)
		} else {
			m.addEvent("motion detected", false)
		}
	}
}

func (m *monitorModel) addEvent(message string, isError bool) {
	m.events = append(m.events, eventEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// formatDuration formats seconds as a short human-friendly string
func formatDuration(seconds uint16) string {
	if seconds == 0 {
		return "off"
	}
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, mins, s)
	case mins > 0:
		return fmt.Sprintf("%dm %02ds", mins, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
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

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("MERIDIAN - TRACKER MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | polls %d, failed %d | w wakeup  k keep-alive  c cancel  q quit",
		m.connInfo, m.polls, m.failures)))
	s.WriteString("\n\n")

	if m.info == nil {
		s.WriteString(warningStyle.Render("⏳ Waiting for the tracker..."))
		s.WriteString("\n\n")
	} else {
		i := m.info
		var box strings.Builder
		state := valueStyle.Render(i.GPSState.String())
		if i.GPSState == system.StateSearching || i.GPSState == system.StateAGNSS {
			state = warningStyle.Render(i.GPSState.String())
		}
		fmt.Fprintf(&box, "%s %s   %s %s\n",
			labelStyle.Render("GPS:"), state,
			labelStyle.Render("Keep-alive:"), valueStyle.Render(formatDuration(i.KeepAliveRemaining)))

		if i.LocationValid {
			fmt.Fprintf(&box, "%s %s\n", labelStyle.Render("Position:"),
				valueStyle.Render(fmt.Sprintf("%.6f, %.6f  %.1f m", i.Latitude, i.Longitude, i.Altitude)))
		} else {
			fmt.Fprintf(&box, "%s %s\n", labelStyle.Render("Position:"), errorStyle.Render("no fix"))
		}
		fmt.Fprintf(&box, "%s %s   %s %s\n",
			labelStyle.Render("Satellites:"), valueStyle.Render(fmt.Sprintf("%d", i.Satellites)),
			labelStyle.Render("HDOP:"), valueStyle.Render(fmt.Sprintf("%.1f", i.HDOP)))
		if i.Speed >= 0 {
			fmt.Fprintf(&box, "%s %s\n", labelStyle.Render("Speed:"),
				valueStyle.Render(fmt.Sprintf("%.1f km/h, %.0f°", i.Speed, i.Course)))
		}
		if ts, ok := i.UnixTime(); ok {
			fmt.Fprintf(&box, "%s %s\n", labelStyle.Render("UTC:"),
				valueStyle.Render(time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05")))
		}
		motion := "moving"
		if i.IsStationary {
			motion = "at rest"
		}
		fmt.Fprintf(&box, "%s %s   %s %s  %s\n",
			labelStyle.Render("Motion:"), valueStyle.Render(motion),
			labelStyle.Render("Env:"), valueStyle.Render(formatFloat(i.Temperature, "%.1f °C")),
			valueStyle.Render(formatFloat(i.Pressure/100, "%.1f hPa")))

		volts := "--"
		if !math.IsNaN(float64(i.BatteryVoltage)) {
			volts = fmt.Sprintf("%.2f V", i.BatteryVoltage)
		}
		fmt.Fprintf(&box, "%s %s %s",
			labelStyle.Render("Battery:"),
			m.battery.ViewAs(float64(i.BatteryPercent)/100),
			valueStyle.Render(volts))

		s.WriteString(boxStyle.Render(box.String()))
		s.WriteString("\n")
		s.WriteString(headerStyle.Render("updated " + m.lastUpdate.Format("15:04:05")))
		s.WriteString("\n\n")
	}

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}
	start := len(m.events) - logHeight
	if start < 0 {
		start = 0
	}

	var log strings.Builder
	if len(m.events) == 0 {
		log.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, e := range m.events[start:] {
			ts := headerStyle.Render(e.timestamp.Format("15:04:05"))
			if e.isError {
				fmt.Fprintf(&log, "%s %s\n", ts, errorStyle.Render("✗ "+e.message))
			} else {
				fmt.Fprintf(&log, "%s %s\n", ts, warningStyle.Render("ℹ "+e.message))
			}
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(log.String()))

	return s.String()
}

func runMonitor(cmd *cobra.Command, args []string) error {
	client, conn, connInfo, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	p := tea.NewProgram(newMonitorModel(client, connInfo, monitorInterval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
