// Package ui is a terminal dashboard over a running bridge: it lists the
// devices, toggles the selected one and shows transfer totals.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/ledBridge/api"
	"github.com/rescp17/ledBridge/internal/util"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/manager"
)

// Bridge is the part of api.Client the dashboard needs.
type Bridge interface {
	Devices(ctx context.Context) ([]manager.Device, error)
	Transfers(ctx context.Context) (api.TransfersResponse, error)
	Connect(ctx context.Context, id string) (manager.Device, error)
	Control(ctx context.Context, id string, cmd led.Command) error
}

var _ Bridge = (*api.Client)(nil)

type KeyMap struct {
	Open    key.Binding
	Close   key.Binding
	Connect key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Open:    key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open")),
	Close:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "close")),
	Connect: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "connect")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type (
	tickMsg     time.Time
	snapshotMsg struct {
		devices   []manager.Device
		transfers api.TransfersResponse
	}
	actionDoneMsg struct{ status string }
	errMsg        struct{ err error }
)

// Model is the dashboard's bubbletea model.
type Model struct {
	bridge   Bridge
	interval time.Duration
	timeout  time.Duration

	table     table.Model
	spinner   spinner.Model
	devices   []manager.Device
	transfers api.TransfersResponse
	loaded    bool
	busy      bool
	status    string
	lastError error
}

func NewModel(bridge Bridge, interval time.Duration) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Address", Width: 18},
			{Title: "Name", Width: 16},
			{Title: "RSSI", Width: 5},
			{Title: "Link", Width: 5},
			{Title: "State", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
		table.WithStyles(NewTableStyles()),
	)
	return Model{
		bridge:   bridge,
		interval: interval,
		timeout:  10 * time.Second,
		table:    t,
		spinner:  NewSpinner(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		devices, err := m.bridge.Devices(ctx)
		if err != nil {
			return errMsg{err}
		}
		transfers, err := m.bridge.Transfers(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{devices: devices, transfers: transfers}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) act(id string, fn func(ctx context.Context) error, done string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return errMsg{fmt.Errorf("%s: %w", id, err)}
		}
		return actionDoneMsg{status: id + " " + done}
	}
}

func (m Model) selected() (manager.Device, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.devices) {
		return manager.Device{}, false
	}
	return m.devices[i], true
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, m.fetch()

	case snapshotMsg:
		m.loaded = true
		m.devices = msg.devices
		m.transfers = msg.transfers
		m.table.SetRows(deviceRows(msg.devices))
		return m, m.tick()

	case actionDoneMsg:
		m.busy = false
		m.status = msg.status
		m.lastError = nil
		return m, m.fetch()

	case errMsg:
		m.busy = false
		m.lastError = msg.err
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, DefaultKeyMap.Quit):
		return m, tea.Quit
	case key.Matches(msg, DefaultKeyMap.Refresh):
		return m, m.fetch()
	}

	d, ok := m.selected()
	if !ok || m.busy {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, DefaultKeyMap.Connect):
		m.busy = true
		return m, m.act(d.ID, func(ctx context.Context) error {
			_, err := m.bridge.Connect(ctx, d.ID)
			return err
		}, "connected")
	case key.Matches(msg, DefaultKeyMap.Open):
		m.busy = true
		return m, m.act(d.ID, func(ctx context.Context) error {
			return m.bridge.Control(ctx, d.ID, led.CommandOpen)
		}, "opened")
	case key.Matches(msg, DefaultKeyMap.Close):
		m.busy = true
		return m, m.act(d.ID, func(ctx context.Context) error {
			return m.bridge.Control(ctx, d.ID, led.CommandClose)
		}, "closed")
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func deviceRows(devices []manager.Device) []table.Row {
	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		link := "-"
		if d.Connected {
			link = "up"
		}
		rows = append(rows, table.Row{d.Address, d.LocalName, strconv.Itoa(int(d.RSSI)), link, d.State})
	}
	return rows
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("ledbridge") + "\n\n")

	if !m.loaded {
		fmt.Fprintf(&b, " %s Contacting bridge...\n", m.spinner.View())
	} else if len(m.devices) == 0 {
		b.WriteString(" No devices yet. Run a scan on the bridge.\n")
	} else {
		b.WriteString(BaseStyle.Render(m.table.View()) + "\n")
	}

	if o := m.transfers.Overall; o != nil {
		fmt.Fprintf(&b, "\n Transfers: %d done, %d active, %d failed, %s moved\n",
			o.CompletedTransfers, o.ActiveTransfers, o.FailedTransfers, util.FormatSize(o.BytesDone))
	}
	if m.busy {
		fmt.Fprintf(&b, " %s Working...\n", m.spinner.View())
	} else if m.status != "" {
		b.WriteString(" " + OnStyle.Render(m.status) + "\n")
	}
	if m.lastError != nil {
		b.WriteString(" " + ErrorStyle.Render(m.lastError.Error()) + "\n")
	}

	help := []string{}
	for _, k := range []key.Binding{DefaultKeyMap.Connect, DefaultKeyMap.Open, DefaultKeyMap.Close, DefaultKeyMap.Refresh, DefaultKeyMap.Quit} {
		help = append(help, k.Help().Key+" "+k.Help().Desc)
	}
	b.WriteString("\n" + HelpStyle.Render(" "+strings.Join(help, " • ")))
	return b.String()
}
