// Package tui renders the live push board: one row per device, updated from
// the server's status-event stream.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cisco-netmig/script-push-board/internal/events"
	"github.com/cisco-netmig/script-push-board/internal/job"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusPending = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusAborted = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

type deviceRow struct {
	JobID    string
	BatchID  string
	Device   string
	Status   job.Status
	Detail   string
	Updated  time.Time
	firstSee time.Time
}

// Model is the BubbleTea model for the push board.
type Model struct {
	apiURL string
	apiKey string
	batch  string // optional batch filter

	width  int
	height int

	rows      map[string]*deviceRow // by job ID
	hubEvents chan events.StatusEvent

	jobTable  table.Model
	lastError string
}

// NewBoard creates the board model pointed at a running server.
func NewBoard(apiURL, apiKey, batchID string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Device", Width: 28},
			{Title: "Status", Width: 10},
			{Title: "Detail", Width: 44},
			{Title: "Updated", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(16),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		batch:     batchID,
		rows:      make(map[string]*deviceRow),
		hubEvents: make(chan events.StatusEvent, 100),
		jobTable:  t,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.batch, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetHeight(max(4, m.height-8))

	case eventMsg:
		ev := events.StatusEvent(msg)
		m.applyEvent(ev)
		m.refreshTable()
		return m, receiveNextEvent(m.hubEvents)

	case sseDisconnectedMsg:
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.batch, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
	}

	var cmd tea.Cmd
	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) applyEvent(ev events.StatusEvent) {
	row, ok := m.rows[ev.JobID]
	if !ok {
		row = &deviceRow{
			JobID:    ev.JobID,
			BatchID:  ev.BatchID,
			Device:   ev.Device,
			firstSee: ev.At,
		}
		m.rows[ev.JobID] = row
	}
	row.Status = ev.To
	row.Detail = ev.Detail
	row.Updated = ev.At
}

func (m *Model) refreshTable() {
	rows := make([]*deviceRow, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].BatchID != rows[j].BatchID {
			return rows[i].BatchID < rows[j].BatchID
		}
		return rows[i].firstSee.Before(rows[j].firstSee)
	})

	tableRows := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		tableRows = append(tableRows, table.Row{
			statusGlyph(r.Status),
			r.Device,
			string(r.Status),
			firstLine(r.Detail),
			r.Updated.Local().Format("15:04:05"),
		})
	}
	m.jobTable.SetRows(tableRows)
}

func (m *Model) View() string {
	title := titleStyle.Render("PUSH BOARD")
	if m.batch != "" {
		title += " " + titleStyle.Render("batch "+m.batch)
	}

	body := borderStyle.Render(m.jobTable.View())

	footer := statusPending.Render(fmt.Sprintf("%d devices · q to quit", len(m.rows)))
	if m.lastError != "" {
		footer = statusFailed.Render(m.lastError)
	}

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, body, footer))
}

func statusGlyph(s job.Status) string {
	switch s {
	case job.StatusSucceeded:
		return statusOK.Render("✓")
	case job.StatusFailed:
		return statusFailed.Render("✗")
	case job.StatusRunning:
		return statusRunning.Render("●")
	case job.StatusAborted:
		return statusAborted.Render("⊘")
	default:
		return statusPending.Render("·")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
