package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-tracedb/pkg/condition"
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/tracedb"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	queryView view = iota
	statsView
)

type keyMap struct {
	Tab      key.Binding
	Enter    key.Binding
	NextPage key.Binding
	PrevPage key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch view"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "run query"),
	),
	NextPage: key.NewBinding(
		key.WithKeys("pgdown", "ctrl+n"),
		key.WithHelp("pgdn/ctrl+n", "later events"),
	),
	PrevPage: key.NewBinding(
		key.WithKeys("pgup", "ctrl+p"),
		key.WithHelp("pgup/ctrl+p", "earlier events"),
	),
	Quit: key.NewBinding(
		key.WithKeys("esc", "ctrl+c"),
		key.WithHelp("esc", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Enter, k.NextPage, k.PrevPage, k.Tab, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Enter, k.NextPage, k.PrevPage}, {k.Tab, k.Quit}}
}

type model struct {
	db          *tracedb.DB
	currentView view
	input       textinput.Model
	results     table.Model
	pager       *pager
	query       string
	scanned     func() uint64
	closeQuery  func()
	help        help.Model
	message     string
	stats       tracedb.Stats
	pageSize    int
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func initialModel(db *tracedb.DB, pageSize int) model {
	ti := textinput.New()
	ti.Placeholder = "and(thread=1, kind=field-write) @1000"
	ti.CharLimit = 400
	ti.Width = 70
	ti.Focus()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Timestamp", Width: 12},
			{Title: "Thread", Width: 7},
			{Title: "Depth", Width: 6},
			{Title: "Kind", Width: 14},
			{Title: "Event", Width: 60},
		}),
		table.WithHeight(pageSize),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	t.SetStyles(s)

	return model{
		db:       db,
		input:    ti,
		results:  t,
		help:     help.New(),
		stats:    db.Stats(),
		pageSize: pageSize,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.stats = m.db.Stats()
		return m, tickCmd()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.closeQuery != nil {
				m.closeQuery()
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Tab):
			m.currentView = (m.currentView + 1) % 2
			return m, nil
		case m.currentView != queryView:
			return m, nil
		case key.Matches(msg, keys.Enter):
			m.run()
			return m, nil
		case key.Matches(msg, keys.NextPage):
			if m.pager != nil && !m.pager.forward() {
				m.message = "no later events"
			} else {
				m.message = ""
			}
			m.refreshRows()
			return m, nil
		case key.Matches(msg, keys.PrevPage):
			if m.pager != nil && !m.pager.backward() {
				m.message = "no earlier events"
			} else {
				m.message = ""
			}
			m.refreshRows()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// run evaluates the condition typed in the input box.
func (m *model) run() {
	text, seek, err := splitInput(m.input.Value())
	if err == nil && text == "" {
		err = fmt.Errorf("type a condition, e.g. thread=1")
	}
	var c condition.Condition
	if err == nil {
		c, err = condition.Parse(text)
	}
	var res *condition.Results
	if err == nil {
		res, err = m.db.Evaluate(c, seek)
	}
	if err != nil {
		m.message = err.Error()
		return
	}
	if m.closeQuery != nil {
		m.closeQuery()
	}
	m.query = c.String()
	m.pager = newPager(res, m.pageSize)
	m.scanned = res.Scanned
	m.closeQuery = res.Close
	m.message = ""
	m.refreshRows()
}

func (m *model) refreshRows() {
	if m.pager == nil {
		return
	}
	rows := make([]table.Row, 0, len(m.pager.page))
	for _, rec := range m.pager.page {
		rows = append(rows, table.Row{
			strconv.FormatUint(rec.Timestamp, 10),
			strconv.Itoa(int(rec.Thread)),
			strconv.Itoa(int(rec.Depth)),
			rec.Kind().String(),
			rec.String(),
		})
	}
	m.results.SetRows(rows)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tracedb"))
	b.WriteString("\n\n  ")
	for i, name := range []string{"Query", "Stats"} {
		if view(i) == m.currentView {
			b.WriteString(activeTabStyle.Render(name))
		} else {
			b.WriteString(inactiveTabStyle.Render(name))
		}
	}
	b.WriteString("\n")

	switch m.currentView {
	case queryView:
		b.WriteString(contentStyle.Render(m.queryContent()))
	case statsView:
		b.WriteString(contentStyle.Render(m.statsContent()))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(keys)))
	return b.String()
}

func (m model) queryContent() string {
	var b strings.Builder
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.pager != nil {
		b.WriteString(m.results.View())
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(fmt.Sprintf("%s  |  %s  |  %d index tuples read", m.query, m.pager.status(), m.scanned())))
	}
	if m.message != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.message))
	}
	return b.String()
}

func (m model) statsContent() string {
	st := m.stats
	lines := []string{
		fmt.Sprintf("Events:          %d", st.Events),
		fmt.Sprintf("Last timestamp:  %d", st.LastTimestamp),
		fmt.Sprintf("Pages:           %d x %d bytes", st.Pages, st.PageSize),
		fmt.Sprintf("Avg event size:  %.1f bits", st.AvgEventBits),
		fmt.Sprintf("Indexes:         %d (%d tuples)", st.Indexes, st.Tuples),
		fmt.Sprintf("Probes:          %d", st.Probes),
		fmt.Sprintf("Read-only:       %v", m.db.ReadOnly()),
	}
	for _, d := range st.Dimensions {
		lines = append(lines, fmt.Sprintf("  %-14s %6d indexes %10d tuples", d.Dimension, d.Indexes, d.Tuples))
	}
	return statsBoxStyle.Render(strings.Join(lines, "\n"))
}

func main() {
	dataDir := flag.String("data", "./data", "Data directory")
	pageSize := flag.Int("rows", 15, "Rows per page")
	flag.Parse()

	// Logs would corrupt the terminal; keep only errors, in a file.
	logFile, err := os.OpenFile("tracedb-tui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := logging.NewJSONLogger(logFile, logging.ErrorLevel)

	db, err := tracedb.OpenReadOnly(*dataDir, tracedb.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	p := tea.NewProgram(initialModel(db, *pageSize), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
