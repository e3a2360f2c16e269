package tui

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/nginx-hibernator/hibernator/pkg/format"
)

const refreshInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	stateStyles = map[string]lipgloss.Style{
		"up":       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"down":     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		"starting": lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"unknown":  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

type servicesMsg []serviceRow

type fetchErrMsg struct{ err error }

type tickMsg time.Time

type model struct {
	client   *inspectClient
	table    table.Model
	spinner  spinner.Model
	loaded   bool
	fetchErr error
}

func newModel(client *inspectClient, width int) model {
	nameWidth := width - 34
	if nameWidth < 16 {
		nameWidth = 16
	}
	if nameWidth > 48 {
		nameWidth = 48
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Site", Width: nameWidth},
			{Title: "State", Width: 10},
			{Title: "Changed", Width: 18},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Bold(true)
	t.SetStyles(styles)

	s := spinner.New()
	s.Spinner = spinner.Dot

	return model{client: client, table: t, spinner: s}
}

func (m model) fetch() tea.Msg {
	rows, err := m.client.fetchServices()
	if err != nil {
		return fetchErrMsg{err: err}
	}
	return servicesMsg(rows)
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 6)

	case servicesMsg:
		m.loaded = true
		m.fetchErr = nil
		rows := make([]table.Row, 0, len(msg))
		for _, svc := range msg {
			style, ok := stateStyles[svc.State]
			if !ok {
				style = stateStyles["unknown"]
			}
			rows = append(rows, table.Row{
				svc.Name,
				style.Render(svc.State),
				format.TimeAgo(time.Unix(svc.LastChangedUnix, 0)),
			})
		}
		m.table.SetRows(rows)
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case fetchErrMsg:
		m.loaded = true
		m.fetchErr = msg.err
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		return m, m.fetch

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) View() string {
	header := titleStyle.Render("Hibernator sites")

	var body string
	switch {
	case !m.loaded:
		body = m.spinner.View() + " contacting hibernator..."
	case m.fetchErr != nil:
		body = errStyle.Render(m.fetchErr.Error())
	default:
		body = m.table.View()
	}

	help := helpStyle.Render("q quit")
	return header + "\n\n" + body + "\n" + help + "\n"
}

// Run starts the dashboard against the hibernator listening on port. It
// refuses to run when stdout is not a terminal, since the output is an
// interactive alternate-screen view, not something to pipe.
func Run(port uint16) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("--status needs an interactive terminal")
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		width = 80
	}

	program := tea.NewProgram(newModel(newInspectClient(port), width), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
