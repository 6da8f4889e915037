// Package tui is a live terminal view of the sync engine: a table of known
// rooms and a scrolling feed of incoming messages.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shawkym/roomsync/pkg/directory"
)

const maxFeed = 500

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			Background(lipgloss.Color("63")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	roomStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	systemStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("244"))

	messageStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	commandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("63"))

	inactivePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

type panel int

const (
	roomsPanel panel = iota
	feedPanel
)

// RoomSource provides the room table. *directory.Directory implements it.
type RoomSource interface {
	Rooms() []directory.Room
	FindRoomIDs(name string, mode directory.Match) []string
}

// StatusFunc reports the engine state for the status bar.
type StatusFunc func() string

// Options configures Run.
type Options struct {
	Title  string
	Rooms  RoomSource
	Events *Observer
	Status StatusFunc
}

type Model struct {
	title  string
	rooms  RoomSource
	events <-chan FeedEntry
	status StatusFunc

	table        table.Model
	feedView     viewport.Model
	commandInput textinput.Model

	feed        []FeedEntry
	names       map[string]string
	filter      map[string]bool
	filterLabel string
	activePanel panel
	commandMode bool
	showHelp    bool
	width       int
	height      int
	ready       bool
	closed      bool
	statusMsg   string
}

type feedMsg struct{ entry FeedEntry }

type feedClosed struct{}

type tickMsg time.Time

// NewModel builds the model; Run wraps it in a program.
func NewModel(opts Options) Model {
	title := opts.Title
	if title == "" {
		title = "roomsync"
	}

	t := table.New(
		table.WithColumns(tableColumns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	commandInput := textinput.New()
	commandInput.Placeholder = "filter <room> | clear"
	commandInput.CharLimit = 100

	m := Model{
		title:        title,
		rooms:        opts.Rooms,
		status:       opts.Status,
		table:        t,
		commandInput: commandInput,
		names:        make(map[string]string),
	}
	if opts.Events != nil {
		m.events = opts.Events.Events()
	}
	m.refreshRooms()
	return m
}

// Run shows the TUI until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick())
}

func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	ch := m.events
	return func() tea.Msg {
		entry, ok := <-ch
		if !ok {
			return feedClosed{}
		}
		return feedMsg{entry: entry}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.commandMode {
			switch msg.Type {
			case tea.KeyEsc:
				m.commandMode = false
				m.commandInput.SetValue("")
				return m, nil
			case tea.KeyEnter:
				m.executeCommand()
				m.commandMode = false
				m.commandInput.SetValue("")
				return m, nil
			default:
				var cmd tea.Cmd
				m.commandInput, cmd = m.commandInput.Update(msg)
				return m, cmd
			}
		}

		if m.showHelp {
			if msg.Type == tea.KeyEsc || msg.String() == "?" {
				m.showHelp = false
			}
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "?":
			m.showHelp = true
			return m, nil
		case "/":
			m.commandMode = true
			return m, m.commandInput.Focus()
		case "tab":
			if m.activePanel == roomsPanel {
				m.activePanel = feedPanel
				m.table.Blur()
			} else {
				m.activePanel = roomsPanel
				m.table.Focus()
			}
			return m, nil
		case "enter":
			if m.activePanel == roomsPanel {
				if row := m.table.SelectedRow(); len(row) > 1 {
					m.applyFilter(m.roomLabel(row[1]), []string{row[1]})
				}
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		if !m.ready {
			m.ready = true
		}

	case feedMsg:
		m.appendFeed(msg.entry)
		cmds = append(cmds, m.waitForEvent())

	case feedClosed:
		m.closed = true

	case tickMsg:
		m.refreshRooms()
		cmds = append(cmds, tick())
	}

	if m.ready {
		var cmd tea.Cmd
		if m.activePanel == roomsPanel {
			m.table, cmd = m.table.Update(msg)
		} else {
			m.feedView, cmd = m.feedView.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) layout() {
	tableHeight := m.height / 3
	if tableHeight < 4 {
		tableHeight = 4
	}
	feedHeight := m.height - tableHeight - 8
	if feedHeight < 3 {
		feedHeight = 3
	}

	m.table.SetColumns(tableColumns(m.width - 4))
	m.table.SetWidth(m.width - 4)
	m.table.SetHeight(tableHeight)

	if !m.ready {
		m.feedView = viewport.New(m.width-4, feedHeight)
	} else {
		m.feedView.Width = m.width - 4
		m.feedView.Height = feedHeight
	}
	m.feedView.SetContent(m.renderFeed())
	m.feedView.GotoBottom()
}

func tableColumns(width int) []table.Column {
	if width < 40 {
		width = 40
	}
	nameWidth := width / 3
	idWidth := width - nameWidth - 12
	return []table.Column{
		{Title: "Name", Width: nameWidth},
		{Title: "Room ID", Width: idWidth},
		{Title: "Members", Width: 8},
	}
}

func (m *Model) refreshRooms() {
	if m.rooms == nil {
		return
	}
	rooms := m.rooms.Rooms()
	rows := make([]table.Row, 0, len(rooms))
	for _, r := range rooms {
		m.names[r.ID] = r.Name
		rows = append(rows, table.Row{r.Name, r.ID, strconv.Itoa(len(r.Members))})
	}
	m.table.SetRows(rows)
}

func (m *Model) appendFeed(e FeedEntry) {
	if e.Kind == KindRename {
		m.names[e.RoomID] = e.Body
	}
	m.feed = append(m.feed, e)
	if len(m.feed) > maxFeed {
		m.feed = m.feed[len(m.feed)-maxFeed:]
	}
	if m.ready {
		m.feedView.SetContent(m.renderFeed())
		m.feedView.GotoBottom()
	}
}

func (m Model) roomLabel(id string) string {
	if name := m.names[id]; name != "" {
		return name
	}
	return id
}

func (m Model) renderFeed() string {
	var b strings.Builder

	for _, e := range m.feed {
		if m.filter != nil && !m.filter[e.RoomID] {
			continue
		}

		prefix := fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05"), roomStyle.Render(m.roomLabel(e.RoomID)))
		switch e.Kind {
		case KindRename:
			b.WriteString(systemStyle.Render(fmt.Sprintf("%s %s renamed the room to %q", prefix, e.Sender, e.Body)))
		case KindInvite:
			b.WriteString(systemStyle.Render(fmt.Sprintf("%s invitation from %s", prefix, e.Sender)))
		case KindNotice:
			b.WriteString(prefix + " " + senderStyle.Render(e.Sender))
			b.WriteString("\n")
			b.WriteString(messageStyle.Render(systemStyle.Render(e.Body)))
		default:
			b.WriteString(prefix + " " + senderStyle.Render(e.Sender))
			b.WriteString("\n")
			b.WriteString(messageStyle.Render(e.Body))
		}
		b.WriteString("\n\n")
	}

	return b.String()
}

func (m *Model) executeCommand() {
	parts := strings.Fields(strings.TrimSpace(m.commandInput.Value()))
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "filter":
		if len(parts) < 2 {
			m.statusMsg = "Usage: filter <room>"
			return
		}
		query := strings.Join(parts[1:], " ")
		var ids []string
		if m.rooms != nil {
			ids = m.rooms.FindRoomIDs(query, directory.Substring)
		}
		if len(ids) == 0 {
			m.statusMsg = fmt.Sprintf("No room matches '%s'", query)
			return
		}
		m.applyFilter(query, ids)

	case "clear":
		if m.filter == nil {
			m.statusMsg = "No filter active"
			return
		}
		m.filter = nil
		m.filterLabel = ""
		m.statusMsg = "Filter cleared"
		m.feedView.SetContent(m.renderFeed())

	default:
		m.statusMsg = fmt.Sprintf("Unknown command: %s", parts[0])
	}
}

func (m *Model) applyFilter(label string, ids []string) {
	m.filter = make(map[string]bool, len(ids))
	for _, id := range ids {
		m.filter[id] = true
	}
	m.filterLabel = label
	m.statusMsg = fmt.Sprintf("Filtering by room: %s", label)
	m.feedView.SetContent(m.renderFeed())
	m.feedView.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("💬 " + m.title))
	b.WriteString("\n")

	tableStyle, feedStyle := activePanelStyle, inactivePanelStyle
	if m.activePanel == feedPanel {
		tableStyle, feedStyle = inactivePanelStyle, activePanelStyle
	}
	b.WriteString(tableStyle.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(feedStyle.Render(m.feedView.View()))
	b.WriteString("\n")

	status := fmt.Sprintf("Rooms: %d | Messages: %d", len(m.table.Rows()), len(m.feed))
	if m.status != nil {
		status += " | Sync: " + m.status()
	}
	if m.closed {
		status += " | feed closed"
	}
	b.WriteString(statusStyle.Render(status))

	if m.filterLabel != "" {
		b.WriteString("\n")
		b.WriteString(commandStyle.Render("Filter: " + m.filterLabel))
	}
	if m.statusMsg != "" {
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(m.statusMsg))
	}
	if m.commandMode {
		b.WriteString("\n")
		b.WriteString(commandStyle.Render("/") + m.commandInput.View())
	}

	return b.String()
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("📖 " + m.title + " - Keyboard Shortcuts"))
	b.WriteString("\n\n")

	items := []struct {
		key  string
		desc string
	}{
		{"q, Ctrl+C", "Quit"},
		{"?", "Toggle this help screen"},
		{"Tab", "Switch between rooms and feed"},
		{"↑↓", "Move through rooms or scroll the feed"},
		{"Enter", "Show only the selected room"},
		{"/", "Enter command mode"},
		{"filter <room>", "Show rooms whose name contains <room>"},
		{"clear", "Clear active filter"},
	}
	for _, item := range items {
		b.WriteString(commandStyle.Render(fmt.Sprintf("  %-15s", item.key)))
		b.WriteString("  ")
		b.WriteString(item.desc)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statusStyle.Render("Press ? or Esc to close this help screen"))
	return b.String()
}
