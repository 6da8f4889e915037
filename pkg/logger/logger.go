// Package logger renders room messages to the terminal and to a chat log
// file. ChatLogger is a dispatch observer.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/event"
)

// NameLookup resolves a room id to a display name. *directory.Directory
// implements it.
type NameLookup interface {
	RoomName(roomID string) string
}

// Entry is one logged message, and the JSON line format of the log file.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"room_id"`
	RoomName  string    `json:"room_name,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	Sender    string    `json:"sender"`
	MsgType   string    `json:"msgtype,omitempty"`
	Body      string    `json:"body"`
}

type ChatLogger struct {
	dispatch.BaseObserver

	mu           sync.Mutex
	logFile      *os.File
	logPath      string
	logFormat    string
	console      io.Writer
	names        NameLookup
	senderColors map[string]lipgloss.Style
	colorIndex   int
	termWidth    int
}

var colors = []lipgloss.Color{
	lipgloss.Color("63"),  // Blue
	lipgloss.Color("212"), // Pink
	lipgloss.Color("86"),  // Green
	lipgloss.Color("214"), // Orange
	lipgloss.Color("99"),  // Purple
	lipgloss.Color("51"),  // Cyan
	lipgloss.Color("226"), // Yellow
	lipgloss.Color("201"), // Magenta
}

var (
	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	systemBadgeStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("235")).
				Foreground(lipgloss.Color("244")).
				Padding(0, 1).
				MarginRight(1)

	roomStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("236"))
)

// NewChatLogger creates a logger. With an empty logDir nothing is written to
// disk; with a nil console nothing is printed. names may be nil, in which
// case rooms are shown by id.
func NewChatLogger(logDir string, logFormat string, console io.Writer, names NameLookup) (*ChatLogger, error) {
	logger := &ChatLogger{
		logFormat:    logFormat,
		console:      console,
		names:        names,
		senderColors: make(map[string]lipgloss.Style),
		termWidth:    terminalWidth(console),
	}
	if logDir == "" {
		return logger, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("chat_%s.log", timestamp))

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	logger.logFile = logFile
	logger.logPath = logPath

	if logFormat != "json" {
		if err := logger.writeToFile("=== roomsync chat log ===\nStarted: " + time.Now().Format("2006-01-02 15:04:05") + "\n\n"); err != nil {
			logFile.Close()
			return nil, err
		}
	}

	if console != nil {
		fmt.Fprintf(console, "\n📝 Chat logged to: %s\n", logPath)
	}

	return logger, nil
}

func (l *ChatLogger) Name() string { return "chat-logger" }

// Path returns the log file path, or "" when file logging is off.
func (l *ChatLogger) Path() string { return l.logPath }

// OnTimeline logs m.room.message events. Other timeline events are ignored.
func (l *ChatLogger) OnTimeline(_ context.Context, room dispatch.Room, ev event.Timeline) error {
	if ev.Type() != event.TypeMessage {
		return nil
	}

	ts := time.Now()
	if ms := ev.OriginServerTS(); ms > 0 {
		ts = time.UnixMilli(ms)
	}
	entry := Entry{
		Timestamp: ts,
		RoomID:    room.ID,
		RoomName:  l.roomName(room.ID),
		EventID:   ev.EventID(),
		Sender:    ev.Sender(),
		MsgType:   ev.MsgType(),
		Body:      ev.Body(),
	}
	return l.LogEntry(entry)
}

// LogEntry writes entry to the file and the console. Only file errors are
// returned.
func (l *ChatLogger) LogEntry(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writeFileLog(entry); err != nil {
		return err
	}
	l.writeConsoleLog(entry)
	return nil
}

// LogSystem prints a status line that is not a room message.
func (l *ChatLogger) LogSystem(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	if l.logFile != nil && l.logFormat != "json" {
		_ = l.writeToFile(fmt.Sprintf("[%s] * %s\n", timestamp, message))
	}
	if l.console != nil {
		fmt.Fprintf(l.console, "%s%s%s\n",
			timestampStyle.Render(timestamp+" "),
			systemBadgeStyle.Render(" SYSTEM "),
			systemStyle.Render(message))
	}
}

func (l *ChatLogger) roomName(roomID string) string {
	if l.names == nil {
		return ""
	}
	return l.names.RoomName(roomID)
}

func (l *ChatLogger) writeFileLog(entry Entry) error {
	if l.logFile == nil {
		return nil
	}

	if l.logFormat == "json" {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode chat entry: %w", err)
		}
		return l.writeToFile(string(data) + "\n")
	}

	return l.writeToFile(fmt.Sprintf("[%s] %s <%s>: %s\n",
		entry.Timestamp.Format("2006-01-02 15:04:05"), displayRoom(entry), entry.Sender, entry.Body))
}

func (l *ChatLogger) writeConsoleLog(entry Entry) {
	if l.console == nil {
		return
	}

	var output strings.Builder

	output.WriteString(separatorStyle.Render(strings.Repeat("─", min(l.termWidth, 80))))
	output.WriteString("\n")
	output.WriteString(timestampStyle.Render("🕐 " + entry.Timestamp.Format("15:04:05") + " "))
	output.WriteString(roomStyle.Render(displayRoom(entry)))
	output.WriteString(" ")

	contentStyle := l.senderColor(entry.Sender)
	if entry.MsgType == "m.notice" {
		contentStyle = systemStyle
	}
	output.WriteString(l.senderBadgeStyle(entry.Sender).Render(" " + entry.Sender + " "))
	output.WriteString("\n\n")

	for _, line := range strings.Split(l.wrapText(entry.Body, 2), "\n") {
		output.WriteString(contentStyle.Render(line))
		output.WriteString("\n")
	}

	fmt.Fprint(l.console, output.String())
}

func displayRoom(entry Entry) string {
	if entry.RoomName != "" {
		return entry.RoomName
	}
	return entry.RoomID
}

func (l *ChatLogger) senderColor(sender string) lipgloss.Style {
	if style, exists := l.senderColors[sender]; exists {
		return style
	}

	color := colors[l.colorIndex%len(colors)]
	l.colorIndex++

	style := lipgloss.NewStyle().
		Foreground(color).
		Bold(true)
	l.senderColors[sender] = style
	return style
}

func (l *ChatLogger) senderBadgeStyle(sender string) lipgloss.Style {
	return lipgloss.NewStyle().
		Background(l.senderColor(sender).GetForeground()).
		Foreground(lipgloss.Color("0")).
		Bold(true).
		Padding(0, 1).
		MarginRight(1)
}

func (l *ChatLogger) wrapText(text string, indent int) string {
	if l.termWidth <= 0 {
		return text
	}

	maxWidth := l.termWidth - indent - 2
	if maxWidth <= 20 {
		maxWidth = 20
	}

	indentStr := strings.Repeat(" ", indent)
	var wrapped []string

	for _, line := range strings.Split(text, "\n") {
		if len(line) <= maxWidth {
			wrapped = append(wrapped, indentStr+line)
			continue
		}

		current := indentStr
		for _, word := range strings.Fields(line) {
			for len(word) > maxWidth {
				if len(current) > indent {
					wrapped = append(wrapped, current)
				}
				wrapped = append(wrapped, indentStr+word[:maxWidth])
				word = word[maxWidth:]
				current = indentStr
			}
			if len(current)+len(word)+1 > maxWidth+indent && len(current) > indent {
				wrapped = append(wrapped, current)
				current = indentStr
			}
			if len(current) > indent {
				current += " "
			}
			current += word
		}
		if len(current) > indent {
			wrapped = append(wrapped, current)
		}
	}

	return strings.Join(wrapped, "\n")
}

func (l *ChatLogger) writeToFile(content string) error {
	if l.logFile == nil {
		return nil
	}
	if _, err := l.logFile.WriteString(content); err != nil {
		return fmt.Errorf("failed to write chat log: %w", err)
	}
	if err := l.logFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync chat log: %w", err)
	}
	return nil
}

// Close writes the footer and closes the file.
func (l *ChatLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	if l.logFormat != "json" {
		_ = l.writeToFile("\n=== Ended: " + time.Now().Format("2006-01-02 15:04:05") + " ===\n")
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}
