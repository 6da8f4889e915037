package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/event"
)

type staticNames map[string]string

func (s staticNames) RoomName(id string) string { return s[id] }

func timeline(t *testing.T, roomID, raw string) event.Timeline {
	t.Helper()
	tree, err := gabs.ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return event.NewTimeline(roomID, tree)
}

const helloEvent = `{"type":"m.room.message","event_id":"$1","sender":"@alice:example.org",
	"origin_server_ts":1700000000000,"content":{"msgtype":"m.text","body":"Hello, world!"}}`

var joined = dispatch.Room{ID: "!lobby:example.org", Membership: dispatch.MembershipJoin}

func readLog(t *testing.T, l *ChatLogger) string {
	t.Helper()
	content, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(content)
}

func TestNewChatLoggerWithoutLogDir(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewChatLogger("", "text", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.logFile != nil || logger.Path() != "" {
		t.Error("expected no log file when logDir is empty")
	}
	if logger.termWidth != 80 {
		t.Errorf("expected default width for a non-terminal writer, got %d", logger.termWidth)
	}
}

func TestNewChatLoggerWithLogDir(t *testing.T) {
	tempDir := t.TempDir()
	var buf bytes.Buffer

	logger, err := NewChatLogger(tempDir, "text", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()

	files, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("failed to read temp dir: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "chat_") {
		t.Errorf("expected one chat_*.log file, got %v", files)
	}
	if !strings.Contains(buf.String(), "Chat logged to") {
		t.Error("expected console output to contain log file path")
	}
}

func TestOnTimelineWritesTextLog(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewChatLogger(t.TempDir(), "text", &buf, staticNames{joined.ID: "Lobby"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()

	if err := logger.OnTimeline(context.Background(), joined, timeline(t, joined.ID, helloEvent)); err != nil {
		t.Fatalf("OnTimeline failed: %v", err)
	}

	logContent := readLog(t, logger)
	if !strings.Contains(logContent, "Lobby <@alice:example.org>: Hello, world!") {
		t.Errorf("unexpected log content:\n%s", logContent)
	}

	output := buf.String()
	for _, want := range []string{"Lobby", "@alice:example.org", "Hello, world!"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected console output to contain %q", want)
		}
	}
}

func TestOnTimelineWritesJSONLog(t *testing.T) {
	logger, err := NewChatLogger(t.TempDir(), "json", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()

	if err := logger.OnTimeline(context.Background(), joined, timeline(t, joined.ID, helloEvent)); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(readLog(t, logger)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one JSON line, got %d", len(lines))
	}

	var parsed Entry
	if err := json.Unmarshal([]byte(lines[0]), &parsed); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if parsed.RoomID != joined.ID || parsed.RoomName != "" {
		t.Errorf("unexpected room fields: %+v", parsed)
	}
	if parsed.Sender != "@alice:example.org" || parsed.Body != "Hello, world!" || parsed.EventID != "$1" {
		t.Errorf("unexpected entry: %+v", parsed)
	}
	if !parsed.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("timestamp = %v", parsed.Timestamp)
	}
}

func TestOnTimelineIgnoresNonMessages(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewChatLogger("", "text", &buf, nil)
	if err != nil {
		t.Fatal(err)
	}

	ev := timeline(t, joined.ID, `{"type":"m.reaction","sender":"@bob:example.org","content":{}}`)
	if err := logger.OnTimeline(context.Background(), joined, ev); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestOnTimelineFallsBackToRoomID(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewChatLogger("", "text", &buf, staticNames{})

	if err := logger.OnTimeline(context.Background(), joined, timeline(t, joined.ID, helloEvent)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), joined.ID) {
		t.Error("expected room id when no name is known")
	}
}

func TestWriteErrorIsReturned(t *testing.T) {
	logger, err := NewChatLogger(t.TempDir(), "text", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Close the file underneath the logger.
	logger.logFile.Close()

	if err := logger.OnTimeline(context.Background(), joined, timeline(t, joined.ID, helloEvent)); err == nil {
		t.Error("expected write error to reach the dispatcher")
	}
}

func TestLogSystem(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewChatLogger("", "text", &buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.LogSystem("sync started")

	output := buf.String()
	if !strings.Contains(output, "SYSTEM") || !strings.Contains(output, "sync started") {
		t.Errorf("unexpected output %q", output)
	}
}

func TestSenderColor(t *testing.T) {
	logger := &ChatLogger{senderColors: make(map[string]lipgloss.Style)}

	style1 := logger.senderColor("@a:x")
	style2 := logger.senderColor("@a:x")
	if style1.GetForeground() != style2.GetForeground() {
		t.Error("expected same color for same sender")
	}
	if style3 := logger.senderColor("@b:x"); style1.GetForeground() == style3.GetForeground() {
		t.Error("expected different colors for different senders")
	}
	if logger.colorIndex != 2 {
		t.Errorf("expected colorIndex to be 2, got %d", logger.colorIndex)
	}
	if logger.senderBadgeStyle("@a:x").GetBackground() != style1.GetForeground() {
		t.Error("badge background should match the sender color")
	}
}

func TestColorCycling(t *testing.T) {
	logger := &ChatLogger{senderColors: make(map[string]lipgloss.Style)}

	seen := make(map[string]int)
	for i := 0; i < len(colors)+3; i++ {
		style := logger.senderColor(fmt.Sprintf("@user%d:x", i))
		seen[fmt.Sprint(style.GetForeground())]++
	}
	if len(seen) != len(colors) {
		t.Errorf("expected %d distinct colors, got %d", len(colors), len(seen))
	}
}

func TestWrapText(t *testing.T) {
	logger := &ChatLogger{termWidth: 40}

	tests := []struct {
		name      string
		input     string
		wantLines int
	}{
		{name: "short text", input: "Hello", wantLines: 1},
		{name: "multiline text", input: "Line 1\nLine 2\nLine 3", wantLines: 3},
		{name: "long text", input: "This is a very long line that should be wrapped to fit within the terminal width", wantLines: 3},
		{name: "long word", input: strings.Repeat("x", 80), wantLines: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := strings.Split(logger.wrapText(tt.input, 2), "\n")
			if len(lines) != tt.wantLines {
				t.Errorf("got %d lines, want %d: %q", len(lines), tt.wantLines, lines)
			}
			for _, line := range lines {
				if !strings.HasPrefix(line, "  ") {
					t.Errorf("expected line to be indented: %q", line)
				}
				if len(line) > 40 {
					t.Errorf("line exceeds width: %q", line)
				}
			}
		})
	}
}

func TestWrapTextZeroWidth(t *testing.T) {
	logger := &ChatLogger{termWidth: 0}
	if got := logger.wrapText("This is a test", 2); got != "This is a test" {
		t.Errorf("expected original text when termWidth is 0, got: %q", got)
	}
}

func TestClose(t *testing.T) {
	logger, err := NewChatLogger(t.TempDir(), "text", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := logger.Path()

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "=== Ended") {
		t.Error("expected end marker in log file")
	}
}
