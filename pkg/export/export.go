// Package export renders archived room messages as JSON, Markdown or HTML.
package export

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/shawkym/roomsync/pkg/archive"
)

// Format represents the export format type.
type Format string

const (
	// FormatJSON exports messages as JSON
	FormatJSON Format = "json"
	// FormatMarkdown exports messages as Markdown
	FormatMarkdown Format = "markdown"
	// FormatHTML exports messages as a standalone HTML page
	FormatHTML Format = "html"
)

// ParseFormat accepts the format names and the "md" shorthand.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

// Options controls an export.
type Options struct {
	Format Format
	// IncludeSummary adds message and sender counts.
	IncludeSummary bool
	// IncludeTimestamps prints each message's server timestamp.
	IncludeTimestamps bool
	Title             string
}

// Exporter writes messages in one format.
type Exporter struct {
	options Options
	now     func() time.Time
}

// NewExporter creates an Exporter with the given options.
func NewExporter(options Options) *Exporter {
	return &Exporter{options: options, now: time.Now}
}

// Export writes messages, oldest first, to w.
func (e *Exporter) Export(messages []archive.Message, w io.Writer) error {
	switch e.options.Format {
	case FormatJSON:
		return e.exportJSON(messages, w)
	case FormatMarkdown:
		return e.exportMarkdown(messages, w)
	case FormatHTML:
		return e.exportHTML(messages, w)
	default:
		return fmt.Errorf("unsupported export format: %s", e.options.Format)
	}
}

// Record is the JSON form of one message.
type Record struct {
	RoomID    string `json:"room_id"`
	EventID   string `json:"event_id,omitempty"`
	Sender    string `json:"sender"`
	MsgType   string `json:"msgtype,omitempty"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (e *Exporter) exportJSON(messages []archive.Message, w io.Writer) error {
	records := make([]Record, 0, len(messages))
	for _, m := range messages {
		r := Record{
			RoomID:  m.RoomID,
			EventID: m.EventID,
			Sender:  m.Sender,
			MsgType: m.MsgType,
			Body:    m.Body,
		}
		if e.options.IncludeTimestamps && !m.Timestamp.IsZero() {
			r.Timestamp = m.Timestamp.UTC().Format(time.RFC3339)
		}
		records = append(records, r)
	}

	output := struct {
		Title      string   `json:"title,omitempty"`
		ExportedAt string   `json:"exported_at"`
		Messages   []Record `json:"messages"`
		Summary    *Summary `json:"summary,omitempty"`
	}{
		Title:      e.options.Title,
		ExportedAt: e.now().Format(time.RFC3339),
		Messages:   records,
	}
	if e.options.IncludeSummary {
		output.Summary = Summarize(messages)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (e *Exporter) exportMarkdown(messages []archive.Message, w io.Writer) error {
	var sb strings.Builder

	if e.options.Title != "" {
		sb.WriteString("# ")
		sb.WriteString(e.options.Title)
		sb.WriteString("\n\n")
	}
	sb.WriteString("*Exported: ")
	sb.WriteString(e.now().Format("2006-01-02 15:04:05"))
	sb.WriteString("*\n\n")

	if e.options.IncludeSummary {
		summary := Summarize(messages)
		sb.WriteString("## Summary\n\n")
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", summary.TotalMessages))
		sb.WriteString(fmt.Sprintf("- **Senders**: %d\n", summary.UniqueSenders))
		if summary.First != "" {
			sb.WriteString(fmt.Sprintf("- **Span**: %s to %s\n", summary.First, summary.Last))
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Messages\n\n")
	for _, m := range messages {
		sb.WriteString("### ")
		sb.WriteString(m.Sender)
		if m.MsgType == "m.notice" {
			sb.WriteString(" [NOTICE]")
		}
		if e.options.IncludeTimestamps && !m.Timestamp.IsZero() {
			sb.WriteString(" - ")
			sb.WriteString(m.Timestamp.Local().Format("2006-01-02 15:04:05"))
		}
		sb.WriteString("\n\n")
		sb.WriteString(m.Body)
		sb.WriteString("\n\n---\n\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (e *Exporter) exportHTML(messages []archive.Message, w io.Writer) error {
	var sb strings.Builder

	title := e.options.Title
	if title == "" {
		title = "roomsync export"
	}

	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("  <meta charset=\"UTF-8\">\n")
	sb.WriteString("  <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("  <title>%s</title>\n", html.EscapeString(title)))
	sb.WriteString("  <style>\n")
	sb.WriteString(stylesheet)
	sb.WriteString("  </style>\n")
	sb.WriteString("</head>\n")
	sb.WriteString("<body>\n")
	sb.WriteString("  <div class=\"container\">\n")
	sb.WriteString("    <header>\n")
	sb.WriteString(fmt.Sprintf("      <h1>%s</h1>\n", html.EscapeString(title)))
	sb.WriteString(fmt.Sprintf("      <p class=\"export-date\">Exported: %s</p>\n", e.now().Format("2006-01-02 15:04:05")))
	sb.WriteString("    </header>\n\n")

	if e.options.IncludeSummary {
		summary := Summarize(messages)
		sb.WriteString("    <div class=\"summary\">\n")
		sb.WriteString(fmt.Sprintf("      <div class=\"stat\"><strong>Messages:</strong> %d</div>\n", summary.TotalMessages))
		sb.WriteString(fmt.Sprintf("      <div class=\"stat\"><strong>Senders:</strong> %d</div>\n", summary.UniqueSenders))
		sb.WriteString("    </div>\n\n")
	}

	sb.WriteString("    <div class=\"messages\">\n")
	for _, m := range messages {
		class := "message"
		if m.MsgType == "m.notice" {
			class += " message-notice"
		}
		sb.WriteString(fmt.Sprintf("      <div class=\"%s\">\n", class))
		sb.WriteString("        <div class=\"message-header\">\n")
		sb.WriteString(fmt.Sprintf("          <span class=\"sender\">%s</span>\n", html.EscapeString(m.Sender)))
		if e.options.IncludeTimestamps && !m.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("          <span class=\"timestamp\">%s</span>\n", m.Timestamp.Local().Format("2006-01-02 15:04:05")))
		}
		sb.WriteString("        </div>\n")
		body := strings.ReplaceAll(html.EscapeString(m.Body), "\n", "<br>")
		sb.WriteString(fmt.Sprintf("        <div class=\"message-body\">%s</div>\n", body))
		sb.WriteString("      </div>\n")
	}
	sb.WriteString("    </div>\n")
	sb.WriteString("  </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// Summary holds counts over an export.
type Summary struct {
	TotalMessages int    `json:"total_messages"`
	UniqueSenders int    `json:"unique_senders"`
	First         string `json:"first,omitempty"`
	Last          string `json:"last,omitempty"`
}

// Summarize counts messages and senders and records the time span.
func Summarize(messages []archive.Message) *Summary {
	summary := &Summary{TotalMessages: len(messages)}
	senders := make(map[string]struct{})
	var first, last time.Time
	for _, m := range messages {
		senders[m.Sender] = struct{}{}
		if m.Timestamp.IsZero() {
			continue
		}
		if first.IsZero() || m.Timestamp.Before(first) {
			first = m.Timestamp
		}
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}
	summary.UniqueSenders = len(senders)
	if !first.IsZero() {
		summary.First = first.UTC().Format(time.RFC3339)
		summary.Last = last.UTC().Format(time.RFC3339)
	}
	return summary
}

const stylesheet = `    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
      line-height: 1.6;
      color: #333;
      margin: 0;
      background-color: #f5f5f5;
    }
    .container {
      max-width: 900px;
      margin: 0 auto;
      padding: 20px;
      background-color: white;
    }
    header {
      border-bottom: 2px solid #e0e0e0;
      margin-bottom: 30px;
    }
    .export-date {
      color: #7f8c8d;
      font-style: italic;
    }
    .summary {
      display: flex;
      gap: 15px;
      margin-bottom: 30px;
    }
    .stat {
      background-color: #ecf0f1;
      padding: 10px;
      border-radius: 4px;
    }
    .message {
      margin-bottom: 20px;
      padding: 12px;
      border-left: 4px solid #0dbd8b;
    }
    .message-notice {
      border-left-color: #95a5a6;
      color: #555;
    }
    .message-header {
      display: flex;
      justify-content: space-between;
      border-bottom: 1px solid #e0e0e0;
      margin-bottom: 8px;
    }
    .sender {
      font-weight: bold;
      color: #2980b9;
    }
    .timestamp {
      color: #95a5a6;
      font-size: 0.9em;
    }
    @media print {
      .message {
        break-inside: avoid;
      }
    }
`
