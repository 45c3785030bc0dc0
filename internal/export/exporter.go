// Package export writes session transcripts as JSON, YAML or Markdown.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(doc *Document, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}

// JSONExporter exports transcripts as pretty-printed JSON.
type JSONExporter struct{}

func (e *JSONExporter) Export(doc *Document, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

func (e *JSONExporter) Extension() string {
	return "json"
}

// YAMLExporter exports transcripts as YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(doc *Document, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(doc)
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}

// MarkdownExporter exports transcripts as a readable Markdown page.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(doc *Document, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", doc.SessionID)
	_, _ = fmt.Fprintf(w, "**Mode:** %s  \n", doc.Mode)
	if doc.Status != "" {
		_, _ = fmt.Fprintf(w, "**Status:** %s  \n", doc.Status)
	}
	if doc.SupersededBy != "" {
		_, _ = fmt.Fprintf(w, "**Superseded by:** %s  \n", doc.SupersededBy)
	}
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(doc.Messages))
	_, _ = fmt.Fprintf(w, "---\n\n")

	for i, msg := range doc.Messages {
		stamp := ""
		if !msg.CreatedAt.IsZero() {
			stamp = fmt.Sprintf(" (%s)", msg.CreatedAt.Format(time.RFC3339))
		}
		_, _ = fmt.Fprintf(w, "**%s:**%s\n\n%s\n\n", msg.Role, stamp, escapeMarkdown(msg.Text))

		if len(msg.Sources) > 0 {
			_, _ = fmt.Fprintf(w, "Sources:\n\n")
			for _, s := range msg.Sources {
				if s.URL != "" {
					_, _ = fmt.Fprintf(w, "- [%s](%s)\n", s.Title, s.URL)
				} else {
					_, _ = fmt.Fprintf(w, "- %s\n", s.Title)
				}
			}
			_, _ = fmt.Fprintln(w)
		}

		if i < len(doc.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}
	return nil
}

func (e *MarkdownExporter) Extension() string {
	return "md"
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		line = strings.ReplaceAll(line, "**", "\\*\\*")
		lines[i] = strings.ReplaceAll(line, "__", "\\_\\_")
	}
	return strings.Join(lines, "\n")
}
