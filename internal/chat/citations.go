package chat

import (
	"log/slog"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/m10chat/internal/types"
	"github.com/user/m10chat/pkg/supportapi"
)

// citationsFrom converts server sources into citations with fresh ids.
func citationsFrom(sources []supportapi.Source) []types.Citation {
	if len(sources) == 0 {
		return nil
	}
	out := make([]types.Citation, 0, len(sources))
	for _, s := range sources {
		out = append(out, types.Citation{
			ID:      types.NewCitationID(),
			Title:   strings.TrimSpace(s.Title),
			URL:     absoluteURL(s.URL),
			Excerpt: normalizeExcerpt(s.Excerpt),
		})
	}
	return out
}

// absoluteURL returns raw when it parses as an absolute URI, else "".
func absoluteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ""
	}
	return raw
}

// normalizeExcerpt converts HTML excerpts to Markdown. Plain text passes
// through trimmed.
func normalizeExcerpt(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") || !strings.Contains(s, ">") {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		slog.Debug("excerpt is not convertible html", "error", err)
		return s
	}
	return strings.TrimSpace(md)
}
