package transcription

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var pageTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Transcript</title></head>
<body>
<p>{{.StartTime}} &middot; {{.Duration}}</p>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}</body>
</html>
`))

type pageData struct {
	StartTime  string
	Duration   string
	Paragraphs []string
}

// RenderHTML produces a standalone HTML page for a finalized transcript:
// a localized start time in tzID, a human-readable duration, and the
// transcript body split into paragraphs on blank lines.
func RenderHTML(t Transcript, tzID string) (string, error) {
	loc, err := time.LoadLocation(tzID)
	if err != nil {
		loc = time.UTC
	}
	start := time.UnixMilli(t.StartTime).In(loc).Format("Jan 2, 2006 3:04 PM MST")

	data := pageData{
		StartTime:  start,
		Duration:   humanDuration(time.Duration(t.Duration) * time.Millisecond),
		Paragraphs: splitParagraphs(t.Text),
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("transcription: render: %w", err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func splitParagraphs(text string) []string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var paragraphs []string
	var current []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, strings.Join(current, " "))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, " "))
	}
	return paragraphs
}
