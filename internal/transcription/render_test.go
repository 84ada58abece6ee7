package transcription

import (
	"strings"
	"testing"
	"time"
)

func TestRenderHTMLParagraphBreaks(t *testing.T) {
	tr := Transcript{
		StartTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Duration:  (90 * time.Second).Milliseconds(),
		Text:      "hello there\nfriend\n\ngeneral kenobi\n",
	}
	html, err := RenderHTML(tr, "UTC")
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "hello there friend") {
		t.Errorf("expected first paragraph joined, got:\n%s", html)
	}
	if !strings.Contains(html, "general kenobi") {
		t.Errorf("expected second paragraph, got:\n%s", html)
	}
	if !strings.Contains(html, "1m 30s") {
		t.Errorf("expected humanized duration, got:\n%s", html)
	}
}

func TestRenderHTMLFallsBackOnBadTimezone(t *testing.T) {
	tr := Transcript{StartTime: time.Now().UnixMilli(), Text: "hi\n"}
	if _, err := RenderHTML(tr, "Not/A_Zone"); err != nil {
		t.Fatalf("RenderHTML should fall back to UTC instead of erroring: %v", err)
	}
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{3661 * time.Second, "1h 1m 1s"},
	}
	for _, c := range cases {
		if got := humanDuration(c.d); got != c.want {
			t.Errorf("humanDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
