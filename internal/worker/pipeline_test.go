package worker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateKeepsShortStrings(t *testing.T) {
	if got := truncate("short error", 1024); got != "short error" {
		t.Fatalf("truncate changed a short string: %q", got)
	}
}

func TestTruncateClipsOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("x", 1023) + strings.Repeat("ü", 5)
	got := truncate(s, 1024)
	if len(got) > 1024 {
		t.Fatalf("truncated length = %d, want <= 1024", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got[len(got)-4:])
	}
}
