package urlutil

import (
	"net/url"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Docs.Example.COM/Guide/", "https://docs.example.com/Guide"},
		{"https://example.com:443/", "https://example.com/"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/p?b=2&a=1", "https://example.com/p?a=1&b=2"},
		{"https://example.com/p?utm_source=x&id=7&fbclid=y&gclid=z", "https://example.com/p?id=7"},
		{"https://example.com/docs///", "https://example.com/docs"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.com/Docs/?utm_campaign=x&b=2&a=1",
		"http://example.com:80/",
		"https://example.com/a/b/c#frag",
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q then %q", once, twice)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []string{"ftp://example.com/file", "javascript:void(0)", "/relative/only", "mailto:x@example.com"} {
		if _, err := Normalize(in); err == nil {
			t.Fatalf("Normalize(%q) should fail", in)
		}
	}
}

func TestSameHost(t *testing.T) {
	if !SameHost("www.example.com", "example.com") {
		t.Fatal("www prefix should be ignored")
	}
	if SameHost("example.com", "sub.example.com") {
		t.Fatal("subdomain is a different host")
	}
}

func TestResolve(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/guide")
	got, err := Resolve(base, "../api/?utm_source=nav")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "https://example.com/api" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestPathSegments(t *testing.T) {
	if n := PathSegments("https://example.com/a/b/c"); n != 3 {
		t.Fatalf("segments = %d, want 3", n)
	}
	if n := PathSegments("https://example.com/"); n != 0 {
		t.Fatalf("segments = %d, want 0", n)
	}
}
