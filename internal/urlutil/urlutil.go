// Package urlutil normalizes URLs so the crawler's visited set and the
// pages table key on one canonical form per logical page.
package urlutil

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// tracking params stripped during normalization. utm_* is matched by
// prefix.
var droppedParams = map[string]bool{
	"gclid":  true,
	"fbclid": true,
}

// Normalize canonicalizes raw: scheme and host are lowercased, default
// ports and fragments are removed, trailing slashes are trimmed except
// on the bare root, query keys are sorted and tracking params dropped.
// Normalize is idempotent.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Fragment = ""

	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = normalizeQuery(u.Query())
	return u.String(), nil
}

func normalizeQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if droppedParams[k] || strings.HasPrefix(k, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Host returns the lowercased host (without port) of a URL.
func Host(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return strings.ToLower(u.Hostname()), nil
}

// SameHost reports whether candidate lives on the same host as the
// crawl root. A leading "www." on either side is ignored.
func SameHost(rootHost, candidateHost string) bool {
	return strings.TrimPrefix(rootHost, "www.") == strings.TrimPrefix(candidateHost, "www.")
}

// Resolve resolves a possibly-relative href against base and
// normalizes the result.
func Resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return Normalize(base.ResolveReference(ref).String())
}

// PathSegments counts the non-empty segments of a URL path. Used by
// relevance scoring, where shallow paths score higher.
func PathSegments(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	n := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}
