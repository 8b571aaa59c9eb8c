// Package tracker diffs crawl runs by content hash so regeneration of
// the assembled document only happens when something changed.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"llmstxt/internal/model"
)

// ContentHash hashes the canonical extraction tuple of a page. Hashing
// the tuple instead of raw HTML keeps the diff stable across layout and
// boilerplate churn.
func ContentHash(title, description string, headings []string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte("\n"))
	h.Write([]byte(description))
	h.Write([]byte("\n"))
	h.Write([]byte(strings.Join(headings, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// Classify compares a freshly crawled page hash against the prior run.
func Classify(prior map[string]string, url, hash string) model.PageStatus {
	prev, seen := prior[url]
	switch {
	case !seen:
		return model.PageAdded
	case prev == hash:
		return model.PageUnchanged
	default:
		return model.PageUpdated
	}
}

// Removed returns the prior URLs that did not appear in the current
// crawl, in no particular order.
func Removed(prior map[string]string, current map[string]bool) []string {
	var removed []string
	for url := range prior {
		if !current[url] {
			removed = append(removed, url)
		}
	}
	return removed
}

// Changed reports whether the run altered the site: any page added,
// updated or removed counts.
func Changed(statuses map[model.PageStatus]int) int {
	return statuses[model.PageAdded] + statuses[model.PageUpdated] + statuses[model.PageRemoved]
}
