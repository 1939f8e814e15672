// Package dedup removes catalog items whose descriptions are near-duplicates
// of an item already kept. It is a greedy online pass: arrival order decides
// which member of a near-duplicate group survives.
package dedup

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// MinDistance is the edit distance a normalised description must exceed,
// against every kept description, for its item to be kept.
const MinDistance = 10

// Dedup returns items with near-duplicate descriptions removed, preserving
// the order of first occurrence. Cost is quadratic in the kept set, which is
// acceptable for the tens of items the pipeline passes in.
func Dedup(items []catalog.Item) []catalog.Item {
	kept := make([]catalog.Item, 0, len(items))
	keptDesc := make([]string, 0, len(items))

	for _, it := range items {
		desc := Normalize(it.Description)
		if !farFromAll(desc, keptDesc) {
			continue
		}
		kept = append(kept, it)
		keptDesc = append(keptDesc, desc)
	}
	return kept
}

// farFromAll reports whether desc is more than MinDistance edits away from
// every entry in kept. An empty kept set is always far.
func farFromAll(desc string, kept []string) bool {
	for _, k := range kept {
		if levenshtein.ComputeDistance(desc, k) <= MinDistance {
			return false
		}
	}
	return true
}

// Normalize lowercases s and removes all whitespace.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}
