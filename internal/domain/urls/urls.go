// Package urls turns raw user input into the list of target URLs of a batch.
package urls

import (
	"errors"
	"strings"
)

// Sentinel kinds for URL list parsing.
var (
	ErrEmpty   = errors.New("no urls provided")
	ErrTooMany = errors.New("too many urls")
)

var bracketTrim = strings.NewReplacer("[", "", "]", "")

// Sanitize strips bracket characters and surrounding whitespace from a
// copy-pasted URL. It is not a URL validator. Sanitize is idempotent.
func Sanitize(raw string) string {
	return strings.TrimSpace(bracketTrim.Replace(strings.TrimSpace(raw)))
}

// Split splits a comma-separated list, trims each token and drops empty ones.
func Split(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseList splits raw and enforces 1..limit entries.
func ParseList(raw string, limit int) ([]string, error) {
	list := Split(raw)
	if len(list) == 0 {
		return nil, ErrEmpty
	}
	if limit > 0 && len(list) > limit {
		return nil, ErrTooMany
	}
	return list, nil
}
