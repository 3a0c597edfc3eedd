// Package classify decides whether completion-provider output is a
// disguised error: providers sometimes return a leaked stack trace or
// runtime exception with a success status.
package classify

import (
	"strings"
	"unicode"
)

// highConfidenceMarkers are substrings that only ever appear in leaked
// runtime errors. Any single match classifies the content as an error.
// Matching is case-sensitive on purpose: these are exact runtime
// spellings, and loosening case would fire on ordinary prose.
var highConfidenceMarkers = []string{
	"TypeError:",
	"ReferenceError:",
	"SyntaxError:",
	"RangeError:",
	"AttributeError:",
	"KeyError:",
	"NullPointerException",
	"UnhandledPromiseRejection",
	"Traceback (most recent call last)",
	"panic: runtime error",
	"java.lang.",
	"CUDA out of memory",
}

// lowConfidenceMarkers appear in genuine errors but also in prose that
// merely talks about errors. They only count when corroborated by a
// second independent signal.
var lowConfidenceMarkers = []string{
	"Error:",
	"Exception",
	"errno",
	"stack trace",
}

// Classifier applies the two-tier heuristic. The zero value is not
// usable; construct with New.
type Classifier struct {
	high []string
	low  []string
}

// New returns a classifier with the stock marker sets.
func New() *Classifier {
	return &Classifier{high: highConfidenceMarkers, low: lowConfidenceMarkers}
}

// IsLikelyError reports whether content looks like a leaked internal
// error rather than a real completion. Empty content is always an
// error.
func (c *Classifier) IsLikelyError(content string) bool {
	if strings.TrimSpace(content) == "" {
		return true
	}

	for _, marker := range c.high {
		if strings.Contains(content, marker) {
			return true
		}
	}

	// Low-confidence markers need a second independent signal so that
	// prose discussing errors does not trip the classifier.
	signals := 0
	for _, marker := range c.low {
		if containsBounded(content, marker) {
			signals++
		}
	}
	if hasTracebackShapedLine(content) {
		signals++
	}
	return signals >= 2
}

// containsBounded reports whether marker occurs in content without a
// letter immediately following it, so "Exception" does not match
// "Exceptional" and "Error:" does not match "Errorless".
func containsBounded(content, marker string) bool {
	for start := 0; ; {
		idx := strings.Index(content[start:], marker)
		if idx < 0 {
			return false
		}
		end := start + idx + len(marker)
		if end >= len(content) || !unicode.IsLetter(rune(content[end])) {
			return true
		}
		start = end
	}
}

// hasTracebackShapedLine detects stack-frame lines: indented "at ..."
// (JS) or `File "..."` (Python).
func hasTracebackShapedLine(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == line || trimmed == "" {
			continue // stack frames are indented
		}
		if strings.HasPrefix(trimmed, "at ") || strings.HasPrefix(trimmed, "File \"") {
			return true
		}
	}
	return false
}
