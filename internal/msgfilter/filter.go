// Package msgfilter reduces exception messages to stable templates used for
// bug grouping and display.
package msgfilter

import (
	"regexp"
	"unicode/utf8"

	"faultline/internal/project"
)

// DefaultMaxLength is the length, in characters, templates are truncated to.
const DefaultMaxLength = 1000

// Generic redactions, applied in order. Numbers go last so that digits inside
// addresses, hashes and IPs are consumed by their own placeholders first.
var (
	attributedObjectRegex = regexp.MustCompile(`#<([A-Za-z_]\w*(?:::\w+)*)(?::0x[0-9A-Fa-f]+)?[ ,][^>]*>`)
	plainObjectRegex      = regexp.MustCompile(`#<([A-Za-z_]\w*(?:::\w+)*):0x[0-9A-Fa-f]+>`)
	addressRegex          = regexp.MustCompile(`0x[0-9A-Fa-f]+`)
	sha1Regex             = regexp.MustCompile(`\b[0-9A-Fa-f]{40}\b`)
	ipv4Regex             = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

	// A minus sign counts only when it does not follow a word character
	signedNumberRegex = regexp.MustCompile(`(^|[^\w-])-\d+(?:\.\d+)?\b`)
	numberRegex       = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
)

// Filter turns raw messages into templates.
type Filter struct {
	dict      *Dictionary
	maxLength int
}

// New creates a filter. A nil dictionary means generic redaction only.
func New(dict *Dictionary, maxLength int) *Filter {
	if dict == nil {
		dict = &Dictionary{}
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Filter{dict: dict, maxLength: maxLength}
}

// Apply returns the template for a message of the given exception class:
// the first matching dictionary rule, or else the generically redacted
// message, truncated in both cases.
func (f *Filter) Apply(className, message string) string {
	for _, rule := range f.dict.Rules(className) {
		if out, ok := rule.Apply(message); ok {
			return Truncate(out, f.maxLength)
		}
	}
	return Truncate(Redact(message), f.maxLength)
}

// Template is Apply unless the project disables message filtering, in which
// case the raw message is only truncated.
func (f *Filter) Template(p *project.Project, className, message string) string {
	if p != nil && p.DisableMessageFiltering {
		return Truncate(message, f.maxLength)
	}
	return f.Apply(className, message)
}

// Redact replaces volatile fragments of a message with placeholders.
func Redact(message string) string {
	out := attributedObjectRegex.ReplaceAllString(message, "#<$1 [OBJECT]>")
	out = plainObjectRegex.ReplaceAllString(out, "#<$1:[ADDRESS]>")
	out = addressRegex.ReplaceAllString(out, "[ADDRESS]")
	out = sha1Regex.ReplaceAllString(out, "[SHA1]")
	out = ipv4Regex.ReplaceAllString(out, "[IP]")
	out = signedNumberRegex.ReplaceAllString(out, "$1[NUMBER]")
	out = numberRegex.ReplaceAllString(out, "[NUMBER]")
	return out
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
