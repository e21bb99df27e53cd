// Package threat provides the stateless attack-signature matcher used by
// the request-security gateway. Request strings (query values, path, body
// leaf values) are tested against category-specific regular-expression
// signature sets; any match is a hard deny before identity resolution, so
// unauthenticated probing cannot fingerprint the authorization layer.
//
// The signature sets are intentionally conservative for healthcare data:
// false positives are accepted as a cost of safety.
package threat

import (
	"regexp"
	"sort"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// Category identifies a class of injection attack detected by the scanner.
// Categories appear in audit records and error details; the matched payload
// value itself is never logged.
type Category string

const (
	// CategorySQLInjection covers SQL keywords, tautologies, and timing
	// primitives embedded in request values.
	CategorySQLInjection Category = "sql_injection"

	// CategoryXSS covers script tags, javascript: URLs, event handler
	// attributes, and DOM access in request values.
	CategoryXSS Category = "xss"

	// CategoryPathTraversal covers dot-dot sequences and well-known
	// sensitive filesystem paths.
	CategoryPathTraversal Category = "path_traversal"

	// CategoryCommandInjection covers shell metacharacters combined with
	// common command names and substitution syntax.
	CategoryCommandInjection Category = "command_injection"
)

// categoryOrder fixes the order in which categories are scanned and
// reported, keeping results deterministic for tests and audit records.
var categoryOrder = []Category{
	CategorySQLInjection,
	CategoryXSS,
	CategoryPathTraversal,
	CategoryCommandInjection,
}

// DefaultSignatures returns the platform's standard signature sets as raw
// regular expressions, keyed by category. Callers may extend the returned
// map before constructing a [Scanner]; each call returns a fresh copy.
func DefaultSignatures() map[Category][]string {
	return map[Category][]string{
		CategorySQLInjection: {
			`(?i)\b(union(\s+all)?\s+select|select\s+[\w*,\s]+\s+from|insert\s+into|delete\s+from|update\s+\w+\s+set|drop\s+(table|database))\b`,
			`(?i)('|")\s*(or|and)\s+('|")?\w*('|")?\s*=\s*`,
			`(?i)\b(or|and)\s+\d+\s*=\s*\d+`,
			`(?i);\s*(select|insert|update|delete|drop|exec)\b`,
			`(?i)\b(sleep|benchmark|pg_sleep|waitfor\s+delay)\s*\(?`,
			`(?i)--[\s\r\n]`,
			`(?i)/\*.*\*/`,
		},
		CategoryXSS: {
			`(?i)<\s*script`,
			`(?i)javascript\s*:`,
			`(?i)\bon(load|error|click|mouseover|focus|blur|submit)\s*=`,
			`(?i)<\s*(iframe|object|embed|svg)\b`,
			`(?i)document\s*\.\s*(cookie|write|location)`,
			`(?i)<\s*img[^>]+src\s*=`,
		},
		CategoryPathTraversal: {
			`\.\./`,
			`\.\.\\`,
			`(?i)%2e%2e(%2f|%5c)`,
			`(?i)/etc/(passwd|shadow|hosts)`,
			`(?i)\\windows\\system32`,
			`(?i)\bfile://`,
		},
		CategoryCommandInjection: {
			`(?i)[;&|]\s*(cat|ls|rm|wget|curl|nc|bash|sh|python|powershell|cmd)\b`,
			"`[^`]+`",
			`\$\([^)]+\)`,
			`(?i)&&\s*\w`,
			`(?i)\|\s*(nc|netcat|telnet)\b`,
		},
	}
}

// Scanner tests request strings against compiled signature sets. It is
// stateless and safe for concurrent use by multiple goroutines; construct
// one at process start and share it.
type Scanner struct {
	signatures map[Category][]*regexp.Regexp
}

// NewScanner compiles the given signature sets into a [Scanner]. Returns
// [sserr.CodeInternalConfiguration] if any expression fails to compile —
// a broken signature set must abort startup, not silently weaken scanning.
func NewScanner(signatures map[Category][]string) (*Scanner, error) {
	compiled := make(map[Category][]*regexp.Regexp, len(signatures))
	for category, patterns := range signatures {
		for _, pattern := range patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
					"threat: invalid %s signature", category)
			}
			compiled[category] = append(compiled[category], re)
		}
	}
	return &Scanner{signatures: compiled}, nil
}

// NewDefaultScanner constructs a Scanner from [DefaultSignatures].
// It panics on compile failure, which can only indicate a programming
// error in the built-in signature set.
func NewDefaultScanner() *Scanner {
	s, err := NewScanner(DefaultSignatures())
	if err != nil {
		panic(err)
	}
	return s
}

// Scan tests every value against every signature set and returns the
// matched categories in a fixed, deterministic order. An empty result
// means no signature matched.
func (s *Scanner) Scan(values []string) []Category {
	matched := make(map[Category]bool, len(categoryOrder))
	for _, v := range values {
		if v == "" {
			continue
		}
		for category, patterns := range s.signatures {
			if matched[category] {
				continue
			}
			for _, re := range patterns {
				if re.MatchString(v) {
					matched[category] = true
					break
				}
			}
		}
	}

	var result []Category
	for _, category := range categoryOrder {
		if matched[category] {
			result = append(result, category)
		}
	}
	// Custom categories outside the fixed order are appended sorted.
	if len(result) < len(matched) {
		var extra []Category
		for category := range matched {
			if !inOrder(category) {
				extra = append(extra, category)
			}
		}
		sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
		result = append(result, extra...)
	}
	return result
}

func inOrder(c Category) bool {
	for _, known := range categoryOrder {
		if c == known {
			return true
		}
	}
	return false
}
