// Package wordlist implements whole-word screening of transcripts
// against a fixed banned-term list.
package wordlist

import (
	"fmt"
	"regexp"
	"strings"
)

// List is an immutable banned-term list with precompiled patterns.
// Matching is case-insensitive and whole-word: a term never matches as a
// substring of a longer word, and characters that are special in regexp
// syntax are taken literally.
type List struct {
	terms    []string
	patterns []*regexp.Regexp
}

// New compiles the given terms. Term order defines match priority.
func New(terms []string) (*List, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("wordlist: no terms")
	}
	l := &List{
		terms:    make([]string, 0, len(terms)),
		patterns: make([]*regexp.Regexp, 0, len(terms)),
	}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("wordlist: empty term")
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("wordlist: term %q: %w", term, err)
		}
		l.terms = append(l.terms, term)
		l.patterns = append(l.patterns, re)
	}
	return l, nil
}

// Match returns the first term (in list order) present in the transcript
// as a whole word, case-insensitively.
func (l *List) Match(transcript string) (string, bool) {
	for i, re := range l.patterns {
		if re.MatchString(transcript) {
			return l.terms[i], true
		}
	}
	return "", false
}

// Terms returns a copy of the configured terms.
func (l *List) Terms() []string {
	out := make([]string, len(l.terms))
	copy(out, l.terms)
	return out
}

// Len reports the number of configured terms.
func (l *List) Len() int {
	return len(l.terms)
}
