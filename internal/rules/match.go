package rules

import (
	"strings"
	"unicode/utf8"

	"github.com/fink5984/telefeed/internal/domain"
)

// Match returns the rules of snap that msg satisfies, in file order. Every
// matching rule is returned; evaluation does not stop at the first hit.
func Match(msg domain.Message, snap *Snapshot) []*Rule {
	if snap == nil {
		return nil
	}
	var matched []*Rule
	for _, rule := range snap.Rules {
		if !rule.HasSource(msg.ChatID) {
			continue
		}
		if !rule.Filters.Accept(msg) {
			continue
		}
		matched = append(matched, rule)
	}
	return matched
}

// Accept reports whether msg passes every configured predicate.
func (f Filters) Accept(msg domain.Message) bool {
	if f.OnlyMedia && !msg.HasMedia() {
		return false
	}
	if f.OnlyText && msg.HasMedia() {
		return false
	}
	if f.MinLength > 0 && utf8.RuneCountInString(msg.Text) < f.MinLength {
		return false
	}
	if len(f.Keywords) > 0 && !containsAny(msg.Text, f.Keywords) {
		return false
	}
	return true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
