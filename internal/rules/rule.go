// Package rules holds the routing rule model: parsing and normalizing rule
// files into immutable snapshots, and matching inbound messages against them.
package rules

import (
	"fmt"
	"strings"

	"github.com/fink5984/telefeed/internal/domain"
)

// ValidationWarning flags a rule that loads but cannot behave as written.
type ValidationWarning = domain.ValidationWarning

// Mode is the delivery transformation applied by a rule.
type Mode string

const (
	ModeForward Mode = "FORWARD"
	ModeCopy    Mode = "COPY"
	ModePrefix  Mode = "PREFIX"
)

// ParseMode normalizes s to one of the known modes, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case ModeForward, ModeCopy, ModePrefix:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want FORWARD, COPY or PREFIX)", s)
}

// Defaults are inherited by rules for fields they do not set.
type Defaults struct {
	Mode      Mode
	Prefix    string
	TextOnly  bool
	MediaOnly bool
}

// Filters are predicates evaluated after a rule's source matched.
type Filters struct {
	Keywords  []string
	MinLength int // 0 means unset
	OnlyMedia bool
	OnlyText  bool
}

// Rule is a fully normalized routing rule. It carries no reference to the
// defaults it was built from. Rules are shared between goroutines and must
// not be modified after construction.
type Rule struct {
	Index        int // position in the rule file
	Sources      map[int64]struct{}
	Destinations []int64
	Mode         Mode
	Prefix       string
	Filters      Filters
}

// HasSource reports whether chatID is one of the rule's sources.
func (r *Rule) HasSource(chatID int64) bool {
	_, ok := r.Sources[chatID]
	return ok
}

// Marker identifies a version of a rule file. The zero value stands for a
// missing file.
type Marker struct {
	ModTime int64 // unix nanoseconds
	Size    int64
}

// IsZero reports whether m is the marker of a missing file.
func (m Marker) IsZero() bool {
	return m == Marker{}
}

// Snapshot is an immutable, normalized view of one rule file.
type Snapshot struct {
	Rules    []*Rule
	Marker   Marker
	Warnings []ValidationWarning
}

// Empty returns a snapshot with no rules at the given marker.
func Empty(m Marker) *Snapshot {
	return &Snapshot{Marker: m}
}
