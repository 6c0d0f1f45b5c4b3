package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fink5984/telefeed/internal/domain"
)

// RawDefaults is the optional `defaults:` block of a rule file.
type RawDefaults struct {
	Mode      *string `yaml:"mode"`
	Prefix    *string `yaml:"prefix"`
	TextOnly  *bool   `yaml:"text_only"`
	MediaOnly *bool   `yaml:"media_only"`
}

// RawFilters is the `filters:` block of a route entry.
type RawFilters struct {
	Keywords  []string `yaml:"keywords"`
	MinLength *int     `yaml:"min_length"`
	OnlyMedia *bool    `yaml:"only_media"`
	OnlyText  *bool    `yaml:"only_text"`
}

// RawRule is one entry of the `routes:` sequence as written in the file.
// Channel ids may be integers or numeric strings.
type RawRule struct {
	Source    any         `yaml:"source"`
	Sources   []any       `yaml:"sources"`
	Dest      any         `yaml:"dest"`
	Dests     []any       `yaml:"dests"`
	Mode      *string     `yaml:"mode"`
	Prefix    *string     `yaml:"prefix"`
	TextOnly  *bool       `yaml:"text_only"`
	MediaOnly *bool       `yaml:"media_only"`
	Filters   *RawFilters `yaml:"filters"`
}

// Apply overlays the block on base.
func (r *RawDefaults) Apply(base Defaults) (Defaults, error) {
	if r == nil {
		return base, nil
	}
	d := base
	if r.Mode != nil {
		m, err := ParseMode(*r.Mode)
		if err != nil {
			return Defaults{}, domain.WrapConfig(err, "defaults")
		}
		d.Mode = m
	}
	if r.Prefix != nil {
		d.Prefix = *r.Prefix
	}
	if r.TextOnly != nil {
		d.TextOnly = *r.TextOnly
	}
	if r.MediaOnly != nil {
		d.MediaOnly = *r.MediaOnly
	}
	return d, nil
}

// Normalize converts a raw entry into a self-contained Rule, inheriting from d
// only the fields the entry leaves out. Unparsable ids and unknown modes fail
// with a config error; rules that can never match load with warnings.
func Normalize(index int, raw RawRule, d Defaults) (*Rule, []ValidationWarning, error) {
	var warnings []ValidationWarning
	warn := func(format string, args ...any) {
		warnings = append(warnings, ValidationWarning{RuleIndex: index, Message: fmt.Sprintf(format, args...)})
	}
	fail := func(err error, field string) error {
		return domain.WrapConfig(err, "route %d: %s", index, field).With("rule", index)
	}

	sources := raw.Sources
	if raw.Source != nil {
		sources = append([]any{raw.Source}, sources...)
	}
	srcIDs, err := parseIDs(sources)
	if err != nil {
		return nil, nil, fail(err, "sources")
	}
	dests := raw.Dests
	if raw.Dest != nil {
		dests = append([]any{raw.Dest}, dests...)
	}
	destIDs, err := parseIDs(dests)
	if err != nil {
		return nil, nil, fail(err, "dests")
	}

	rule := &Rule{
		Index:        index,
		Sources:      make(map[int64]struct{}, len(srcIDs)),
		Destinations: destIDs,
		Mode:         d.Mode,
		Prefix:       d.Prefix,
	}
	for _, id := range srcIDs {
		rule.Sources[id] = struct{}{}
	}

	if raw.Mode != nil {
		m, err := ParseMode(*raw.Mode)
		if err != nil {
			return nil, nil, fail(err, "mode")
		}
		rule.Mode = m
	}
	if rule.Mode == "" {
		return nil, nil, fail(fmt.Errorf("no mode set and no default mode"), "mode")
	}
	if raw.Prefix != nil {
		rule.Prefix = *raw.Prefix
	}

	rule.Filters.OnlyText = pickBool(d.TextOnly, raw.TextOnly)
	rule.Filters.OnlyMedia = pickBool(d.MediaOnly, raw.MediaOnly)
	if f := raw.Filters; f != nil {
		rule.Filters.OnlyText = pickBool(rule.Filters.OnlyText, f.OnlyText)
		rule.Filters.OnlyMedia = pickBool(rule.Filters.OnlyMedia, f.OnlyMedia)
		for _, kw := range f.Keywords {
			if kw != "" {
				rule.Filters.Keywords = append(rule.Filters.Keywords, kw)
			}
		}
		if f.MinLength != nil {
			if *f.MinLength < 0 {
				return nil, nil, fail(fmt.Errorf("negative value %d", *f.MinLength), "filters.min_length")
			}
			rule.Filters.MinLength = *f.MinLength
		}
	}

	if len(rule.Sources) == 0 {
		warn("no sources, rule matches nothing")
	}
	if len(rule.Destinations) == 0 {
		warn("no destinations, matches deliver nothing")
	}
	if rule.Filters.OnlyText && rule.Filters.OnlyMedia {
		warn("only_text and only_media are both set, rule can never match")
	}
	if rule.Mode != ModePrefix && raw.Prefix != nil && *raw.Prefix != "" {
		warn("prefix is ignored in %s mode", rule.Mode)
	}
	return rule, warnings, nil
}

func pickBool(inherited bool, override *bool) bool {
	if override != nil {
		return *override
	}
	return inherited
}

func parseIDs(values []any) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := ParseChannelID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseChannelID accepts the id representations a YAML decoder can produce:
// integers, integral floats and numeric strings.
func ParseChannelID(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("channel id %d out of range", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, fmt.Errorf("channel id %v is not an integer", n)
		}
		return int64(n), nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("channel id %q is not numeric", n)
		}
		return id, nil
	case nil:
		return 0, fmt.Errorf("empty channel id")
	}
	return 0, fmt.Errorf("unsupported channel id %v (%T)", v, v)
}
