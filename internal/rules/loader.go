package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fink5984/telefeed/internal/domain"
)

// File is the on-disk layout of a rule file.
type File struct {
	Defaults *RawDefaults `yaml:"defaults"`
	Routes   []RawRule    `yaml:"routes"`
}

// Stat returns the current marker of the rule file at path. A missing file
// yields the zero marker and no error.
func Stat(path string) (Marker, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Marker{}, nil
	}
	if err != nil {
		return Marker{}, fmt.Errorf("stat rule file: %w", err)
	}
	return Marker{ModTime: info.ModTime().UnixNano(), Size: info.Size()}, nil
}

// Load reads and normalizes the rule file at path. The marker is taken before
// the read, so an edit racing the read leaves the snapshot labeled with an
// older marker and the next check picks the edit up. A missing file yields an
// empty snapshot; a malformed one fails with a config error.
func Load(path string, base Defaults) (*Snapshot, error) {
	marker, err := Stat(path)
	if err != nil {
		return nil, domain.WrapConfig(err, "load %s", path)
	}
	if marker.IsZero() {
		return Empty(Marker{}), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(Marker{}), nil
	}
	if err != nil {
		return nil, domain.WrapConfig(err, "read %s", path)
	}

	snap, err := Parse(data, base)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	snap.Marker = marker
	return snap, nil
}

// Parse normalizes rule file content. The returned snapshot has a zero marker.
func Parse(data []byte, base Defaults) (*Snapshot, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.WrapConfig(err, "parse rule file")
	}

	defaults, err := f.Defaults.Apply(base)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Rules: make([]*Rule, 0, len(f.Routes))}
	for i, raw := range f.Routes {
		rule, warnings, err := Normalize(i, raw, defaults)
		if err != nil {
			return nil, err
		}
		snap.Rules = append(snap.Rules, rule)
		snap.Warnings = append(snap.Warnings, warnings...)
	}
	return snap, nil
}
