package registry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/fink5984/telefeed/internal/domain"
)

// JSONFile reads accounts from a JSON object keyed by account name:
//
//	{"main": {"api_id": 1, "api_hash": "...", "bot_token": "...",
//	          "routes_file": "accounts/main_routes.yaml", "enabled": true}}
//
// The file is re-read on every List call so edits are picked up by the next
// registry sync.
type JSONFile struct {
	path string
	opts Options
}

// NewJSONFile creates a JSON registry reading path.
func NewJSONFile(path string, opts Options) *JSONFile {
	return &JSONFile{path: path, opts: opts}
}

// Path returns the registry file path.
func (j *JSONFile) Path() string { return j.path }

// List returns the accounts sorted by name.
func (j *JSONFile) List(ctx context.Context) ([]domain.Account, error) {
	entries, err := j.Entries()
	if err != nil {
		return nil, err
	}
	return j.opts.toAccounts(entries)
}

// Entries returns the raw entries of the file.
func (j *JSONFile) Entries() (map[string]Entry, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return nil, domain.WrapConfig(err, "read account registry %s", j.path)
	}
	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, domain.WrapConfig(err, "parse account registry %s", j.path)
	}
	return entries, nil
}
