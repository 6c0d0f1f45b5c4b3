// Package registry reads the configured accounts from a JSON file or a SQLite
// database. The routing core only ever reads from it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fink5984/telefeed/internal/domain"
)

// Drivers.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Registry lists accounts.
type Registry interface {
	List(ctx context.Context) ([]domain.Account, error)
}

// Entry is the stored form of one account.
type Entry struct {
	APIID         int    `json:"api_id,omitempty"`
	APIHash       string `json:"api_hash,omitempty"`
	Phone         string `json:"phone,omitempty"`
	BotToken      string `json:"bot_token,omitempty"`
	SessionString string `json:"session_string,omitempty"`
	RoutesFile    string `json:"routes_file,omitempty"`
	RuleFilePath  string `json:"rule_file_path,omitempty"` // alias of routes_file
	Enabled       bool   `json:"enabled"`
}

// Options are shared by all backends.
type Options struct {
	// BaseDir resolves relative rule file paths. Empty means the working
	// directory.
	BaseDir string

	// DefaultRoutesDir holds <name>_routes.yaml for entries that name no
	// rule file.
	DefaultRoutesDir string
	Logger           *slog.Logger
}

// Open returns the registry backend for driver.
func Open(driver, path string, opts Options) (Registry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultRoutesDir == "" {
		opts.DefaultRoutesDir = filepath.Dir(path)
	}
	switch strings.ToLower(driver) {
	case "", DriverJSON:
		return NewJSONFile(path, opts), nil
	case DriverSQLite:
		return OpenSQLite(path, opts)
	default:
		return nil, domain.ConfigErrorf("unknown registry driver %q (want json or sqlite)", driver)
	}
}

// toAccount converts a stored entry into an account, resolving its rule file.
func (o Options) toAccount(name string, e Entry) (domain.Account, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Account{}, domain.ConfigErrorf("account with empty name")
	}
	routes := e.RoutesFile
	if routes == "" {
		routes = e.RuleFilePath
	}
	if routes == "" {
		routes = filepath.Join(o.DefaultRoutesDir, name+"_routes.yaml")
	} else if !filepath.IsAbs(routes) && o.BaseDir != "" {
		routes = filepath.Join(o.BaseDir, routes)
	}
	return domain.Account{
		Name:       name,
		Enabled:    e.Enabled,
		RoutesFile: routes,
		Credential: domain.Credential{
			APIID:         e.APIID,
			APIHash:       e.APIHash,
			Phone:         e.Phone,
			BotToken:      e.BotToken,
			SessionString: e.SessionString,
		},
	}, nil
}

func (o Options) toAccounts(entries map[string]Entry) ([]domain.Account, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	accounts := make([]domain.Account, 0, len(names))
	for _, name := range names {
		acc, err := o.toAccount(name, entries[name])
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}
