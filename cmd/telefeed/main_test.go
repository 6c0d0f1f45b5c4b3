package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/rules"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCheckRoutes(t *testing.T) {
	path := writeFile(t, "alpha_routes.yaml", `
defaults:
  mode: PREFIX
  prefix: "NEWS"
routes:
  - sources: [-1001, -1002]
    dests: [-2001]
    filters:
      keywords: ["btc"]
  - sources: [-1003]
    dests: []
`)
	var out bytes.Buffer
	require.NoError(t, checkRoutes(&out, path, rules.Defaults{Mode: rules.ModeForward}))

	s := out.String()
	assert.Contains(t, s, "2 rule(s), 1 warning(s)")
	assert.Contains(t, s, `#0 PREFIX [-1002,-1001] -> [-2001] prefix="NEWS" [keywords=btc]`)
	assert.Contains(t, s, "warning: rule #1")
}

func TestCheckRoutes_Rejected(t *testing.T) {
	path := writeFile(t, "bad.yaml", "routes:\n  - sources: [1]\n    dests: [2]\n    mode: MIRROR\n")
	err := checkRoutes(&bytes.Buffer{}, path, rules.Defaults{Mode: rules.ModeForward})
	require.Error(t, err)
	assert.True(t, domain.IsConfig(err))

	err = checkRoutes(&bytes.Buffer{}, filepath.Join(t.TempDir(), "missing.yaml"), rules.Defaults{})
	require.Error(t, err)
	assert.True(t, domain.IsConfig(err))
}

func TestPrintAccounts(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printAccounts(&out, []domain.Account{
		{Name: "alpha", Enabled: true, RoutesFile: "alpha_routes.yaml", Credential: domain.Credential{BotToken: "1:x"}},
		{Name: "beta", Credential: domain.Credential{SessionString: "s"}},
		{Name: "gamma"},
	}))
	s := out.String()
	assert.Contains(t, s, "NAME")
	assert.Regexp(t, `alpha\s+true\s+bot\s+alpha_routes.yaml`, s)
	assert.Regexp(t, `beta\s+false\s+session`, s)
	assert.Regexp(t, `gamma\s+false\s+none`, s)
}
