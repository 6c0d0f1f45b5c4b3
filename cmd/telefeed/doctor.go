package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fink5984/telefeed/internal/rules"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay setup",
		Long: `Verifies that the configuration, the account registry, every account's
credential and rule file, and the metrics address are usable. Reports
pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return runDoctor(ctx, cmd.OutOrStdout())
		},
	}
}

type doctor struct {
	w                      io.Writer
	passed, warned, failed int
}

func (d *doctor) pass(check, detail string) {
	fmt.Fprintf(d.w, "  [PASS] %-24s %s\n", check, detail)
	d.passed++
}

func (d *doctor) fail(check, detail string) {
	fmt.Fprintf(d.w, "  [FAIL] %-24s %s\n", check, detail)
	d.failed++
}

func (d *doctor) warn(check, detail string) {
	fmt.Fprintf(d.w, "  [WARN] %-24s %s\n", check, detail)
	d.warned++
}

func runDoctor(ctx context.Context, w io.Writer) error {
	d := &doctor{w: w}
	fmt.Fprintf(w, "telefeed doctor v%s\n\n", version)

	// 1. Config loaded in setup(); only the source is reported here.
	if _, err := os.Stat(resolveConfigPath()); err != nil {
		d.warn("Config file", "none found, using defaults and environment")
	} else {
		d.pass("Config file", resolveConfigPath())
	}

	// 2. Registry readable
	reg, err := openRegistry()
	if err != nil {
		d.fail("Registry", err.Error())
		return d.summary()
	}
	if c, ok := reg.(interface{ Close() error }); ok {
		defer c.Close()
	}
	accounts, err := reg.List(ctx)
	if err != nil {
		d.fail("Registry", err.Error())
		return d.summary()
	}
	d.pass("Registry", fmt.Sprintf("%s (%s, %d account(s))", cfg.Registry.Path, cfg.Registry.Driver, len(accounts)))

	// 3. Per-account credential and rule file
	enabled := 0
	for _, acc := range accounts {
		if !acc.Enabled {
			continue
		}
		enabled++
		switch {
		case acc.Credential.BotToken != "":
			d.pass("Account: "+acc.Name, "bot token present")
		case acc.Credential.SessionString != "":
			d.warn("Account: "+acc.Name, "user session only; needs manual authorization")
		default:
			d.fail("Account: "+acc.Name, "no usable credential")
		}

		if _, err := os.Stat(acc.RoutesFile); err != nil {
			d.warn("Routes: "+acc.Name, "missing "+acc.RoutesFile+" (no routes until created)")
			continue
		}
		snap, err := rules.Load(acc.RoutesFile, cfg.RuleDefaults())
		switch {
		case err != nil:
			d.fail("Routes: "+acc.Name, err.Error())
		case len(snap.Warnings) > 0:
			d.warn("Routes: "+acc.Name, fmt.Sprintf("%d rule(s), %d warning(s); see 'telefeed routes check'", len(snap.Rules), len(snap.Warnings)))
		default:
			d.pass("Routes: "+acc.Name, fmt.Sprintf("%d rule(s)", len(snap.Rules)))
		}
	}
	if enabled == 0 {
		d.warn("Accounts", "no enabled accounts")
	}

	// 4. Metrics address free
	if cfg.Metrics.Enabled {
		if err := checkAddr(cfg.Metrics.Addr); err != nil {
			d.warn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
		} else {
			d.pass("Metrics address", cfg.Metrics.Addr+" available")
		}
	}

	// 5. Log file writable
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			d.pass("Log file", cfg.General.LogFile)
		}
	}

	return d.summary()
}

func (d *doctor) summary() error {
	fmt.Fprintf(d.w, "\nResults: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
