package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/registry"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and manage the account registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			if c, ok := reg.(interface{ Close() error }); ok {
				defer c.Close()
			}
			accounts, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}
			return printAccounts(cmd.OutOrStdout(), accounts)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Copy the accounts of a JSON registry file into the SQLite registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openSQLite()
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := registry.NewJSONFile(args[0], registry.Options{Logger: logger}).Entries()
			if err != nil {
				return err
			}
			if err := db.Import(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d account(s) into %s\n", len(entries), cfg.Registry.Path)
			return nil
		},
	})

	cmd.AddCommand(setEnabledCmd("enable", true), setEnabledCmd("disable", false))
	return cmd
}

func setEnabledCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: "Mark an account " + use + "d in the SQLite registry",
		Long: `Running relays pick the change up at their next registry sync.
Only the SQLite registry can be changed this way; edit the JSON file directly
otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openSQLite()
			if err != nil {
				return err
			}
			defer db.Close()

			found, err := db.SetEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("account %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], use)
			return nil
		},
	}
}

func openSQLite() (*registry.SQLite, error) {
	if cfg.Registry.Driver != registry.DriverSQLite {
		return nil, domain.ConfigErrorf("registry.driver is %q; this command needs %q", cfg.Registry.Driver, registry.DriverSQLite)
	}
	return registry.OpenSQLite(cfg.Registry.Path, registry.Options{BaseDir: cfg.Registry.BaseDir, Logger: logger})
}

func printAccounts(w io.Writer, accounts []domain.Account) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tCREDENTIAL\tROUTES FILE")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", a.Name, a.Enabled, credentialKind(a.Credential), a.RoutesFile)
	}
	return tw.Flush()
}

func credentialKind(c domain.Credential) string {
	switch {
	case c.BotToken != "":
		return "bot"
	case c.SessionString != "":
		return "session"
	default:
		return "none"
	}
}
