package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/rules"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect rule files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check FILE",
		Short: "Load a rule file with the configured defaults and print its rules",
		Long: `Loads FILE exactly as a running worker would and prints the normalized
rules and any validation warnings. Exits non-zero when the file would be
rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkRoutes(cmd.OutOrStdout(), args[0], cfg.RuleDefaults())
		},
	})
	return cmd
}

func checkRoutes(w io.Writer, path string, base rules.Defaults) error {
	if _, err := os.Stat(path); err != nil {
		return domain.WrapConfig(err, "rule file %s", path)
	}
	snap, err := rules.Load(path, base)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s: %d rule(s), %d warning(s)\n", path, len(snap.Rules), len(snap.Warnings))
	for _, r := range snap.Rules {
		fmt.Fprintf(w, "  #%d %s %s -> %s", r.Index, r.Mode, formatSources(r.Sources), formatIDs(r.Destinations))
		if r.Mode == rules.ModePrefix {
			fmt.Fprintf(w, " prefix=%q", r.Prefix)
		}
		if f := formatFilters(r.Filters); f != "" {
			fmt.Fprintf(w, " [%s]", f)
		}
		fmt.Fprintln(w)
	}
	for _, warn := range snap.Warnings {
		fmt.Fprintf(w, "  warning: rule #%d: %s\n", warn.RuleIndex, warn.Message)
	}
	return nil
}

func formatSources(sources map[int64]struct{}) string {
	ids := make([]int64, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return formatIDs(ids)
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func formatFilters(f rules.Filters) string {
	var parts []string
	if len(f.Keywords) > 0 {
		parts = append(parts, "keywords="+strings.Join(f.Keywords, "|"))
	}
	if f.MinLength > 0 {
		parts = append(parts, fmt.Sprintf("min_length=%d", f.MinLength))
	}
	if f.OnlyText {
		parts = append(parts, "only_text")
	}
	if f.OnlyMedia {
		parts = append(parts, "only_media")
	}
	return strings.Join(parts, " ")
}
