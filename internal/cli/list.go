package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/funnel-goat/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments with the size of their imported tables.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		exps, err := s.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(exps) == 0 {
			fmt.Fprintln(out, "No experiments yet.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Import one with:")
			fmt.Fprintln(out, "  fgoat import <name> --events web.csv --assignments experiment.csv")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tEVENTS\tVISITS\tCLIENTS\tARMS\tUPDATED")

		for _, exp := range exps {
			counts, err := s.GetCounts(ctx, exp.Name)
			if err != nil {
				return fmt.Errorf("failed to get counts for experiment %s: %w", exp.Name, err)
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				exp.Name,
				formatNumber(counts.Events),
				formatNumber(counts.Visits),
				formatNumber(counts.Clients),
				formatArms(counts.ClientsBy),
				exp.UpdatedAt.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}

// formatArms renders client counts per arm as "Control=10 Test=12".
func formatArms(by map[string]int) string {
	if len(by) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(by))
	for _, arm := range slices.Sorted(maps.Keys(by)) {
		parts = append(parts, fmt.Sprintf("%s=%s", arm, formatNumber(by[arm])))
	}
	return strings.Join(parts, " ")
}
