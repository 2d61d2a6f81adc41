package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/loader"
	"github.com/gkobilansky/funnel-goat/internal/sequence"
	"github.com/gkobilansky/funnel-goat/internal/store"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

func init() {
	rootCmd.AddCommand(newImportCmd())
}

func newImportCmd() *cobra.Command {
	var (
		eventFiles     string
		assignmentFile string
	)

	cmd := &cobra.Command{
		Use:   "import <name>",
		Short: "Import an event log and assignment table",
		Long: `Import CSV inputs into an experiment, creating it if needed.

The event log may be split over several files; they are stacked in the order
given. Importing a table replaces what the experiment held before.

Examples:
  fgoat import redesign --events web_pt_1.csv,web_pt_2.csv --assignments experiment.csv
  fgoat import redesign --assignments experiment_v2.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			paths := splitList(eventFiles)
			if len(paths) == 0 && assignmentFile == "" {
				return fmt.Errorf("nothing to import. Use --events and/or --assignments")
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				_, created, err := s.GetOrCreateExperiment(ctx, name)
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}
				if created {
					fmt.Fprintf(out, "Created experiment '%s'\n", name)
				}

				if len(paths) > 0 {
					web, err := loader.LoadEventLog(loaderOptions(), paths...)
					if err != nil {
						return err
					}
					evs, err := events.Normalize(web, cfg.Analysis.Events)
					if err != nil {
						return fmt.Errorf("event log: %w", err)
					}
					n, err := s.ImportEvents(ctx, name, evs)
					if err != nil {
						return fmt.Errorf("failed to import events: %w", err)
					}

					seq := sequence.Build(evs, sequence.NewStepOrder(cfg.Analysis.StepOrder))
					fmt.Fprintf(out, "%s %s events in %s visits from %d file(s)\n",
						color.GreenString("Imported"), formatNumber(n), formatNumber(seq.VisitCount()), len(paths))
					log.Info().Str("experiment", name).Int("events", n).Int("visits", seq.VisitCount()).Msg("imported event log")
				}

				if assignmentFile != "" {
					exp, err := loader.LoadAssignments(loaderOptions(), assignmentFile)
					if err != nil {
						return err
					}
					a, err := variation.NewAssignments(exp, cfg.Analysis.Arms)
					if err != nil {
						return fmt.Errorf("assignment table: %w", err)
					}
					n, err := s.ImportAssignments(ctx, name, a)
					if err != nil {
						return fmt.Errorf("failed to import assignments: %w", err)
					}
					fmt.Fprintf(out, "%s %s client assignments\n", color.GreenString("Imported"), formatNumber(n))
					log.Info().Str("experiment", name).Int("clients", n).Msg("imported assignments")
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&eventFiles, "events", "e", "", "comma-separated event log CSV files")
	cmd.Flags().StringVarP(&assignmentFile, "assignments", "a", "", "assignment table CSV file")

	return cmd
}
