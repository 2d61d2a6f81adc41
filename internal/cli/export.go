package cli

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/funnel-goat/internal/frame"
	"github.com/gkobilansky/funnel-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newExportCmd())
}

func newExportCmd() *cobra.Command {
	var (
		format      string
		assignments bool
	)

	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export an imported table",
		Long: `Export the imported event log (or the assignment table) in CSV or JSON format.

Rows come out in import order with timestamps in RFC 3339; missing timestamps
are empty.

Examples:
  fgoat export redesign --format csv > redesign-events.csv
  fgoat export redesign --assignments --format json > redesign-arms.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			if format != "csv" && format != "json" {
				return fmt.Errorf("invalid format: must be 'csv' or 'json'")
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := cmd.Context()

				var (
					f   *frame.Frame
					err error
				)
				if assignments {
					f, err = s.LoadAssignments(ctx, name)
				} else {
					f, err = s.LoadEvents(ctx, name)
				}
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", name)
					}
					return fmt.Errorf("failed to load table: %w", err)
				}

				if format == "csv" {
					return exportCSV(cmd.OutOrStdout(), f)
				}
				return exportJSON(cmd.OutOrStdout(), f)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv or json)")
	cmd.Flags().BoolVar(&assignments, "assignments", false, "export the assignment table instead of the event log")

	return cmd
}

func exportCSV(w io.Writer, f *frame.Frame) error {
	cw := csv.NewWriter(w)

	// Write header
	if err := cw.Write(f.Columns()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write rows
	for i := range f.Len() {
		if err := cw.Write(f.Row(i)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

type jsonExport struct {
	Rows []map[string]string `json:"rows"`
}

func exportJSON(w io.Writer, f *frame.Frame) error {
	cols := f.Columns()
	export := jsonExport{
		Rows: make([]map[string]string, f.Len()),
	}

	for i := range f.Len() {
		row := f.Row(i)
		rec := make(map[string]string, len(cols))
		for c, name := range cols {
			rec[name] = row[c]
		}
		export.Rows[i] = rec
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
