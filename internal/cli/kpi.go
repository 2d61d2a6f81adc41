package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/funnel-goat/internal/kpi"
	"github.com/gkobilansky/funnel-goat/internal/loader"
	"github.com/gkobilansky/funnel-goat/internal/store"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

// metricArgs maps the metric argument to the report fields it selects.
var metricArgs = map[string][]kpi.Metric{
	"completion": {kpi.MetricCompletion},
	"dwell":      {kpi.MetricDwellTime},
	"errors":     {kpi.MetricErrorRate},
	"all":        {kpi.MetricCompletion, kpi.MetricDwellTime, kpi.MetricErrorRate},
}

func init() {
	rootCmd.AddCommand(newKPICmd())
}

func newKPICmd() *cobra.Command {
	var (
		join           string
		ordering       string
		format         string
		eventFiles     string
		assignmentFile string
	)

	cmd := &cobra.Command{
		Use:   "kpi [name] [completion|dwell|errors|all]",
		Short: "Compute funnel KPIs per variation",
		Long: `Compute completion rate, dwell time per step and error rate for each arm.

KPIs are computed from an imported experiment, or straight from CSV files when
--events and --assignments are given (the experiment name is then omitted).

Examples:
  fgoat kpi redesign
  fgoat kpi redesign errors --ordering row
  fgoat kpi redesign dwell --join left --format csv
  fgoat kpi all --events web_pt_1.csv,web_pt_2.csv --assignments experiment.csv`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromFiles := eventFiles != "" || assignmentFile != ""
			if fromFiles && (eventFiles == "" || assignmentFile == "") {
				return fmt.Errorf("--events and --assignments must be given together")
			}

			var name, metric string
			switch {
			case fromFiles && len(args) > 1:
				return fmt.Errorf("an experiment name cannot be combined with --events")
			case fromFiles && len(args) == 1:
				metric = args[0]
			case !fromFiles && len(args) == 0:
				return fmt.Errorf("experiment name required. Run 'fgoat list' to see experiments")
			case !fromFiles:
				name = args[0]
				if len(args) == 2 {
					metric = args[1]
				}
			}

			metrics, err := parseMetric(metric)
			if err != nil {
				return err
			}
			if format != "table" && format != "csv" && format != "json" {
				return fmt.Errorf("invalid format: must be 'table', 'csv' or 'json'")
			}

			opts, err := kpiOptions()
			if err != nil {
				return err
			}
			if err := applyOverrides(&opts, join, ordering); err != nil {
				return err
			}

			var in kpi.Input
			if fromFiles {
				in, err = inputFromFiles(splitList(eventFiles), assignmentFile)
			} else {
				in, err = inputFromStore(cmd.Context(), name, &opts)
			}
			if err != nil {
				return err
			}

			report, err := computeReport(cmd.Context(), in, opts, metrics)
			if err != nil {
				return err
			}

			title := name
			if title == "" {
				title = eventFiles
			}
			if err := writeReport(cmd.OutOrStdout(), format, title, metrics, report); err != nil {
				return err
			}
			return reportErr(metrics, report)
		},
	}

	cmd.Flags().StringVarP(&join, "join", "j", "", "join mode for every KPI: inner, left, right or outer")
	cmd.Flags().StringVar(&ordering, "ordering", "", "visit ordering for the error rate: time or row")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, csv or json)")
	cmd.Flags().StringVarP(&eventFiles, "events", "e", "", "comma-separated event log CSV files")
	cmd.Flags().StringVarP(&assignmentFile, "assignments", "a", "", "assignment table CSV file")

	return cmd
}

func parseMetric(s string) ([]kpi.Metric, error) {
	if s == "" {
		s = "all"
	}
	metrics, ok := metricArgs[s]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q: must be completion, dwell, errors or all", s)
	}
	return metrics, nil
}

func applyOverrides(opts *kpi.Options, join, ordering string) error {
	if join != "" {
		mode, err := variation.ParseJoinMode(join)
		if err != nil {
			return err
		}
		opts.Join = kpi.JoinModes{Completion: mode, DwellTime: mode, ErrorRate: mode}
	}
	if ordering != "" {
		o, err := kpi.ParseOrdering(ordering)
		if err != nil {
			return err
		}
		opts.Ordering = o
	}
	return nil
}

func inputFromFiles(eventPaths []string, assignmentPath string) (kpi.Input, error) {
	web, err := loader.LoadEventLog(loaderOptions(), eventPaths...)
	if err != nil {
		return kpi.Input{}, err
	}
	exp, err := loader.LoadAssignments(loaderOptions(), assignmentPath)
	if err != nil {
		return kpi.Input{}, err
	}
	return kpi.Input{Events: web, Assignments: exp}, nil
}

// inputFromStore loads an imported experiment. Stored tables use the store's
// own column names, so opts is pointed at them.
func inputFromStore(ctx context.Context, name string, opts *kpi.Options) (kpi.Input, error) {
	var in kpi.Input
	err := withStore(func(s *store.SQLiteStore) error {
		web, err := s.LoadEvents(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", name)
			}
			return fmt.Errorf("failed to load events: %w", err)
		}
		exp, err := s.LoadAssignments(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to load assignments: %w", err)
		}
		in = kpi.Input{Events: web, Assignments: exp}
		return nil
	})

	opts.Events = store.EventColumns()
	opts.Arms = store.ArmColumns()
	return in, err
}

// computeReport runs only the requested KPIs. A single metric skips the
// preparation the other two would need, so a log without timestamps can still
// report completion.
func computeReport(ctx context.Context, in kpi.Input, opts kpi.Options, metrics []kpi.Metric) (*kpi.Report, error) {
	if len(metrics) > 1 {
		return kpi.Compute(ctx, in, opts)
	}

	report := &kpi.Report{}
	switch metrics[0] {
	case kpi.MetricCompletion:
		report.Completion.Table, report.Completion.Err = kpi.CompletionByVariation(in, opts)
	case kpi.MetricDwellTime:
		report.DwellTime.Table, report.DwellTime.Err = kpi.DwellTimeByVariation(in, opts)
	case kpi.MetricErrorRate:
		report.ErrorRate.Table, report.ErrorRate.Err = kpi.ErrorRateByVariation(in, opts)
	}
	return report, nil
}

func resultFor(report *kpi.Report, m kpi.Metric) kpi.Result {
	switch m {
	case kpi.MetricCompletion:
		return report.Completion
	case kpi.MetricDwellTime:
		return report.DwellTime
	default:
		return report.ErrorRate
	}
}

func reportErr(metrics []kpi.Metric, report *kpi.Report) error {
	var errs []error
	for _, m := range metrics {
		if err := resultFor(report, m).Err; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeReport(w io.Writer, format, title string, metrics []kpi.Metric, report *kpi.Report) error {
	switch format {
	case "csv":
		return writeReportCSV(w, metrics, report)
	case "json":
		return writeReportJSON(w, metrics, report)
	default:
		return writeReportTable(w, title, metrics, report)
	}
}

func writeReportTable(w io.Writer, title string, metrics []kpi.Metric, report *kpi.Report) error {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	bold.Fprintf(w, "EXPERIMENT: %s\n", title)

	for _, m := range metrics {
		res := resultFor(report, m)
		fmt.Fprintln(w)
		cyan.Fprintln(w, metricTitle(m))

		if res.Err != nil {
			red.Fprintf(w, "  failed: %v\n", res.Err)
			continue
		}

		t := res.Table
		if len(t.Rows) == 0 {
			fmt.Fprintln(w, "  no rows")
		} else {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			if m == kpi.MetricDwellTime {
				fmt.Fprintln(tw, "  ARM\tSTEP\tSECONDS\tDELTAS")
			} else {
				fmt.Fprintln(tw, "  ARM\tVALUE\tVISITS")
			}
			for _, r := range t.Rows {
				if m == kpi.MetricDwellTime {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\n", r.Arm, r.Step, formatValue(m, r), r.N)
				} else {
					fmt.Fprintf(tw, "  %s\t%s\t%d\n", r.Arm, formatValue(m, r), r.N)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}

		summary := joinSummary(t)
		if t.Join.Dropped > 0 || t.Unassigned > 0 {
			yellow.Fprintf(w, "  %s\n", summary)
		} else {
			fmt.Fprintf(w, "  %s\n", summary)
		}
	}
	return nil
}

func metricTitle(m kpi.Metric) string {
	switch m {
	case kpi.MetricCompletion:
		return "COMPLETION RATE"
	case kpi.MetricDwellTime:
		return "DWELL TIME PER STEP"
	default:
		return "ERROR RATE"
	}
}

// formatValue prints rates as percentages and dwell times in seconds. Groups
// with nothing to average print n/a.
func formatValue(m kpi.Metric, r kpi.Row) string {
	if !r.Valid {
		return "n/a"
	}
	if m == kpi.MetricDwellTime {
		return strconv.FormatFloat(r.Value, 'f', 1, 64)
	}
	return formatPercent(r.Value)
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

func joinSummary(t *kpi.Table) string {
	s := fmt.Sprintf("join: %s, %s kept", t.Join.Mode, formatNumber(t.Join.Kept))
	if t.Join.Dropped > 0 {
		s += fmt.Sprintf(", %s dropped without an arm", formatNumber(t.Join.Dropped))
	}
	if t.Unassigned > 0 {
		s += fmt.Sprintf(", %s kept outside both arms", formatNumber(t.Unassigned))
	}
	if t.Join.Eventless > 0 {
		s += fmt.Sprintf(", %s assigned clients without events", formatNumber(t.Join.Eventless))
	}
	return s
}

func writeReportCSV(w io.Writer, metrics []kpi.Metric, report *kpi.Report) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"metric", "arm", "step", "value", "valid", "n"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, m := range metrics {
		res := resultFor(report, m)
		if res.Err != nil {
			continue
		}
		for _, r := range res.Table.Rows {
			value := ""
			if r.Valid {
				value = strconv.FormatFloat(r.Value, 'f', -1, 64)
			}
			row := []string{string(m), r.Arm, r.Step, value, strconv.FormatBool(r.Valid), strconv.Itoa(r.N)}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

type jsonResult struct {
	Metric kpi.Metric `json:"metric"`
	Table  *kpi.Table `json:"table,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func writeReportJSON(w io.Writer, metrics []kpi.Metric, report *kpi.Report) error {
	out := make([]jsonResult, 0, len(metrics))
	for _, m := range metrics {
		res := resultFor(report, m)
		jr := jsonResult{Metric: m, Table: res.Table}
		if res.Err != nil {
			jr.Error = res.Err.Error()
		}
		out = append(out, jr)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
