package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/funnel-goat/internal/config"
	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/kpi"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file interactively",
	Long: `Ask a few questions about your event log and write a funnel-goat config file.

The file is written to --config (fgoat.yaml by default). Every value can later
be overridden with FG_* environment variables or a .env file.

Example:
  fgoat init
  fgoat init --config analysis.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

// wizardAnswers is what the init prompts collect.
type wizardAnswers struct {
	DBPath      string
	Events      events.Columns
	ArmColumn   string
	ConfirmStep string
	Join        variation.JoinMode
	Ordering    kpi.Ordering
}

func (a wizardAnswers) apply(c *config.Config) {
	c.DBPath = a.DBPath
	c.Analysis.Events = a.Events
	c.Analysis.Arms.Arm = a.ArmColumn
	c.Analysis.ConfirmStep = a.ConfirmStep
	c.Analysis.Join = config.JoinConfig{
		Completion: string(a.Join),
		DwellTime:  string(a.Join),
		ErrorRate:  string(a.Join),
	}
	c.Analysis.Ordering = string(a.Ordering)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists. Use --force to overwrite", cfgPath)
	}

	answers, err := promptAnswers(cfg)
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		return err
	}

	out := *cfg
	answers.apply(&out)
	if err := out.Validate(); err != nil {
		return err
	}
	if err := out.Save(cfgPath); err != nil {
		return err
	}

	printNextSteps(cmd.OutOrStdout(), cfgPath)
	return nil
}

func promptAnswers(c *config.Config) (wizardAnswers, error) {
	a := wizardAnswers{Events: c.Analysis.Events}
	var err error

	if a.DBPath, err = promptText("Database path", c.DBPath); err != nil {
		return a, err
	}

	layout := promptui.Select{
		Label: "Event log layout",
		Items: []string{
			"Standard web log (client_id, visit_id, process_step, date_time)",
			"Custom column names",
		},
	}
	idx, _, err := layout.Run()
	if err != nil {
		return a, err
	}
	if idx == 1 {
		if a.Events.Client, err = promptText("Client id column", a.Events.Client); err != nil {
			return a, err
		}
		if a.Events.Visit, err = promptText("Visit id column", a.Events.Visit); err != nil {
			return a, err
		}
		if a.Events.Step, err = promptText("Process step column", a.Events.Step); err != nil {
			return a, err
		}
		if a.Events.Time, err = promptOptional("Timestamp column (empty if none)", a.Events.Time); err != nil {
			return a, err
		}
	}

	if a.ArmColumn, err = promptText("Assignment arm column", c.Analysis.Arms.Arm); err != nil {
		return a, err
	}
	if a.ConfirmStep, err = promptText("Final funnel step", c.Analysis.ConfirmStep); err != nil {
		return a, err
	}

	join := promptui.Select{
		Label: "Clients without an assignment",
		Items: []string{
			"Drop them (inner join)",
			"Keep them outside both arms (left join)",
			"Also count assigned clients that never visited (outer join)",
		},
	}
	if idx, _, err = join.Run(); err != nil {
		return a, err
	}
	a.Join = joinModeFromIndex(idx)

	ordering := promptui.Select{
		Label: "Error rate ordering",
		Items: []string{
			"By timestamp",
			"By row order in the log",
		},
	}
	if idx, _, err = ordering.Run(); err != nil {
		return a, err
	}
	a.Ordering = orderingFromIndex(idx)

	return a, nil
}

func promptText(label, def string) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  def,
		Validate: validateRequired,
	}
	v, err := p.Run()
	return strings.TrimSpace(v), err
}

func promptOptional(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def}
	v, err := p.Run()
	return strings.TrimSpace(v), err
}

func validateRequired(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("value required")
	}
	return nil
}

func joinModeFromIndex(idx int) variation.JoinMode {
	switch idx {
	case 1:
		return variation.JoinLeft
	case 2:
		return variation.JoinOuter
	default:
		return variation.JoinInner
	}
}

func orderingFromIndex(idx int) kpi.Ordering {
	if idx == 1 {
		return kpi.OrderByRow
	}
	return kpi.OrderByTime
}

func printNextSteps(w io.Writer, path string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Import your tables")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "   fgoat import redesign --events web_pt_1.csv,web_pt_2.csv --assignments experiment.csv")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "2. Compute KPIs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "   fgoat kpi redesign")
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  list             List all experiments")
	fmt.Fprintln(w, "  kpi <name>       Show KPIs per variation")
	fmt.Fprintln(w, "  export <name>    Export an imported table")
	fmt.Fprintln(w, "  serve            Start the JSON API")
}
