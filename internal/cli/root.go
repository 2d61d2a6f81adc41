package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/funnel-goat/internal/config"
	"github.com/gkobilansky/funnel-goat/internal/logger"
)

var (
	cfgPath string
	dbPath  string

	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fgoat",
	Short: "Funnel Goat - funnel KPIs for two-arm web experiments",
	Long: `Funnel Goat computes completion rate, time per step and error rate
for the control and test arms of a web experiment.

Import an event log and an assignment table once, then query KPIs from the
command line or the JSON API.

Get started:
  fgoat init
  fgoat import redesign --events web_pt_1.csv,web_pt_2.csv --assignments experiment.csv
  fgoat kpi redesign`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "fgoat.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config and FG_DB_PATH)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.DBPath = dbPath
	}

	cfg = c
	log = logger.New(c.LogLevel, c.LogFormat)
	return nil
}
