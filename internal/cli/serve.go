package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/funnel-goat/internal/server"
	"github.com/gkobilansky/funnel-goat/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API server",
	Long: `Start the funnel-goat JSON API.

The server provides:
  - GET /health
  - GET /api/experiments
  - GET /api/experiments/{name}
  - GET /api/experiments/{name}/kpi?join=left&ordering=row

API calls need the access token printed at startup, either as a Bearer
header or once as ?token= to set a cookie.

Example:
  fgoat serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config, FG_PORT or 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if port == 0 {
		port = cfg.Port
	}

	opts, err := kpiOptions()
	if err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		srv := server.New(s, port, getTokenFilePath(), opts, log)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "API running at http://localhost:%d\n", port)
		fmt.Fprintf(out, "Token: %s\n", srv.Token())
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  curl -H 'Authorization: Bearer %s' http://localhost:%d/api/experiments\n", srv.Token(), port)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		return srv.Start()
	})
}
