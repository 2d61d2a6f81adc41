package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the API access token",
	Long: `Show the access token of the running API server.

Use this when you've scrolled past the startup message or need to
script against the API.

Example:
  fgoat token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	tokenFile := getTokenFilePath()

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: fgoat serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: fgoat serve")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Browser: http://localhost:%d/api/experiments?token=%s\n", cfg.Port, token)
	return nil
}
