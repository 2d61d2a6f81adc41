package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gkobilansky/funnel-goat/internal/kpi"
	"github.com/gkobilansky/funnel-goat/internal/loader"
	"github.com/gkobilansky/funnel-goat/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// loaderOptions reads CSV files with the configured separator and timestamp column.
func loaderOptions() loader.Options {
	opts := loader.DefaultOptions()
	opts.Separator = []rune(cfg.Separator)[0]
	opts.TimeColumn = cfg.Analysis.Events.Time
	opts.ParseTime = opts.TimeColumn != ""
	return opts
}

func kpiOptions() (kpi.Options, error) {
	opts, err := cfg.Analysis.Options()
	if err != nil {
		return opts, fmt.Errorf("invalid analysis config: %w", err)
	}
	opts.Log = &log
	return opts, nil
}

// splitList splits a comma separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getTokenFilePath returns the path to the token file
func getTokenFilePath() string {
	// Store token file alongside the database
	return filepath.Join(filepath.Dir(cfg.DBPath), ".fgoat-token")
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
