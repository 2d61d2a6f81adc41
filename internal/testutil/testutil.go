package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/frame"
	"github.com/gkobilansky/funnel-goat/internal/loader"
	"github.com/gkobilansky/funnel-goat/internal/store"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

// SetupTestStore creates a test database and returns the store.
// Uses t.TempDir() for automatic cleanup on test completion.
func SetupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// WebLog is a small event log: client 1 (Test) completes visit v1 and steps
// back in visit v2; client 2 (Control) abandons v3; client 3 has no arm.
const WebLog = `client_id,visitor_id,visit_id,process_step,date_time
1,a,v1,confirm,2017-04-17 09:01:30
1,a,v1,start,2017-04-17 09:00:00
1,a,v1,step_1,2017-04-17 09:00:30
1,a,v2,start,2017-04-17 10:00:00
1,a,v2,step_2,2017-04-17 10:00:10
1,a,v2,step_1,2017-04-17 10:00:40
2,b,v3,start,2017-04-18 08:00:00
2,b,v3,step_1,2017-04-18 08:00:45
3,c,v4,start,2017-04-18 08:00:00
`

// Experiment is the assignment table matching WebLog.
const Experiment = `client_id,Variation
1,Test
2,Control
`

// WriteFile writes content to name inside a fresh temp dir and returns the path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// SeedExperiment imports WebLog and Experiment into s under name.
func SeedExperiment(t *testing.T, s *store.SQLiteStore, name string) {
	t.Helper()

	ctx := context.Background()
	if _, err := s.CreateExperiment(ctx, name, ""); err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}

	web := ParseCSV(t, WebLog)
	evs, err := events.Normalize(web, events.DefaultColumns())
	if err != nil {
		t.Fatalf("failed to normalize events: %v", err)
	}
	if _, err := s.ImportEvents(ctx, name, evs); err != nil {
		t.Fatalf("failed to import events: %v", err)
	}

	a, err := variation.NewAssignments(ParseCSV(t, Experiment), variation.DefaultColumns())
	if err != nil {
		t.Fatalf("failed to read assignments: %v", err)
	}
	if _, err := s.ImportAssignments(ctx, name, a); err != nil {
		t.Fatalf("failed to import assignments: %v", err)
	}
}

// ParseCSV reads a comma separated fixture into a Frame.
func ParseCSV(t *testing.T, content string) *frame.Frame {
	t.Helper()

	f, err := loader.Read(strings.NewReader(content), ',')
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	return f
}
