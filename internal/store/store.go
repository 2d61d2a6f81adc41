package store

import (
	"context"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/frame"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

// Store defines the interface for experiment input storage
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, name, description string) (*Experiment, error)
	GetOrCreateExperiment(ctx context.Context, name string) (*Experiment, bool, error)
	GetExperiment(ctx context.Context, name string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	DeleteExperiment(ctx context.Context, name string) error

	// Input tables
	ImportEvents(ctx context.Context, name string, evs []events.Event) (int, error)
	ImportAssignments(ctx context.Context, name string, a *variation.Assignments) (int, error)
	LoadEvents(ctx context.Context, name string) (*frame.Frame, error)
	LoadAssignments(ctx context.Context, name string) (*frame.Frame, error)
	GetCounts(ctx context.Context, name string) (*Counts, error)

	// Lifecycle
	Close() error
}
