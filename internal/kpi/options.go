package kpi

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/sequence"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

// Ordering decides how events inside a visit are sequenced for the error rate.
type Ordering string

const (
	OrderByTime Ordering = "time" // chronological; row order when the log has no timestamp column
	OrderByRow  Ordering = "row"  // input row order
)

func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderByTime, nil
	case OrderByTime, OrderByRow:
		return o, nil
	default:
		return "", fmt.Errorf("invalid ordering %q: must be time or row", s)
	}
}

// JoinModes holds the join mode of each merge with the assignment table.
type JoinModes struct {
	Completion variation.JoinMode
	DwellTime  variation.JoinMode
	ErrorRate  variation.JoinMode
}

// Options configures a KPI computation. Build one with DefaultOptions and
// override fields; values are copied into each call.
type Options struct {
	Events      events.Columns
	Arms        variation.Columns
	StepOrder   sequence.StepOrder
	ConfirmStep string
	Join        JoinModes
	Ordering    Ordering

	// Log receives ordering fallbacks and join-loss counts. Nil discards them.
	Log *zerolog.Logger
}

// DefaultOptions returns a fresh Options with the standard web log layout.
func DefaultOptions() Options {
	return Options{
		Events:      events.DefaultColumns(),
		Arms:        variation.DefaultColumns(),
		StepOrder:   sequence.DefaultStepOrder(),
		ConfirmStep: "confirm",
		Join: JoinModes{
			Completion: variation.JoinInner,
			DwellTime:  variation.JoinInner,
			ErrorRate:  variation.JoinInner,
		},
		Ordering: OrderByTime,
	}
}

func (o Options) logger() *zerolog.Logger {
	if o.Log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return o.Log
}

// untimed returns the event columns with the timestamp column removed.
func (o Options) untimed() events.Columns {
	cols := o.Events
	cols.Time = ""
	return cols
}

func (o Options) joinOrDefault(m variation.JoinMode) variation.JoinMode {
	if m == "" {
		return variation.JoinInner
	}
	return m
}
