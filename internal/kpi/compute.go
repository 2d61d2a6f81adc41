package kpi

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/frame"
	"github.com/gkobilansky/funnel-goat/internal/sequence"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

// Input is the pair of tables handed over by the loading layer. Neither is modified.
type Input struct {
	Events      *frame.Frame
	Assignments *frame.Frame
}

// Prepare normalizes the event log and sequences every visit.
func Prepare(f *frame.Frame, cols events.Columns, order sequence.StepOrder) (*sequence.Sequenced, error) {
	evs, err := events.Normalize(f, cols)
	if err != nil {
		return nil, err
	}
	return sequence.Build(evs, order), nil
}

// CompletionByVariation computes the completion rate per arm from raw tables.
// Timestamps play no part, so the timestamp column is not required.
func CompletionByVariation(in Input, opts Options) (*Table, error) {
	a, err := variation.NewAssignments(in.Assignments, opts.Arms)
	if err != nil {
		return nil, fmt.Errorf("completion rate: %w", err)
	}
	seq, err := Prepare(in.Events, opts.untimed(), opts.StepOrder)
	if err != nil {
		return nil, fmt.Errorf("completion rate: %w", err)
	}
	return Completion(seq, a, opts), nil
}

// DwellTimeByVariation computes the mean time per step per arm from raw tables.
func DwellTimeByVariation(in Input, opts Options) (*Table, error) {
	a, err := variation.NewAssignments(in.Assignments, opts.Arms)
	if err != nil {
		return nil, fmt.Errorf("dwell time: %w", err)
	}
	seq, err := prepareTimed(in.Events, opts)
	if err != nil {
		return nil, fmt.Errorf("dwell time: %w", err)
	}
	return DwellTime(seq, a, opts), nil
}

// ErrorRateByVariation computes the backward-navigation rate per arm from raw tables.
func ErrorRateByVariation(in Input, opts Options) (*Table, error) {
	a, err := variation.NewAssignments(in.Assignments, opts.Arms)
	if err != nil {
		return nil, fmt.Errorf("error rate: %w", err)
	}
	seq, err := prepareForErrors(in.Events, opts)
	if err != nil {
		return nil, fmt.Errorf("error rate: %w", err)
	}
	return ErrorRate(seq, a, opts), nil
}

func prepareTimed(f *frame.Frame, opts Options) (*sequence.Sequenced, error) {
	if opts.Events.Time == "" {
		return nil, fmt.Errorf("no timestamp column configured")
	}
	return Prepare(f, opts.Events, opts.StepOrder)
}

func prepareForErrors(f *frame.Frame, opts Options) (*sequence.Sequenced, error) {
	if useRowOrder(f, opts) {
		return Prepare(f, opts.untimed(), opts.StepOrder)
	}
	return prepareTimed(f, opts)
}

// useRowOrder reports whether the error rate sequences visits by input row
// order: either requested, or forced because f has no timestamp column. Both
// cases are logged.
func useRowOrder(f *frame.Frame, opts Options) bool {
	var reason string
	switch {
	case opts.Ordering == OrderByRow:
		reason = "requested"
	case opts.Events.Time == "":
		reason = "no timestamp column configured"
	case !f.Has(opts.Events.Time):
		reason = "timestamp column missing from event log"
	default:
		return false
	}

	opts.logger().Warn().
		Str("metric", string(MetricErrorRate)).
		Str("reason", reason).
		Str("column", opts.Events.Time).
		Msg("sequencing visits by row order: backward steps are detected in input order, not chronologically")
	return true
}

// Result is one KPI of a Report. Err is set when that KPI could not be computed.
type Result struct {
	Table *Table
	Err   error
}

// Report holds the three KPIs computed over the same inputs.
type Report struct {
	Completion Result
	DwellTime  Result
	ErrorRate  Result
}

// Compute runs the three reducers concurrently. The event log is sequenced once
// per ordering and shared read-only between the reducers that need it, so dwell
// time and error rate see identical visit order. A caller-contract error in one
// KPI is recorded on that KPI only; the returned error is reserved for ctx.
func Compute(ctx context.Context, in Input, opts Options) (*Report, error) {
	report := &Report{}

	a, err := variation.NewAssignments(in.Assignments, opts.Arms)
	if err != nil {
		err = fmt.Errorf("assignments: %w", err)
		report.Completion.Err = err
		report.DwellTime.Err = err
		report.ErrorRate.Err = err
		return report, nil
	}

	untimed, untimedErr := Prepare(in.Events, opts.untimed(), opts.StepOrder)
	timed, timedErr := prepareTimed(in.Events, opts)

	errSeq, errSeqErr := timed, timedErr
	if useRowOrder(in.Events, opts) {
		errSeq, errSeqErr = untimed, untimedErr
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		report.Completion = run(ctx, MetricCompletion, untimed, untimedErr, func(seq *sequence.Sequenced) *Table {
			return Completion(seq, a, opts)
		})
		return ctx.Err()
	})
	g.Go(func() error {
		report.DwellTime = run(ctx, MetricDwellTime, timed, timedErr, func(seq *sequence.Sequenced) *Table {
			return DwellTime(seq, a, opts)
		})
		return ctx.Err()
	})
	g.Go(func() error {
		report.ErrorRate = run(ctx, MetricErrorRate, errSeq, errSeqErr, func(seq *sequence.Sequenced) *Table {
			return ErrorRate(seq, a, opts)
		})
		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func run(ctx context.Context, metric Metric, seq *sequence.Sequenced, prepErr error, reduce func(*sequence.Sequenced) *Table) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	if prepErr != nil {
		return Result{Err: fmt.Errorf("%s: %w", metric, prepErr)}
	}
	return Result{Table: reduce(seq)}
}
