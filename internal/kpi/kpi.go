package kpi

import (
	"cmp"
	"slices"

	"github.com/gkobilansky/funnel-goat/internal/sequence"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

type Metric string

const (
	MetricCompletion Metric = "completion_rate"
	MetricDwellTime  Metric = "dwell_seconds"
	MetricErrorRate  Metric = "error_rate"
)

// Row is one line of a tidy KPI table. Step is empty for per-arm metrics.
type Row struct {
	Arm   string  `json:"arm"`
	Step  string  `json:"step,omitempty"`
	Value float64 `json:"value"`
	// Valid is false when the group had nothing to average, e.g. a step that only
	// ever opens a visit has no dwell time.
	Valid bool `json:"valid"`
	// N is the number of visits (rates) or deltas (dwell time) behind Value.
	N int `json:"n"`
}

// Table is the result of one KPI: rows sorted by arm, then by step rank.
type Table struct {
	Metric Metric          `json:"metric"`
	Rows   []Row           `json:"rows"`
	Join   variation.Stats `json:"join"`
	// Unassigned counts visits (rates) or deltas (dwell time) that survived the
	// join without an arm and so belong to no group.
	Unassigned int `json:"unassigned"`
}

// Find returns the row for arm and step.
func (t *Table) Find(arm, step string) (Row, bool) {
	for _, r := range t.Rows {
		if r.Arm == arm && r.Step == step {
			return r, true
		}
	}
	return Row{}, false
}

type acc struct {
	sum float64
	n   int
}

type groupKey struct {
	arm  string
	step string
}

// Completion is the share of visits per arm that reach the confirm step.
func Completion(seq *sequence.Sequenced, a *variation.Assignments, opts Options) *Table {
	mode := opts.joinOrDefault(opts.Join.Completion)
	rows, st := variation.JoinVisits(seq, a, mode)
	logJoin(opts, MetricCompletion, st)

	t := reduceVisits(MetricCompletion, rows, func(v sequence.Visit) bool {
		return containsStep(v, opts.ConfirmStep)
	})
	t.Join = st
	return t
}

// ErrorRate is the share of visits per arm with at least one backward step.
// It trusts the ordering seq was built with.
func ErrorRate(seq *sequence.Sequenced, a *variation.Assignments, opts Options) *Table {
	mode := opts.joinOrDefault(opts.Join.ErrorRate)
	rows, st := variation.JoinVisits(seq, a, mode)
	logJoin(opts, MetricErrorRate, st)

	t := reduceVisits(MetricErrorRate, rows, hasBackwardStep)
	t.Join = st
	return t
}

// DwellTime is the mean number of seconds spent reaching each step, per arm.
// A delta belongs to the later event of its pair; null deltas are skipped.
func DwellTime(seq *sequence.Sequenced, a *variation.Assignments, opts Options) *Table {
	mode := opts.joinOrDefault(opts.Join.DwellTime)
	rows, st := variation.Join(seq, a, mode)
	logJoin(opts, MetricDwellTime, st)

	t := &Table{Metric: MetricDwellTime, Join: st}
	groups := make(map[groupKey]*acc)
	var keys []groupKey
	for _, r := range rows {
		if !r.HasEvent {
			continue
		}
		if !r.HasArm {
			if r.HasTimeDelta {
				t.Unassigned++
			}
			continue
		}
		k := groupKey{arm: r.Arm, step: r.Step.Step}
		g, ok := groups[k]
		if !ok {
			g = &acc{}
			groups[k] = g
			keys = append(keys, k)
		}
		if r.HasTimeDelta {
			g.sum += r.TimeDelta
			g.n++
		}
	}

	slices.SortFunc(keys, func(x, y groupKey) int {
		if c := cmp.Compare(x.arm, y.arm); c != 0 {
			return c
		}
		return opts.StepOrder.Compare(x.step, y.step)
	})

	t.Rows = make([]Row, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		r := Row{Arm: k.arm, Step: k.step, N: g.n}
		if g.n > 0 {
			r.Value = g.sum / float64(g.n)
			r.Valid = true
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

// reduceVisits evaluates pred per visit and averages the result per arm.
func reduceVisits(metric Metric, rows []variation.VisitRow, pred func(sequence.Visit) bool) *Table {
	t := &Table{Metric: metric}
	groups := make(map[string]*acc)
	for _, r := range rows {
		if !r.HasVisit {
			continue
		}
		if !r.HasArm {
			t.Unassigned++
			continue
		}
		g, ok := groups[r.Arm]
		if !ok {
			g = &acc{}
			groups[r.Arm] = g
		}
		if pred(r.Visit) {
			g.sum++
		}
		g.n++
	}

	arms := make([]string, 0, len(groups))
	for arm := range groups {
		arms = append(arms, arm)
	}
	slices.Sort(arms)

	t.Rows = make([]Row, 0, len(arms))
	for _, arm := range arms {
		g := groups[arm]
		t.Rows = append(t.Rows, Row{Arm: arm, Value: g.sum / float64(g.n), Valid: true, N: g.n})
	}
	return t
}

func containsStep(v sequence.Visit, step string) bool {
	for _, s := range v.Steps {
		if s.Step == step {
			return true
		}
	}
	return false
}

func hasBackwardStep(v sequence.Visit) bool {
	for _, s := range v.Steps {
		if s.HasStepDelta && s.StepDelta < 0 {
			return true
		}
	}
	return false
}

func logJoin(opts Options, metric Metric, st variation.Stats) {
	log := opts.logger()
	ev := log.Debug()
	if st.Dropped > 0 || st.Unassigned > 0 {
		ev = log.Info()
	}
	ev.Str("metric", string(metric)).
		Str("join", string(st.Mode)).
		Int("input", st.Input).
		Int("kept", st.Kept).
		Int("dropped", st.Dropped).
		Int("unassigned", st.Unassigned).
		Int("eventless", st.Eventless).
		Msg("joined arm assignments")
}
