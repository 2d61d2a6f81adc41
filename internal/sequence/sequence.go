package sequence

import (
	"slices"

	"github.com/gkobilansky/funnel-goat/internal/events"
)

// Step is an event placed in its visit, with deltas against the previous event
// of the same visit.
type Step struct {
	events.Event

	Position int // 0-based position within the sorted visit

	TimeDelta    float64 // seconds since the previous event
	HasTimeDelta bool
	StepDelta    int // rank(step) - rank(previous step)
	HasStepDelta bool
}

// Visit is one browsing session in chronological order.
type Visit struct {
	ID       string
	ClientID string
	Steps    []Step
}

type span struct {
	id         string
	start, end int
}

// Sequenced holds every visit of an event log, sorted and diffed. Steps of a
// visit are contiguous. The value is read-only and safe to share between readers.
type Sequenced struct {
	steps  []Step
	visits []span
}

// Build groups evs by visit, orders each visit by timestamp (nulls last, ties
// kept in row order) and computes the per-visit deltas. evs is not modified.
func Build(evs []events.Event, order StepOrder) *Sequenced {
	// visit key -> indices into evs, visits kept in first-appearance order
	var keys []string
	members := make(map[string][]int)
	for i, e := range evs {
		if _, ok := members[e.VisitID]; !ok {
			keys = append(keys, e.VisitID)
		}
		members[e.VisitID] = append(members[e.VisitID], i)
	}

	s := &Sequenced{
		steps:  make([]Step, 0, len(evs)),
		visits: make([]span, 0, len(keys)),
	}

	for _, key := range keys {
		idx := members[key]
		slices.SortStableFunc(idx, func(a, b int) int {
			return compareTime(evs[a], evs[b])
		})

		start := len(s.steps)
		for pos, i := range idx {
			st := Step{Event: evs[i], Position: pos}
			if pos > 0 {
				prev := s.steps[len(s.steps)-1]
				st.TimeDelta, st.HasTimeDelta = timeDelta(prev.Event, st.Event)
				st.StepDelta, st.HasStepDelta = stepDelta(order, prev.Step, st.Step)
			}
			s.steps = append(s.steps, st)
		}
		s.visits = append(s.visits, span{id: key, start: start, end: len(s.steps)})
	}

	return s
}

func compareTime(a, b events.Event) int {
	switch {
	case a.HasTime && !b.HasTime:
		return -1
	case !a.HasTime && b.HasTime:
		return 1
	case !a.HasTime && !b.HasTime:
		return 0
	}
	return a.Time.Compare(b.Time)
}

func timeDelta(prev, cur events.Event) (float64, bool) {
	if !prev.HasTime || !cur.HasTime {
		return 0, false
	}
	return cur.Time.Sub(prev.Time).Seconds(), true
}

func stepDelta(order StepOrder, prev, cur string) (int, bool) {
	rp, ok := order.Rank(prev)
	if !ok {
		return 0, false
	}
	rc, ok := order.Rank(cur)
	if !ok {
		return 0, false
	}
	return rc - rp, true
}

// Len returns the number of events.
func (s *Sequenced) Len() int {
	return len(s.steps)
}

// VisitCount returns the number of distinct visits.
func (s *Sequenced) VisitCount() int {
	return len(s.visits)
}

// Steps returns all steps, visit by visit, each visit in sorted order.
func (s *Sequenced) Steps() []Step {
	return slices.Clone(s.steps)
}

// Visits returns the visits in first-appearance order.
func (s *Sequenced) Visits() []Visit {
	out := make([]Visit, len(s.visits))
	for i, v := range s.visits {
		steps := slices.Clone(s.steps[v.start:v.end])
		out[i] = Visit{ID: v.id, ClientID: steps[0].ClientID, Steps: steps}
	}
	return out
}
