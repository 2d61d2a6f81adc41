package sequence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/sequence"
)

var base = time.Date(2017, 4, 17, 12, 0, 0, 0, time.UTC)

func ev(row int, client, visit, step string, sec int) events.Event {
	return events.Event{Row: row, ClientID: client, VisitID: visit, Step: step, Time: base.Add(time.Duration(sec) * time.Second), HasTime: true}
}

func evNoTime(row int, client, visit, step string) events.Event {
	return events.Event{Row: row, ClientID: client, VisitID: visit, Step: step}
}

func stepsOf(v sequence.Visit) []string {
	out := make([]string, len(v.Steps))
	for i, s := range v.Steps {
		out[i] = s.Step
	}
	return out
}

func TestBuild_SortsWithinVisit(t *testing.T) {
	evs := []events.Event{
		ev(0, "c1", "v1", "confirm", 90),
		ev(1, "c1", "v1", "start", 0),
		ev(2, "c1", "v1", "step_1", 30),
	}

	seq := sequence.Build(evs, sequence.DefaultStepOrder())
	visits := seq.Visits()

	require.Len(t, visits, 1)
	assert.Equal(t, []string{"start", "step_1", "confirm"}, stepsOf(visits[0]))
	assert.Equal(t, "confirm", evs[0].Step, "input must not be reordered")
}

func TestBuild_NullTimestampsSortLastAndStable(t *testing.T) {
	evs := []events.Event{
		evNoTime(0, "c1", "v1", "step_2"),
		ev(1, "c1", "v1", "step_1", 20),
		evNoTime(2, "c1", "v1", "step_3"),
		ev(3, "c1", "v1", "start", 20),
	}

	seq := sequence.Build(evs, sequence.DefaultStepOrder())
	v := seq.Visits()[0]

	// equal timestamps keep row order; nulls last in row order
	assert.Equal(t, []string{"step_1", "start", "step_2", "step_3"}, stepsOf(v))
}

func TestBuild_SortedNonDecreasingAndIdempotent(t *testing.T) {
	evs := []events.Event{
		ev(0, "c1", "v1", "step_2", 50),
		ev(1, "c2", "v2", "start", 5),
		ev(2, "c1", "v1", "start", 10),
		evNoTime(3, "c1", "v1", "step_1"),
		ev(4, "c2", "v2", "step_1", 1),
		ev(5, "c1", "v1", "step_3", 50),
	}
	order := sequence.DefaultStepOrder()

	first := sequence.Build(evs, order)
	second := sequence.Build(evs, order)
	assert.Equal(t, first.Steps(), second.Steps())

	for _, v := range first.Visits() {
		seenNull := false
		for i, s := range v.Steps {
			if !s.HasTime {
				seenNull = true
				continue
			}
			assert.False(t, seenNull, "timestamped event after a null in visit %s", v.ID)
			if i > 0 && v.Steps[i-1].HasTime {
				assert.False(t, s.Time.Before(v.Steps[i-1].Time))
			}
		}
	}
}

func TestBuild_Deltas(t *testing.T) {
	evs := []events.Event{
		ev(0, "c1", "v1", "start", 0),
		ev(1, "c1", "v1", "step_1", 30),
		ev(2, "c1", "v1", "confirm", 90),
		ev(3, "c1", "v2", "start", 0),
		ev(4, "c1", "v2", "step_2", 10),
		ev(5, "c1", "v2", "step_1", 40),
	}

	seq := sequence.Build(evs, sequence.DefaultStepOrder())
	visits := seq.Visits()
	require.Len(t, visits, 2)

	v1 := visits[0].Steps
	assert.False(t, v1[0].HasTimeDelta)
	assert.False(t, v1[0].HasStepDelta)
	assert.Equal(t, 30.0, v1[1].TimeDelta)
	assert.Equal(t, 1, v1[1].StepDelta)
	assert.Equal(t, 60.0, v1[2].TimeDelta)
	assert.Equal(t, 3, v1[2].StepDelta)

	v2 := visits[1].Steps
	assert.False(t, v2[0].HasTimeDelta, "first event of a visit never diffs across visits")
	assert.False(t, v2[0].HasStepDelta)
	assert.Equal(t, 10.0, v2[1].TimeDelta)
	assert.Equal(t, 30.0, v2[2].TimeDelta)
	assert.Equal(t, -1, v2[2].StepDelta)
}

func TestBuild_NoLeakAcrossInterleavedVisits(t *testing.T) {
	evs := []events.Event{
		ev(0, "c1", "v1", "start", 0),
		ev(1, "c2", "v2", "start", 5),
		ev(2, "c1", "v1", "step_1", 10),
		ev(3, "c2", "v2", "step_1", 100),
	}

	seq := sequence.Build(evs, sequence.DefaultStepOrder())
	for _, v := range seq.Visits() {
		assert.False(t, v.Steps[0].HasTimeDelta)
		for _, s := range v.Steps {
			assert.Equal(t, v.ID, s.VisitID)
		}
	}
	visits := seq.Visits()
	assert.Equal(t, 10.0, visits[0].Steps[1].TimeDelta)
	assert.Equal(t, 95.0, visits[1].Steps[1].TimeDelta)
}

func TestBuild_NullTimestampGivesNullDelta(t *testing.T) {
	evs := []events.Event{
		ev(0, "c1", "v1", "start", 0),
		evNoTime(1, "c1", "v1", "step_1"),
	}

	seq := sequence.Build(evs, sequence.DefaultStepOrder())
	steps := seq.Steps()

	assert.False(t, steps[1].HasTimeDelta, "delta touching a null timestamp is null, not zero")
	assert.True(t, steps[1].HasStepDelta)
}

func TestBuild_UnknownStepNullsBothTransitions(t *testing.T) {
	evs := []events.Event{
		ev(0, "c1", "v1", "step_2", 0),
		ev(1, "c1", "v1", "unknown_step", 10),
		ev(2, "c1", "v1", "step_1", 20),
	}

	seq := sequence.Build(evs, sequence.DefaultStepOrder())
	steps := seq.Steps()

	assert.False(t, steps[1].HasStepDelta)
	assert.False(t, steps[2].HasStepDelta)
	assert.True(t, steps[2].HasTimeDelta)
}

func TestBuild_Empty(t *testing.T) {
	seq := sequence.Build(nil, sequence.DefaultStepOrder())

	assert.Equal(t, 0, seq.Len())
	assert.Equal(t, 0, seq.VisitCount())
	assert.Empty(t, seq.Visits())
}

func TestStepOrder_IsolatedFromCaller(t *testing.T) {
	m := map[string]int{"a": 0, "b": 1}
	order := sequence.NewStepOrder(m)
	m["a"] = 5

	r, ok := order.Rank("a")
	require.True(t, ok)
	assert.Equal(t, 0, r)

	got := order.Map()
	got["b"] = 9
	r, _ = order.Rank("b")
	assert.Equal(t, 1, r)
}

func TestStepOrder_Labels(t *testing.T) {
	assert.Equal(t,
		[]string{"start", "step_1", "step_2", "step_3", "confirm"},
		sequence.DefaultStepOrder().Labels(),
	)
}
