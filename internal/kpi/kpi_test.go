package kpi_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkobilansky/funnel-goat/internal/frame"
	"github.com/gkobilansky/funnel-goat/internal/kpi"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

var webColumns = []string{"client_id", "visitor_id", "visit_id", "process_step", "date_time"}

// scenario: C1 (Test) has a clean completed visit V1 and a visit V2 that
// steps back from step_2 to step_1. Rows are shuffled on purpose.
func scenarioInput() kpi.Input {
	web := frame.New(webColumns, [][]string{
		{"C1", "x", "V2", "step_1", "2017-04-17 10:00:40"},
		{"C1", "x", "V1", "confirm", "2017-04-17 09:01:30"},
		{"C1", "x", "V1", "start", "2017-04-17 09:00:00"},
		{"C1", "x", "V2", "start", "2017-04-17 10:00:00"},
		{"C1", "x", "V1", "step_1", "2017-04-17 09:00:30"},
		{"C1", "x", "V2", "step_2", "2017-04-17 10:00:10"},
	})
	exp := frame.New([]string{"client_id", "Variation"}, [][]string{{"C1", "Test"}})
	return kpi.Input{Events: web, Assignments: exp}
}

func TestScenario_TwoVisitsOneClient(t *testing.T) {
	in := scenarioInput()
	opts := kpi.DefaultOptions()

	completion, err := kpi.CompletionByVariation(in, opts)
	require.NoError(t, err)
	require.Len(t, completion.Rows, 1)
	assert.Equal(t, "Test", completion.Rows[0].Arm)
	assert.Equal(t, 0.5, completion.Rows[0].Value)
	assert.Equal(t, 2, completion.Rows[0].N)

	errors, err := kpi.ErrorRateByVariation(in, opts)
	require.NoError(t, err)
	require.Len(t, errors.Rows, 1)
	assert.Equal(t, 0.5, errors.Rows[0].Value)

	dwell, err := kpi.DwellTimeByVariation(in, opts)
	require.NoError(t, err)

	// step_1: 30s (V1) and 30s (V2 step_2 -> step_1)
	r, ok := dwell.Find("Test", "step_1")
	require.True(t, ok)
	assert.Equal(t, 30.0, r.Value)
	assert.Equal(t, 2, r.N)

	r, ok = dwell.Find("Test", "confirm")
	require.True(t, ok)
	assert.Equal(t, 60.0, r.Value)

	r, ok = dwell.Find("Test", "step_2")
	require.True(t, ok)
	assert.Equal(t, 10.0, r.Value)

	// start only ever opens a visit
	r, ok = dwell.Find("Test", "start")
	require.True(t, ok)
	assert.False(t, r.Valid)
	assert.Equal(t, 0, r.N)
}

func TestDwellTime_RowsSortedByArmThenRank(t *testing.T) {
	in := scenarioInput()

	dwell, err := kpi.DwellTimeByVariation(in, kpi.DefaultOptions())
	require.NoError(t, err)

	var steps []string
	for _, r := range dwell.Rows {
		steps = append(steps, r.Step)
	}
	assert.Equal(t, []string{"start", "step_1", "step_2", "confirm"}, steps)
}

func TestDwellTime_NullTimestampExcludedNotZero(t *testing.T) {
	web := frame.New(webColumns, [][]string{
		{"C1", "x", "V1", "start", ""},
		{"C2", "x", "V2", "start", "2017-04-17 10:00:00"},
		{"C2", "x", "V2", "step_1", "2017-04-17 10:00:20"},
		{"C2", "x", "V3", "start", "2017-04-17 11:00:00"},
		{"C2", "x", "V3", "step_1", "unparsable"},
	})
	exp := frame.New([]string{"client_id", "Variation"}, [][]string{
		{"C1", "Control"},
		{"C2", "Control"},
	})

	dwell, err := kpi.DwellTimeByVariation(kpi.Input{Events: web, Assignments: exp}, kpi.DefaultOptions())
	require.NoError(t, err)

	r, ok := dwell.Find("Control", "step_1")
	require.True(t, ok)
	assert.Equal(t, 20.0, r.Value, "null delta must not drag the mean to 10")
	assert.Equal(t, 1, r.N)

	r, ok = dwell.Find("Control", "start")
	require.True(t, ok)
	assert.False(t, r.Valid)
}

func TestErrorRate_UnknownStepIsNoSignal(t *testing.T) {
	web := frame.New(webColumns, [][]string{
		{"C1", "x", "V1", "step_2", "2017-04-17 10:00:00"},
		{"C1", "x", "V1", "unknown_step", "2017-04-17 10:00:10"},
		{"C1", "x", "V1", "step_1", "2017-04-17 10:00:20"},
	})
	exp := frame.New([]string{"client_id", "Variation"}, [][]string{{"C1", "Test"}})

	errs, err := kpi.ErrorRateByVariation(kpi.Input{Events: web, Assignments: exp}, kpi.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, errs.Rows, 1)
	assert.Equal(t, 0.0, errs.Rows[0].Value)
}

func TestErrorRate_OrderingChangesOutcome(t *testing.T) {
	// row order says step_2 -> step_1 (backward), time order says step_1 -> step_2
	web := frame.New(webColumns, [][]string{
		{"C1", "x", "V1", "step_2", "2017-04-17 10:00:20"},
		{"C1", "x", "V1", "step_1", "2017-04-17 10:00:10"},
	})
	exp := frame.New([]string{"client_id", "Variation"}, [][]string{{"C1", "Test"}})
	in := kpi.Input{Events: web, Assignments: exp}

	opts := kpi.DefaultOptions()
	byTime, err := kpi.ErrorRateByVariation(in, opts)
	require.NoError(t, err)
	assert.Equal(t, 0.0, byTime.Rows[0].Value)

	opts.Ordering = kpi.OrderByRow
	byRow, err := kpi.ErrorRateByVariation(in, opts)
	require.NoError(t, err)
	assert.Equal(t, 1.0, byRow.Rows[0].Value)
}

func TestErrorRate_FallsBackToRowOrderWithoutTimestampColumn(t *testing.T) {
	web := frame.New([]string{"client_id", "visit_id", "process_step"}, [][]string{
		{"C1", "V1", "step_1"},
		{"C1", "V1", "start"},
	})
	exp := frame.New([]string{"client_id", "Variation"}, [][]string{{"C1", "Control"}})
	in := kpi.Input{Events: web, Assignments: exp}

	var buf bytes.Buffer
	log := zerolog.New(&buf)
	opts := kpi.DefaultOptions()
	opts.Log = &log

	errs, err := kpi.ErrorRateByVariation(in, opts)
	require.NoError(t, err)
	assert.Equal(t, 1.0, errs.Rows[0].Value)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"reason":"timestamp column missing from event log"`)

	// dwell time has no fallback
	_, err = kpi.DwellTimeByVariation(in, opts)
	assert.ErrorIs(t, err, frame.ErrMissingColumn)
}

func TestErrorRate_TimeOrderingDoesNotWarn(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.WarnLevel)
	opts := kpi.DefaultOptions()
	opts.Log = &log

	_, err := kpi.ErrorRateByVariation(scenarioInput(), opts)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestCompletion_DoesNotNeedTimestamps(t *testing.T) {
	web := frame.New([]string{"client_id", "visit_id", "process_step"}, [][]string{
		{"C1", "V1", "start"},
		{"C1", "V1", "confirm"},
		{"C2", "V2", "start"},
	})
	exp := frame.New([]string{"client_id", "Variation"}, [][]string{
		{"C1", "Control"},
		{"C2", "Control"},
	})

	completion, err := kpi.CompletionByVariation(kpi.Input{Events: web, Assignments: exp}, kpi.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0.5, completion.Rows[0].Value)
}

func TestCompletion_CustomConfirmStep(t *testing.T) {
	in := scenarioInput()
	opts := kpi.DefaultOptions()
	opts.ConfirmStep = "step_2"

	completion, err := kpi.CompletionByVariation(in, opts)
	require.NoError(t, err)
	assert.Equal(t, 0.5, completion.Rows[0].Value)
}

func TestJoinMode_LeftKeepsUnassignedOutOfArms(t *testing.T) {
	web := frame.New(webColumns, [][]string{
		{"C1", "x", "V1", "start", "2017-04-17 10:00:00"},
		{"C1", "x", "V1", "confirm", "2017-04-17 10:01:00"},
		{"C2", "x", "V2", "start", "2017-04-17 10:00:00"},
		{"C3", "x", "V3", "start", "2017-04-17 10:00:00"},
	})
	exp := frame.New([]string{"client_id", "Variation"}, [][]string{
		{"C1", "Test"},
		{"C2", "Control"},
	})
	in := kpi.Input{Events: web, Assignments: exp}

	opts := kpi.DefaultOptions()
	inner, err := kpi.CompletionByVariation(in, opts)
	require.NoError(t, err)

	opts.Join.Completion = variation.JoinLeft
	left, err := kpi.CompletionByVariation(in, opts)
	require.NoError(t, err)

	assert.Equal(t, inner.Rows, left.Rows, "results for assigned clients must not change")
	assert.Equal(t, 1, inner.Join.Dropped)
	assert.Equal(t, 0, inner.Unassigned)
	assert.Equal(t, 1, left.Unassigned)
	assert.GreaterOrEqual(t, left.Join.Kept, inner.Join.Kept)
}

func TestRatesWithinUnitInterval(t *testing.T) {
	in := scenarioInput()
	opts := kpi.DefaultOptions()

	for _, mode := range []variation.JoinMode{variation.JoinInner, variation.JoinLeft, variation.JoinRight, variation.JoinOuter} {
		opts.Join = kpi.JoinModes{Completion: mode, DwellTime: mode, ErrorRate: mode}

		c, err := kpi.CompletionByVariation(in, opts)
		require.NoError(t, err)
		e, err := kpi.ErrorRateByVariation(in, opts)
		require.NoError(t, err)

		for _, r := range append(c.Rows, e.Rows...) {
			assert.GreaterOrEqual(t, r.Value, 0.0)
			assert.LessOrEqual(t, r.Value, 1.0)
		}
	}
}

func TestMissingColumnFailsFast(t *testing.T) {
	in := scenarioInput()
	opts := kpi.DefaultOptions()
	opts.Events.Step = "page"

	_, err := kpi.CompletionByVariation(in, opts)
	require.ErrorIs(t, err, frame.ErrMissingColumn)
	assert.Contains(t, err.Error(), `"page"`)
}

func TestInputsNotMutated(t *testing.T) {
	in := scenarioInput()
	before := in.Events.Row(0)

	_, err := kpi.Compute(context.Background(), in, kpi.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, before, in.Events.Row(0))
}

func TestCompute(t *testing.T) {
	report, err := kpi.Compute(context.Background(), scenarioInput(), kpi.DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, report.Completion.Err)
	require.NoError(t, report.DwellTime.Err)
	require.NoError(t, report.ErrorRate.Err)

	assert.Equal(t, 0.5, report.Completion.Table.Rows[0].Value)
	assert.Equal(t, 0.5, report.ErrorRate.Table.Rows[0].Value)
	r, ok := report.DwellTime.Table.Find("Test", "confirm")
	require.True(t, ok)
	assert.Equal(t, 60.0, r.Value)
}

func TestCompute_ErrorIsScopedToOneKPI(t *testing.T) {
	in := scenarioInput()
	opts := kpi.DefaultOptions()
	opts.Events.Time = "timestamp" // not in the table

	report, err := kpi.Compute(context.Background(), in, opts)
	require.NoError(t, err)

	assert.ErrorIs(t, report.DwellTime.Err, frame.ErrMissingColumn)
	require.NoError(t, report.Completion.Err)
	assert.Equal(t, 0.5, report.Completion.Table.Rows[0].Value)

	// both shuffled visits step backwards in row order
	require.NoError(t, report.ErrorRate.Err)
	assert.Equal(t, 1.0, report.ErrorRate.Table.Rows[0].Value)
}

func TestCompute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := kpi.Compute(ctx, scenarioInput(), kpi.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseOrdering(t *testing.T) {
	o, err := kpi.ParseOrdering("")
	require.NoError(t, err)
	assert.Equal(t, kpi.OrderByTime, o)

	o, err = kpi.ParseOrdering("ROW")
	require.NoError(t, err)
	assert.Equal(t, kpi.OrderByRow, o)

	_, err = kpi.ParseOrdering("visit")
	assert.Error(t, err)
}

func TestEmptyInput(t *testing.T) {
	in := kpi.Input{
		Events:      frame.New(webColumns, nil),
		Assignments: frame.New([]string{"client_id", "Variation"}, nil),
	}

	report, err := kpi.Compute(context.Background(), in, kpi.DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, report.Completion.Table.Rows)
	assert.Empty(t, report.DwellTime.Table.Rows)
	assert.Empty(t, report.ErrorRate.Table.Rows)
}
