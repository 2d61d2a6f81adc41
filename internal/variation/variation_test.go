package variation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/frame"
	"github.com/gkobilansky/funnel-goat/internal/sequence"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

func sampleSequence() *sequence.Sequenced {
	t0 := time.Date(2017, 4, 1, 10, 0, 0, 0, time.UTC)
	mk := func(row int, client, visit, step string, sec int) events.Event {
		return events.Event{Row: row, ClientID: client, VisitID: visit, Step: step, Time: t0.Add(time.Duration(sec) * time.Second), HasTime: true}
	}
	return sequence.Build([]events.Event{
		mk(0, "c1", "v1", "start", 0),
		mk(1, "c1", "v1", "confirm", 10),
		mk(2, "c2", "v2", "start", 0),
		mk(3, "c3", "v3", "start", 0),
		mk(4, "c3", "v3", "step_1", 5),
	}, sequence.DefaultStepOrder())
}

func sampleAssignments() *variation.Assignments {
	return variation.FromMap(map[string]string{
		"c1": variation.ArmTest,
		"c3": variation.ArmControl,
		"c9": variation.ArmTest, // no events
	})
}

func TestNewAssignments(t *testing.T) {
	f := frame.New([]string{"client_id", "Variation"}, [][]string{
		{"c1", "Test"},
		{"c2", "Control"},
		{"c1", "Test"},
		{"c3", ""},
	})

	a, err := variation.NewAssignments(f, variation.DefaultColumns())
	require.NoError(t, err)

	assert.Equal(t, 3, a.Len())
	assert.Equal(t, []string{"c1", "c2", "c3"}, a.Clients())

	arm, found := a.Arm("c2")
	assert.True(t, found)
	assert.Equal(t, "Control", arm)

	arm, found = a.Arm("c3")
	assert.True(t, found)
	assert.Empty(t, arm)

	_, found = a.Arm("nope")
	assert.False(t, found)
}

func TestNewAssignments_Conflict(t *testing.T) {
	f := frame.New([]string{"client_id", "Variation"}, [][]string{
		{"c1", "Test"},
		{"c1", "Control"},
	})

	_, err := variation.NewAssignments(f, variation.DefaultColumns())
	assert.ErrorIs(t, err, variation.ErrConflictingAssignment)
}

func TestNewAssignments_MissingColumn(t *testing.T) {
	f := frame.New([]string{"client_id", "variation"}, nil)

	_, err := variation.NewAssignments(f, variation.DefaultColumns())
	require.ErrorIs(t, err, frame.ErrMissingColumn)
	assert.Contains(t, err.Error(), "Variation")
}

func TestParseJoinMode(t *testing.T) {
	tests := []struct {
		in      string
		want    variation.JoinMode
		wantErr bool
	}{
		{"", variation.JoinInner, false},
		{"inner", variation.JoinInner, false},
		{"LEFT", variation.JoinLeft, false},
		{" right ", variation.JoinRight, false},
		{"outer", variation.JoinOuter, false},
		{"cross", "", true},
	}

	for _, tt := range tests {
		got, err := variation.ParseJoinMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestJoin_Modes(t *testing.T) {
	seq := sampleSequence()
	a := sampleAssignments()

	tests := []struct {
		mode       variation.JoinMode
		rows       int
		dropped    int
		unassigned int
		eventless  int
	}{
		{variation.JoinInner, 4, 1, 0, 0},
		{variation.JoinLeft, 5, 0, 1, 0},
		{variation.JoinRight, 5, 1, 0, 1},
		{variation.JoinOuter, 6, 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			rows, st := variation.Join(seq, a, tt.mode)

			assert.Len(t, rows, tt.rows)
			assert.Equal(t, 5, st.Input)
			assert.Equal(t, tt.dropped, st.Dropped)
			assert.Equal(t, tt.unassigned, st.Unassigned)
			assert.Equal(t, tt.eventless, st.Eventless)
		})
	}
}

func TestJoin_LeftNeverShrinksVisits(t *testing.T) {
	seq := sampleSequence()
	a := sampleAssignments()

	visits := func(rows []variation.Row) map[string]string {
		out := make(map[string]string)
		for _, r := range rows {
			if r.HasEvent {
				out[r.VisitID] = r.Arm
			}
		}
		return out
	}

	inner, _ := variation.Join(seq, a, variation.JoinInner)
	left, _ := variation.Join(seq, a, variation.JoinLeft)

	innerVisits := visits(inner)
	leftVisits := visits(left)

	assert.GreaterOrEqual(t, len(leftVisits), len(innerVisits))
	for v, arm := range innerVisits {
		assert.Equal(t, arm, leftVisits[v], "assigned visit %s changed", v)
	}
}

func TestJoin_EventlessRowCarriesClient(t *testing.T) {
	rows, _ := variation.Join(sampleSequence(), sampleAssignments(), variation.JoinRight)

	last := rows[len(rows)-1]
	assert.False(t, last.HasEvent)
	assert.Equal(t, "c9", last.ClientID)
	assert.Equal(t, variation.ArmTest, last.Arm)
}

func TestJoinVisits(t *testing.T) {
	seq := sampleSequence()
	a := sampleAssignments()

	rows, st := variation.JoinVisits(seq, a, variation.JoinInner)
	require.Len(t, rows, 2)
	assert.Equal(t, "v1", rows[0].ID)
	assert.Equal(t, variation.ArmTest, rows[0].Arm)
	assert.Equal(t, "v3", rows[1].ID)
	assert.Equal(t, 1, st.Dropped)

	rows, st = variation.JoinVisits(seq, a, variation.JoinOuter)
	require.Len(t, rows, 4)
	assert.False(t, rows[1].HasArm)
	assert.False(t, rows[3].HasVisit)
	assert.Equal(t, 1, st.Unassigned)
	assert.Equal(t, 1, st.Eventless)
}
