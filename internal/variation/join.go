package variation

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gkobilansky/funnel-goat/internal/sequence"
)

// JoinMode decides which side of the merge survives when a client is only on one side.
type JoinMode string

const (
	JoinInner JoinMode = "inner" // drop unassigned clients
	JoinLeft  JoinMode = "left"  // keep unassigned clients with no arm
	JoinRight JoinMode = "right" // keep assigned clients with no events
	JoinOuter JoinMode = "outer" // keep both
)

// ParseJoinMode accepts inner, left, right or outer. Empty means inner.
func ParseJoinMode(s string) (JoinMode, error) {
	switch m := JoinMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return JoinInner, nil
	case JoinInner, JoinLeft, JoinRight, JoinOuter:
		return m, nil
	default:
		return "", fmt.Errorf("invalid join mode %q: must be inner, left, right or outer", s)
	}
}

func (m JoinMode) keepsUnassigned() bool { return m == JoinLeft || m == JoinOuter }
func (m JoinMode) keepsEventless() bool  { return m == JoinRight || m == JoinOuter }

// Stats counts what a join did to the sample. Units are events for Join and
// visits for JoinVisits.
type Stats struct {
	Mode       JoinMode `json:"mode"`
	Input      int      `json:"input"`      // rows on the event side
	Kept       int      `json:"kept"`       // event-side rows that survived
	Dropped    int      `json:"dropped"`    // event-side rows without an assignment that were dropped
	Unassigned int      `json:"unassigned"` // event-side rows kept with no arm
	Eventless  int      `json:"eventless"`  // assigned clients added without any event
}

// Row is one event with the arm of its client attached.
type Row struct {
	sequence.Step
	HasEvent bool // false for an assigned client that has no events

	Arm    string
	HasArm bool
}

// Join attaches an arm to every sequenced event by client id.
func Join(seq *sequence.Sequenced, a *Assignments, mode JoinMode) ([]Row, Stats) {
	st := Stats{Mode: mode}
	seen := make(map[string]bool)

	var rows []Row
	for _, s := range seq.Steps() {
		st.Input++
		seen[s.ClientID] = true

		arm, found := a.Arm(s.ClientID)
		if !found && !mode.keepsUnassigned() {
			st.Dropped++
			continue
		}
		st.Kept++
		if !found {
			st.Unassigned++
		}
		rows = append(rows, Row{Step: s, HasEvent: true, Arm: arm, HasArm: arm != ""})
	}

	if mode.keepsEventless() {
		for _, c := range a.Clients() {
			if seen[c] {
				continue
			}
			arm, _ := a.Arm(c)
			st.Eventless++
			row := Row{Arm: arm, HasArm: arm != ""}
			row.ClientID = c
			rows = append(rows, row)
		}
	}

	return rows, st
}

// VisitRow is one visit with the arm of its client attached.
type VisitRow struct {
	sequence.Visit
	HasVisit bool // false for an assigned client that has no visits

	Arm    string
	HasArm bool
}

// JoinVisits is Join at visit granularity. A visit takes the client of its first event.
func JoinVisits(seq *sequence.Sequenced, a *Assignments, mode JoinMode) ([]VisitRow, Stats) {
	st := Stats{Mode: mode}
	seen := make(map[string]bool)

	var rows []VisitRow
	for _, v := range seq.Visits() {
		st.Input++
		seen[v.ClientID] = true

		arm, found := a.Arm(v.ClientID)
		if !found && !mode.keepsUnassigned() {
			st.Dropped++
			continue
		}
		st.Kept++
		if !found {
			st.Unassigned++
		}
		rows = append(rows, VisitRow{Visit: v, HasVisit: true, Arm: arm, HasArm: arm != ""})
	}

	if mode.keepsEventless() {
		for _, c := range a.Clients() {
			if seen[c] {
				continue
			}
			arm, _ := a.Arm(c)
			st.Eventless++
			rows = append(rows, VisitRow{
				Visit:  sequence.Visit{ClientID: c},
				Arm:    arm,
				HasArm: arm != "",
			})
		}
	}

	return rows, st
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
