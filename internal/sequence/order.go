package sequence

import (
	"maps"
	"slices"
)

// StepOrder maps a funnel step label to its rank. It is immutable once built.
type StepOrder struct {
	ranks map[string]int
}

// NewStepOrder copies ranks into a new StepOrder.
func NewStepOrder(ranks map[string]int) StepOrder {
	return StepOrder{ranks: maps.Clone(ranks)}
}

// DefaultStepOrder returns start < step_1 < step_2 < step_3 < confirm.
func DefaultStepOrder() StepOrder {
	return NewStepOrder(map[string]int{
		"start":   0,
		"step_1":  1,
		"step_2":  2,
		"step_3":  3,
		"confirm": 4,
	})
}

// Rank reports the rank of step and whether it has one.
func (o StepOrder) Rank(step string) (int, bool) {
	r, ok := o.ranks[step]
	return r, ok
}

// Map returns a copy of the underlying mapping.
func (o StepOrder) Map() map[string]int {
	return maps.Clone(o.ranks)
}

// Labels returns the ranked labels, lowest rank first.
func (o StepOrder) Labels() []string {
	labels := slices.Collect(maps.Keys(o.ranks))
	slices.SortFunc(labels, o.Compare)
	return labels
}

// Compare orders two labels by rank. Unranked labels sort after ranked ones,
// alphabetically among themselves.
func (o StepOrder) Compare(a, b string) int {
	ra, oka := o.ranks[a]
	rb, okb := o.ranks[b]
	switch {
	case oka && okb && ra != rb:
		return ra - rb
	case oka && !okb:
		return -1
	case !oka && okb:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
