package variation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gkobilansky/funnel-goat/internal/frame"
)

var ErrConflictingAssignment = errors.New("client assigned to more than one arm")

// Experiment arms.
const (
	ArmControl = "Control"
	ArmTest    = "Test"
)

// Columns names the assignment table columns.
type Columns struct {
	Client string `yaml:"client"`
	Arm    string `yaml:"arm"`
}

func DefaultColumns() Columns {
	return Columns{Client: "client_id", Arm: "Variation"}
}

// Assignments maps client -> arm. A client listed with a blank arm is present
// in the table but has no arm.
type Assignments struct {
	arms    map[string]string
	clients []string
}

// NewAssignments reads the assignment table. Exact duplicate rows collapse; a
// client listed under two different arms is an error.
func NewAssignments(f *frame.Frame, cols Columns) (*Assignments, error) {
	idx, err := f.Require(cols.Client, cols.Arm)
	if err != nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}

	a := &Assignments{arms: make(map[string]string, f.Len())}
	for r := 0; r < f.Len(); r++ {
		client := strings.TrimSpace(f.Cell(r, idx[0]))
		arm := strings.TrimSpace(f.Cell(r, idx[1]))
		if err := a.add(client, arm); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// FromMap builds Assignments from client -> arm pairs, clients sorted for a stable order.
func FromMap(m map[string]string) *Assignments {
	a := &Assignments{arms: make(map[string]string, len(m))}
	for _, c := range sortedKeys(m) {
		_ = a.add(c, m[c])
	}
	return a
}

func (a *Assignments) add(client, arm string) error {
	if prev, ok := a.arms[client]; ok {
		if prev != arm {
			return fmt.Errorf("%w: %q is in %q and %q", ErrConflictingAssignment, client, prev, arm)
		}
		return nil
	}
	a.arms[client] = arm
	a.clients = append(a.clients, client)
	return nil
}

// Arm returns the client's arm. found is false when the client is not in the
// table; arm is empty when the client is listed without one.
func (a *Assignments) Arm(client string) (arm string, found bool) {
	arm, found = a.arms[client]
	return arm, found
}

// Clients returns the clients in table order.
func (a *Assignments) Clients() []string {
	return append([]string(nil), a.clients...)
}

func (a *Assignments) Len() int {
	return len(a.clients)
}
