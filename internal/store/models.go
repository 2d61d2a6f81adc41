package store

import "time"

// Experiment groups one imported event log with its arm assignments.
type Experiment struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Counts summarizes what has been imported for an experiment.
type Counts struct {
	Events      int
	Visits      int
	Clients     int
	Assigned    int
	ClientsBy   map[string]int // assigned clients per arm
	UntimedRows int            // events imported without a usable timestamp
}
