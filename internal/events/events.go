package events

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/gkobilansky/funnel-goat/internal/frame"
)

// CanonicalLayout is the layout ParseTimestamps writes parsed values in.
const CanonicalLayout = time.RFC3339Nano

// Columns names the event log columns.
type Columns struct {
	Client string `yaml:"client"`
	Visit  string `yaml:"visit"`
	Step   string `yaml:"step"`
	// Time may be empty when the log carries no timestamp column at all.
	Time string `yaml:"time"`
}

// DefaultColumns returns the column names of the standard web log export.
func DefaultColumns() Columns {
	return Columns{
		Client: "client_id",
		Visit:  "visit_id",
		Step:   "process_step",
		Time:   "date_time",
	}
}

// Event is one row of the event log.
type Event struct {
	Row      int // position in the input table, used as the stable tie-breaker
	ClientID string
	VisitID  string
	Step     string
	Time     time.Time
	HasTime  bool // false when the timestamp was absent or unparsable
}

// datePart matches a complete calendar date with a four digit year: 2017-04-17,
// 04/17/2017, 20170417, Apr 17, 2017 or 17 April 2017. dateparse fills in
// missing fields, so fragments like "12:" or "2017-04-" would otherwise parse.
var datePart = regexp.MustCompile(`(?i)(^|[^0-9])(\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{4}|\d{8})([^0-9]|$)` +
	`|[a-z]{3,9}\.?\s+\d{1,2}(st|nd|rd|th)?,?\s+\d{4}|\d{1,2}\s+[a-z]{3,9}\.?,?\s+\d{4}`)

// unixStamp matches epoch seconds or milliseconds.
var unixStamp = regexp.MustCompile(`^\d{9,13}$`)

// ParseTimestamp parses a single raw timestamp in UTC. Blank, partial and
// unparsable values report false instead of an error.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "nat", "nan", "null", "none":
		return time.Time{}, false
	}
	if !unixStamp.MatchString(raw) && !datePart.MatchString(raw) {
		return time.Time{}, false
	}

	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil || t.Year() < 1 {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// ParseTimestamps returns a copy of f whose col values are rewritten in
// CanonicalLayout. Values that fail to parse become empty cells; no row is dropped.
func ParseTimestamps(f *frame.Frame, col string) (*frame.Frame, error) {
	raw, err := f.Values(col)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamps: %w", err)
	}

	out := make([]string, len(raw))
	for i, v := range raw {
		if t, ok := ParseTimestamp(v); ok {
			out[i] = t.Format(CanonicalLayout)
		}
	}
	return f.WithColumn(col, out)
}

// Normalize converts the raw event table into typed events, one per row, in row order.
// Referencing a column f does not have is an error; bad cell values are not.
func Normalize(f *frame.Frame, cols Columns) ([]Event, error) {
	idx, err := f.Require(cols.Client, cols.Visit, cols.Step)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize event log: %w", err)
	}

	timeCol := -1
	if cols.Time != "" {
		timeCol, err = f.Column(cols.Time)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize event log: %w", err)
		}
	}

	evs := make([]Event, f.Len())
	for r := range evs {
		e := Event{
			Row:      r,
			ClientID: strings.TrimSpace(f.Cell(r, idx[0])),
			VisitID:  strings.TrimSpace(f.Cell(r, idx[1])),
			Step:     strings.TrimSpace(f.Cell(r, idx[2])),
		}
		if timeCol >= 0 {
			e.Time, e.HasTime = ParseTimestamp(f.Cell(r, timeCol))
		}
		evs[r] = e
	}
	return evs, nil
}
