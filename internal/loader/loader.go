package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/frame"
)

// Options controls how CSV tables are read.
type Options struct {
	Separator rune
	// ParseTime rewrites TimeColumn into a canonical layout on load. The column
	// is skipped silently when the table does not have it.
	ParseTime  bool
	TimeColumn string
}

func DefaultOptions() Options {
	return Options{Separator: ',', ParseTime: true, TimeColumn: "date_time"}
}

// Read parses a CSV table with a header row.
func Read(r io.Reader, sep rune) (*frame.Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty table: no header row")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+1, err)
		}
		// short rows are padded by frame.New; extra cells would be lost
		if len(rec) > len(header) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", len(rows)+1, len(rec), len(header))
		}
		rows = append(rows, rec)
	}
	return frame.New(header, rows), nil
}

// ReadFile reads one CSV file.
func ReadFile(path string, sep rune) (*frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	fr, err := Read(f, sep)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fr, nil
}

// LoadEventLog reads the event log parts and stacks them into one table.
func LoadEventLog(opts Options, paths ...string) (*frame.Frame, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no event log files given")
	}

	parts := make([]*frame.Frame, 0, len(paths))
	for _, p := range paths {
		f, err := ReadFile(p, opts.Separator)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}

	web := frame.Concat(parts...)
	if opts.ParseTime && opts.TimeColumn != "" && web.Has(opts.TimeColumn) {
		return events.ParseTimestamps(web, opts.TimeColumn)
	}
	return web, nil
}

// LoadAssignments reads the experiment assignment table.
func LoadAssignments(opts Options, path string) (*frame.Frame, error) {
	return ReadFile(path, opts.Separator)
}
