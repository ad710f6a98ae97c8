// Package roster loads competitor registrations from the registration
// spreadsheet export.
//
// The sheet is laid out in blocks of four columns, one block per category:
//
//	row 1   title (ignored)
//	row 2   category name at column 1, 5, 9, ... until an empty cell
//	row 3   column captions (ignored)
//	row 4+  name, model, number for each category block
//
// Column 0 and the fourth column of each block are free text and ignored.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/laps.report/internal/fsutil"
	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
)

const (
	firstCategoryColumn = 1
	blockWidth          = 4
)

// ErrMalformed is returned when the sheet is missing its header rows.
var ErrMalformed = errors.New("malformed roster sheet")

type column struct {
	name  string
	index int
}

// LoadCSV reads and parses the roster at path and builds the race roster.
func LoadCSV(fsys fsutil.FileSystem, path string) (*race.Roster, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	groups, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	r, err := race.NewRoster(groups)
	if err != nil {
		return nil, fmt.Errorf("build roster %s: %w", path, err)
	}
	monitoring.Logf("loaded roster %s: %d competitors in %d categories", path, r.Len(), len(groups))
	return r, nil
}

// ParseCSV parses the sheet into per-category entries. Incomplete rows and
// rows whose number is not an integer are skipped.
func ParseCSV(r io.Reader) ([]race.CategoryEntries, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("%w: title row: %v", ErrMalformed, err)
	}
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: category row: %v", ErrMalformed, err)
	}
	columns := categoryColumns(header)
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no categories in header", ErrMalformed)
	}
	if _, err := cr.Read(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: caption row: %v", ErrMalformed, err)
	}

	groups := make([]race.CategoryEntries, len(columns))
	for i, c := range columns {
		groups[i].Name = c.name
	}

	line := 3
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line++

		for i, c := range columns {
			e, ok := parseEntry(rec, c.index)
			if !ok {
				continue
			}
			if e.Number < 0 {
				monitoring.Logf("roster line %d: %s: invalid race number for %q, skipping", line, c.name, e.Name)
				continue
			}
			groups[i].Entries = append(groups[i].Entries, e)
		}
	}
	return groups, nil
}

func categoryColumns(header []string) []column {
	var out []column
	for i := firstCategoryColumn; i < len(header); i += blockWidth {
		name := strings.TrimSpace(header[i])
		if name == "" {
			break
		}
		out = append(out, column{name: name, index: i})
	}
	return out
}

// parseEntry reads the block starting at idx. It returns false when any of
// the three cells is missing or empty, and an entry with Number -1 when the
// number is not a valid integer.
func parseEntry(rec []string, idx int) (race.Entry, bool) {
	if idx+2 >= len(rec) {
		return race.Entry{}, false
	}
	name := strings.TrimSpace(rec[idx])
	model := strings.TrimSpace(rec[idx+1])
	num := strings.TrimSpace(rec[idx+2])
	if name == "" || model == "" || num == "" {
		return race.Entry{}, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		n = -1
	}
	return race.Entry{Name: name, Model: model, Number: n}, true
}
