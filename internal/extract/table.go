package extract

import (
	"regexp"
	"strings"

	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/models"
)

// Table is a rectangular cell grid produced by a document-understanding
// service. Row 0 / column 0 typically hold headers.
type Table [][]string

// structuredConfidence is assigned to every block converted from a table cell.
const structuredConfidence = 0.85

var timeRangeRe = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[-–]\s*(\d{1,2}):(\d{2})`)

var dayNames = map[string]string{
	"monday": "Monday", "mon": "Monday",
	"tuesday": "Tuesday", "tue": "Tuesday", "tues": "Tuesday",
	"wednesday": "Wednesday", "wed": "Wednesday",
	"thursday": "Thursday", "thu": "Thursday", "thur": "Thursday", "thurs": "Thursday",
	"friday": "Friday", "fri": "Friday",
}

// canonicalDay resolves a header cell to a weekday name, full or 3-letter,
// case-insensitive. Empty string when the cell is not a day header.
func canonicalDay(cell string) string {
	key := strings.ToLower(strings.TrimSpace(cell))
	key = strings.TrimSuffix(key, ".")
	return dayNames[key]
}

// parseTimeRange extracts start/end minute-of-day from a "H:MM-H:MM" cell.
func parseTimeRange(cell string) (start, end int, ok bool) {
	m := timeRangeRe.FindStringSubmatch(cell)
	if m == nil {
		return 0, 0, false
	}
	start, err1 := models.ClockToMinutes(m[1] + ":" + m[2])
	end, err2 := models.ClockToMinutes(m[3] + ":" + m[4])
	if err1 != nil || err2 != nil || start >= end {
		return 0, 0, false
	}
	return start, end, true
}

// TableToTimetable converts the first detected table into a timetable.
// Orientation is auto-detected: day names may head the columns (times run
// down the first column) or head the rows (times run across the header row).
func TableToTimetable(table Table, hint MetadataHint) (*models.Timetable, error) {
	if len(table) < 2 || len(table[0]) < 2 {
		return nil, common.Ef(common.KindStructuredBackend, "extract.table", "table too small: %dx%d", len(table), colCount(table))
	}

	t := &models.Timetable{}

	headerDays := dayColumns(table[0])
	firstColDays := dayRows(table)

	switch {
	case len(headerDays) > 0:
		// days as columns: each row starts with a time range
		for r := 1; r < len(table); r++ {
			row := table[r]
			start, end, ok := parseTimeRange(row[0])
			if !ok {
				continue
			}
			for c := 0; c < len(row); c++ {
				day, ok := headerDays[c]
				if !ok {
					continue
				}
				appendCell(t, day, start, end, row[c])
			}
		}
	case len(firstColDays) > 0:
		// days as rows: the header row carries the time ranges
		for r := 1; r < len(table); r++ {
			day := firstColDays[r]
			if day == "" {
				continue
			}
			row := table[r]
			for c := 1; c < len(row) && c < len(table[0]); c++ {
				start, end, ok := parseTimeRange(table[0][c])
				if !ok {
					continue
				}
				appendCell(t, day, start, end, row[c])
			}
		}
	default:
		return nil, common.Ef(common.KindStructuredBackend, "extract.table", "no weekday header row or column detected")
	}

	if len(t.Blocks) == 0 {
		return nil, common.Ef(common.KindStructuredBackend, "extract.table", "no schedulable cells found in table")
	}

	hint.Apply(t)
	return t, nil
}

func appendCell(t *models.Timetable, day string, start, end int, cell string) {
	name := strings.TrimSpace(cell)
	if name == "" || day == "" {
		return
	}
	conf := structuredConfidence
	t.Blocks = append(t.Blocks, models.TimeBlock{
		Day:        day,
		Start:      start,
		End:        end,
		EventName:  name,
		Confidence: &conf,
	})
}

// dayColumns maps column index -> weekday for a header row.
func dayColumns(header []string) map[int]string {
	out := map[int]string{}
	for c, cell := range header {
		if day := canonicalDay(cell); day != "" {
			out[c] = day
		}
	}
	return out
}

// dayRows maps row index -> weekday for the first column.
func dayRows(table Table) map[int]string {
	out := map[int]string{}
	for r := 1; r < len(table); r++ {
		if len(table[r]) == 0 {
			continue
		}
		if day := canonicalDay(table[r][0]); day != "" {
			out[r] = day
		}
	}
	return out
}

func colCount(table Table) int {
	if len(table) == 0 {
		return 0
	}
	return len(table[0])
}
