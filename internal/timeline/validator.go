// Package timeline repairs extracted timetables: it orders each day's blocks,
// resolves overlaps, fills gaps, and reports coverage problems. Validation is
// pure and idempotent; validating an already-validated timetable changes
// nothing.
package timeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fedutinova/timegrid/internal/models"
)

// Gap handling boundaries, in minutes.
const (
	smallGapMax      = 5  // extend the previous block
	transitionGapMax = 10 // below this a synthetic gap block is a Transition
)

// Day-coverage expectations for the second pass.
const (
	expectedDayStart = 9 * 60  // 09:00
	expectedDayEnd   = 15 * 60 // 15:00
)

// Validate returns a repaired copy of t plus the warnings the repair emitted.
// Recurring blocks are never folded into the per-day sequences here; Merge is
// the read-side operation for that.
func Validate(t *models.Timetable) (*models.Timetable, []string) {
	out := *t
	out.Blocks = nil
	var warnings []string

	byDay := map[string][]models.TimeBlock{}
	for _, b := range t.Blocks {
		if !models.IsWeekday(b.Day) || b.Start >= b.End {
			warnings = append(warnings, fmt.Sprintf("dropped_block: %q (%s %s-%s) is not a valid weekday block",
				b.EventName, b.Day, models.MinutesToClock(b.Start), models.MinutesToClock(b.End)))
			continue
		}
		byDay[b.Day] = append(byDay[b.Day], b)
	}

	for _, day := range models.Weekdays {
		blocks := byDay[day]
		if len(blocks) == 0 {
			continue
		}
		repaired, w := validateDay(day, blocks, t.RecurringBlocks)
		out.Blocks = append(out.Blocks, repaired...)
		warnings = append(warnings, w...)
	}

	// dedupe keeps re-validation from accumulating identical warnings, which
	// makes Validate idempotent over the whole value, warnings included
	out.Warnings = dedupe(append(append([]string(nil), t.Warnings...), warnings...))
	return &out, warnings
}

func dedupe(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	var out []string
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func validateDay(day string, blocks []models.TimeBlock, recurring []models.RecurringBlock) ([]models.TimeBlock, []string) {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Start != blocks[j].Start {
			return blocks[i].Start < blocks[j].Start
		}
		return blocks[i].End < blocks[j].End
	})

	var out []models.TimeBlock
	var warnings []string

	for _, cur := range blocks {
		if len(out) == 0 {
			out = append(out, cur)
			continue
		}
		prev := &out[len(out)-1]
		gap := cur.Start - prev.End

		switch {
		case gap < 0:
			if cur.Start <= prev.Start {
				// fully swallowed: shrinking would invert the block
				warnings = append(warnings, fmt.Sprintf("overlap: %s %q swallowed by %q; dropped",
					day, prev.EventName, cur.EventName))
				out[len(out)-1] = cur
				continue
			}
			warnings = append(warnings, fmt.Sprintf("overlap: %s %q overlaps %q; end moved to %s",
				day, prev.EventName, cur.EventName, models.MinutesToClock(cur.Start)))
			prev.End = cur.Start

		case gap > 0 && coveredByRecurring(prev.End, cur.Start, recurring):
			warnings = append(warnings, fmt.Sprintf("gap_covered_by_recurring: %s %s-%s between %q and %q",
				day, models.MinutesToClock(prev.End), models.MinutesToClock(cur.Start), prev.EventName, cur.EventName))

		case gap > 0 && gap <= smallGapMax:
			warnings = append(warnings, fmt.Sprintf("small_gap_filled: %s %q extended %d minutes to meet %q",
				day, prev.EventName, gap, cur.EventName))
			prev.End = cur.Start

		case gap > smallGapMax:
			name := "Free Period"
			if gap < transitionGapMax {
				name = "Transition"
			}
			out = append(out, models.TimeBlock{
				Day:       day,
				Start:     prev.End,
				End:       cur.Start,
				EventName: name,
				Notes:     fmt.Sprintf("Auto-inserted to fill %d-minute gap", gap),
			})
			warnings = append(warnings, fmt.Sprintf("gap_filled: %s %s-%s filled with %q",
				day, models.MinutesToClock(prev.End), models.MinutesToClock(cur.Start), name))
		}

		out = append(out, cur)
	}

	if len(out) > 0 {
		if out[0].Start > expectedDayStart {
			warnings = append(warnings, fmt.Sprintf("missing_coverage: %s starts at %s, after expected %s",
				day, models.MinutesToClock(out[0].Start), models.MinutesToClock(expectedDayStart)))
		}
		if last := out[len(out)-1]; last.End < expectedDayEnd {
			warnings = append(warnings, fmt.Sprintf("missing_coverage: %s ends at %s, before expected %s",
				day, models.MinutesToClock(last.End), models.MinutesToClock(expectedDayEnd)))
		}
	}

	return out, warnings
}

// coveredByRecurring reports whether [start, end) intersects any recurring
// block window.
func coveredByRecurring(start, end int, recurring []models.RecurringBlock) bool {
	for _, rb := range recurring {
		if rb.Start < end && start < rb.End {
			return true
		}
	}
	return false
}

// Merge is the read-side unified view: recurring blocks expanded into every
// weekday they apply to, interleaved with that day's blocks in start order.
// The stored timetable is never mutated.
func Merge(t *models.Timetable) map[string][]models.TimeBlock {
	out := map[string][]models.TimeBlock{}
	for _, b := range t.Blocks {
		out[b.Day] = append(out[b.Day], b)
	}

	for _, rb := range t.RecurringBlocks {
		for _, day := range models.Weekdays {
			if !rb.AppliesDaily && !recurringNamesDay(rb, day) {
				continue
			}
			out[day] = append(out[day], models.TimeBlock{
				Day:       day,
				Start:     rb.Start,
				End:       rb.End,
				EventName: rb.EventName,
				Notes:     rb.Notes,
				IsFixed:   true,
			})
		}
	}

	for day := range out {
		blocks := out[day]
		sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Start < blocks[j].Start })
		out[day] = blocks
	}
	return out
}

// recurringNamesDay checks whether a non-daily recurring block enumerates the
// day in its notes.
func recurringNamesDay(rb models.RecurringBlock, day string) bool {
	return rb.Notes != "" && strings.Contains(strings.ToLower(rb.Notes), strings.ToLower(day))
}
