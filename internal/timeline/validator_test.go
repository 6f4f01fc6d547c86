package timeline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/fedutinova/timegrid/internal/models"
)

func block(day string, start, end int, name string) models.TimeBlock {
	return models.TimeBlock{Day: day, Start: start, End: end, EventName: name}
}

func warningsWithPrefix(warnings []string, prefix string) []string {
	var out []string
	for _, w := range warnings {
		if strings.HasPrefix(w, prefix) {
			out = append(out, w)
		}
	}
	return out
}

func TestValidate_SmallGapExtendsPreviousBlock(t *testing.T) {
	in := &models.Timetable{Blocks: []models.TimeBlock{
		block("Monday", 9*60, 9*60+30, "Maths"),
		block("Monday", 9*60+33, 10*60, "English"),
	}}

	out, warnings := Validate(in)

	if len(out.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(out.Blocks))
	}
	if out.Blocks[0].End != 9*60+33 {
		t.Fatalf("expected Maths extended to 09:33, got %s", models.MinutesToClock(out.Blocks[0].End))
	}
	if got := warningsWithPrefix(warnings, "small_gap_filled"); len(got) != 1 {
		t.Fatalf("expected one small_gap_filled warning, got %v", warnings)
	}
}

func TestValidate_GapCoveredByRecurringIsPreserved(t *testing.T) {
	in := &models.Timetable{
		Blocks: []models.TimeBlock{
			block("Monday", 9*60, 9*60+30, "Maths"),
			block("Monday", 9*60+45, 10*60, "English"),
		},
		RecurringBlocks: []models.RecurringBlock{
			{Start: 9*60 + 30, End: 9*60 + 45, EventName: "Break", AppliesDaily: true},
		},
	}

	out, warnings := Validate(in)

	if len(out.Blocks) != 2 {
		t.Fatalf("expected no synthetic block, got %d blocks", len(out.Blocks))
	}
	if out.Blocks[0].End != 9*60+30 {
		t.Fatalf("expected Maths untouched, got end %s", models.MinutesToClock(out.Blocks[0].End))
	}
	if got := warningsWithPrefix(warnings, "gap_covered_by_recurring"); len(got) != 1 {
		t.Fatalf("expected one gap_covered_by_recurring warning, got %v", warnings)
	}
}

func TestValidate_OverlapShrinksPreviousBlock(t *testing.T) {
	in := &models.Timetable{Blocks: []models.TimeBlock{
		block("Tuesday", 9*60, 10*60, "Maths"),
		block("Tuesday", 9*60+45, 10*60+30, "English"),
	}}

	out, warnings := Validate(in)

	if out.Blocks[0].End != 9*60+45 {
		t.Fatalf("expected Maths shrunk to 09:45, got %s", models.MinutesToClock(out.Blocks[0].End))
	}
	if got := warningsWithPrefix(warnings, "overlap"); len(got) != 1 {
		t.Fatalf("expected one overlap warning, got %v", warnings)
	}
}

func TestValidate_GapFilledWithTransitionAndFreePeriod(t *testing.T) {
	in := &models.Timetable{Blocks: []models.TimeBlock{
		block("Wednesday", 9*60, 9*60+30, "Maths"),
		block("Wednesday", 9*60+37, 10*60, "English"),  // 7 min gap -> Transition
		block("Wednesday", 10*60+20, 11*60, "Science"), // 20 min gap -> Free Period
	}}

	out, _ := Validate(in)

	if len(out.Blocks) != 5 {
		t.Fatalf("expected 5 blocks after gap filling, got %d", len(out.Blocks))
	}

	synth1 := out.Blocks[1]
	if synth1.EventName != "Transition" {
		t.Fatalf("expected Transition for 7-minute gap, got %q", synth1.EventName)
	}
	if synth1.Notes != "Auto-inserted to fill 7-minute gap" {
		t.Fatalf("unexpected notes: %q", synth1.Notes)
	}

	synth2 := out.Blocks[3]
	if synth2.EventName != "Free Period" {
		t.Fatalf("expected Free Period for 20-minute gap, got %q", synth2.EventName)
	}

	// synthetic blocks must be contiguous with their neighbors
	if out.Blocks[0].End != synth1.Start || synth1.End != out.Blocks[2].Start {
		t.Fatalf("Transition block not contiguous: %v", out.Blocks[:3])
	}
	if out.Blocks[2].End != synth2.Start || synth2.End != out.Blocks[4].Start {
		t.Fatalf("Free Period block not contiguous: %v", out.Blocks[2:])
	}
}

func TestValidate_SortsUnorderedBlocks(t *testing.T) {
	in := &models.Timetable{Blocks: []models.TimeBlock{
		block("Monday", 13*60, 14*60, "PE"),
		block("Monday", 9*60, 10*60, "Maths"),
		block("Monday", 11*60, 12*60, "English"),
	}}

	out, _ := Validate(in)

	for i := 1; i < len(out.Blocks); i++ {
		if out.Blocks[i-1].Start > out.Blocks[i].Start {
			t.Fatalf("blocks not sorted: %v", out.Blocks)
		}
	}
}

func TestValidate_NoOverlapAfterValidation(t *testing.T) {
	in := &models.Timetable{Blocks: []models.TimeBlock{
		block("Monday", 9*60, 10*60, "A"),
		block("Monday", 9*60+30, 11*60, "B"),
		block("Monday", 10*60+45, 12*60, "C"),
		block("Friday", 8*60, 9*60, "D"),
		block("Friday", 8*60+30, 8*60+50, "E"),
	}}

	out, _ := Validate(in)

	byDay := map[string][]models.TimeBlock{}
	for _, b := range out.Blocks {
		if b.Start >= b.End {
			t.Fatalf("block violates start < end: %+v", b)
		}
		byDay[b.Day] = append(byDay[b.Day], b)
	}
	for day, blocks := range byDay {
		for i := 1; i < len(blocks); i++ {
			if blocks[i-1].End > blocks[i].Start {
				t.Fatalf("%s has overlap after validation: %+v / %+v", day, blocks[i-1], blocks[i])
			}
		}
	}
}

func TestValidate_Idempotent(t *testing.T) {
	in := &models.Timetable{
		Blocks: []models.TimeBlock{
			block("Monday", 9*60, 9*60+30, "Maths"),
			block("Monday", 9*60+33, 10*60, "English"),
			block("Monday", 10*60+20, 11*60, "Science"),
			block("Tuesday", 9*60, 10*60, "Maths"),
			block("Tuesday", 9*60+45, 11*60, "Art"),
		},
		RecurringBlocks: []models.RecurringBlock{
			{Start: 12 * 60, End: 12*60 + 45, EventName: "Lunch", AppliesDaily: true},
		},
	}

	once, _ := Validate(in)
	twice, _ := Validate(once)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("validate not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestValidate_MissingCoverageWarnings(t *testing.T) {
	in := &models.Timetable{Blocks: []models.TimeBlock{
		block("Monday", 10*60, 14*60, "Long Lesson"), // starts late, ends early
	}}

	_, warnings := Validate(in)

	got := warningsWithPrefix(warnings, "missing_coverage")
	if len(got) != 2 {
		t.Fatalf("expected 2 missing_coverage warnings, got %v", warnings)
	}
}

func TestValidate_RecurringBlocksNeverMerged(t *testing.T) {
	in := &models.Timetable{
		Blocks: []models.TimeBlock{block("Monday", 9*60, 15*60, "Teaching")},
		RecurringBlocks: []models.RecurringBlock{
			{Start: 12 * 60, End: 12*60 + 30, EventName: "Lunch", AppliesDaily: true},
		},
	}

	out, _ := Validate(in)

	if len(out.Blocks) != 1 {
		t.Fatalf("recurring block leaked into per-day sequence: %+v", out.Blocks)
	}
	if len(out.RecurringBlocks) != 1 {
		t.Fatalf("recurring blocks lost: %+v", out.RecurringBlocks)
	}
}

func TestMerge_ExpandsDailyRecurringBlocks(t *testing.T) {
	in := &models.Timetable{
		Blocks: []models.TimeBlock{
			block("Monday", 9*60, 10*60, "Maths"),
			block("Tuesday", 9*60, 10*60, "English"),
		},
		RecurringBlocks: []models.RecurringBlock{
			{Start: 8*60 + 45, End: 9 * 60, EventName: "Registration", AppliesDaily: true},
		},
	}

	merged := Merge(in)

	for _, day := range models.Weekdays {
		blocks := merged[day]
		if len(blocks) == 0 {
			t.Fatalf("expected registration on %s", day)
		}
		if blocks[0].EventName != "Registration" {
			t.Fatalf("expected Registration first on %s, got %q", day, blocks[0].EventName)
		}
		if !blocks[0].IsFixed {
			t.Fatalf("expanded recurring block should be fixed")
		}
	}
	if len(merged["Monday"]) != 2 {
		t.Fatalf("expected 2 blocks on Monday, got %d", len(merged["Monday"]))
	}
}

func TestMerge_EnumeratedDaysOnly(t *testing.T) {
	in := &models.Timetable{
		RecurringBlocks: []models.RecurringBlock{
			{Start: 15 * 60, End: 16 * 60, EventName: "Staff Meeting", AppliesDaily: false, Notes: "Monday and Wednesday"},
		},
	}

	merged := Merge(in)

	if len(merged["Monday"]) != 1 || len(merged["Wednesday"]) != 1 {
		t.Fatalf("expected meeting on Monday and Wednesday: %v", merged)
	}
	if len(merged["Tuesday"]) != 0 {
		t.Fatalf("meeting leaked onto Tuesday: %v", merged["Tuesday"])
	}
}
