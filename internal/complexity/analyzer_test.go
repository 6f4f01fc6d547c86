package complexity

import (
	"strings"
	"testing"

	"github.com/fedutinova/timegrid/internal/preprocess"
)

func TestClassify_CleanTextIsSimple(t *testing.T) {
	a := NewAnalyzer()
	artifact := &preprocess.ProcessedArtifact{
		Text: "Monday Tuesday Wednesday Thursday Friday\n" +
			"09:00-10:00 Mathematics with the whole class in the main room\n" +
			"10:00-11:00 English literature reading and comprehension\n" +
			"11:00-12:00 Science experiments in the laboratory building",
		MimeType: "text/plain",
	}

	res := a.Classify(artifact)

	if res.Level != LevelSimple {
		t.Fatalf("expected simple, got %s (score %.2f, reasons %v)", res.Level, res.Score, res.Reasons)
	}
	if res.Recommended != BackendStructured {
		t.Fatalf("expected structured recommendation, got %s", res.Recommended)
	}
}

func TestClassify_HandwritingRecommendsVision(t *testing.T) {
	a := NewAnalyzer()
	// mid-word capitals plus OCR confusion glyphs
	artifact := &preprocess.ProcessedArtifact{
		Text:     "MoNday maThs | EngLish l1 teaChing 0O notes rn | SciEnce cl room | LuNch breAk | ArT leSSon",
		MimeType: "image/png",
	}

	res := a.Classify(artifact)

	if res.Recommended != BackendVision {
		t.Fatalf("expected vision for handwriting, got %s (level %s, score %.2f)", res.Recommended, res.Level, res.Score)
	}
	found := false
	for _, r := range res.Reasons {
		if strings.Contains(r, "handwriting") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected handwriting reason, got %v", res.Reasons)
	}
}

func TestClassify_ScannedPDFReason(t *testing.T) {
	a := NewAnalyzer()
	artifact := &preprocess.ProcessedArtifact{
		Text:       "  ",
		MimeType:   "application/pdf",
		ImageBytes: []byte("%PDF-1.4 ..."),
	}

	res := a.Classify(artifact)

	found := false
	for _, r := range res.Reasons {
		if strings.Contains(r, "scanned PDF") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected scanned PDF reason, got %v", res.Reasons)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	a := NewAnalyzer()
	artifact := &preprocess.ProcessedArtifact{
		Text:     "m0nday | tue w3d | : ; fr1 . , ! ? x y z q w",
		MimeType: "image/png",
	}

	first := a.Classify(artifact)
	for i := 0; i < 5; i++ {
		again := a.Classify(artifact)
		if again.Score != first.Score || again.Level != first.Level || again.Recommended != first.Recommended {
			t.Fatalf("classification not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestClassify_ScoreThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelSimple},
		{0.29, LevelSimple},
		{0.30, LevelMedium},
		{0.59, LevelMedium},
		{0.60, LevelComplex},
		{1.0, LevelComplex},
	}
	for _, c := range cases {
		level := LevelSimple
		switch {
		case c.score >= thresholdMedium:
			level = LevelComplex
		case c.score >= thresholdSimple:
			level = LevelMedium
		}
		if level != c.want {
			t.Fatalf("score %.2f: expected %s, got %s", c.score, c.want, level)
		}
	}
}
