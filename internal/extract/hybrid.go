package extract

import (
	"context"
	"log/slog"

	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/preprocess"
)

// Hybrid runs the structured backend first, then asks the vision backend to
// validate and enhance the draft against the original artifact. A failed
// validation call degrades to the structured result, with a warning that it
// was returned unverified.
type Hybrid struct {
	structured StructuredExtractor
	vision     VisionExtractor
}

func NewHybrid(structured StructuredExtractor, vision VisionExtractor) *Hybrid {
	return &Hybrid{structured: structured, vision: vision}
}

func (h *Hybrid) Extract(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint MetadataHint) (*models.Timetable, error) {
	draft, err := h.structured.Extract(ctx, artifact, hint)
	if err != nil {
		return nil, err
	}

	validated, err := h.vision.Validate(ctx, artifact, draft, hint)
	if err != nil {
		slog.Warn("hybrid validation pass failed, returning structured result", "error", err)
		draft.Warnings = append(draft.Warnings, "hybrid validation unavailable; structured result returned unverified")
		return draft, nil
	}
	return validated, nil
}
