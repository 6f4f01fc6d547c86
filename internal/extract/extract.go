package extract

import (
	"context"

	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/preprocess"
)

// MetadataHint carries caller-provided metadata. When present it overrides
// whatever the backends infer from the artifact.
type MetadataHint struct {
	TeacherName string
	ClassName   string
}

// Apply overlays the hint onto an extracted timetable.
func (h MetadataHint) Apply(t *models.Timetable) {
	if h.TeacherName != "" {
		t.TeacherName = h.TeacherName
	}
	if h.ClassName != "" {
		t.ClassName = h.ClassName
	}
}

// StructuredExtractor is a table-aware document-understanding backend.
type StructuredExtractor interface {
	Extract(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint MetadataHint) (*models.Timetable, error)
}

// VisionExtractor is a multimodal model backend. Validate is the hybrid
// second pass: it reviews an initial result against the original artifact.
type VisionExtractor interface {
	Extract(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint MetadataHint) (*models.Timetable, error)
	Validate(ctx context.Context, artifact *preprocess.ProcessedArtifact, initial *models.Timetable, hint MetadataHint) (*models.Timetable, error)
}
