// Package orchestrator drives a single extraction: classify the artifact,
// pick a backend from the recommendation and the feature flags, fall back to
// vision on extractor failure, and validate the timeline. Transport-level
// retries are the worker pool's job, not done here.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/fedutinova/timegrid/internal/complexity"
	"github.com/fedutinova/timegrid/internal/extract"
	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/preprocess"
	"github.com/fedutinova/timegrid/internal/timeline"
)

// Method tags recorded on completed jobs.
const (
	MethodStructured          = "structured"
	MethodVision              = "vision"
	MethodHybrid              = "hybrid"
	MethodVisionErrorFallback = "vision_error_fallback"
)

// Options are the feature flags assembled once at startup.
type Options struct {
	StructuredEnabled     bool
	HybridEnabled         bool
	VisionFallbackEnabled bool
	// ValidateOutput gates the timeline validator: it runs only when this is
	// true, so the zero value returns the raw backend output.
	ValidateOutput bool
	BackendTimeout time.Duration
}

// Result is the orchestrator's answer for one artifact.
type Result struct {
	Data       *models.Timetable
	Method     string
	Complexity complexity.Result
	Elapsed    time.Duration
}

type Orchestrator struct {
	analyzer   *complexity.Analyzer
	structured extract.StructuredExtractor
	vision     extract.VisionExtractor
	opts       Options
}

func New(analyzer *complexity.Analyzer, structured extract.StructuredExtractor, vision extract.VisionExtractor, opts Options) *Orchestrator {
	return &Orchestrator{
		analyzer:   analyzer,
		structured: structured,
		vision:     vision,
		opts:       opts,
	}
}

// Run executes the pipeline for one preprocessed artifact.
func (o *Orchestrator) Run(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint extract.MetadataHint) (*Result, error) {
	start := time.Now()

	cls := o.analyzer.Classify(artifact)
	slog.Info("artifact classified",
		"level", cls.Level,
		"score", cls.Score,
		"recommended", cls.Recommended,
		"reasons", cls.Reasons)

	method, data, err := o.extract(ctx, artifact, hint, cls)
	if err != nil {
		if !o.opts.VisionFallbackEnabled || method == MethodVision {
			return nil, err
		}
		slog.Warn("primary extraction failed, retrying with vision backend", "method", method, "error", err)
		data, err = o.runBackend(ctx, func(ctx context.Context) (*models.Timetable, error) {
			return o.vision.Extract(ctx, artifact, hint)
		})
		if err != nil {
			return nil, err
		}
		method = MethodVisionErrorFallback
		cls = complexity.Result{
			Level:       complexity.LevelComplex,
			Score:       cls.Score,
			Reasons:     append(cls.Reasons, "primary extraction failed"),
			Recommended: complexity.BackendVision,
		}
	}

	if o.opts.ValidateOutput {
		validated, warnings := timeline.Validate(data)
		if len(warnings) > 0 {
			slog.Info("timeline validated", "warnings", len(warnings))
		}
		data = validated
	}

	return &Result{
		Data:       data,
		Method:     method,
		Complexity: cls,
		Elapsed:    time.Since(start),
	}, nil
}

// extract selects and runs the primary backend.
func (o *Orchestrator) extract(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint extract.MetadataHint, cls complexity.Result) (string, *models.Timetable, error) {
	run := func(method string, fn func(ctx context.Context) (*models.Timetable, error)) (string, *models.Timetable, error) {
		data, err := o.runBackend(ctx, fn)
		return method, data, err
	}

	switch {
	case cls.Recommended == complexity.BackendStructured && o.opts.StructuredEnabled:
		return run(MethodStructured, func(ctx context.Context) (*models.Timetable, error) {
			return o.structured.Extract(ctx, artifact, hint)
		})
	case cls.Recommended == complexity.BackendHybrid && o.opts.HybridEnabled && o.opts.StructuredEnabled:
		hybrid := extract.NewHybrid(o.structured, o.vision)
		return run(MethodHybrid, func(ctx context.Context) (*models.Timetable, error) {
			return hybrid.Extract(ctx, artifact, hint)
		})
	default:
		return run(MethodVision, func(ctx context.Context) (*models.Timetable, error) {
			return o.vision.Extract(ctx, artifact, hint)
		})
	}
}

func (o *Orchestrator) runBackend(ctx context.Context, fn func(ctx context.Context) (*models.Timetable, error)) (*models.Timetable, error) {
	if o.opts.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.BackendTimeout)
		defer cancel()
	}
	return fn(ctx)
}
