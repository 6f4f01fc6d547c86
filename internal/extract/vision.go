package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/preprocess"
)

const extractionSystemPrompt = `You are a timetable extraction engine. You receive a teacher's weekly timetable as an image or document plus any OCR text available. Extract the schedule and respond with exactly one JSON document and nothing else, matching this schema:

{
  "metadata": {"teacherName": string, "className": string, "term": string, "week": string},
  "blocks": [{"day": "Monday".."Friday", "startTime": "HH:MM", "endTime": "HH:MM", "eventName": string, "notes": string, "color": string, "confidence": number 0..1, "isFixed": boolean}],
  "recurringBlocks": [{"startTime": "HH:MM", "endTime": "HH:MM", "eventName": string, "appliesDaily": boolean, "notes": string}],
  "warnings": [string]
}

Rules:
- Times are 24-hour HH:MM. Every block must have startTime earlier than endTime.
- Events that occur at the same time every day (registration, breaks, lunch, assembly) belong in recurringBlocks with appliesDaily true, not repeated per day.
- Omit metadata fields you cannot read. Never invent events.
- Put anything uncertain or illegible into warnings.`

const validationSystemPrompt = `You are a timetable validation engine. You receive a draft timetable extracted by a table parser plus the original artifact. Correct recognition errors, fill schedule gaps you can read from the artifact, and identify daily recurring events (registration, breaks, lunch) that belong in recurringBlocks rather than per-day blocks. Respond with exactly one JSON document in the same schema as the draft:

{
  "metadata": {"teacherName": string, "className": string, "term": string, "week": string},
  "blocks": [...],
  "recurringBlocks": [...],
  "warnings": [string]
}

Keep every correct entry of the draft. Record each correction you make as a warning.`

// OpenAIAPI is the slice of the OpenAI client the extractor uses.
type OpenAIAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIVisionExtractor is the vision backend: a multimodal model under a
// fixed JSON contract, temperature 0 for determinism.
type OpenAIVisionExtractor struct {
	client OpenAIAPI
	model  string
}

func NewOpenAIVisionExtractor(apiKey, model string) *OpenAIVisionExtractor {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIVisionExtractor{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIVisionExtractorWithClient injects a client, used by tests.
func NewOpenAIVisionExtractorWithClient(client OpenAIAPI, model string) *OpenAIVisionExtractor {
	return &OpenAIVisionExtractor{client: client, model: model}
}

func (e *OpenAIVisionExtractor) Extract(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint MetadataHint) (*models.Timetable, error) {
	content := e.buildContent(artifact, hint, "")
	return e.complete(ctx, extractionSystemPrompt, content, hint)
}

// Validate is the hybrid second pass: the draft result rides along as text
// and the model corrects it against the artifact.
func (e *OpenAIVisionExtractor) Validate(ctx context.Context, artifact *preprocess.ProcessedArtifact, initial *models.Timetable, hint MetadataHint) (*models.Timetable, error) {
	draft, err := json.Marshal(timetableToWire(initial))
	if err != nil {
		return nil, common.E(common.KindVisionBackend, "extract.vision.validate", err)
	}
	content := e.buildContent(artifact, hint, string(draft))
	return e.complete(ctx, validationSystemPrompt, content, hint)
}

func (e *OpenAIVisionExtractor) buildContent(artifact *preprocess.ProcessedArtifact, hint MetadataHint, draft string) []openai.ChatMessagePart {
	var content []openai.ChatMessagePart

	// image evidence first: the model reads pixels better when they lead
	if artifact.HasImage() {
		encoded := base64.StdEncoding.EncodeToString(artifact.ImageBytes)
		content = append(content, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", artifact.MimeType, encoded),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	if text := strings.TrimSpace(artifact.Text); text != "" {
		content = append(content, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: "OCR text of the artifact:\n" + text,
		})
	}

	if hint.TeacherName != "" || hint.ClassName != "" {
		content = append(content, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: fmt.Sprintf("Known metadata: teacherName=%q className=%q", hint.TeacherName, hint.ClassName),
		})
	}

	if draft != "" {
		content = append(content, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: "Draft timetable to validate:\n" + draft,
		})
	}

	return content
}

func (e *OpenAIVisionExtractor) complete(ctx context.Context, systemPrompt string, content []openai.ChatMessagePart, hint MetadataHint) (*models.Timetable, error) {
	if len(content) == 0 {
		return nil, common.Ef(common.KindVisionBackend, "extract.vision", "no evidence to send to model")
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: content},
		},
		Temperature: 0,
		MaxTokens:   4000,
	})
	if err != nil {
		return nil, common.E(common.KindVisionBackend, "extract.vision", err)
	}
	if len(resp.Choices) == 0 {
		return nil, common.Ef(common.KindVisionBackend, "extract.vision", "no response from model")
	}

	slog.Info("vision model responded",
		"model", resp.Model,
		"tokens_used", resp.Usage.TotalTokens,
		"response_length", len(resp.Choices[0].Message.Content))

	t, err := ParseModelResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	hint.Apply(t)
	return t, nil
}

// timetableToWire renders a timetable in the HH:MM wire shape the model
// contract uses.
func timetableToWire(t *models.Timetable) map[string]any {
	blocks := make([]map[string]any, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		m := map[string]any{
			"day":       b.Day,
			"startTime": models.MinutesToClock(b.Start),
			"endTime":   models.MinutesToClock(b.End),
			"eventName": b.EventName,
			"isFixed":   b.IsFixed,
		}
		if b.Notes != "" {
			m["notes"] = b.Notes
		}
		if b.Confidence != nil {
			m["confidence"] = *b.Confidence
		}
		blocks = append(blocks, m)
	}

	recurring := make([]map[string]any, 0, len(t.RecurringBlocks))
	for _, rb := range t.RecurringBlocks {
		recurring = append(recurring, map[string]any{
			"startTime":    models.MinutesToClock(rb.Start),
			"endTime":      models.MinutesToClock(rb.End),
			"eventName":    rb.EventName,
			"appliesDaily": rb.AppliesDaily,
			"notes":        rb.Notes,
		})
	}

	return map[string]any{
		"metadata": map[string]any{
			"teacherName": t.TeacherName,
			"className":   t.ClassName,
			"term":        t.Term,
			"week":        t.Week,
		},
		"blocks":          blocks,
		"recurringBlocks": recurring,
		"warnings":        t.Warnings,
	}
}
