package extract

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/models"
)

// responseSchema is the contract the vision model is instructed to honor.
// Responses that fail validation are a validation_error, never partial output.
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["blocks"],
  "properties": {
    "metadata": {
      "type": "object",
      "properties": {
        "teacherName": {"type": "string"},
        "className": {"type": "string"},
        "term": {"type": "string"},
        "week": {"type": "string"}
      }
    },
    "blocks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["day", "startTime", "endTime", "eventName"],
        "properties": {
          "day": {"enum": ["Monday", "Tuesday", "Wednesday", "Thursday", "Friday"]},
          "startTime": {"type": "string", "pattern": "^[0-2]?[0-9]:[0-5][0-9]$"},
          "endTime": {"type": "string", "pattern": "^[0-2]?[0-9]:[0-5][0-9]$"},
          "eventName": {"type": "string", "minLength": 1},
          "notes": {"type": "string"},
          "color": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "isFixed": {"type": "boolean"}
        }
      }
    },
    "recurringBlocks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["startTime", "endTime", "eventName"],
        "properties": {
          "startTime": {"type": "string", "pattern": "^[0-2]?[0-9]:[0-5][0-9]$"},
          "endTime": {"type": "string", "pattern": "^[0-2]?[0-9]:[0-5][0-9]$"},
          "eventName": {"type": "string", "minLength": 1},
          "appliesDaily": {"type": "boolean"},
          "notes": {"type": "string"}
        }
      }
    },
    "warnings": {"type": "array", "items": {"type": "string"}}
  }
}`

var compiledSchema = jsonschema.MustCompileString("timetable-response.json", responseSchema)

// wire types: times travel as "HH:MM" strings in the model contract.
type wireTimetable struct {
	Metadata struct {
		TeacherName string `json:"teacherName"`
		ClassName   string `json:"className"`
		Term        string `json:"term"`
		Week        string `json:"week"`
	} `json:"metadata"`
	Blocks []struct {
		Day        string   `json:"day"`
		StartTime  string   `json:"startTime"`
		EndTime    string   `json:"endTime"`
		EventName  string   `json:"eventName"`
		Notes      string   `json:"notes"`
		Color      string   `json:"color"`
		Confidence *float64 `json:"confidence"`
		IsFixed    bool     `json:"isFixed"`
	} `json:"blocks"`
	RecurringBlocks []struct {
		StartTime    string `json:"startTime"`
		EndTime      string `json:"endTime"`
		EventName    string `json:"eventName"`
		AppliesDaily bool   `json:"appliesDaily"`
		Notes        string `json:"notes"`
	} `json:"recurringBlocks"`
	Warnings []string `json:"warnings"`
}

// ParseModelResponse extracts the first balanced JSON object from a model
// response, validates it against the contract schema, and converts it into
// the domain representation.
func ParseModelResponse(response string) (*models.Timetable, error) {
	raw, err := FirstJSONObject(response)
	if err != nil {
		return nil, common.E(common.KindValidation, "extract.parse", err)
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, common.E(common.KindValidation, "extract.parse", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, common.E(common.KindValidation, "extract.schema", err)
	}

	var wire wireTimetable
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, common.E(common.KindValidation, "extract.parse", err)
	}

	t := &models.Timetable{
		TeacherName: wire.Metadata.TeacherName,
		ClassName:   wire.Metadata.ClassName,
		Term:        wire.Metadata.Term,
		Week:        wire.Metadata.Week,
		Warnings:    wire.Warnings,
	}

	for _, b := range wire.Blocks {
		start, err := models.ClockToMinutes(b.StartTime)
		if err != nil {
			return nil, common.E(common.KindValidation, "extract.parse", err)
		}
		end, err := models.ClockToMinutes(b.EndTime)
		if err != nil {
			return nil, common.E(common.KindValidation, "extract.parse", err)
		}
		if start >= end || strings.TrimSpace(b.EventName) == "" {
			continue // drop degenerate blocks rather than poisoning the result
		}
		t.Blocks = append(t.Blocks, models.TimeBlock{
			Day:        b.Day,
			Start:      start,
			End:        end,
			EventName:  strings.TrimSpace(b.EventName),
			Notes:      b.Notes,
			Color:      b.Color,
			Confidence: b.Confidence,
			IsFixed:    b.IsFixed,
		})
	}

	for _, rb := range wire.RecurringBlocks {
		start, err := models.ClockToMinutes(rb.StartTime)
		if err != nil {
			continue
		}
		end, err := models.ClockToMinutes(rb.EndTime)
		if err != nil {
			continue
		}
		if start >= end || strings.TrimSpace(rb.EventName) == "" {
			continue
		}
		t.RecurringBlocks = append(t.RecurringBlocks, models.RecurringBlock{
			Start:        start,
			End:          end,
			EventName:    strings.TrimSpace(rb.EventName),
			AppliesDaily: rb.AppliesDaily,
			Notes:        rb.Notes,
		})
	}

	return t, nil
}
