package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job statuses. Legal transitions:
// pending -> processing -> completed|failed, pending -> cancelled.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Weekdays covered by a timetable. Full English names on the wire.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

// Job is the unit of work tracked from upload to result.
type Job struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Status           string     `json:"status" db:"status"`
	FileKey          string     `json:"file_key" db:"file_key"`
	MimeType         string     `json:"mime_type" db:"mime_type"`
	OriginalFilename string     `json:"original_filename" db:"original_filename"`
	FileSize         int64      `json:"file_size" db:"file_size"`
	UserID           string     `json:"user_id,omitempty" db:"user_id"`
	TeacherName      *string    `json:"teacher_name,omitempty" db:"teacher_name"`
	ClassName        *string    `json:"class_name,omitempty" db:"class_name"`
	RetryCount       int        `json:"retry_count" db:"retry_count"`
	MaxRetries       int        `json:"max_retries" db:"max_retries"`
	Method           *string    `json:"method,omitempty" db:"method"`
	Complexity       *string    `json:"complexity,omitempty" db:"complexity"`
	ErrorMessage     *string    `json:"error_message,omitempty" db:"error_message"`
	ResultKey        *string    `json:"result_key,omitempty" db:"result_key"`
	TimetableID      *uuid.UUID `json:"timetable_id,omitempty" db:"timetable_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Timetable is the structured extraction result.
type Timetable struct {
	ID              uuid.UUID        `json:"id,omitempty"`
	TeacherName     string           `json:"teacherName,omitempty"`
	ClassName       string           `json:"className,omitempty"`
	Term            string           `json:"term,omitempty"`
	Week            string           `json:"week,omitempty"`
	Blocks          []TimeBlock      `json:"blocks"`
	RecurringBlocks []RecurringBlock `json:"recurringBlocks"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// TimeBlock is one scheduled event on a specific weekday. Start and End are
// minutes of day in [0, 1440).
type TimeBlock struct {
	Day        string   `json:"day"`
	Start      int      `json:"startTime"`
	End        int      `json:"endTime"`
	EventName  string   `json:"eventName"`
	Notes      string   `json:"notes,omitempty"`
	Color      string   `json:"color,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	IsFixed    bool     `json:"isFixed"`
}

// RecurringBlock is a fixture at the same time across days. AppliesDaily
// means Monday through Friday; otherwise the days are enumerated in Notes.
type RecurringBlock struct {
	Start        int    `json:"startTime"`
	End          int    `json:"endTime"`
	EventName    string `json:"eventName"`
	AppliesDaily bool   `json:"appliesDaily"`
	Notes        string `json:"notes,omitempty"`
}

// RetryLog records one failed attempt of a job. Rows are append-only.
type RetryLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	JobID     uuid.UUID `json:"job_id" db:"job_id"`
	Attempt   int       `json:"attempt" db:"attempt"`
	ErrorType string    `json:"error_type" db:"error_type"`
	Message   string    `json:"message" db:"message"`
	Stack     string    `json:"stack,omitempty" db:"stack"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Webhook is a per-job notification subscription.
type Webhook struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	JobID         uuid.UUID  `json:"job_id" db:"job_id"`
	URL           string     `json:"url" db:"url"`
	Attempts      int        `json:"attempts" db:"attempts"`
	MaxAttempts   int        `json:"max_attempts" db:"max_attempts"`
	Delivered     bool       `json:"delivered" db:"delivered"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	ErrorMessage  *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// MarshalResultDocument renders the timetable as the result blob document,
// with times as "HH:MM" strings.
func (t *Timetable) MarshalResultDocument() ([]byte, error) {
	type wireBlock struct {
		Day        string   `json:"day"`
		StartTime  string   `json:"startTime"`
		EndTime    string   `json:"endTime"`
		EventName  string   `json:"eventName"`
		Notes      string   `json:"notes,omitempty"`
		Color      string   `json:"color,omitempty"`
		Confidence *float64 `json:"confidence,omitempty"`
		IsFixed    bool     `json:"isFixed"`
	}
	type wireRecurring struct {
		StartTime    string `json:"startTime"`
		EndTime      string `json:"endTime"`
		EventName    string `json:"eventName"`
		AppliesDaily bool   `json:"appliesDaily"`
		Notes        string `json:"notes,omitempty"`
	}

	doc := struct {
		Metadata struct {
			TeacherName string `json:"teacherName,omitempty"`
			ClassName   string `json:"className,omitempty"`
			Term        string `json:"term,omitempty"`
			Week        string `json:"week,omitempty"`
		} `json:"metadata"`
		Blocks          []wireBlock     `json:"blocks"`
		RecurringBlocks []wireRecurring `json:"recurringBlocks"`
		Warnings        []string        `json:"warnings"`
	}{}

	doc.Metadata.TeacherName = t.TeacherName
	doc.Metadata.ClassName = t.ClassName
	doc.Metadata.Term = t.Term
	doc.Metadata.Week = t.Week
	doc.Blocks = make([]wireBlock, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		doc.Blocks = append(doc.Blocks, wireBlock{
			Day:        b.Day,
			StartTime:  MinutesToClock(b.Start),
			EndTime:    MinutesToClock(b.End),
			EventName:  b.EventName,
			Notes:      b.Notes,
			Color:      b.Color,
			Confidence: b.Confidence,
			IsFixed:    b.IsFixed,
		})
	}
	doc.RecurringBlocks = make([]wireRecurring, 0, len(t.RecurringBlocks))
	for _, rb := range t.RecurringBlocks {
		doc.RecurringBlocks = append(doc.RecurringBlocks, wireRecurring{
			StartTime:    MinutesToClock(rb.Start),
			EndTime:      MinutesToClock(rb.End),
			EventName:    rb.EventName,
			AppliesDaily: rb.AppliesDaily,
			Notes:        rb.Notes,
		})
	}
	doc.Warnings = t.Warnings
	if doc.Warnings == nil {
		doc.Warnings = []string{}
	}

	return json.Marshal(doc)
}

// MinutesToClock renders a minute-of-day as "HH:MM".
func MinutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ClockToMinutes parses "H:MM" or "HH:MM" into a minute-of-day.
func ClockToMinutes(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad clock value %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value out of range: %q", s)
	}
	return h*60 + m, nil
}

// IsWeekday reports whether day is one of the five covered weekday names.
func IsWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == day {
			return true
		}
	}
	return false
}
