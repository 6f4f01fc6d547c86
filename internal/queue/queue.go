package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobMessage is the queue message body submitted at upload time and parsed by
// the worker pool.
type JobMessage struct {
	JobID            uuid.UUID `json:"jobId"`
	FileKey          string    `json:"fileUrl"`
	OriginalFileName string    `json:"originalFileName"`
	MimeType         string    `json:"mimeType"`
	TeacherName      string    `json:"teacherName,omitempty"`
	ClassName        string    `json:"className,omitempty"`
	UserID           string    `json:"userId,omitempty"`
}

func (m JobMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func ParseJobMessage(body []byte) (JobMessage, error) {
	var m JobMessage
	err := json.Unmarshal(body, &m)
	return m, err
}

// Message is one delivery. Receipt is the opaque handle passed back to Delete.
type Message struct {
	Receipt string
	Body    []byte
}

// Queue provides at-least-once delivery with a visibility timeout and a paired
// dead-letter queue. A received message stays invisible to other consumers for
// the visibility timeout; if it is not deleted in time it is redelivered.
type Queue interface {
	Send(ctx context.Context, body []byte) (string, error)
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receipt string) error
	SendDLQ(ctx context.Context, body []byte, errorMessage string) error
	DeadLetterCount(ctx context.Context) (int64, error)
	Close() error
}
