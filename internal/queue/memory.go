package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue in process memory with the same visibility
// semantics as the Redis implementation. Used in tests and single-node dev
// runs.
type MemoryQueue struct {
	mu         sync.Mutex
	visibility time.Duration
	entries    []*memEntry
	deadLetter []DeadLetterEntry
	closed     bool
}

type memEntry struct {
	receipt   string
	body      []byte
	visibleAt time.Time
	inFlight  bool
}

// DeadLetterEntry is a message parked on the in-memory dead-letter queue.
type DeadLetterEntry struct {
	Body         []byte
	ErrorMessage string
	MovedAt      time.Time
}

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{visibility: visibility}
}

func (q *MemoryQueue) Send(ctx context.Context, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("queue closed")
	}

	e := &memEntry{
		receipt:   uuid.NewString(),
		body:      append([]byte(nil), body...),
		visibleAt: time.Now(),
	}
	q.entries = append(q.entries, e)
	return e.receipt, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	for {
		if msgs := q.take(max); len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) take(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var msgs []Message
	for _, e := range q.entries {
		if len(msgs) >= max {
			break
		}
		if e.inFlight && now.Before(e.visibleAt) {
			continue
		}
		e.inFlight = true
		e.visibleAt = now.Add(q.visibility)
		msgs = append(msgs, Message{Receipt: e.receipt, Body: append([]byte(nil), e.body...)})
	}
	return msgs
}

func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.receipt == receipt {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("receipt not found: %s", receipt)
}

func (q *MemoryQueue) SendDLQ(ctx context.Context, body []byte, errorMessage string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.deadLetter = append(q.deadLetter, DeadLetterEntry{
		Body:         append([]byte(nil), body...),
		ErrorMessage: errorMessage,
		MovedAt:      time.Now(),
	})
	return nil
}

func (q *MemoryQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.deadLetter)), nil
}

// DeadLetter returns a copy of the dead-letter entries.
func (q *MemoryQueue) DeadLetter() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetterEntry(nil), q.deadLetter...)
}

// Len returns the number of messages still on the main queue.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
