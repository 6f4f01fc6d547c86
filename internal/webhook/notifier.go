// Package webhook delivers job status notifications (completed or failed).
// Each NotifyJob call makes one POST per pending webhook; a failed attempt is
// counted and is not retried unless NotifyJob is called again for the job.
// Subscribers deduplicate on jobId.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fedutinova/timegrid/internal/models"
)

// Store is the webhook slice of the job store.
type Store interface {
	GetWebhooksByJob(ctx context.Context, jobID uuid.UUID) ([]models.Webhook, error)
	MarkWebhookDelivered(ctx context.Context, id uuid.UUID) error
	RecordWebhookFailure(ctx context.Context, id uuid.UUID, message string) error
}

// Payload is the body POSTed to subscriber URLs.
type Payload struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type Notifier struct {
	store  Store
	client *http.Client
	now    func() time.Time
}

func NewNotifier(store Store, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		store:  store,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// NotifyJob delivers to every undelivered webhook of the job that still has
// attempts left. Only a 2xx response marks a webhook delivered.
func (n *Notifier) NotifyJob(ctx context.Context, jobID uuid.UUID, status string) {
	hooks, err := n.store.GetWebhooksByJob(ctx, jobID)
	if err != nil {
		slog.Error("failed to load webhooks", "job_id", jobID, "error", err)
		return
	}

	for _, h := range hooks {
		if h.Delivered || h.Attempts >= h.MaxAttempts {
			continue
		}

		if err := n.deliver(ctx, h.URL, jobID, status); err != nil {
			slog.Warn("webhook delivery failed",
				"job_id", jobID,
				"webhook_id", h.ID,
				"attempt", h.Attempts+1,
				"max_attempts", h.MaxAttempts,
				"error", err)
			if recErr := n.store.RecordWebhookFailure(ctx, h.ID, err.Error()); recErr != nil {
				slog.Error("failed to record webhook failure", "webhook_id", h.ID, "error", recErr)
			}
			continue
		}

		if err := n.store.MarkWebhookDelivered(ctx, h.ID); err != nil {
			slog.Error("failed to mark webhook delivered", "webhook_id", h.ID, "error", err)
			continue
		}
		slog.Info("webhook delivered", "job_id", jobID, "webhook_id", h.ID, "url", h.URL)
	}
}

func (n *Notifier) deliver(ctx context.Context, url string, jobID uuid.UUID, status string) error {
	body, err := json.Marshal(Payload{
		JobID:     jobID.String(),
		Status:    status,
		Timestamp: n.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
