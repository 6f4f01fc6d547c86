// Package workers drains the job queue with bounded concurrency. Workers
// share no mutable in-process state: the queue's visibility timeout and the
// job store's conditional status updates are the only coordination.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/extract"
	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/orchestrator"
	"github.com/fedutinova/timegrid/internal/preprocess"
	"github.com/fedutinova/timegrid/internal/queue"
	"github.com/fedutinova/timegrid/internal/storage"
)

// JobStore is the slice of the persistence layer the worker mutates.
// Implemented by repository.Repository; tests substitute fakes.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, t *models.Timetable, method, complexityLevel, resultKey string) (bool, error)
	SetJobError(ctx context.Context, id uuid.UUID, message string) error
	FailJob(ctx context.Context, id uuid.UUID, message string) (bool, error)
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
	AppendRetryLog(ctx context.Context, entry *models.RetryLog) error
}

// Preprocessor normalizes raw artifact bytes into extraction evidence.
type Preprocessor interface {
	Preprocess(ctx context.Context, data []byte, declaredMime, name string) (*preprocess.ProcessedArtifact, error)
}

// Runner executes the extraction pipeline for one artifact.
type Runner interface {
	Run(ctx context.Context, artifact *preprocess.ProcessedArtifact, hint extract.MetadataHint) (*orchestrator.Result, error)
}

// Notifier pushes job-state notifications to subscribers.
type Notifier interface {
	NotifyJob(ctx context.Context, jobID uuid.UUID, status string)
}

// Config bounds the pool.
type Config struct {
	Concurrency  int
	LongPollWait time.Duration
}

// Pool runs N concurrent drainers over a shared queue handle.
type Pool struct {
	queue    queue.Queue
	store    JobStore
	blobs    storage.Storage
	pre      Preprocessor
	runner   Runner
	notifier Notifier
	cfg      Config

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(q queue.Queue, store JobStore, blobs storage.Storage, pre Preprocessor, runner Runner, notifier Notifier, cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.LongPollWait <= 0 {
		cfg.LongPollWait = 20 * time.Second
	}
	return &Pool{
		queue:    q,
		store:    store,
		blobs:    blobs,
		pre:      pre,
		runner:   runner,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Start launches the drainer goroutines. They run until Stop or ctx cancel.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.drain(ctx, i+1)
	}
	slog.Info("worker pool started", "concurrency", p.cfg.Concurrency)
}

// Stop halts polling and waits up to timeout for in-flight jobs. Messages
// received but not completed reappear after the visibility timeout.
func (p *Pool) Stop(timeout time.Duration) {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool stopped")
	case <-time.After(timeout):
		slog.Warn("worker pool stop timed out, abandoning in-flight jobs")
	}
}

func (p *Pool) drain(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker shutting down", "worker", workerID)
			return
		default:
		}

		msgs, err := p.queue.Receive(ctx, 1, p.cfg.LongPollWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("failed to receive from queue", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second): // backoff on error
			}
			continue
		}

		for _, msg := range msgs {
			p.process(ctx, msg, workerID)
		}
	}
}

func (p *Pool) process(ctx context.Context, msg queue.Message, workerID int) {
	m, err := queue.ParseJobMessage(msg.Body)
	if err != nil || m.JobID == uuid.Nil {
		slog.Error("unparseable queue message, deleting", "worker", workerID, "error", err)
		p.deleteMessage(ctx, msg)
		return
	}

	log := slog.With("job_id", m.JobID, "worker", workerID)

	job, err := p.store.GetJob(ctx, m.JobID)
	if err != nil {
		if common.IsNotFound(err) {
			log.Warn("message references unknown job, deleting")
			p.deleteMessage(ctx, msg)
			return
		}
		// store unavailable: leave the message for redelivery
		log.Error("failed to load job, leaving message for redelivery", "error", err)
		return
	}

	switch job.Status {
	case models.StatusCancelled:
		log.Info("job cancelled before processing, deleting message")
		p.deleteMessage(ctx, msg)
		return
	case models.StatusCompleted, models.StatusFailed:
		// duplicate delivery of finished work
		log.Info("job already terminal, deleting message", "status", job.Status)
		p.deleteMessage(ctx, msg)
		return
	}

	ok, err := p.store.MarkProcessing(ctx, m.JobID)
	if err != nil {
		log.Error("failed to mark job processing, leaving message", "error", err)
		return
	}
	if !ok {
		// lost a status race (e.g. cancellation landed between read and update)
		log.Info("job left the processable states, deleting message")
		p.deleteMessage(ctx, msg)
		return
	}

	log.Info("processing job", "file_key", m.FileKey, "mime", m.MimeType)

	data, _, err := p.blobs.Get(ctx, m.FileKey)
	if err != nil {
		p.handleFailure(ctx, msg, job, common.E(common.KindBlob, "worker.fetch", err), log)
		return
	}

	artifact, err := p.pre.Preprocess(ctx, data, m.MimeType, m.OriginalFileName)
	if err != nil {
		p.handleFailure(ctx, msg, job, err, log)
		return
	}

	hint := extract.MetadataHint{TeacherName: m.TeacherName, ClassName: m.ClassName}
	res, err := p.runner.Run(ctx, artifact, hint)
	if err != nil {
		p.handleFailure(ctx, msg, job, err, log)
		return
	}

	resultKey := storage.ResultKey(m.JobID.String())
	doc, err := res.Data.MarshalResultDocument()
	if err != nil {
		p.handleFailure(ctx, msg, job, common.E(common.KindUnknown, "worker.marshal", err), log)
		return
	}
	if err := p.blobs.Put(ctx, resultKey, doc, "application/json"); err != nil {
		p.handleFailure(ctx, msg, job, common.E(common.KindBlob, "worker.result", err), log)
		return
	}

	res.Data.ID = uuid.New()
	won, err := p.store.CompleteJob(ctx, m.JobID, res.Data, res.Method, string(res.Complexity.Level), resultKey)
	if err != nil {
		p.handleFailure(ctx, msg, job, err, log)
		return
	}
	if !won {
		// another delivery completed the job while this one was extracting
		log.Info("job completed elsewhere, discarding duplicate result")
		p.deleteMessage(ctx, msg)
		return
	}

	p.deleteMessage(ctx, msg)
	log.Info("job completed",
		"method", res.Method,
		"complexity", res.Complexity.Level,
		"blocks", len(res.Data.Blocks),
		"steps", artifact.Steps,
		"elapsed_ms", res.Elapsed.Milliseconds())

	p.notifier.NotifyJob(ctx, m.JobID, models.StatusCompleted)
}

// handleFailure runs the retry protocol: log the attempt, and either leave
// the message to reappear after the visibility timeout or, at the retry
// budget, fail the job and echo the message to the DLQ exactly once.
func (p *Pool) handleFailure(ctx context.Context, msg queue.Message, job *models.Job, cause error, log *slog.Logger) {
	kind := common.KindOf(cause)

	attempt, err := p.store.IncrementRetry(ctx, job.ID)
	if err != nil {
		log.Error("failed to increment retry count", "error", err)
		attempt = job.RetryCount + 1
	}

	if err := p.store.AppendRetryLog(ctx, &models.RetryLog{
		JobID:     job.ID,
		Attempt:   attempt,
		ErrorType: string(kind),
		Message:   cause.Error(),
	}); err != nil {
		log.Error("failed to append retry log", "error", err)
	}

	if attempt < job.MaxRetries {
		log.Warn("job attempt failed, leaving message for retry",
			"attempt", attempt,
			"max_retries", job.MaxRetries,
			"error_type", kind,
			"error", cause)
		if err := p.store.SetJobError(ctx, job.ID, cause.Error()); err != nil {
			log.Error("failed to record job error", "error", err)
		}
		// no delete: the message becomes visible again after the timeout
		return
	}

	log.Error("job failed terminally",
		"attempts", attempt,
		"error_type", kind,
		"error", cause)

	if _, err := p.store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		log.Error("failed to mark job failed", "error", err)
	}
	if err := p.queue.SendDLQ(ctx, msg.Body, cause.Error()); err != nil {
		log.Error("failed to copy message to dead letter queue", "error", err)
	}
	p.deleteMessage(ctx, msg)

	p.notifier.NotifyJob(ctx, job.ID, models.StatusFailed)
}

func (p *Pool) deleteMessage(ctx context.Context, msg queue.Message) {
	if err := p.queue.Delete(ctx, msg.Receipt); err != nil {
		slog.Error("failed to delete queue message", "receipt", msg.Receipt, "error", err)
	}
}
