package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/database"
	"github.com/fedutinova/timegrid/internal/models"
)

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}

	query := `
		INSERT INTO jobs (id, status, file_key, mime_type, original_filename, file_size,
		                  user_id, teacher_name, class_name, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.Status,
		job.FileKey,
		job.MimeType,
		job.OriginalFilename,
		job.FileSize,
		job.UserID,
		job.TeacherName,
		job.ClassName,
		job.RetryCount,
		job.MaxRetries,
	)
	if err != nil {
		return common.E(common.KindStore, "repository.CreateJob", err)
	}
	return nil
}

const jobColumns = `id, status, file_key, mime_type, original_filename, file_size,
	user_id, teacher_name, class_name, retry_count, max_retries,
	method, complexity, error_message, result_key, timetable_id,
	created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.FileKey,
		&job.MimeType,
		&job.OriginalFilename,
		&job.FileSize,
		&job.UserID,
		&job.TeacherName,
		&job.ClassName,
		&job.RetryCount,
		&job.MaxRetries,
		&job.Method,
		&job.Complexity,
		&job.ErrorMessage,
		&job.ResultKey,
		&job.TimetableID,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrJobNotFound
		}
		return nil, common.E(common.KindStore, "repository.scanJob", err)
	}
	return &job, nil
}

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.db.Pool().QueryRow(ctx, query, id))
}

// ListJobs returns a page of jobs, newest first, optionally filtered by
// status and owner. total is the unpaginated count for the same filter.
func (r *Repository) ListJobs(ctx context.Context, userID, status string, limit, offset int) ([]models.Job, int, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Pool().Query(ctx, query, userID, status, limit, offset)
	if err != nil {
		return nil, 0, common.E(common.KindStore, "repository.ListJobs", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, common.E(common.KindStore, "repository.ListJobs", err)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM jobs WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)`
	if err := r.db.Pool().QueryRow(ctx, countQuery, userID, status).Scan(&total); err != nil {
		return nil, 0, common.E(common.KindStore, "repository.ListJobs", err)
	}

	return jobs, total, nil
}

// CancelIfPending flips a pending job to cancelled. Returns false when the
// job had already left pending.
func (r *Repository) CancelIfPending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE jobs SET status = $1, completed_at = NOW() WHERE id = $2 AND status = $3`
	tag, err := r.db.Pool().Exec(ctx, query, models.StatusCancelled, id, models.StatusPending)
	if err != nil {
		return false, common.E(common.KindStore, "repository.CancelIfPending", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkProcessing transitions a job to processing. Pending jobs start fresh;
// a job already processing is a redelivery after a worker crash and keeps its
// original started_at. Cancelled/terminal jobs return false.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE jobs
		SET status = $1, started_at = COALESCE(started_at, NOW())
		WHERE id = $2 AND status IN ($3, $1)`
	tag, err := r.db.Pool().Exec(ctx, query, models.StatusProcessing, id, models.StatusPending)
	if err != nil {
		return false, common.E(common.KindStore, "repository.MarkProcessing", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteJob persists the timetable and marks the job completed in one
// transaction. The status update is conditional on processing; a duplicate
// delivery that lost the race gets won=false and must not write anything.
func (r *Repository) CompleteJob(ctx context.Context, jobID uuid.UUID, t *models.Timetable, method, complexityLevel, resultKey string) (bool, error) {
	won := false
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs
			SET status = $1, method = $2, complexity = $3, result_key = $4,
			    timetable_id = $5, completed_at = NOW()
			WHERE id = $6 AND status = $7`,
			models.StatusCompleted, method, complexityLevel, resultKey,
			t.ID, jobID, models.StatusProcessing,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil // lost the completion race; commit nothing else
		}
		won = true

		_, err = tx.Exec(ctx, `
			INSERT INTO timetables (id, job_id, teacher_name, class_name, term, week, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			t.ID, jobID, t.TeacherName, t.ClassName, t.Term, t.Week,
		)
		if err != nil {
			return err
		}

		for i, b := range t.Blocks {
			_, err = tx.Exec(ctx, `
				INSERT INTO time_blocks (id, timetable_id, position, day, start_minute, end_minute,
				                         event_name, notes, color, confidence, is_fixed)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				uuid.New(), t.ID, i, b.Day, b.Start, b.End, b.EventName, b.Notes, b.Color, b.Confidence, b.IsFixed,
			)
			if err != nil {
				return err
			}
		}

		for i, rb := range t.RecurringBlocks {
			_, err = tx.Exec(ctx, `
				INSERT INTO recurring_blocks (id, timetable_id, position, start_minute, end_minute,
				                              event_name, applies_daily, notes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.New(), t.ID, i, rb.Start, rb.End, rb.EventName, rb.AppliesDaily, rb.Notes,
			)
			if err != nil {
				return err
			}
		}

		for i, w := range t.Warnings {
			_, err = tx.Exec(ctx, `
				INSERT INTO timetable_warnings (timetable_id, position, message)
				VALUES ($1, $2, $3)`,
				t.ID, i, w,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, common.E(common.KindStore, "repository.CompleteJob", err)
	}
	return won, nil
}

// MarkEnqueueFailed terminates a job whose queue send never succeeded. The
// job must still be pending; it never occupied the queue.
func (r *Repository) MarkEnqueueFailed(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE jobs
		SET status = $1, error_message = $2, completed_at = NOW()
		WHERE id = $3 AND status = $4`
	if _, err := r.db.Pool().Exec(ctx, query, models.StatusFailed, message, id, models.StatusPending); err != nil {
		return common.E(common.KindStore, "repository.MarkEnqueueFailed", err)
	}
	return nil
}

// SetJobError records the error message of a non-final failed attempt.
func (r *Repository) SetJobError(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE jobs SET error_message = $1 WHERE id = $2`
	if _, err := r.db.Pool().Exec(ctx, query, message, id); err != nil {
		return common.E(common.KindStore, "repository.SetJobError", err)
	}
	return nil
}

// FailJob marks a job terminally failed. Conditional on processing so a
// duplicate delivery cannot fail a job another worker completed.
func (r *Repository) FailJob(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	query := `UPDATE jobs
		SET status = $1, error_message = $2, completed_at = NOW()
		WHERE id = $3 AND status = $4`
	tag, err := r.db.Pool().Exec(ctx, query, models.StatusFailed, message, id, models.StatusProcessing)
	if err != nil {
		return false, common.E(common.KindStore, "repository.FailJob", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementRetry bumps the retry counter and returns the new count.
func (r *Repository) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	query := `UPDATE jobs SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`
	if err := r.db.Pool().QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, common.E(common.KindStore, "repository.IncrementRetry", err)
	}
	return count, nil
}

// AppendRetryLog records one failed attempt. Rows are append-only.
func (r *Repository) AppendRetryLog(ctx context.Context, entry *models.RetryLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO retry_logs (id, job_id, attempt, error_type, message, stack, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.db.Pool().Exec(ctx, query,
		entry.ID, entry.JobID, entry.Attempt, entry.ErrorType, entry.Message, entry.Stack,
	)
	if err != nil {
		return common.E(common.KindStore, "repository.AppendRetryLog", err)
	}
	return nil
}

func (r *Repository) GetRetryLogs(ctx context.Context, jobID uuid.UUID) ([]models.RetryLog, error) {
	query := `
		SELECT id, job_id, attempt, error_type, message, stack, created_at
		FROM retry_logs
		WHERE job_id = $1
		ORDER BY attempt
	`

	rows, err := r.db.Pool().Query(ctx, query, jobID)
	if err != nil {
		return nil, common.E(common.KindStore, "repository.GetRetryLogs", err)
	}
	defer rows.Close()

	var logs []models.RetryLog
	for rows.Next() {
		var l models.RetryLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.Attempt, &l.ErrorType, &l.Message, &l.Stack, &l.CreatedAt); err != nil {
			return nil, common.E(common.KindStore, "repository.GetRetryLogs", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetTimetable loads a stored timetable with its blocks in insertion order.
func (r *Repository) GetTimetable(ctx context.Context, id uuid.UUID) (*models.Timetable, error) {
	var t models.Timetable
	query := `SELECT id, teacher_name, class_name, term, week FROM timetables WHERE id = $1`
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&t.ID, &t.TeacherName, &t.ClassName, &t.Term, &t.Week)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("timetable %w", common.ErrNotFound)
		}
		return nil, common.E(common.KindStore, "repository.GetTimetable", err)
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT day, start_minute, end_minute, event_name, notes, color, confidence, is_fixed
		FROM time_blocks WHERE timetable_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, common.E(common.KindStore, "repository.GetTimetable", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b models.TimeBlock
		if err := rows.Scan(&b.Day, &b.Start, &b.End, &b.EventName, &b.Notes, &b.Color, &b.Confidence, &b.IsFixed); err != nil {
			return nil, common.E(common.KindStore, "repository.GetTimetable", err)
		}
		t.Blocks = append(t.Blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, common.E(common.KindStore, "repository.GetTimetable", err)
	}

	rrows, err := r.db.Pool().Query(ctx, `
		SELECT start_minute, end_minute, event_name, applies_daily, notes
		FROM recurring_blocks WHERE timetable_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, common.E(common.KindStore, "repository.GetTimetable", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var rb models.RecurringBlock
		if err := rrows.Scan(&rb.Start, &rb.End, &rb.EventName, &rb.AppliesDaily, &rb.Notes); err != nil {
			return nil, common.E(common.KindStore, "repository.GetTimetable", err)
		}
		t.RecurringBlocks = append(t.RecurringBlocks, rb)
	}
	if err := rrows.Err(); err != nil {
		return nil, common.E(common.KindStore, "repository.GetTimetable", err)
	}

	wrows, err := r.db.Pool().Query(ctx, `
		SELECT message FROM timetable_warnings WHERE timetable_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, common.E(common.KindStore, "repository.GetTimetable", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var w string
		if err := wrows.Scan(&w); err != nil {
			return nil, common.E(common.KindStore, "repository.GetTimetable", err)
		}
		t.Warnings = append(t.Warnings, w)
	}
	return &t, wrows.Err()
}

func (r *Repository) CreateWebhook(ctx context.Context, w *models.Webhook) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.MaxAttempts == 0 {
		w.MaxAttempts = 3
	}

	query := `
		INSERT INTO webhooks (id, job_id, url, attempts, max_attempts, delivered, created_at)
		VALUES ($1, $2, $3, 0, $4, false, NOW())
	`
	if _, err := r.db.Pool().Exec(ctx, query, w.ID, w.JobID, w.URL, w.MaxAttempts); err != nil {
		return common.E(common.KindStore, "repository.CreateWebhook", err)
	}
	return nil
}

func (r *Repository) GetWebhooksByJob(ctx context.Context, jobID uuid.UUID) ([]models.Webhook, error) {
	query := `
		SELECT id, job_id, url, attempts, max_attempts, delivered,
		       last_attempt_at, delivered_at, error_message, created_at
		FROM webhooks
		WHERE job_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, jobID)
	if err != nil {
		return nil, common.E(common.KindStore, "repository.GetWebhooksByJob", err)
	}
	defer rows.Close()

	var hooks []models.Webhook
	for rows.Next() {
		var w models.Webhook
		err := rows.Scan(&w.ID, &w.JobID, &w.URL, &w.Attempts, &w.MaxAttempts, &w.Delivered,
			&w.LastAttemptAt, &w.DeliveredAt, &w.ErrorMessage, &w.CreatedAt)
		if err != nil {
			return nil, common.E(common.KindStore, "repository.GetWebhooksByJob", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// MarkWebhookDelivered records a confirmed 2xx delivery.
func (r *Repository) MarkWebhookDelivered(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE webhooks
		SET delivered = true, delivered_at = NOW(), last_attempt_at = NOW(),
		    attempts = attempts + 1, error_message = NULL
		WHERE id = $1`
	if _, err := r.db.Pool().Exec(ctx, query, id); err != nil {
		return common.E(common.KindStore, "repository.MarkWebhookDelivered", err)
	}
	return nil
}

// RecordWebhookFailure bumps the attempt counter after a failed delivery.
func (r *Repository) RecordWebhookFailure(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE webhooks
		SET attempts = attempts + 1, last_attempt_at = NOW(), error_message = $1
		WHERE id = $2`
	if _, err := r.db.Pool().Exec(ctx, query, message, id); err != nil {
		return common.E(common.KindStore, "repository.RecordWebhookFailure", err)
	}
	return nil
}
