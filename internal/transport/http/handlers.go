package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/fedutinova/timegrid/internal/auth"
	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/config"
	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/queue"
	"github.com/fedutinova/timegrid/internal/storage"
	"github.com/fedutinova/timegrid/internal/timeline"
	"github.com/fedutinova/timegrid/internal/validation"
)

// Store is the persistence slice the HTTP surface uses. Implemented by
// repository.Repository.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, userID, status string, limit, offset int) ([]models.Job, int, error)
	CancelIfPending(ctx context.Context, id uuid.UUID) (bool, error)
	MarkEnqueueFailed(ctx context.Context, id uuid.UUID, message string) error
	GetTimetable(ctx context.Context, id uuid.UUID) (*models.Timetable, error)
	GetRetryLogs(ctx context.Context, jobID uuid.UUID) ([]models.RetryLog, error)
	CreateWebhook(ctx context.Context, w *models.Webhook) error
}

type Handlers struct {
	Store   Store
	Storage storage.Storage
	Queue   queue.Queue
	Config  config.Config
}

func (h *Handlers) Routers(r chi.Router) {
	r.Route("/api/v2/timetable", func(r chi.Router) {
		// uploads are the expensive surface; keep them rate limited per client
		r.With(httprate.LimitByIP(30, time.Minute)).Post("/upload", h.upload)
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{jobId}", h.getJob)
		r.Delete("/jobs/{jobId}", h.cancelJob)
		r.Post("/jobs/{jobId}/webhook", h.attachWebhook)
		r.Get("/jobs/{jobId}/fullcalendar", h.fullCalendar)
	})
}

// --- response envelope ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{"code": code, "message": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"success": false, "error": body})
}

// --- submission facade ---

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.Config.MaxUploadBytes + 1<<20); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to parse multipart form", nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file field is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.Config.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read file", nil)
		return
	}
	if int64(len(data)) > h.Config.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("file exceeds maximum size of %d bytes", h.Config.MaxUploadBytes), nil)
		return
	}

	mime, validationErrs := validation.ValidateUpload(data, header.Header.Get("Content-Type"), header.Filename)
	if len(validationErrs) > 0 {
		writeError(w, http.StatusBadRequest, string(common.KindUnsupportedType), "validation failed", validationErrs)
		return
	}

	var userID string
	if id, ok := auth.FromContext(r.Context()); ok {
		userID = id.UserID
	}

	teacherName := r.FormValue("teacherName")
	className := r.FormValue("className")
	webhookURL := r.FormValue("webhookUrl")
	if webhookURL != "" {
		if errs := validation.ValidateWebhook(validation.WebhookRequest{URL: webhookURL}); len(errs) > 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid webhook URL", errs)
			return
		}
	}

	key := storage.UploadKey(userID, header.Filename, time.Now())
	if err := h.Storage.Put(r.Context(), key, data, mime); err != nil {
		slog.Error("failed to store artifact", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, string(common.KindBlob), "failed to store file", nil)
		return
	}

	job := &models.Job{
		ID:               uuid.New(),
		Status:           models.StatusPending,
		FileKey:          key,
		MimeType:         mime,
		OriginalFilename: header.Filename,
		FileSize:         int64(len(data)),
		UserID:           userID,
		MaxRetries:       h.Config.MaxRetries,
	}
	if teacherName != "" {
		job.TeacherName = &teacherName
	}
	if className != "" {
		job.ClassName = &className
	}

	if err := h.Store.CreateJob(r.Context(), job); err != nil {
		slog.Error("failed to create job", "error", err)
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to create job", nil)
		return
	}

	// webhook registration happens before enqueue so a fast worker cannot
	// complete the job and miss the subscription
	webhookRegistered := false
	if webhookURL != "" {
		if err := h.Store.CreateWebhook(r.Context(), &models.Webhook{JobID: job.ID, URL: webhookURL}); err != nil {
			slog.Error("failed to register webhook", "job_id", job.ID, "error", err)
		} else {
			webhookRegistered = true
		}
	}

	msg := queue.JobMessage{
		JobID:            job.ID,
		FileKey:          key,
		OriginalFileName: header.Filename,
		MimeType:         mime,
		TeacherName:      teacherName,
		ClassName:        className,
		UserID:           userID,
	}
	body, err := msg.Marshal()
	if err == nil {
		_, err = h.Queue.Send(r.Context(), body)
	}
	if err != nil {
		// the job exists but never reached the queue: terminal enqueue_error
		slog.Error("failed to enqueue job", "job_id", job.ID, "error", err)
		if serr := h.Store.MarkEnqueueFailed(r.Context(), job.ID, fmt.Sprintf("%s: %v", common.KindEnqueue, err)); serr != nil {
			slog.Error("failed to mark enqueue failure", "job_id", job.ID, "error", serr)
		}
		writeError(w, http.StatusServiceUnavailable, string(common.KindEnqueue), "failed to enqueue job", nil)
		return
	}

	slog.Info("job submitted",
		"job_id", job.ID,
		"file_key", key,
		"mime", mime,
		"size", len(data),
		"user_id", userID,
		"webhook", webhookRegistered)

	writeData(w, http.StatusAccepted, map[string]any{
		"jobId":             job.ID.String(),
		"status":            models.StatusPending,
		"createdAt":         time.Now().UTC().Format(time.RFC3339),
		"statusUrl":         "/api/v2/timetable/jobs/" + job.ID.String(),
		"webhookRegistered": webhookRegistered,
	})
}

// --- status and results ---

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid job id", nil)
		return
	}

	job, err := h.Store.GetJob(r.Context(), id)
	if err != nil {
		if common.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "job not found", nil)
			return
		}
		slog.Error("failed to load job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to load job", nil)
		return
	}

	data := map[string]any{
		"jobId":     job.ID.String(),
		"status":    job.Status,
		"createdAt": job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		data["startedAt"] = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		data["completedAt"] = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	if job.Method != nil {
		data["processingMethod"] = *job.Method
	}
	if job.Complexity != nil {
		data["complexity"] = *job.Complexity
	}
	if job.ErrorMessage != nil {
		data["errorMessage"] = *job.ErrorMessage
	}

	if job.Status == models.StatusFailed {
		logs, err := h.Store.GetRetryLogs(r.Context(), job.ID)
		if err != nil {
			slog.Error("failed to load retry logs", "job_id", id, "error", err)
		} else {
			entries := make([]map[string]any, 0, len(logs))
			for _, l := range logs {
				entries = append(entries, map[string]any{
					"attempt":   l.Attempt,
					"errorType": l.ErrorType,
					"message":   l.Message,
					"timestamp": l.CreatedAt.UTC().Format(time.RFC3339),
				})
			}
			data["retryLog"] = entries
		}
	}

	if job.Status == models.StatusCompleted && job.TimetableID != nil {
		t, err := h.Store.GetTimetable(r.Context(), *job.TimetableID)
		if err != nil {
			slog.Error("failed to load timetable", "job_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to load result", nil)
			return
		}
		doc, err := t.MarshalResultDocument()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to render result", nil)
			return
		}
		data["result"] = json.RawMessage(doc)

		if r.URL.Query().Get("merged") == "true" {
			data["mergedTimeline"] = mergedView(t)
		}
	}

	writeData(w, http.StatusOK, data)
}

// mergedView folds recurring blocks into the per-day sequences for callers
// that want one unified timeline.
func mergedView(t *models.Timetable) map[string][]map[string]any {
	merged := timeline.Merge(t)
	out := map[string][]map[string]any{}
	for _, day := range models.Weekdays {
		blocks := merged[day]
		if len(blocks) == 0 {
			continue
		}
		entries := make([]map[string]any, 0, len(blocks))
		for _, b := range blocks {
			entry := map[string]any{
				"startTime": models.MinutesToClock(b.Start),
				"endTime":   models.MinutesToClock(b.End),
				"eventName": b.EventName,
				"isFixed":   b.IsFixed,
			}
			if b.Notes != "" {
				entry["notes"] = b.Notes
			}
			entries = append(entries, entry)
		}
		out[day] = entries
	}
	return out
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "pageSize", 20)
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	status := r.URL.Query().Get("status")

	var userID string
	if id, ok := auth.FromContext(r.Context()); ok {
		userID = id.UserID
	}

	jobs, total, err := h.Store.ListJobs(r.Context(), userID, status, pageSize, (page-1)*pageSize)
	if err != nil {
		slog.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to list jobs", nil)
		return
	}

	entries := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		entry := map[string]any{
			"jobId":     job.ID.String(),
			"status":    job.Status,
			"fileName":  job.OriginalFilename,
			"createdAt": job.CreatedAt.UTC().Format(time.RFC3339),
		}
		if job.CompletedAt != nil {
			entry["completedAt"] = job.CompletedAt.UTC().Format(time.RFC3339)
		}
		if job.Method != nil {
			entry["processingMethod"] = *job.Method
		}
		entries = append(entries, entry)
	}

	writeData(w, http.StatusOK, map[string]any{
		"jobs": entries,
		"pagination": map[string]any{
			"page":     page,
			"pageSize": pageSize,
			"total":    total,
		},
	})
}

func (h *Handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid job id", nil)
		return
	}

	ok, err := h.Store.CancelIfPending(r.Context(), id)
	if err != nil {
		slog.Error("failed to cancel job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to cancel job", nil)
		return
	}
	if !ok {
		job, gerr := h.Store.GetJob(r.Context(), id)
		if gerr != nil && common.IsNotFound(gerr) {
			writeError(w, http.StatusNotFound, "not_found", "job not found", nil)
			return
		}
		status := "unknown"
		if job != nil {
			status = job.Status
		}
		writeError(w, http.StatusConflict, "not_cancellable",
			fmt.Sprintf("only pending jobs can be cancelled; job is %s", status), nil)
		return
	}

	slog.Info("job cancelled", "job_id", id)
	writeData(w, http.StatusOK, map[string]any{
		"jobId":  id.String(),
		"status": models.StatusCancelled,
	})
}

func (h *Handlers) attachWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid job id", nil)
		return
	}

	var req validation.WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}
	if errs := validation.ValidateWebhook(req); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid webhook URL", errs)
		return
	}

	if _, err := h.Store.GetJob(r.Context(), id); err != nil {
		if common.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "job not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to load job", nil)
		return
	}

	hook := &models.Webhook{JobID: id, URL: req.URL}
	if err := h.Store.CreateWebhook(r.Context(), hook); err != nil {
		slog.Error("failed to create webhook", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to create webhook", nil)
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"webhookId": hook.ID.String(),
		"jobId":     id.String(),
		"url":       req.URL,
	})
}

// --- calendar projection ---

var dayIndex = map[string]int{
	"Monday": 1, "Tuesday": 2, "Wednesday": 3, "Thursday": 4, "Friday": 5,
}

func (h *Handlers) fullCalendar(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid job id", nil)
		return
	}

	job, err := h.Store.GetJob(r.Context(), id)
	if err != nil {
		if common.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "job not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to load job", nil)
		return
	}
	if job.Status != models.StatusCompleted || job.TimetableID == nil {
		writeError(w, http.StatusConflict, "no_result",
			fmt.Sprintf("job is %s; calendar projection requires a completed job", job.Status), nil)
		return
	}

	t, err := h.Store.GetTimetable(r.Context(), *job.TimetableID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(common.KindStore), "failed to load result", nil)
		return
	}

	events := make([]map[string]any, 0, len(t.Blocks)+len(t.RecurringBlocks))
	for _, b := range t.Blocks {
		event := map[string]any{
			"title":      b.EventName,
			"daysOfWeek": []int{dayIndex[b.Day]},
			"startTime":  models.MinutesToClock(b.Start),
			"endTime":    models.MinutesToClock(b.End),
		}
		if b.Color != "" {
			event["color"] = b.Color
		}
		if b.Notes != "" {
			event["extendedProps"] = map[string]any{"notes": b.Notes}
		}
		events = append(events, event)
	}
	for _, rb := range t.RecurringBlocks {
		days := []int{1, 2, 3, 4, 5}
		if !rb.AppliesDaily {
			days = days[:0]
			for _, day := range models.Weekdays {
				if rb.Notes != "" && containsDay(rb.Notes, day) {
					days = append(days, dayIndex[day])
				}
			}
			if len(days) == 0 {
				days = []int{1, 2, 3, 4, 5}
			}
		}
		events = append(events, map[string]any{
			"title":      rb.EventName,
			"daysOfWeek": days,
			"startTime":  models.MinutesToClock(rb.Start),
			"endTime":    models.MinutesToClock(rb.End),
			"display":    "background",
		})
	}

	writeData(w, http.StatusOK, map[string]any{
		"events": events,
		"metadata": map[string]any{
			"teacherName": t.TeacherName,
			"className":   t.ClassName,
			"term":        t.Term,
			"week":        t.Week,
		},
	})
}

func containsDay(notes, day string) bool {
	return strings.Contains(strings.ToLower(notes), strings.ToLower(day))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
