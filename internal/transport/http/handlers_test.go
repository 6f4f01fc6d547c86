package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fedutinova/timegrid/internal/common"
	"github.com/fedutinova/timegrid/internal/config"
	"github.com/fedutinova/timegrid/internal/models"
	"github.com/fedutinova/timegrid/internal/queue"
	"github.com/fedutinova/timegrid/internal/storage"
)

type fakeStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*models.Job
	timetables map[uuid.UUID]*models.Timetable
	webhooks   []*models.Webhook
	enqueueErr []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:       map[uuid.UUID]*models.Job{},
		timetables: map[uuid.UUID]*models.Timetable{},
	}
}

func (s *fakeStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.CreatedAt = time.Now()
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, userID, status string, limit, offset int) ([]models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		if userID != "" && j.UserID != userID {
			continue
		}
		out = append(out, *j)
	}
	return out, len(out), nil
}

func (s *fakeStore) CancelIfPending(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.StatusPending {
		return false, nil
	}
	job.Status = models.StatusCancelled
	return true, nil
}

func (s *fakeStore) MarkEnqueueFailed(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = models.StatusFailed
		job.ErrorMessage = &message
	}
	s.enqueueErr = append(s.enqueueErr, id)
	return nil
}

func (s *fakeStore) GetTimetable(ctx context.Context, id uuid.UUID) (*models.Timetable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timetables[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) GetRetryLogs(ctx context.Context, jobID uuid.UUID) ([]models.RetryLog, error) {
	return nil, nil
}

func (s *fakeStore) CreateWebhook(ctx context.Context, w *models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	s.webhooks = append(s.webhooks, w)
	return nil
}

func newTestHandlers(t *testing.T) (*Handlers, *fakeStore, *queue.MemoryQueue) {
	t.Helper()

	store := newFakeStore()
	q := queue.NewMemoryQueue(time.Second)
	t.Cleanup(func() { _ = q.Close() })

	local, err := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("storage setup: %v", err)
	}

	h := &Handlers{
		Store:   store,
		Storage: local,
		Queue:   q,
		Config: config.Config{
			MaxUploadBytes: 10 << 20,
			MaxRetries:     3,
		},
	}
	return h, store, q
}

func newRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	h.Routers(r)
	return r
}

func multipartUpload(t *testing.T, fieldData []byte, contentType string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="grid.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(fieldData); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for k, v := range extra {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func pngBytes() []byte {
	return append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...)
}

func TestUpload_CreatesJobAndEnqueues(t *testing.T) {
	h, store, q := newTestHandlers(t)
	r := newRouter(h)

	body, ct := multipartUpload(t, pngBytes(), "image/png", map[string]string{
		"teacherName": "Ms. Reed",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v2/timetable/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			JobID     string `json:"jobId"`
			Status    string `json:"status"`
			StatusURL string `json:"statusUrl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !resp.Success || resp.Data.Status != models.StatusPending {
		t.Fatalf("unexpected response: %+v", resp)
	}

	jobID, err := uuid.Parse(resp.Data.JobID)
	if err != nil {
		t.Fatalf("bad job id: %v", err)
	}
	job, err := store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job not created: %v", err)
	}
	if job.TeacherName == nil || *job.TeacherName != "Ms. Reed" {
		t.Fatalf("metadata not stored: %+v", job)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued message, got %d", q.Len())
	}

	msgs, _ := q.Receive(context.Background(), 1, 100*time.Millisecond)
	m, err := queue.ParseJobMessage(msgs[0].Body)
	if err != nil {
		t.Fatalf("queued message unparseable: %v", err)
	}
	if m.JobID != jobID || m.TeacherName != "Ms. Reed" {
		t.Fatalf("queued message mismatch: %+v", m)
	}
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	h, store, q := newTestHandlers(t)
	r := newRouter(h)

	body, ct := multipartUpload(t, []byte("#!/bin/sh\necho hi"), "text/x-shellscript", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/timetable/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(store.jobs) != 0 {
		t.Fatalf("no job must be created for a rejected upload")
	}
	if q.Len() != 0 {
		t.Fatalf("nothing must be enqueued for a rejected upload")
	}
}

func TestUpload_RegistersWebhookBeforeEnqueue(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	r := newRouter(h)

	body, ct := multipartUpload(t, pngBytes(), "image/png", map[string]string{
		"webhookUrl": "https://example.com/cb",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v2/timetable/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if len(store.webhooks) != 1 || store.webhooks[0].URL != "https://example.com/cb" {
		t.Fatalf("webhook not registered: %+v", store.webhooks)
	}

	var resp struct {
		Data struct {
			WebhookRegistered bool `json:"webhookRegistered"`
		} `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Data.WebhookRegistered {
		t.Fatalf("webhookRegistered flag not set")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/timetable/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetJob_CompletedIncludesResult(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	r := newRouter(h)

	ttID := uuid.New()
	store.timetables[ttID] = &models.Timetable{
		ID: ttID,
		Blocks: []models.TimeBlock{
			{Day: "Monday", Start: 9 * 60, End: 10 * 60, EventName: "Maths"},
		},
	}
	method := "structured"
	now := time.Now()
	job := &models.Job{
		ID:          uuid.New(),
		Status:      models.StatusCompleted,
		Method:      &method,
		TimetableID: &ttID,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	store.jobs[job.ID] = job

	req := httptest.NewRequest(http.MethodGet, "/api/v2/timetable/jobs/"+job.ID.String(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Data struct {
			Status           string `json:"status"`
			ProcessingMethod string `json:"processingMethod"`
			Result           struct {
				Blocks []struct {
					Day       string `json:"day"`
					StartTime string `json:"startTime"`
				} `json:"blocks"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Data.ProcessingMethod != "structured" {
		t.Fatalf("method missing: %s", rec.Body)
	}
	if len(resp.Data.Result.Blocks) != 1 || resp.Data.Result.Blocks[0].StartTime != "09:00" {
		t.Fatalf("result missing or times not HH:MM: %s", rec.Body)
	}
}

func TestCancelJob_OnlyPending(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	r := newRouter(h)

	pending := &models.Job{ID: uuid.New(), Status: models.StatusPending, CreatedAt: time.Now()}
	processing := &models.Job{ID: uuid.New(), Status: models.StatusProcessing, CreatedAt: time.Now()}
	store.jobs[pending.ID] = pending
	store.jobs[processing.ID] = processing

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v2/timetable/jobs/"+pending.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for pending cancel, got %d", rec.Code)
	}
	if pending.Status != models.StatusCancelled {
		t.Fatalf("job not cancelled: %s", pending.Status)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v2/timetable/jobs/"+processing.ID.String(), nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for processing cancel, got %d", rec.Code)
	}
}

func TestAttachWebhook(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	r := newRouter(h)

	job := &models.Job{ID: uuid.New(), Status: models.StatusPending, CreatedAt: time.Now()}
	store.jobs[job.ID] = job

	body := bytes.NewBufferString(`{"url": "https://example.com/notify"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/timetable/jobs/"+job.ID.String()+"/webhook", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if len(store.webhooks) != 1 {
		t.Fatalf("webhook not created")
	}

	// invalid URL
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v2/timetable/jobs/"+job.ID.String()+"/webhook",
		bytes.NewBufferString(`{"url": "ftp://nope"}`))
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad URL, got %d", rec.Code)
	}
}

func TestFullCalendar_Projection(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	r := newRouter(h)

	ttID := uuid.New()
	store.timetables[ttID] = &models.Timetable{
		ID: ttID,
		Blocks: []models.TimeBlock{
			{Day: "Wednesday", Start: 9 * 60, End: 10 * 60, EventName: "Maths"},
		},
		RecurringBlocks: []models.RecurringBlock{
			{Start: 12 * 60, End: 12*60 + 45, EventName: "Lunch", AppliesDaily: true},
		},
	}
	job := &models.Job{ID: uuid.New(), Status: models.StatusCompleted, TimetableID: &ttID, CreatedAt: time.Now()}
	store.jobs[job.ID] = job

	req := httptest.NewRequest(http.MethodGet, "/api/v2/timetable/jobs/"+job.ID.String()+"/fullcalendar", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Data struct {
			Events []struct {
				Title      string `json:"title"`
				DaysOfWeek []int  `json:"daysOfWeek"`
				StartTime  string `json:"startTime"`
			} `json:"events"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(resp.Data.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Data.Events))
	}
	if resp.Data.Events[0].DaysOfWeek[0] != 3 {
		t.Fatalf("Wednesday should map to day 3: %+v", resp.Data.Events[0])
	}
	if len(resp.Data.Events[1].DaysOfWeek) != 5 {
		t.Fatalf("daily recurring event should span Mon-Fri: %+v", resp.Data.Events[1])
	}

	// pending job has no projection
	pendingJob := &models.Job{ID: uuid.New(), Status: models.StatusPending, CreatedAt: time.Now()}
	store.jobs[pendingJob.ID] = pendingJob
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/timetable/jobs/"+pendingJob.ID.String()+"/fullcalendar", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending job, got %d", rec.Code)
	}
}
