package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/fixsmith/internal/common"
	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/jobs"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// captureHandler records every job the queue hands it.
type captureHandler struct {
	mu   sync.Mutex
	jobs []*jobs.Job
}

func (h *captureHandler) Process(ctx context.Context, job *jobs.Job) (jobs.JobResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return jobs.JobResult{JobID: job.ID, Status: jobs.StatusCompleted}, nil
}

func (h *captureHandler) captured() []*jobs.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*jobs.Job(nil), h.jobs...)
}

// blockingHandler parks forever after signalling entry, so the queue fills up.
type blockingHandler struct {
	entered chan struct{}
}

func (h *blockingHandler) Process(ctx context.Context, job *jobs.Job) (jobs.JobResult, error) {
	h.entered <- struct{}{}
	<-ctx.Done()
	return jobs.JobResult{JobID: job.ID, Status: jobs.StatusFailed}, nil
}

func newTestService(t *testing.T, capacity int, h jobs.Handler) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := jobs.NewQueue(logger, capacity, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := queue.Start(ctx, h); err != nil {
		t.Fatalf("start queue: %v", err)
	}

	cfg := &config.Config{}
	cfg.Slack.SigningSecret = testSigningSecret
	return &Service{
		Log:   logger,
		Cfg:   cfg,
		Queue: queue,
		now:   func() time.Time { return testNow },
	}
}

func sign(secret, ts, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(common.SlackSignatureVersion + ":" + ts + ":" + body))
	return common.SlackSignatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

func signedEventRequest(body string, at time.Time) *http.Request {
	ts := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, common.PathEvents, strings.NewReader(body))
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	req.Header.Set(common.HeaderSlackRequestTS, ts)
	req.Header.Set(common.HeaderSlackSignature, sign(testSigningSecret, ts, body))
	return req
}

func serve(svc *Service, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	NewHTTPServer(svc).Handler.ServeHTTP(rec, req)
	return rec
}

func mentionEvent(text string) string {
	return fmt.Sprintf(`{
		"type": "event_callback",
		"event": {
			"type": "app_mention",
			"text": %q,
			"user": "U0USER",
			"channel": "C0CHAN",
			"ts": "1717243200.000100"
		}
	}`, text)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHealthz(t *testing.T) {
	svc := newTestService(t, 8, &captureHandler{})
	rec := serve(svc, httptest.NewRequest(http.MethodGet, common.PathHealthz, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestURLVerificationChallenge(t *testing.T) {
	svc := newTestService(t, 8, &captureHandler{})
	body := `{"type": "url_verification", "challenge": "ch4ll3nge"}`
	rec := serve(svc, signedEventRequest(body, testNow))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"challenge":"ch4ll3nge"`) {
		t.Errorf("challenge not echoed: %s", rec.Body.String())
	}
}

func TestEventEnqueuesJob(t *testing.T) {
	h := &captureHandler{}
	svc := newTestService(t, 8, h)
	rec := serve(svc, signedEventRequest(mentionEvent("<@U0BOT> Fix the typo in README.md"), testNow))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	waitFor(t, func() bool { return len(h.captured()) == 1 })
	job := h.captured()[0]
	if job.Description != "Fix the typo in README.md" {
		t.Errorf("expected mention stripped, got %q", job.Description)
	}
	if job.Channel != "C0CHAN" || job.UserID != "U0USER" {
		t.Errorf("unexpected origin: channel=%q user=%q", job.Channel, job.UserID)
	}
	if job.ThreadTS != "1717243200.000100" {
		t.Errorf("expected thread anchored at event ts, got %q", job.ThreadTS)
	}
	if job.ID == "" {
		t.Error("expected a job id")
	}
}

func TestRejectsBadSignature(t *testing.T) {
	h := &captureHandler{}
	svc := newTestService(t, 8, h)
	req := signedEventRequest(mentionEvent("Fix it"), testNow)
	req.Header.Set(common.HeaderSlackSignature, "v0=deadbeef")

	rec := serve(svc, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(h.captured()) != 0 {
		t.Error("job must not be created for an unverified event")
	}
}

func TestRejectsStaleTimestamp(t *testing.T) {
	svc := newTestService(t, 8, &captureHandler{})
	rec := serve(svc, signedEventRequest(mentionEvent("Fix it"), testNow.Add(-10*time.Minute)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRejectsMissingSignatureHeaders(t *testing.T) {
	svc := newTestService(t, 8, &captureHandler{})
	req := httptest.NewRequest(http.MethodPost, common.PathEvents, strings.NewReader(mentionEvent("Fix it")))

	rec := serve(svc, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRejectsInvalidJSON(t *testing.T) {
	svc := newTestService(t, 8, &captureHandler{})
	rec := serve(svc, signedEventRequest("not json", testNow))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIgnoresBotAndEditedEvents(t *testing.T) {
	cases := map[string]string{
		"bot echo": `{
			"type": "event_callback",
			"event": {"type": "message", "text": "Fix it", "channel": "C0CHAN", "ts": "1.2", "bot_id": "B0BOT"}
		}`,
		"message edit": `{
			"type": "event_callback",
			"event": {"type": "message", "subtype": "message_changed", "text": "Fix it", "channel": "C0CHAN", "ts": "1.2"}
		}`,
		"unhandled event type": `{
			"type": "event_callback",
			"event": {"type": "reaction_added", "channel": "C0CHAN", "ts": "1.2"}
		}`,
		"empty text after mention": mentionEvent("<@U0BOT>"),
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			h := &captureHandler{}
			svc := newTestService(t, 8, h)
			rec := serve(svc, signedEventRequest(body, testNow))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			time.Sleep(20 * time.Millisecond)
			if len(h.captured()) != 0 {
				t.Error("event should be ignored without a job")
			}
		})
	}
}

func TestQueueFullReturns503(t *testing.T) {
	h := &blockingHandler{entered: make(chan struct{}, 4)}
	svc := newTestService(t, 1, h)

	// First job parks in the worker.
	rec := serve(svc, signedEventRequest(mentionEvent("Fix one"), testNow))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	<-h.entered

	// Second fills the buffer, third has nowhere to go.
	rec = serve(svc, signedEventRequest(mentionEvent("Fix two"), testNow))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = serve(svc, signedEventRequest(mentionEvent("Fix three"), testNow))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestStripMention(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<@U0BOT> Fix the typo", "Fix the typo"},
		{"  <@U0BOT>   Fix the typo  ", "Fix the typo"},
		{"Fix the typo", "Fix the typo"},
		{"<@U0BOT>", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := stripMention(tc.in); got != tc.want {
			t.Errorf("stripMention(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
