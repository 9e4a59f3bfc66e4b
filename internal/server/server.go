package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jo-hoe/fixsmith/internal/common"
	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/jobs"
)

const (
	maxEventBodySize = 1 << 20
	// Slack rejects replayed requests older than five minutes; so do we.
	signatureMaxAge = 5 * time.Minute
)

type Service struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Queue *jobs.Queue

	// now is swappable for signature-staleness tests.
	now func() time.Time
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.now == nil {
		svc.now = time.Now
	}
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc(http.MethodPost+" "+common.PathEvents, svc.handleEvent)

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

// Inbound Slack Events API payloads.

type eventEnvelope struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge,omitempty"`
	Event     innerEvent `json:"event,omitempty"`
}

type innerEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	Text     string `json:"text"`
	User     string `json:"user"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
}

// handleEvent verifies the request signature, answers URL verification
// challenges, converts mention/message events into jobs, and returns
// immediately: processing is fire-and-forget from Slack's perspective.
func (svc *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	// Invalid events must be rejected before a job is ever constructed.
	if err := svc.verifySignature(r, body); err != nil {
		svc.Log.Warn("event signature rejected", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		writeJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
		return
	case "event_callback":
		svc.handleCallback(w, envelope.Event)
		return
	default:
		// Unknown envelope types are acknowledged so Slack does not retry them.
		w.WriteHeader(http.StatusOK)
	}
}

func (svc *Service) handleCallback(w http.ResponseWriter, ev innerEvent) {
	if ev.Type != "app_mention" && ev.Type != "message" {
		w.WriteHeader(http.StatusOK)
		return
	}
	// Ignore bot echoes and message edits, otherwise the bot answers itself.
	if ev.BotID != "" || ev.Subtype != "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	description := stripMention(ev.Text)
	if description == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	job := &jobs.Job{
		ID:          uuid.NewString(),
		Description: description,
		Channel:     ev.Channel,
		ThreadTS:    ev.TS,
		UserID:      ev.User,
		CreatedAt:   time.Now().UTC(),
	}

	if err := svc.Queue.Enqueue(job); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			svc.Log.Warn("queue full, event dropped", "job_id", job.ID)
			http.Error(w, "queue full, try later", http.StatusServiceUnavailable)
			return
		}
		svc.Log.Error("enqueue failed", "job_id", job.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	svc.Log.Info("job enqueued", "job_id", job.ID, "channel", job.Channel, "user", job.UserID)
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the Slack v0 signing scheme: the hex HMAC-SHA256 of
// "v0:<timestamp>:<body>" under the signing secret, with a staleness window.
func (svc *Service) verifySignature(r *http.Request, body []byte) error {
	tsHeader := r.Header.Get(common.HeaderSlackRequestTS)
	sigHeader := r.Header.Get(common.HeaderSlackSignature)
	if tsHeader == "" || sigHeader == "" {
		return errors.New("missing signature headers")
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return errors.New("malformed timestamp")
	}
	age := svc.now().Sub(time.Unix(ts, 0))
	if age > signatureMaxAge || age < -signatureMaxAge {
		return errors.New("stale timestamp")
	}

	mac := hmac.New(sha256.New, []byte(svc.Cfg.Slack.SigningSecret))
	mac.Write([]byte(common.SlackSignatureVersion + ":" + tsHeader + ":"))
	mac.Write(body)
	expected := common.SlackSignatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sigHeader)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// stripMention removes a leading <@UXXXX> bot mention from the message text.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if end := strings.Index(text, ">"); end >= 0 {
			text = strings.TrimSpace(text[end+1:])
		}
	}
	return text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
