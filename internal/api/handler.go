package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/datalens/internal/assistant"
	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/onboard"
	"github.com/kalambet/datalens/internal/semcache"
	"github.com/kalambet/datalens/internal/session"
	"github.com/kalambet/datalens/internal/storage"
	"github.com/kalambet/datalens/internal/table"
)

// CacheView exposes cache contents for inspection and bulk loading.
type CacheView interface {
	Stats(ctx context.Context) (semcache.Stats, error)
	List(ctx context.Context, limit int) ([]semcache.Entry, error)
	Import(ctx context.Context, pairs []semcache.Pair) (int, error)
}

// InteractionStore reads the interaction log.
type InteractionStore interface {
	RecentInteractions(ctx context.Context, sessionID string, limit int) ([]storage.Interaction, error)
	GetInteraction(ctx context.Context, id string) (storage.Interaction, error)
}

// JobQueue is the onboarding job queue plus the lookup behind /jobs/{id}.
type JobQueue interface {
	onboard.JobStore
	GetJob(ctx context.Context, id string) (storage.Job, error)
}

type Deps struct {
	Sessions     *session.Registry
	Assistant    *assistant.Assistant
	Jobs         JobQueue         // optional; if nil, no questions are suggested
	Cache        CacheView        // optional
	Interactions InteractionStore // optional
	Token        string
}

// NewHandler returns the REST API. /health is always public; every other
// route requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleCreateSession(deps))
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handleGetSession(deps))
			r.Delete("/", handleDeleteSession(deps))
			r.Put("/scope", handleSetScope(deps))
			r.Post("/ask", handleAsk(deps))
			r.Get("/history", handleHistory(deps))
			r.Get("/charts/{file}", handleChart(deps))
		})
		r.Get("/cache", handleCache(deps))
		r.Post("/cache/import", handleCacheImport(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type onboardingView struct {
	Catalog        onboard.CatalogInfo `json:"catalog"`
	Summary        *tableView          `json:"summary"`
	Questions      []string            `json:"questions"`
	QuestionsReady bool                `json:"questions_ready"`
	JobID          string              `json:"job_id,omitempty"`
}

type sessionView struct {
	ID         string         `json:"id"`
	Scope      string         `json:"scope"`
	ScopeLabel string         `json:"scope_label"`
	Scopes     []string       `json:"scopes"`
	Tables     []string       `json:"tables"`
	Onboarding onboardingView `json:"onboarding"`
}

func viewSession(s *session.Session) sessionView {
	tables := s.Tables()
	qs, ready := s.Questions()
	if qs == nil {
		qs = []string{}
	}
	return sessionView{
		ID:         s.ID,
		Scope:      s.Scope(),
		ScopeLabel: s.ScopeLabel(),
		Scopes:     s.Scopes(),
		Tables:     s.TableNames(),
		Onboarding: onboardingView{
			Catalog:        onboard.Catalog(tables),
			Summary:        viewTable(onboard.Summary(tables)),
			Questions:      qs,
			QuestionsReady: ready,
		},
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		tables, err := table.Load(r.Context(), header.Filename, data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		sess := deps.Sessions.Create(tables)
		var jobID string
		if deps.Jobs != nil {
			if jobID, err = onboard.Enqueue(r.Context(), deps.Jobs, sess.ID); err != nil {
				slog.Warn("enqueueing question suggestion failed", "session_id", sess.ID, "error", err)
				sess.SetQuestions([]string{})
			}
		} else {
			sess.SetQuestions([]string{})
		}

		view := viewSession(sess)
		view.Onboarding.JobID = jobID
		writeJSONStatus(w, http.StatusCreated, view)
	}
}

// withSession resolves the {id} URL parameter.
func withSession(deps Deps, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := deps.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	return sess, true
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := withSession(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, viewSession(sess))
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := withSession(deps, w, r); !ok {
			return
		}
		deps.Sessions.Delete(chi.URLParam(r, "id"))
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleSetScope(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := withSession(deps, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Scope string `json:"scope"`
		}
		if err := decodeJSON(r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := sess.SetScope(req.Scope); err != nil {
			var nf *session.ScopeNotFoundError
			if errors.As(err, &nf) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, map[string]string{"scope": sess.Scope(), "scope_label": sess.ScopeLabel()})
	}
}

type askResponse struct {
	ID         string `json:"id"`
	Answer     string `json:"answer"`
	Cached     bool   `json:"cached"`
	State      string `json:"state"`
	Steps      int    `json:"steps"`
	DurationMs int64  `json:"duration_ms"`
	ChartURL   string `json:"chart_url,omitempty"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := withSession(deps, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Query string `json:"query"`
		}
		if err := decodeJSON(r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		reply := deps.Assistant.Ask(r.Context(), sess, req.Query)
		resp := askResponse{
			ID:         reply.ID,
			Answer:     reply.Answer,
			Cached:     reply.Cached,
			State:      reply.State,
			Steps:      reply.Steps,
			DurationMs: reply.Duration.Milliseconds(),
		}
		if reply.ChartIndex >= 0 {
			resp.ChartURL = chartURL(sess.ID, reply.ChartIndex)
		}
		writeJSON(w, resp)
	}
}

func chartURL(sessionID string, n int) string {
	return fmt.Sprintf("/sessions/%s/charts/%d.png", sessionID, n)
}

type turnView struct {
	Role     session.Role `json:"role"`
	Kind     session.Kind `json:"kind"`
	Text     string       `json:"text,omitempty"`
	Tool     string       `json:"tool,omitempty"`
	ChartURL string       `json:"chart_url,omitempty"`
	At       time.Time    `json:"at"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := withSession(deps, w, r)
		if !ok {
			return
		}
		turns := sess.History()
		out := make([]turnView, 0, len(turns))
		charts := 0
		for _, t := range turns {
			v := turnView{Role: t.Role, Kind: t.Kind, Text: t.Text, Tool: t.Tool, At: t.At}
			if t.Kind == session.KindChart {
				v.ChartURL = chartURL(sess.ID, charts)
				charts++
			}
			out = append(out, v)
		}
		writeJSON(w, out)
	}
}

func handleChart(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := withSession(deps, w, r)
		if !ok {
			return
		}
		num, ext, _ := strings.Cut(chi.URLParam(r, "file"), ".")
		n, err := strconv.Atoi(num)
		if err != nil || n < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid chart number %q", num)
			return
		}
		fig, ok := sess.Chart(n)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "chart %d not found", n)
			return
		}

		var buf bytes.Buffer
		var contentType string
		switch ext {
		case "png":
			contentType = "image/png"
			err = fig.RenderPNG(&buf)
		case "svg":
			contentType = "image/svg+xml"
			err = fig.WriteSVG(&buf, chart.DefaultWidth, chart.DefaultHeight)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported chart format %q", ext)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rendering chart: %v", err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(buf.Bytes())
	}
}

func handleCache(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Cache == nil {
			httpError(w, http.StatusNotFound, "not_found", "semantic cache is disabled")
			return
		}
		stats, err := deps.Cache.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read cache stats: %v", err)
			return
		}
		entries, err := deps.Cache.List(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list cache entries: %v", err)
			return
		}
		if entries == nil {
			entries = []semcache.Entry{}
		}
		writeJSON(w, map[string]any{"stats": stats, "entries": entries})
	}
}

func handleCacheImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Cache == nil {
			httpError(w, http.StatusNotFound, "not_found", "semantic cache is disabled")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		var pairs []semcache.Pair
		if err := decodeJSON(r, &pairs); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
			return
		}
		n, err := deps.Cache.Import(r.Context(), pairs)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "import failed: %v", err)
			return
		}
		writeJSON(w, map[string]int{"imported": n})
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusNotFound, "not_found", "interaction log is disabled")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		interactions, err := deps.Interactions.RecentInteractions(r.Context(), r.URL.Query().Get("session_id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusNotFound, "not_found", "interaction log is disabled")
			return
		}
		interaction, err := deps.Interactions.GetInteraction(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, interaction)
	}
}

type jobView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Jobs == nil {
			httpError(w, http.StatusNotFound, "not_found", "job queue is disabled")
			return
		}
		job, err := deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, jobView{
			ID:          job.ID,
			Type:        job.Type,
			Status:      job.Status,
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			LastError:   job.LastError,
			UpdatedAt:   job.UpdatedAt,
		})
	}
}
