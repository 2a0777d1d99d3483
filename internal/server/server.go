// Package server exposes job submission, progress streaming and export
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/events"
	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/pipeline"
)

// maxUploadBytes caps request bodies for job submission.
const maxUploadBytes = 10 << 20

// Jobs is the job service the server fronts. *pipeline.Runner satisfies it.
type Jobs interface {
	Submit(ctx context.Context, inputs []model.ContractorInput, prefs model.Preferences) (string, error)
	Get(id string) (*model.Job, error)
	Results(id string) ([]model.EntityResult, error)
	Cancel(id string) error
	Subscribe(id string, replay bool) (*events.Subscription, error)
	Wait(ctx context.Context, id string) (*model.Job, error)
}

// Config tunes the server.
type Config struct {
	CORSOrigins []string
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server is the HTTP boundary.
type Server struct {
	jobs Jobs
	cfg  Config
}

// New creates a Server.
func New(jobs Jobs, cfg Config) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{jobs: jobs, cfg: cfg}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.submit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/results", s.results)
			r.Post("/cancel", s.cancel)
			r.Get("/events", s.stream)
			r.Get("/export", s.export)
		})
	})
	return r
}

type submitRequest struct {
	Contractors []model.ContractorInput `json:"contractors"`
	Preferences model.Preferences       `json:"preferences"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var (
		req submitRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv":
		req.Contractors, err = pipeline.ReadInputs(r.Body)
		if err == nil {
			req.Preferences, err = prefsFromQuery(r)
		}
	case "multipart/form-data":
		req, err = s.readMultipart(r)
	default:
		err = json.NewDecoder(r.Body).Decode(&req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !validStrictness(req.Preferences.Strictness) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strictness %q", req.Preferences.Strictness))
		return
	}

	id, err := s.jobs.Submit(r.Context(), req.Contractors, req.Preferences)
	if errors.Is(err, pipeline.ErrEmptyJob) {
		writeError(w, http.StatusBadRequest, "no contractors in request")
		return
	}
	if err != nil {
		zap.L().Error("server: submit job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start job")
		return
	}

	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      id,
		"status":      model.JobQueued,
		"contractors": len(req.Contractors),
	})
}

func (s *Server) readMultipart(r *http.Request) (submitRequest, error) {
	var req submitRequest
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return req, err
	}
	defer file.Close() //nolint:errcheck

	if req.Contractors, err = pipeline.ReadInputs(file); err != nil {
		return req, err
	}
	req.Preferences, err = prefsFromQuery(r)
	return req, err
}

// prefsFromQuery reads preferences from query or form values for CSV
// uploads.
func prefsFromQuery(r *http.Request) (model.Preferences, error) {
	var p model.Preferences
	p.Strictness = model.Strictness(r.FormValue("strictness"))
	if v := r.FormValue("use_llm"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, eris.Wrap(err, "use_llm")
		}
		p.UseLLM = b
	}
	if v := r.FormValue("budget_cap"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, eris.Wrap(err, "budget_cap")
		}
		p.BudgetCap = f
	}
	p.AllowDomains = splitList(r.FormValue("allow_domains"))
	p.DenyDomains = splitList(r.FormValue("deny_domains"))
	return p, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validStrictness(s model.Strictness) bool {
	switch s {
	case "", model.StrictnessLenient, model.StrictnessStandard, model.StrictnessStrict:
		return true
	}
	return false
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, err)
		return
	}
	job.Results = nil
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	results, err := s.jobs.Results(chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, err)
		return
	}
	if results == nil {
		results = []model.EntityResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(id); err != nil {
		s.jobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := s.jobs.Results(id)
	if err != nil {
		s.jobError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, id))
		err = pipeline.WriteCSV(w, results)
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, id))
		err = pipeline.WriteXLSX(w, results)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
		return
	}
	if err != nil {
		zap.L().Error("server: export failed", zap.String("job_id", id), zap.Error(err))
	}
}

func (s *Server) jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	zap.L().Error("server: job lookup", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
