package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
)

// stream serves a job's progress feed as server-sent events. Events
// already published are replayed first. The stream ends with a "done"
// event once the job is terminal, or when the client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.jobs.Subscribe(id, r.URL.Query().Get("replay") != "false")
	if err != nil {
		s.jobError(w, err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		zap.L().Warn("server: streaming unsupported", zap.Error(err))
		return
	}

	ctx := r.Context()
	finished := make(chan *model.Job, 1)
	go func() {
		job, err := s.jobs.Wait(ctx, id)
		if err == nil {
			finished <- job
		}
	}()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if !writeEvent(rc, w, "progress", ev) {
				return
			}
		case job := <-finished:
			drain(ctx, rc, w, sub.Events())
			writeEvent(rc, w, "done", map[string]any{
				"job_id":    job.ID,
				"status":    job.Status,
				"processed": job.Processed,
				"failed":    job.Failed,
				"dropped":   sub.Dropped(),
			})
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if rc.Flush() != nil {
				return
			}
		}
	}
}

// drain writes whatever is already queued without waiting for more.
func drain(ctx context.Context, rc *http.ResponseController, w http.ResponseWriter, ch <-chan model.ProgressEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok || !writeEvent(rc, w, "progress", ev) {
				return
			}
		default:
			return
		}
	}
}

func writeEvent(rc *http.ResponseController, w http.ResponseWriter, name string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("server: marshal event", zap.Error(err))
		return true
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return false
	}
	return rc.Flush() == nil
}
