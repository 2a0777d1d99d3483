package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/discovery-cli/internal/budget"
	"github.com/sells-group/discovery-cli/internal/cost"
	"github.com/sells-group/discovery-cli/internal/events"
	"github.com/sells-group/discovery-cli/internal/model"
)

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = eris.New("pipeline: job not found")
	// ErrEmptyJob is returned when a job has no inputs.
	ErrEmptyJob = eris.New("pipeline: job has no contractors")
)

// RunnerConfig tunes job execution.
type RunnerConfig struct {
	// MaxConcurrent bounds how many entities of one job run at once.
	MaxConcurrent int
	// BudgetPerEntity is the metered search calls allowed per entity.
	BudgetPerEntity int
}

type jobState struct {
	job     model.Job
	results []model.EntityResult
	cancel  context.CancelFunc
	done    chan struct{}
}

// Runner accepts jobs and runs them asynchronously on a bounded worker
// pool. Jobs live in memory for the life of the Runner.
type Runner struct {
	orch   *Orchestrator
	events *events.Broadcaster
	cfg    RunnerConfig
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[string]*jobState
	wg   sync.WaitGroup
}

// NewRunner creates a Runner. bc may be nil when nobody watches progress.
func NewRunner(orch *Orchestrator, bc *events.Broadcaster, cfg RunnerConfig) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.BudgetPerEntity <= 0 {
		cfg.BudgetPerEntity = budget.DefaultMaxCalls
	}
	if bc == nil {
		bc = events.New()
	}
	return &Runner{
		orch:   orch,
		events: bc,
		cfg:    cfg,
		now:    time.Now,
		jobs:   make(map[string]*jobState),
	}
}

// Events returns the runner's broadcaster.
func (r *Runner) Events() *events.Broadcaster { return r.events }

// Submit queues a job and returns its ID immediately. The job keeps
// running after ctx is done; use Cancel to stop it.
func (r *Runner) Submit(ctx context.Context, inputs []model.ContractorInput, prefs model.Preferences) (string, error) {
	if len(inputs) == 0 {
		return "", ErrEmptyJob
	}
	if prefs.Strictness == "" {
		prefs.Strictness = model.StrictnessStandard
	}

	rows := make([]model.ContractorInput, len(inputs))
	for i, in := range inputs {
		in.Position = i
		rows[i] = in
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &jobState{
		job: model.Job{
			ID:          uuid.New().String(),
			Status:      model.JobQueued,
			Inputs:      rows,
			Preferences: prefs,
			CreatedAt:   r.now().UTC(),
		},
		results: make([]model.EntityResult, len(rows)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[st.job.ID] = st
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(st.done)
		defer cancel()
		r.run(jobCtx, st)
	}()

	zap.L().Info("pipeline: job submitted", zap.String("job_id", st.job.ID), zap.Int("contractors", len(rows)))
	return st.job.ID, nil
}

func (r *Runner) run(ctx context.Context, st *jobState) {
	r.mu.Lock()
	id := st.job.ID
	prefs := st.job.Preferences
	inputs := st.job.Inputs
	started := r.now().UTC()
	st.job.Status = model.JobRunning
	st.job.StartedAt = &started
	r.mu.Unlock()

	log := zap.L().With(zap.String("job_id", id))
	r.publish(id, model.SeverityInfo, "Job started", map[string]any{"contractors": len(inputs)})

	scope := Scope{
		JobID:       id,
		Preferences: prefs,
		Ledger:      budget.NewLedger(r.cfg.BudgetPerEntity),
		Tracker:     cost.NewTracker(prefs.BudgetCap),
		Emit:        r.events,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrent)
	for i, in := range inputs {
		g.Go(func() error {
			var res model.EntityResult
			if err := gCtx.Err(); err != nil {
				res = model.EntityResult{Input: in, Stage: model.StageFailed, Error: eris.Wrap(err, "pipeline: not started").Error()}
			} else {
				res = r.orch.Process(gCtx, scope, in)
			}
			r.record(st, i, res)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	completed := r.now().UTC()
	st.job.CompletedAt = &completed
	st.job.TotalCost = scope.Tracker.Total()
	switch {
	case ctx.Err() != nil:
		st.job.Status = model.JobCancelled
		st.job.Error = "cancelled"
	case st.job.Failed == len(inputs):
		st.job.Status = model.JobFailed
		st.job.Error = "no contractor could be resolved"
	default:
		st.job.Status = model.JobCompleted
	}
	status, processed, failed, total := st.job.Status, st.job.Processed, st.job.Failed, st.job.TotalCost
	r.mu.Unlock()

	sev := model.SeveritySuccess
	if status != model.JobCompleted {
		sev = model.SeverityWarning
	}
	r.publish(id, sev, "Job "+string(status), map[string]any{
		"processed":  processed,
		"failed":     failed,
		"total_cost": total,
	})
	log.Info("pipeline: job finished",
		zap.String("status", string(status)),
		zap.Int("processed", processed),
		zap.Int("failed", failed),
		zap.Float64("total_cost", total),
	)
}

func (r *Runner) record(st *jobState, i int, res model.EntityResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.results[i] = res
	st.job.Processed++
	if res.Failed() {
		st.job.Failed++
	}
}

func (r *Runner) publish(jobID string, sev model.Severity, summary string, detail map[string]any) {
	r.events.Publish(model.ProgressEvent{
		Timestamp: r.now().UTC(),
		Severity:  sev,
		Component: "runner",
		Summary:   summary,
		Detail:    detail,
		JobID:     jobID,
	})
}

func (r *Runner) state(id string) (*jobState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.jobs[id]
	if !ok {
		return nil, eris.Wrapf(ErrJobNotFound, "id %s", id)
	}
	return st, nil
}

// Get returns a snapshot of the job, including results finished so far.
func (r *Runner) Get(id string) (*model.Job, error) {
	st, err := r.state(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job := st.job
	job.Inputs = append([]model.ContractorInput(nil), st.job.Inputs...)
	job.Results = finished(st.results)
	return &job, nil
}

// Results returns the finished entity results in input order.
func (r *Runner) Results(id string) ([]model.EntityResult, error) {
	st, err := r.state(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return finished(st.results), nil
}

// Cancel stops a job. In-flight fetches are aborted and unstarted
// entities are skipped.
func (r *Runner) Cancel(id string) error {
	st, err := r.state(id)
	if err != nil {
		return err
	}
	st.cancel()
	zap.L().Info("pipeline: job cancel requested", zap.String("job_id", id))
	return nil
}

// Subscribe opens a progress feed for one job. With replay set, recent
// events of the job are delivered first.
func (r *Runner) Subscribe(id string, replay bool) (*events.Subscription, error) {
	if _, err := r.state(id); err != nil {
		return nil, err
	}
	return r.events.Subscribe(events.ForJob(id), replay), nil
}

// Wait blocks until the job finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (*model.Job, error) {
	st, err := r.state(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-st.done:
		return r.Get(id)
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "pipeline: wait for job")
	}
}

// Shutdown cancels every job and waits for workers to exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, st := range r.jobs {
		st.cancel()
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pipeline: shutdown")
	}
}

// finished drops slots of entities that have not completed yet.
func finished(results []model.EntityResult) []model.EntityResult {
	out := make([]model.EntityResult, 0, len(results))
	for _, res := range results {
		if res.Stage.Terminal() {
			out = append(out, res)
		}
	}
	return out
}
