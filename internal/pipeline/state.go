package pipeline

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
)

// Emitter receives progress events. It must not block.
type Emitter interface {
	Publish(ev model.ProgressEvent)
}

// allowedTransitions is the per-entity state machine. Failed is reachable
// from every non-terminal stage and is added by canTransition.
var allowedTransitions = map[model.Stage]model.Stage{
	model.StageStart:            model.StageRegistryLookup,
	model.StageRegistryLookup:   model.StageStrategyDecision,
	model.StageStrategyDecision: model.StageExecution,
	model.StageExecution:        model.StageValidation,
	model.StageValidation:       model.StageInterpretation,
	model.StageInterpretation:   model.StageDone,
}

func canTransition(from, to model.Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == model.StageFailed {
		return true
	}
	return allowedTransitions[from] == to
}

// stageComponent names the sub-component that owns each stage.
var stageComponent = map[model.Stage]string{
	model.StageStart:            "orchestrator",
	model.StageRegistryLookup:   "registry",
	model.StageStrategyDecision: "reasoner",
	model.StageExecution:        "discovery",
	model.StageValidation:       "validate",
	model.StageInterpretation:   "reasoner",
	model.StageDone:             "orchestrator",
	model.StageFailed:           "orchestrator",
}

// machine tracks one entity's stage and emits an event per transition.
type machine struct {
	jobID          string
	registryNumber string
	emit           Emitter
	now            func() time.Time
	log            *zap.Logger

	stage   model.Stage
	entered time.Time
}

func newMachine(jobID, registryNumber string, emit Emitter, now func() time.Time, log *zap.Logger) *machine {
	return &machine{
		jobID:          jobID,
		registryNumber: registryNumber,
		emit:           emit,
		now:            now,
		log:            log,
		stage:          model.StageStart,
		entered:        now(),
	}
}

// advance moves to the next stage and publishes the event describing it.
func (m *machine) advance(to model.Stage, sev model.Severity, summary string, detail map[string]any) error {
	if !canTransition(m.stage, to) {
		return eris.Errorf("pipeline: illegal transition %s -> %s", m.stage, to)
	}
	from := m.stage
	elapsed := m.now().Sub(m.entered)
	m.stage = to
	m.entered = m.now()

	m.log.Debug("pipeline: stage transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Duration("elapsed", elapsed),
	)
	m.publish(to, sev, summary, detail)
	return nil
}

// publish emits an event for the current stage without transitioning.
func (m *machine) publish(stage model.Stage, sev model.Severity, summary string, detail map[string]any) {
	if m.emit == nil {
		return
	}
	m.emit.Publish(model.ProgressEvent{
		Timestamp:      m.now().UTC(),
		Severity:       sev,
		Component:      stageComponent[stage],
		Summary:        summary,
		Detail:         detail,
		JobID:          m.jobID,
		RegistryNumber: m.registryNumber,
		Stage:          stage,
	})
}
