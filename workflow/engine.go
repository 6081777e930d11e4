package workflow

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantfleet/quantfleet/internal/metrics"
	"github.com/quantfleet/quantfleet/registry"
	"github.com/quantfleet/quantfleet/state"
	"github.com/quantfleet/quantfleet/types"
)

// CompletionStream is the append-only audit stream for finished workflows.
const CompletionStream = "workflow:completed"

// Runner is the slice of the agent surface the engine drives.
type Runner interface {
	ID() string
	ProcessTask(ctx context.Context, task *types.Task) (*types.Action, error)
	Pause() error
}

// Config holds engine tunables.
type Config struct {
	// Definitions maps workflow kinds to their step tables. Nil installs
	// BuiltinDefinitions.
	Definitions map[types.WorkflowKind]*Definition
	// HistoryLimit bounds the retained completed-workflow records.
	HistoryLimit int
	// ReporterService is the registry ID of the storage collaborator that
	// receives completed workflow records. Empty disables reporting.
	ReporterService string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Definitions:     BuiltinDefinitions(),
		HistoryLimit:    100,
		ReporterService: ServiceReporting,
	}
}

// Engine executes named multi-step business processes across agents and
// registered services. Workflow instances run concurrently with each other;
// steps within one instance run strictly in order.
type Engine struct {
	config    Config
	registry  *registry.Registry
	store     state.Store
	collector *metrics.Collector
	logger    *zap.Logger

	mu      sync.Mutex
	agents  map[string]Runner
	history []*types.Workflow
}

// New creates an engine over the given registry. Store and collector are
// optional.
func New(config Config, reg *registry.Registry, store state.Store, collector *metrics.Collector, logger *zap.Logger) (*Engine, error) {
	if reg == nil {
		return nil, types.NewError(types.ErrValidation, "workflow: registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Definitions == nil {
		config.Definitions = BuiltinDefinitions()
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 100
	}
	return &Engine{
		config:    config,
		registry:  reg,
		store:     store,
		collector: collector,
		logger:    logger.With(zap.String("component", "workflow")),
		agents:    make(map[string]Runner),
	}, nil
}

// RegisterAgent makes an agent available to step bindings under its ID.
func (e *Engine) RegisterAgent(r Runner) error {
	if r == nil || r.ID() == "" {
		return types.NewError(types.ErrValidation, "workflow: agent with non-empty ID is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[r.ID()] = r
	return nil
}

// History returns the most recent completed workflow records, newest last.
func (e *Engine) History(limit int) []*types.Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]*types.Workflow, limit)
	copy(out, e.history[len(e.history)-limit:])
	return out
}

// Execute runs one workflow instance to its terminal state. The returned
// record always carries the step trail executed so far, including on
// failure. A critical step failure aborts the sequence and surfaces as
// ErrWorkflowStepFailed wrapping the cause.
func (e *Engine) Execute(ctx context.Context, kind types.WorkflowKind, params map[string]any) (*types.Workflow, error) {
	def, ok := e.config.Definitions[kind]
	if !ok {
		return nil, types.Errorf(types.ErrWorkflowUnknown, "no definition for workflow kind %q", kind)
	}

	wf := &types.Workflow{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    types.WorkflowRunning,
		StartedAt: time.Now(),
		Results:   make(map[string]any),
	}
	logger := e.logger.With(zap.String("workflow_id", wf.ID), zap.String("kind", string(kind)))
	logger.Info("workflow started")

	if kind == types.WorkflowEmergencyResponse && params["severity"] == "critical" {
		e.compensate(ctx, params, logger)
	}

	var execErr error
steps:
	for _, step := range def.Steps {
		rec := types.StepRecord{
			Name:      step.Name,
			Target:    step.Target.label(),
			Status:    types.StepRunning,
			StartedAt: time.Now(),
		}
		wf.Steps = append(wf.Steps, rec)
		idx := len(wf.Steps) - 1

		result, err := e.runStep(ctx, wf, &step, params)
		wf.Steps[idx].CompletedAt = time.Now()

		if err != nil {
			wf.Steps[idx].Status = types.StepFailed
			wf.Steps[idx].Error = err.Error()

			if types.HasCode(err, types.ErrRiskLimitExceeded) {
				// risk breaches escalate regardless of the critical set
				logger.Error("risk limit exceeded, escalating", zap.String("step", step.Name), zap.Error(err))
				e.compensate(ctx, map[string]any{"severity": "critical", "cause": err.Error()}, logger)
				wf.Status = types.WorkflowFailed
				execErr = types.Wrap(types.ErrWorkflowStepFailed, fmt.Sprintf("step %q exceeded risk limits", step.Name), err)
				break steps
			}
			if def.Critical[step.Name] {
				logger.Error("critical step failed, aborting", zap.String("step", step.Name), zap.Error(err))
				wf.Status = types.WorkflowFailed
				execErr = types.Wrap(types.ErrWorkflowStepFailed, fmt.Sprintf("critical step %q failed", step.Name), err)
				break steps
			}
			logger.Warn("non-critical step failed, continuing", zap.String("step", step.Name), zap.Error(err))
			continue
		}

		wf.Steps[idx].Status = types.StepCompleted
		wf.Steps[idx].Result = result
		wf.Results[step.Name] = result

		if halt, _ := result["halt_workflow"].(bool); halt {
			logger.Info("step requested early halt", zap.String("step", step.Name))
			break steps
		}
	}

	if wf.Status == types.WorkflowRunning {
		wf.Status = types.WorkflowCompleted
	}
	wf.CompletedAt = time.Now()
	logger.Info("workflow finished",
		zap.String("status", string(wf.Status)),
		zap.Int("steps", len(wf.Steps)),
		zap.Duration("duration", wf.Duration()))

	e.finish(ctx, wf)
	return wf, execErr
}

// runStep dispatches one step to its binding. The invocation payload carries
// the workflow ID, the cumulative prior results, and the caller's params.
func (e *Engine) runStep(ctx context.Context, wf *types.Workflow, step *StepDef, params map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(params)+len(step.Params)+2)
	for k, v := range params {
		input[k] = v
	}
	for k, v := range step.Params {
		input[k] = v
	}
	input["workflow_id"] = wf.ID
	input["prior_results"] = wf.Results

	if len(step.Parallel) > 0 {
		return e.fanOut(ctx, step, input)
	}

	switch step.Target.Kind {
	case TargetAgent:
		return e.runAgentStep(ctx, wf, step, input)
	case TargetService:
		op := step.Operation
		if op == "" {
			op = step.Name
		}
		return e.registry.Invoke(ctx, step.Target.ID, op, input)
	default:
		return nil, types.Errorf(types.ErrValidation, "step %q has unknown target kind %q", step.Name, step.Target.Kind)
	}
}

// fanOut issues the step's calls concurrently and merges their results under
// each operation name. Any single failure fails the whole step.
func (e *Engine) fanOut(ctx context.Context, step *StepDef, input map[string]any) (map[string]any, error) {
	results := make([]map[string]any, len(step.Parallel))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range step.Parallel {
		i, call := i, call
		g.Go(func() error {
			res, err := e.registry.Invoke(gctx, call.Target.ID, call.Operation, input)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(step.Parallel))
	for i, call := range step.Parallel {
		merged[call.Operation] = results[i]
	}
	return merged, nil
}

func (e *Engine) runAgentStep(ctx context.Context, wf *types.Workflow, step *StepDef, input map[string]any) (map[string]any, error) {
	e.mu.Lock()
	runner, ok := e.agents[step.Target.ID]
	e.mu.Unlock()
	if !ok {
		return nil, types.Errorf(types.ErrValidation, "step %q references unregistered agent %q", step.Name, step.Target.ID)
	}

	priority := 0.5
	if p, ok := input["priority"].(float64); ok {
		priority = p
	}
	task := &types.Task{
		ID:          uuid.NewString(),
		Kind:        step.Name,
		Description: step.Description,
		Priority:    priority,
		Context:     input,
		Status:      types.TaskPending,
		CreatedAt:   time.Now(),
	}
	if task.Description == "" {
		task.Description = step.Name
	}

	action, err := runner.ProcessTask(ctx, task)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id":     task.ID,
		"action_kind": action.Kind,
		"outcome":     action.ActualOutcome,
		"success":     action.Success,
	}, nil
}

// compensate performs the best-effort emergency side effects: request a
// trading halt, alert every online service, and pause the engine's agents.
func (e *Engine) compensate(ctx context.Context, params map[string]any, logger *zap.Logger) {
	logger.Warn("running emergency compensating actions")

	if _, err := e.registry.Invoke(ctx, ServiceExecution, "halt_trading", params); err != nil {
		logger.Error("trading halt request failed", zap.Error(err))
	}

	delivered := e.registry.Broadcast(ctx, map[string]any{
		"event":    "emergency",
		"severity": params["severity"],
	})
	logger.Info("emergency broadcast delivered", zap.Int("services", delivered))

	e.mu.Lock()
	runners := make([]Runner, 0, len(e.agents))
	for _, r := range e.agents {
		runners = append(runners, r)
	}
	e.mu.Unlock()
	for _, r := range runners {
		if err := r.Pause(); err != nil {
			logger.Warn("could not pause agent", zap.String("agent_id", r.ID()), zap.Error(err))
		}
	}
}

// finish records the terminal workflow: metrics, bounded history, one audit
// record, and fire-and-forget delivery to the reporting collaborator.
func (e *Engine) finish(ctx context.Context, wf *types.Workflow) {
	if e.collector != nil {
		e.collector.RecordWorkflow(string(wf.Kind), string(wf.Status), wf.Duration())
	}

	e.mu.Lock()
	e.history = append(e.history, wf)
	if len(e.history) > e.config.HistoryLimit {
		e.history = e.history[len(e.history)-e.config.HistoryLimit:]
	}
	e.mu.Unlock()

	if e.store != nil {
		_, err := e.store.AppendLog(ctx, CompletionStream, map[string]string{
			"workflow_id": wf.ID,
			"kind":        string(wf.Kind),
			"status":      string(wf.Status),
			"steps":       strconv.Itoa(len(wf.Steps)),
			"duration_ms": strconv.FormatInt(wf.Duration().Milliseconds(), 10),
		})
		if err != nil {
			e.logger.Warn("workflow audit append failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		}
	}

	if e.config.ReporterService != "" {
		// The caller owns wf once Execute returns, so the goroutine works
		// from a snapshot instead of touching the live record.
		results := make(map[string]any, len(wf.Results))
		for name, res := range wf.Results {
			results[name] = res
		}
		report := map[string]any{
			"workflow_id": wf.ID,
			"kind":        string(wf.Kind),
			"status":      string(wf.Status),
			"results":     results,
			"duration_ms": wf.Duration().Milliseconds(),
		}
		workflowID := wf.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := e.registry.Invoke(ctx, e.config.ReporterService, "store_workflow", report); err != nil {
				e.logger.Warn("workflow report delivery failed", zap.String("workflow_id", workflowID), zap.Error(err))
			}
		}()
	}
}
