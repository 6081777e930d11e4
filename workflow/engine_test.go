package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/registry"
	"github.com/quantfleet/quantfleet/state"
	"github.com/quantfleet/quantfleet/types"
)

type fakeService struct {
	mu        sync.Mutex
	responses map[string]map[string]any
	errs      map[string]error
	calls     []registry.Request
}

func (f *fakeService) Invoke(_ context.Context, _ string, req *registry.Request) (*registry.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *req)
	if err, ok := f.errs[req.Operation]; ok {
		return nil, err
	}
	if res, ok := f.responses[req.Operation]; ok {
		return &registry.Response{Result: res}, nil
	}
	return &registry.Response{Result: map[string]any{"ok": true}}, nil
}

func (f *fakeService) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Operation
	}
	return out
}

func (f *fakeService) paramsFor(operation string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Operation == operation {
			return c.Params
		}
	}
	return nil
}

func (f *fakeService) called(operation string) bool {
	for _, op := range f.operations() {
		if op == operation {
			return true
		}
	}
	return false
}

type fakeAgent struct {
	mu     sync.Mutex
	id     string
	err    error
	tasks  []*types.Task
	paused bool
}

func (f *fakeAgent) ID() string { return f.id }

func (f *fakeAgent) ProcessTask(_ context.Context, task *types.Task) (*types.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return &types.Action{ID: "act-" + task.ID, Kind: "observe", ActualOutcome: "done", Success: true, Timestamp: time.Now()}, nil
}

func (f *fakeAgent) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeAgent) taskKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.tasks))
	for i, task := range f.tasks {
		out[i] = task.Kind
	}
	return out
}

func setupEngine(t *testing.T, svc *fakeService) (*Engine, *registry.Registry, state.Store) {
	t.Helper()
	logger := zap.NewNop()
	store := state.NewMemoryStore(logger)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(registry.Config{InvokeTimeout: time.Second}, svc, store, nil, logger)
	for _, id := range []string{ServiceMarketData, ServiceRiskEngine, ServiceExecution, ServiceCompliance, ServiceReporting, ServicePortfolio} {
		require.NoError(t, reg.Register(&types.ServiceDescriptor{ID: id, Endpoint: "fake://" + id}))
	}

	engine, err := New(Config{ReporterService: ""}, reg, store, nil, logger)
	require.NoError(t, err)
	return engine, reg, store
}

func registerFleet(t *testing.T, engine *Engine) map[string]*fakeAgent {
	t.Helper()
	fleet := make(map[string]*fakeAgent)
	for _, id := range []string{AgentAnalyst, AgentRisk, AgentTrader} {
		a := &fakeAgent{id: id}
		require.NoError(t, engine.RegisterAgent(a))
		fleet[id] = a
	}
	return fleet
}

func TestExecute_UnknownKind(t *testing.T) {
	engine, _, _ := setupEngine(t, &fakeService{})

	_, err := engine.Execute(context.Background(), types.WorkflowKind("made_up"), nil)
	assert.True(t, types.HasCode(err, types.ErrWorkflowUnknown))
}

func TestExecute_RoutineCycleCompletes(t *testing.T) {
	svc := &fakeService{}
	engine, _, _ := setupEngine(t, svc)
	fleet := registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowRoutineCycle, map[string]any{"priority": 0.9})
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, wf.Status)
	require.Len(t, wf.Steps, 5)
	for _, step := range wf.Steps {
		assert.Equal(t, types.StepCompleted, step.Status, "step %s", step.Name)
	}
	assert.Equal(t, []string{"risk_check"}, fleet[AgentRisk].taskKinds())
	assert.True(t, svc.called("snapshot"))
	assert.True(t, svc.called("store_cycle"))

	// the trader agent saw the priority from the caller's params
	require.Len(t, fleet[AgentTrader].tasks, 1)
	assert.InDelta(t, 0.9, fleet[AgentTrader].tasks[0].Priority, 1e-9)
}

func TestExecute_CriticalStepAborts(t *testing.T) {
	svc := &fakeService{}
	engine, _, _ := setupEngine(t, svc)
	fleet := registerFleet(t, engine)
	fleet[AgentRisk].err = types.NewError(types.ErrServiceCallFailed, "limits unavailable")

	wf, err := engine.Execute(context.Background(), types.WorkflowRoutineCycle, nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrWorkflowStepFailed))

	require.NotNil(t, wf)
	assert.Equal(t, types.WorkflowFailed, wf.Status)
	// the trail stops at the failed critical step
	require.Len(t, wf.Steps, 3)
	assert.Equal(t, "risk_check", wf.Steps[2].Name)
	assert.Equal(t, types.StepFailed, wf.Steps[2].Status)
	assert.NotEmpty(t, wf.Steps[2].Error)
	// execute and reporting never ran
	assert.Empty(t, fleet[AgentTrader].tasks)
	assert.False(t, svc.called("store_cycle"))
}

func TestExecute_NonCriticalStepContinues(t *testing.T) {
	svc := &fakeService{errs: map[string]error{
		"store_cycle": types.NewError(types.ErrServiceCallFailed, "warehouse rejected record"),
	}}
	engine, _, _ := setupEngine(t, svc)
	registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowRoutineCycle, nil)
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, wf.Status)
	require.Len(t, wf.Steps, 5)
	last := wf.Steps[4]
	assert.Equal(t, "reporting", last.Name)
	assert.Equal(t, types.StepFailed, last.Status)
	assert.NotEmpty(t, last.Error)
}

func TestExecute_HaltFlagStopsEarlyAsCompleted(t *testing.T) {
	svc := &fakeService{responses: map[string]map[string]any{
		"snapshot": {"halt_workflow": true, "reason": "market closed"},
	}}
	engine, _, _ := setupEngine(t, svc)
	fleet := registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowRoutineCycle, nil)
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, wf.Status)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, types.StepCompleted, wf.Steps[0].Status)
	assert.Empty(t, fleet[AgentAnalyst].tasks)
}

func TestExecute_PriorResultsVisibleToLaterSteps(t *testing.T) {
	svc := &fakeService{responses: map[string]map[string]any{
		"snapshot": {"spx": 5000.0},
	}}
	engine, _, _ := setupEngine(t, svc)
	fleet := registerFleet(t, engine)

	_, err := engine.Execute(context.Background(), types.WorkflowRoutineCycle, nil)
	require.NoError(t, err)

	require.Len(t, fleet[AgentAnalyst].tasks, 1)
	prior, ok := fleet[AgentAnalyst].tasks[0].Context["prior_results"].(map[string]any)
	require.True(t, ok)
	scan, ok := prior["market_scan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5000.0, scan["spx"])
}

func TestExecute_ParallelAnalyses(t *testing.T) {
	svc := &fakeService{responses: map[string]map[string]any{
		"var_analysis":  {"var_95": 1.2},
		"stress_test":   {"worst_case": -8.5},
		"concentration": {"max_weight": 0.18},
	}}
	engine, _, _ := setupEngine(t, svc)
	registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowRiskAssessment, nil)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, wf.Status)

	analyze, ok := wf.Results["analyze"].(map[string]any)
	require.True(t, ok)
	for _, op := range []string{"var_analysis", "stress_test", "concentration"} {
		assert.Contains(t, analyze, op)
	}
}

func TestExecute_ParallelFailureFailsCriticalStep(t *testing.T) {
	svc := &fakeService{errs: map[string]error{
		"stress_test": types.NewError(types.ErrServiceCallFailed, "scenario set missing"),
	}}
	engine, _, _ := setupEngine(t, svc)
	registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowRiskAssessment, nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrWorkflowStepFailed))
	assert.Equal(t, types.WorkflowFailed, wf.Status)
}

func TestExecute_EmergencyCompensatingActions(t *testing.T) {
	svc := &fakeService{}
	engine, _, _ := setupEngine(t, svc)
	fleet := registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowEmergencyResponse, map[string]any{"severity": "critical"})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, wf.Status)

	// halt_trading ran as a compensating action before the assess step and
	// again as the workflow's own halt step
	halts := 0
	for _, op := range svc.operations() {
		if op == "halt_trading" {
			halts++
		}
	}
	assert.Equal(t, 2, halts)
	for id, a := range fleet {
		assert.True(t, a.paused, "agent %s should be paused", id)
	}
}

func TestExecute_NonCriticalSeveritySkipsCompensation(t *testing.T) {
	svc := &fakeService{}
	engine, _, _ := setupEngine(t, svc)
	fleet := registerFleet(t, engine)

	_, err := engine.Execute(context.Background(), types.WorkflowEmergencyResponse, map[string]any{"severity": "elevated"})
	require.NoError(t, err)

	for _, a := range fleet {
		assert.False(t, a.paused)
	}
}

func TestExecute_RiskLimitEscalatesFromAnyWorkflow(t *testing.T) {
	svc := &fakeService{}
	engine, _, _ := setupEngine(t, svc)
	fleet := registerFleet(t, engine)
	fleet[AgentAnalyst].err = types.NewError(types.ErrRiskLimitExceeded, "exposure beyond mandate")

	wf, err := engine.Execute(context.Background(), types.WorkflowEvaluation, nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrWorkflowStepFailed))
	assert.Equal(t, types.WorkflowFailed, wf.Status)
	// "evaluate" is non-critical for evaluations, yet a risk breach still
	// halts trading and pauses the fleet
	assert.True(t, svc.called("halt_trading"))
	for _, a := range fleet {
		assert.True(t, a.paused)
	}
}

func TestExecute_AppendsCompletionAudit(t *testing.T) {
	svc := &fakeService{}
	engine, _, store := setupEngine(t, svc)
	registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowReportGeneration, nil)
	require.NoError(t, err)

	records, err := store.ReadLog(context.Background(), CompletionStream, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, wf.ID, records[0].Fields["workflow_id"])
	assert.Equal(t, string(types.WorkflowCompleted), records[0].Fields["status"])
}

func TestExecute_ReporterReceivesRecord(t *testing.T) {
	svc := &fakeService{}
	logger := zap.NewNop()
	store := state.NewMemoryStore(logger)
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(registry.Config{InvokeTimeout: time.Second}, svc, store, nil, logger)
	require.NoError(t, reg.Register(&types.ServiceDescriptor{ID: ServiceReporting, Endpoint: "fake://reporting"}))

	engine, err := New(Config{ReporterService: ServiceReporting}, reg, store, nil, logger)
	require.NoError(t, err)
	registerFleet(t, engine)

	wf, err := engine.Execute(context.Background(), types.WorkflowReportGeneration, nil)
	require.NoError(t, err)
	stepNames := make([]string, 0, len(wf.Results))
	for name := range wf.Results {
		stepNames = append(stepNames, name)
	}
	require.NotEmpty(t, stepNames)

	// the caller owns the record after Execute; the report is a snapshot
	for name := range wf.Results {
		delete(wf.Results, name)
	}

	// delivery is fire-and-forget
	assert.Eventually(t, func() bool {
		return svc.called("store_workflow")
	}, time.Second, 10*time.Millisecond)

	reported, ok := svc.paramsFor("store_workflow")["results"].(map[string]any)
	require.True(t, ok)
	for _, name := range stepNames {
		assert.Contains(t, reported, name)
	}
}

func TestHistory_BoundedNewestLast(t *testing.T) {
	svc := &fakeService{}
	engine, _, _ := setupEngine(t, svc)
	registerFleet(t, engine)
	engine.config.HistoryLimit = 3

	var last *types.Workflow
	for i := 0; i < 5; i++ {
		wf, err := engine.Execute(context.Background(), types.WorkflowReportGeneration, nil)
		require.NoError(t, err)
		last = wf
	}

	history := engine.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, last.ID, history[2].ID)

	assert.Len(t, engine.History(2), 2)
}
