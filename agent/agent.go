package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/internal/metrics"
	"github.com/quantfleet/quantfleet/internal/retry"
	"github.com/quantfleet/quantfleet/llm"
	"github.com/quantfleet/quantfleet/memory"
	statestore "github.com/quantfleet/quantfleet/state"
	"github.com/quantfleet/quantfleet/types"
)

// Executor carries an action out against the outside world.
type Executor interface {
	Execute(ctx context.Context, action *types.Action) (outcome string, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, action *types.Action) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, action *types.Action) (string, error) {
	return f(ctx, action)
}

// Config holds tunables for one agent.
type Config struct {
	ID                string
	Name              string
	MemoryFetchLimit  int
	InitialConfidence float64
	RecentActionLimit int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Name == "" {
		out.Name = out.ID
	}
	if out.MemoryFetchLimit <= 0 {
		out.MemoryFetchLimit = 10
	}
	if out.InitialConfidence <= 0 {
		out.InitialConfidence = 0.5
	}
	if out.RecentActionLimit <= 0 {
		out.RecentActionLimit = 10
	}
	return out
}

// Agent runs the think, decide, act, learn cycle for one task at a time.
type Agent struct {
	config     Config
	provider   llm.Provider
	memory     *memory.Subsystem
	strategies []Strategy
	executor   Executor
	store      statestore.Store
	retryer    *retry.Retryer
	collector  *metrics.Collector
	logger     *zap.Logger

	mu            sync.Mutex
	state         State
	confidence    float64
	recentActions []*types.Action
}

// New creates an agent in the idle state. Store and collector are optional;
// provider, memory and executor are not.
func New(config Config, provider llm.Provider, mem *memory.Subsystem, strategies []Strategy, executor Executor, store statestore.Store, collector *metrics.Collector, logger *zap.Logger) (*Agent, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrValidation, "agent: provider is required")
	}
	if mem == nil {
		return nil, types.NewError(types.ErrValidation, "agent: memory subsystem is required")
	}
	if executor == nil {
		return nil, types.NewError(types.ErrValidation, "agent: executor is required")
	}
	if len(strategies) == 0 {
		strategies = []Strategy{NewDeductiveStrategy(DefaultTradingRules())}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.withDefaults()
	return &Agent{
		config:     cfg,
		provider:   provider,
		memory:     mem,
		strategies: strategies,
		executor:   executor,
		store:      store,
		retryer:    retry.New(retry.DefaultPolicy(), logger),
		collector:  collector,
		logger:     logger.With(zap.String("agent_id", cfg.ID)),
		state:      StateIdle,
		confidence: cfg.InitialConfidence,
	}, nil
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.config.ID }

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.config.Name }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Confidence returns the agent's running confidence.
func (a *Agent) Confidence() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.confidence
}

// RecentActions returns a copy of the most recent actions, newest last.
func (a *Agent) RecentActions() []*types.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*types.Action, len(a.recentActions))
	copy(out, a.recentActions)
	return out
}

// Pause moves an idle agent to waiting so it stops accepting tasks.
func (a *Agent) Pause() error {
	return a.transition(StateWaiting)
}

// Resume moves a waiting agent back to idle.
func (a *Agent) Resume() error {
	return a.transition(StateIdle)
}

// Reset forces the agent out of the error state back to idle.
func (a *Agent) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateError {
		return transitionError(a.state, StateIdle)
	}
	a.state = StateIdle
	return nil
}

func (a *Agent) transition(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !CanTransition(a.state, to) {
		return transitionError(a.state, to)
	}
	a.state = to
	return nil
}

// ProcessTask runs one full cycle: recall context and think, pick an action
// through the strategies, execute it, then fold the outcome back into
// memory, confidence and strategy beliefs. Only an idle agent accepts a
// task; a concurrent call gets ErrAgentBusy.
func (a *Agent) ProcessTask(ctx context.Context, task *types.Task) (*types.Action, error) {
	if task == nil {
		return nil, types.NewError(types.ErrValidation, "agent: task is required")
	}

	a.mu.Lock()
	if a.state != StateIdle {
		state := a.state
		a.mu.Unlock()
		return nil, types.Errorf(types.ErrAgentBusy, "agent %s is %s, not idle", a.config.ID, state)
	}
	a.state = StateThinking
	a.mu.Unlock()

	task.Status = types.TaskInProgress
	a.writeTaskStatus(ctx, task)

	thought, err := a.think(ctx, task)
	if err != nil {
		a.fail(ctx, task, err)
		return nil, err
	}

	action := a.decide(task, thought)

	a.mu.Lock()
	if !CanTransition(a.state, StateActing) {
		state := a.state
		a.mu.Unlock()
		return nil, transitionError(state, StateActing)
	}
	a.state = StateActing
	a.mu.Unlock()

	outcome, execErr := a.executor.Execute(ctx, action)
	action.ActualOutcome = outcome
	action.Success = execErr == nil

	if execErr != nil && types.HasCode(execErr, types.ErrServiceUnreachable) {
		// downstream is gone; park in error until an operator resets
		a.mu.Lock()
		a.state = StateError
		a.mu.Unlock()
		task.Status = types.TaskFailed
		a.writeTaskStatus(ctx, task)
		return action, execErr
	}

	a.learn(ctx, task, thought, action, execErr)

	if execErr != nil {
		task.Status = types.TaskFailed
	} else {
		task.Status = types.TaskCompleted
	}
	a.writeTaskStatus(ctx, task)

	a.mu.Lock()
	a.state = StateIdle
	a.recentActions = append(a.recentActions, action)
	if len(a.recentActions) > a.config.RecentActionLimit {
		a.recentActions = a.recentActions[len(a.recentActions)-a.config.RecentActionLimit:]
	}
	a.mu.Unlock()

	if execErr != nil {
		return action, execErr
	}
	return action, nil
}

func (a *Agent) think(ctx context.Context, task *types.Task) (*Thought, error) {
	recalled, err := a.memory.RetrieveRelevant(ctx, task.Description, a.config.MemoryFetchLimit)
	if err != nil {
		a.logger.Warn("memory recall failed, thinking without context", zap.Error(err))
	}

	var contextLines []string
	for _, item := range recalled {
		contextLines = append(contextLines, fmt.Sprintf("- [%s] %s", item.Kind, item.Content))
	}

	start := time.Now()
	resp, err := a.provider.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf("You are %s, a trading desk agent. Reason about the task step by step and state a conclusion.", a.config.Name),
		UserPrompt: fmt.Sprintf("Task (%s, priority %.2f): %s\n\nRelevant memories:\n%s",
			task.Kind, task.Priority, task.Description, strings.Join(contextLines, "\n")),
		Temperature: 0.2,
	})
	if a.collector != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		a.collector.RecordLLMCall("think", outcome, time.Since(start))
	}
	if err != nil {
		return nil, types.Wrap(types.ErrServiceCallFailed, "agent: think step failed", err)
	}

	thought := &Thought{
		Content:        resp.Content,
		Confidence:     resp.Confidence,
		ReasoningSteps: resp.Reasoning,
	}
	if thought.Confidence == 0 {
		thought.Confidence = a.config.InitialConfidence
	}

	if _, err := a.memory.Store(ctx, &types.MemoryItem{
		Kind:       types.MemoryThought,
		Content:    thought.Content,
		Importance: clamp01(task.Priority * thought.Confidence),
		Metadata:   map[string]any{"task_id": task.ID},
	}); err != nil {
		a.logger.Warn("failed to store thought", zap.Error(err))
	}
	return thought, nil
}

func (a *Agent) decide(task *types.Task, thought *Thought) *types.Action {
	proposals := make([]*Proposal, 0, len(a.strategies))
	for _, s := range a.strategies {
		proposals = append(proposals, s.Propose(task, thought))
	}
	combined := combineProposals(proposals)

	params := combined.Parameters
	if params == nil {
		params = make(map[string]any)
	}
	params["task_id"] = task.ID

	return &types.Action{
		ID:              uuid.NewString(),
		Kind:            combined.ActionKind,
		Parameters:      params,
		ExpectedOutcome: thought.Content,
		Timestamp:       time.Now(),
	}
}

func (a *Agent) learn(ctx context.Context, task *types.Task, thought *Thought, action *types.Action, execErr error) {
	reward := outcomeReward(action.ExpectedOutcome, action.ActualOutcome)
	if execErr != nil {
		reward = -reward
		if reward == 0 {
			reward = -1
		}
	}

	// reward is in [-1, 1], so repeated failures pull confidence toward
	// zero while successes pull it toward one.
	a.mu.Lock()
	a.confidence = clamp01(0.9*a.confidence + 0.1*reward)
	a.mu.Unlock()

	for _, s := range a.strategies {
		if learner, ok := s.(Learner); ok {
			learner.Observe(action.Kind, execErr == nil)
		}
	}

	content := fmt.Sprintf("action %s for task %q", action.Kind, task.Description)
	if execErr != nil {
		content += ": failed: " + execErr.Error()
	} else {
		content += ": " + action.ActualOutcome
	}
	if _, err := a.memory.Store(ctx, &types.MemoryItem{
		Kind:       types.MemoryExperience,
		Content:    content,
		Importance: clamp01(task.Priority),
		Metadata: map[string]any{
			"task_id":     task.ID,
			"action_kind": action.Kind,
			"success":     execErr == nil,
			"reward":      reward,
			"confidence":  thought.Confidence,
		},
	}); err != nil {
		a.logger.Warn("failed to store experience", zap.Error(err))
	}
}

// writeTaskStatus persists the task under its state key with retry; a store
// that stays down only costs the audit trail, not the cycle.
func (a *Agent) writeTaskStatus(ctx context.Context, task *types.Task) {
	if a.store == nil {
		return
	}
	payload, err := json.Marshal(task)
	if err != nil {
		a.logger.Warn("failed to encode task", zap.Error(err))
		return
	}
	err = a.retryer.Do(ctx, func() error {
		_, putErr := a.store.Put(ctx, "task:"+task.ID, json.RawMessage(payload))
		return putErr
	})
	if err != nil {
		a.logger.Warn("failed to persist task status",
			zap.String("task_id", task.ID),
			zap.String("status", string(task.Status)),
			zap.Error(err))
	}
}

func (a *Agent) fail(ctx context.Context, task *types.Task, cause error) {
	a.logger.Error("task processing failed", zap.String("task_id", task.ID), zap.Error(cause))
	a.mu.Lock()
	a.state = StateError
	a.mu.Unlock()
	task.Status = types.TaskFailed
	a.writeTaskStatus(ctx, task)
}

// outcomeReward scores how well the actual outcome matched expectations as
// Jaccard similarity over word sets, in [0, 1]. An empty expectation counts
// as fully met.
func outcomeReward(expected, actual string) float64 {
	if expected == "" {
		return 1
	}
	if actual == "" {
		return 0
	}
	expectedSet := wordSet(expected)
	actualSet := wordSet(actual)
	if len(expectedSet) == 0 {
		return 1
	}

	intersection := 0
	for w := range expectedSet {
		if _, ok := actualSet[w]; ok {
			intersection++
		}
	}
	union := len(expectedSet) + len(actualSet) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[strings.Trim(w, ".,:;!?")] = struct{}{}
	}
	return out
}
