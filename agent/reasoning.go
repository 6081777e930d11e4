package agent

import (
	"sort"
	"strings"
	"sync"

	"github.com/quantfleet/quantfleet/types"
)

// Thought is the reasoning output of one think step.
type Thought struct {
	Content        string   `json:"content"`
	Confidence     float64  `json:"confidence"`
	ReasoningSteps []string `json:"reasoning_steps,omitempty"`
}

// Proposal is one strategy's suggested action.
type Proposal struct {
	ActionKind string         `json:"action_kind"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
}

// Strategy is one internal reasoning strategy. Strategies are pure
// in-memory computations; they never suspend.
type Strategy interface {
	Name() string
	Propose(task *types.Task, thought *Thought) *Proposal
}

// Learner is implemented by strategies that adjust from action outcomes.
type Learner interface {
	Observe(actionKind string, success bool)
}

// Rule is one condition of the deductive strategy: keyword predicates over
// the task and thought text mapped to an action kind.
type Rule struct {
	Name       string
	TaskKinds  []string
	Keywords   []string
	ActionKind string
	Confidence float64
	Parameters map[string]any
}

// matches returns the fraction of keywords found in text, with a task-kind
// match counting as a full hit. Zero means the rule does not apply.
func (r *Rule) matches(task *types.Task, text string) float64 {
	for _, k := range r.TaskKinds {
		if task.Kind == k {
			return 1
		}
	}
	if len(r.Keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(r.Keywords))
}

// DeductiveStrategy proposes actions by evaluating its rule table against
// the task description and thought content. Evaluation is deterministic:
// the best-matching rule wins, ties broken by rule order.
type DeductiveStrategy struct {
	rules []Rule
}

// NewDeductiveStrategy creates a deductive strategy from a rule table.
func NewDeductiveStrategy(rules []Rule) *DeductiveStrategy {
	return &DeductiveStrategy{rules: rules}
}

// DefaultTradingRules is the built-in rule table for trading-desk agents.
func DefaultTradingRules() []Rule {
	return []Rule{
		{
			Name:       "risk-language",
			TaskKinds:  []string{"risk_check", "risk_assessment"},
			Keywords:   []string{"risk", "exposure", "drawdown", "var"},
			ActionKind: "assess_risk",
			Confidence: 0.9,
		},
		{
			Name:       "rebalance-language",
			TaskKinds:  []string{"rebalance"},
			Keywords:   []string{"rebalance", "allocation", "weight"},
			ActionKind: "rebalance_portfolio",
			Confidence: 0.85,
		},
		{
			Name:       "trade-language",
			TaskKinds:  []string{"trade", "execution"},
			Keywords:   []string{"buy", "sell", "order", "execute"},
			ActionKind: "execute_trade",
			Confidence: 0.8,
		},
		{
			Name:       "evaluation-language",
			TaskKinds:  []string{"evaluation"},
			Keywords:   []string{"evaluate", "performance", "benchmark"},
			ActionKind: "evaluate_performance",
			Confidence: 0.75,
		},
		{
			Name:       "reporting-language",
			TaskKinds:  []string{"report", "reporting"},
			Keywords:   []string{"report", "summary", "summarize"},
			ActionKind: "generate_report",
			Confidence: 0.7,
		},
	}
}

// Name implements Strategy.
func (s *DeductiveStrategy) Name() string { return "deductive" }

// Propose implements Strategy. When no rule applies the strategy falls back
// to a low-confidence observe action rather than staying silent.
func (s *DeductiveStrategy) Propose(task *types.Task, thought *Thought) *Proposal {
	text := strings.ToLower(task.Description + " " + task.Kind + " " + thought.Content)

	best := -1
	bestScore := 0.0
	for i := range s.rules {
		if score := s.rules[i].matches(task, text); score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return &Proposal{
			ActionKind: "observe",
			Confidence: 0.2,
			Rationale:  "no rule matched",
		}
	}
	r := s.rules[best]
	return &Proposal{
		ActionKind: r.ActionKind,
		Confidence: r.Confidence * bestScore,
		Parameters: r.Parameters,
		Rationale:  "rule " + r.Name,
	}
}

// ProbabilisticStrategy keeps a running belief per action kind and proposes
// the strongest belief supported by the thought, weighting it by the
// thought's own confidence.
type ProbabilisticStrategy struct {
	mu           sync.Mutex
	beliefs      map[string]float64
	learningRate float64
}

// NewProbabilisticStrategy seeds beliefs for the given action kinds at 0.5.
func NewProbabilisticStrategy(actionKinds []string) *ProbabilisticStrategy {
	beliefs := make(map[string]float64, len(actionKinds))
	for _, k := range actionKinds {
		beliefs[k] = 0.5
	}
	return &ProbabilisticStrategy{beliefs: beliefs, learningRate: 0.2}
}

// Name implements Strategy.
func (s *ProbabilisticStrategy) Name() string { return "probabilistic" }

// Propose implements Strategy.
func (s *ProbabilisticStrategy) Propose(task *types.Task, thought *Thought) *Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.beliefs) == 0 {
		return &Proposal{ActionKind: "observe", Confidence: 0.2, Rationale: "no beliefs seeded"}
	}

	// stable iteration so equal beliefs resolve deterministically
	kinds := make([]string, 0, len(s.beliefs))
	for k := range s.beliefs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	text := strings.ToLower(thought.Content + " " + task.Description)
	bestKind := kinds[0]
	bestWeight := -1.0
	for _, k := range kinds {
		weight := s.beliefs[k]
		// the thought mentioning the action kind is direct evidence
		if strings.Contains(text, strings.ReplaceAll(k, "_", " ")) || strings.Contains(text, k) {
			weight += 0.25
		}
		if weight > bestWeight {
			bestKind = k
			bestWeight = weight
		}
	}

	confidence := s.beliefs[bestKind]
	if thought.Confidence > 0 {
		confidence = (confidence + thought.Confidence) / 2
	}
	return &Proposal{
		ActionKind: bestKind,
		Confidence: clamp01(confidence),
		Rationale:  "belief update",
	}
}

// Observe implements Learner with a weighted belief update.
func (s *ProbabilisticStrategy) Observe(actionKind string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence := 0.0
	if success {
		evidence = 1.0
	}
	belief, ok := s.beliefs[actionKind]
	if !ok {
		belief = 0.5
	}
	s.beliefs[actionKind] = (1-s.learningRate)*belief + s.learningRate*evidence
}

// Belief returns the current belief for an action kind.
func (s *ProbabilisticStrategy) Belief(actionKind string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beliefs[actionKind]
}

// combineProposals resolves strategy disagreement by confidence-weighted
// vote on the action kind, averaging confidence across the agreeing
// strategies. Parameters merge with earlier proposals winning conflicts.
func combineProposals(proposals []*Proposal) *Proposal {
	if len(proposals) == 0 {
		return nil
	}

	votes := make(map[string]float64)
	for _, p := range proposals {
		votes[p.ActionKind] += p.Confidence
	}

	kinds := make([]string, 0, len(votes))
	for k := range votes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	winner := kinds[0]
	for _, k := range kinds {
		if votes[k] > votes[winner] {
			winner = k
		}
	}

	var sum float64
	var agreeing int
	params := make(map[string]any)
	var rationale []string
	for _, p := range proposals {
		if p.ActionKind != winner {
			continue
		}
		sum += p.Confidence
		agreeing++
		for k, v := range p.Parameters {
			if _, exists := params[k]; !exists {
				params[k] = v
			}
		}
		if p.Rationale != "" {
			rationale = append(rationale, p.Rationale)
		}
	}

	return &Proposal{
		ActionKind: winner,
		Confidence: sum / float64(agreeing),
		Parameters: params,
		Rationale:  strings.Join(rationale, "; "),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
