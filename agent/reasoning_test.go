package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfleet/quantfleet/types"
)

func TestDeductiveStrategy_MatchesByTaskKind(t *testing.T) {
	s := NewDeductiveStrategy(DefaultTradingRules())

	p := s.Propose(&types.Task{Kind: "risk_check", Description: "daily checks"}, &Thought{Content: "nothing notable"})
	assert.Equal(t, "assess_risk", p.ActionKind)
	assert.InDelta(t, 0.9, p.Confidence, 1e-9)
}

func TestDeductiveStrategy_MatchesByKeywords(t *testing.T) {
	s := NewDeductiveStrategy(DefaultTradingRules())

	p := s.Propose(
		&types.Task{Kind: "generic", Description: "portfolio drift detected, rebalance the allocation"},
		&Thought{Content: "weights are off target"},
	)
	assert.Equal(t, "rebalance_portfolio", p.ActionKind)
	// all three rebalance keywords hit
	assert.InDelta(t, 0.85, p.Confidence, 1e-9)
}

func TestDeductiveStrategy_PartialKeywordMatchScalesConfidence(t *testing.T) {
	s := NewDeductiveStrategy(DefaultTradingRules())

	p := s.Propose(
		&types.Task{Kind: "generic", Description: "exposure looks high today"},
		&Thought{Content: "position concentration"},
	)
	assert.Equal(t, "assess_risk", p.ActionKind)
	// 1 of 4 risk keywords
	assert.InDelta(t, 0.9*0.25, p.Confidence, 1e-9)
}

func TestDeductiveStrategy_FallsBackToObserve(t *testing.T) {
	s := NewDeductiveStrategy(DefaultTradingRules())

	p := s.Propose(&types.Task{Kind: "generic", Description: "good morning"}, &Thought{Content: "hello"})
	assert.Equal(t, "observe", p.ActionKind)
	assert.InDelta(t, 0.2, p.Confidence, 1e-9)
}

func TestDeductiveStrategy_Deterministic(t *testing.T) {
	s := NewDeductiveStrategy(DefaultTradingRules())
	task := &types.Task{Kind: "trade", Description: "buy 100 shares"}
	thought := &Thought{Content: "liquidity is fine"}

	first := s.Propose(task, thought)
	for i := 0; i < 20; i++ {
		again := s.Propose(task, thought)
		assert.Equal(t, first.ActionKind, again.ActionKind)
		assert.Equal(t, first.Confidence, again.Confidence)
	}
}

func TestProbabilisticStrategy_ObserveShiftsBeliefs(t *testing.T) {
	s := NewProbabilisticStrategy([]string{"execute_trade", "assess_risk"})
	assert.InDelta(t, 0.5, s.Belief("execute_trade"), 1e-9)

	for i := 0; i < 5; i++ {
		s.Observe("execute_trade", true)
	}
	for i := 0; i < 5; i++ {
		s.Observe("assess_risk", false)
	}

	assert.Greater(t, s.Belief("execute_trade"), 0.5)
	assert.Less(t, s.Belief("assess_risk"), 0.5)
}

func TestProbabilisticStrategy_ThoughtMentionIsEvidence(t *testing.T) {
	s := NewProbabilisticStrategy([]string{"execute_trade", "assess_risk"})

	p := s.Propose(
		&types.Task{Kind: "generic", Description: "morning review"},
		&Thought{Content: "we should assess risk before the open", Confidence: 0.8},
	)
	assert.Equal(t, "assess_risk", p.ActionKind)
}

func TestCombineProposals_VoteWeightedByConfidence(t *testing.T) {
	combined := combineProposals([]*Proposal{
		{ActionKind: "assess_risk", Confidence: 0.9},
		{ActionKind: "assess_risk", Confidence: 0.7},
		{ActionKind: "execute_trade", Confidence: 0.95},
	})

	// 1.6 votes for assess_risk beat 0.95 for execute_trade
	assert.Equal(t, "assess_risk", combined.ActionKind)
	assert.InDelta(t, 0.8, combined.Confidence, 1e-9)
}

func TestCombineProposals_MergesParameters(t *testing.T) {
	combined := combineProposals([]*Proposal{
		{ActionKind: "rebalance_portfolio", Confidence: 0.8, Parameters: map[string]any{"mode": "gradual"}},
		{ActionKind: "rebalance_portfolio", Confidence: 0.6, Parameters: map[string]any{"mode": "immediate", "limit": 5}},
	})

	assert.Equal(t, "gradual", combined.Parameters["mode"])
	assert.Equal(t, 5, combined.Parameters["limit"])
}

func TestCombineProposals_Empty(t *testing.T) {
	assert.Nil(t, combineProposals(nil))
}
