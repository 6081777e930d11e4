package workflow

import "github.com/quantfleet/quantfleet/types"

// TargetKind tags a step binding as an agent or a registered service.
type TargetKind string

const (
	TargetAgent   TargetKind = "agent"
	TargetService TargetKind = "service"
)

// Binding resolves one step to its owner. For TargetAgent the ID names an
// agent registered with the engine; for TargetService it names a service in
// the registry.
type Binding struct {
	Kind TargetKind `yaml:"kind" json:"kind"`
	ID   string     `yaml:"id" json:"id"`
}

func (b Binding) label() string {
	return string(b.Kind) + ":" + b.ID
}

// Call is one remote invocation inside a step's internal fan-out.
type Call struct {
	Target    Binding `yaml:"target" json:"target"`
	Operation string  `yaml:"operation" json:"operation"`
}

// StepDef is one named step of a workflow definition. When Parallel is
// non-empty the step fans its calls out concurrently and merges the results
// into a single record; otherwise Target handles the step alone.
type StepDef struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Target      Binding        `yaml:"target" json:"target"`
	Operation   string         `yaml:"operation" json:"operation"`
	Parallel    []Call         `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Definition is the fixed step sequence for one workflow kind. Steps named
// in Critical abort the workflow on failure; all others log and continue.
type Definition struct {
	Kind     types.WorkflowKind `yaml:"kind" json:"kind"`
	Steps    []StepDef          `yaml:"steps" json:"steps"`
	Critical map[string]bool    `yaml:"critical" json:"critical"`
}

// Default binding identities used by the built-in definitions. Deployments
// register agents and services under these IDs or install their own
// definitions.
const (
	AgentAnalyst = "analyst"
	AgentRisk    = "risk"
	AgentTrader  = "trader"

	ServiceMarketData = "market-data"
	ServiceRiskEngine = "risk-engine"
	ServiceExecution  = "execution"
	ServiceCompliance = "compliance"
	ServiceReporting  = "reporting"
	ServicePortfolio  = "portfolio"
)

// BuiltinDefinitions returns the step tables for every workflow kind.
func BuiltinDefinitions() map[types.WorkflowKind]*Definition {
	agent := func(id string) Binding { return Binding{Kind: TargetAgent, ID: id} }
	service := func(id string) Binding { return Binding{Kind: TargetService, ID: id} }

	return map[types.WorkflowKind]*Definition{
		types.WorkflowRoutineCycle: {
			Kind: types.WorkflowRoutineCycle,
			Steps: []StepDef{
				{Name: "market_scan", Target: service(ServiceMarketData), Operation: "snapshot"},
				{Name: "analysis", Target: agent(AgentAnalyst), Description: "analyze the market snapshot and propose adjustments"},
				{Name: "risk_check", Target: agent(AgentRisk), Description: "assess risk and exposure of the proposed adjustments"},
				{Name: "execute", Target: agent(AgentTrader), Description: "execute the approved adjustments"},
				{Name: "reporting", Target: service(ServiceReporting), Operation: "store_cycle"},
			},
			Critical: map[string]bool{"risk_check": true},
		},
		types.WorkflowEvaluation: {
			Kind: types.WorkflowEvaluation,
			Steps: []StepDef{
				{Name: "gather_metrics", Target: service(ServicePortfolio), Operation: "performance"},
				{Name: "evaluate", Target: agent(AgentAnalyst), Description: "evaluate performance against the benchmark"},
				{Name: "reporting", Target: service(ServiceReporting), Operation: "store_evaluation"},
			},
			Critical: map[string]bool{},
		},
		types.WorkflowRiskAssessment: {
			Kind: types.WorkflowRiskAssessment,
			Steps: []StepDef{
				{Name: "collect_positions", Target: service(ServicePortfolio), Operation: "positions"},
				{Name: "analyze", Target: service(ServiceRiskEngine), Parallel: []Call{
					{Target: service(ServiceRiskEngine), Operation: "var_analysis"},
					{Target: service(ServiceRiskEngine), Operation: "stress_test"},
					{Target: service(ServiceRiskEngine), Operation: "concentration"},
				}},
				{Name: "synthesize", Target: agent(AgentRisk), Description: "synthesize the risk analyses into one assessment"},
				{Name: "reporting", Target: service(ServiceReporting), Operation: "store_assessment"},
			},
			Critical: map[string]bool{"analyze": true},
		},
		types.WorkflowRebalance: {
			Kind: types.WorkflowRebalance,
			Steps: []StepDef{
				{Name: "risk_check", Target: agent(AgentRisk), Description: "assess risk of the current allocation drift"},
				{Name: "compute_targets", Target: agent(AgentAnalyst), Description: "compute target weights for the rebalance"},
				{Name: "compliance_check", Target: service(ServiceCompliance), Operation: "pre_trade_check"},
				{Name: "execute_orders", Target: agent(AgentTrader), Description: "execute the rebalance orders"},
				{Name: "reporting", Target: service(ServiceReporting), Operation: "store_rebalance"},
			},
			Critical: map[string]bool{"risk_check": true, "compliance_check": true},
		},
		types.WorkflowEmergencyResponse: {
			Kind: types.WorkflowEmergencyResponse,
			Steps: []StepDef{
				{Name: "assess", Target: agent(AgentRisk), Description: "assess the emergency and current exposure"},
				{Name: "halt_trading", Target: service(ServiceExecution), Operation: "halt_trading"},
				{Name: "notify", Target: service(ServiceReporting), Operation: "raise_alert"},
			},
			Critical: map[string]bool{"halt_trading": true},
		},
		types.WorkflowReportGeneration: {
			Kind: types.WorkflowReportGeneration,
			Steps: []StepDef{
				{Name: "collect", Target: service(ServiceReporting), Operation: "collect_records"},
				{Name: "summarize", Target: agent(AgentAnalyst), Description: "summarize the collected records into a report"},
				{Name: "distribute", Target: service(ServiceReporting), Operation: "distribute_report"},
			},
			Critical: map[string]bool{},
		},
	}
}
