// Package pipeline is the Orchestrator: the staged state machine that
// drives one job through analysis, planning, reference synthesis,
// prompting, clip generation, and composition, with progress accounting,
// per-stage cost checkpoints, one degradable stage, and idempotent
// terminal transitions. Grounded on the teacher's stage-list and gate
// pattern in internal/escrow/gate.go, generalized from a fixed Tri-Factor
// sequence to a configurable, table-driven list per spec.md's pluggability
// note: adding, reordering, or marking a stage degradable is a data change.
package pipeline

// stage names, used as Job.CurrentStage values and Job Stage Record keys.
const (
	StageAnalysis    = "analysis"
	StagePlanning    = "planning"
	StageReferences  = "references"
	StagePrompting   = "prompting"
	StageGeneration  = "generation"
	StageComposition = "composition"
)

// stageDescriptor is one row of the orchestrator's table-driven stage
// list: name, the progress value reported on successful completion,
// whether a collaborator failure here degrades rather than fails the
// job, and the pre/post-stage cost checkpoints.
type stageDescriptor struct {
	Name       string
	Progress   int
	Degradable bool
	// EstimatedCostMillidollars is the pre-stage WouldExceed checkpoint
	// amount; zero means no pre-check is made for this stage.
	EstimatedCostMillidollars int64
	// EnforceAfter requests a post-stage Enforce call once the stage's
	// actual cost has been tracked.
	EnforceAfter bool
}

// defaultStageTable is spec.md's fixed S1-S6 sequence. Production units:
// S3 references cost about $50, S5 generation about $100, expressed here
// in millidollars matching internal/ledger's unit.
var defaultStageTable = []stageDescriptor{
	{Name: StageAnalysis, Progress: 10},
	{Name: StagePlanning, Progress: 20},
	{Name: StageReferences, Progress: 30, Degradable: true, EstimatedCostMillidollars: 50_000, EnforceAfter: true},
	{Name: StagePrompting, Progress: 40},
	{Name: StageGeneration, Progress: 85, EstimatedCostMillidollars: 100_000, EnforceAfter: true},
	{Name: StageComposition, Progress: 100},
}
