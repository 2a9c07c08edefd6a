package orchestrator

// Phase is a per-request life-cycle state (§4.5.6).
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseAssemblingContext  Phase = "assembling_context"
	PhaseLLMRound           Phase = "llm_round"
	PhaseParsingDelegations Phase = "parsing_delegations"
	PhaseFanOut             Phase = "fan_out"
	PhaseConverging         Phase = "converging"
	PhaseFinalize           Phase = "finalize"
)

// RunState tracks one request's progress through the state machine of
// §4.5.6: Idle -> AssemblingContext -> LLMRound(k) -> ParsingDelegations ->
// (NoDelegation -> Finalize) | (HasDelegation -> FanOut -> Converging -> Finalize).
type RunState struct {
	Phase Phase
	Round int
}

// NewRunState starts a request at Idle.
func NewRunState() *RunState { return &RunState{Phase: PhaseIdle} }

func (s *RunState) toAssemblingContext() { s.Phase = PhaseAssemblingContext }

// toLLMRound advances into round k, incremented each time a round executes
// tool calls and loops rather than finalizing.
func (s *RunState) toLLMRound(k int) {
	s.Phase = PhaseLLMRound
	s.Round = k
}

func (s *RunState) toParsingDelegations() { s.Phase = PhaseParsingDelegations }
func (s *RunState) toFanOut()             { s.Phase = PhaseFanOut }
func (s *RunState) toConverging()         { s.Phase = PhaseConverging }
func (s *RunState) toFinalize()           { s.Phase = PhaseFinalize }
