package agentloop

import (
	"fmt"
	"time"

	"github.com/martinemde/puding/tools"
)

// LoopState is a state of the per-turn state machine.
type LoopState string

const (
	StateAwaitModel     LoopState = "AWAIT_MODEL"
	StateHandleResponse LoopState = "HANDLE_RESPONSE"
	StateDone           LoopState = "DONE"
	StateFailed         LoopState = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s LoopState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Execution records one tool call dispatched during a turn.
type Execution struct {
	Iteration    int            `json:"iteration"`
	CallID       string         `json:"call_id"`
	Name         string         `json:"name"`
	RawArguments string         `json:"raw_arguments"`
	Arguments    map[string]any `json:"arguments"`
	RepairError  error          `json:"-"`
	Result       tools.Result   `json:"result"`
	Duration     time.Duration  `json:"duration"`
}

// Response is the outcome of one Respond call.
type Response struct {
	Text         string      `json:"text"`
	ExecutionLog []Execution `json:"execution_log"`
	Iterations   int         `json:"iterations"` // completed model calls
	State        LoopState   `json:"state"`
	LimitReached bool        `json:"limit_reached"`
}

// TurnError reports a turn that ended in StateFailed. PartialText holds
// whatever assistant text the turn had aggregated before the failure.
type TurnError struct {
	Err         error
	PartialText string
	Iterations  int
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed after %d iteration(s): %v", e.Iterations, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
