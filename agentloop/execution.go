package agentloop

import (
	"context"
	"sync"
	"time"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/repair"
	"github.com/martinemde/puding/tools"
)

// executeToolCalls dispatches the calls of one response. Results are
// returned in request order whether or not they ran concurrently.
func (s *Session) executeToolCalls(ctx context.Context, calls []conversation.ToolCall, iteration int) []Execution {
	if s.config.ParallelTools && len(calls) > 1 {
		return s.executeToolCallsParallel(ctx, calls, iteration)
	}
	return s.executeToolCallsSequential(ctx, calls, iteration)
}

func (s *Session) executeToolCallsSequential(ctx context.Context, calls []conversation.ToolCall, iteration int) []Execution {
	execs := make([]Execution, len(calls))
	for i, call := range calls {
		execs[i] = s.executeSingleTool(ctx, call, iteration)
	}
	return execs
}

func (s *Session) executeToolCallsParallel(ctx context.Context, calls []conversation.ToolCall, iteration int) []Execution {
	execs := make([]Execution, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call conversation.ToolCall) {
			defer wg.Done()
			execs[idx] = s.executeSingleTool(ctx, call, iteration)
		}(i, call)
	}
	wg.Wait()
	return execs
}

// executeSingleTool runs the pipeline for one call:
// repair -> execute -> emit -> record.
func (s *Session) executeSingleTool(ctx context.Context, call conversation.ToolCall, iteration int) Execution {
	s.emitter.Emit(EventToolCallStart, map[string]any{
		"tool_name": call.Name,
		"call_id":   call.ID,
	})
	start := time.Now()

	args, repairErr := repair.Arguments(call.Arguments)
	if repairErr != nil {
		s.logger.Warn("tool arguments could not be repaired", "tool", call.Name, "call_id", call.ID, "error", repairErr)
		s.emitter.Emit(EventArgumentRepair, map[string]any{
			"tool_name": call.Name,
			"call_id":   call.ID,
			"error":     repairErr.Error(),
		})
	}

	result := s.registry.Execute(ctx, call.Name, args)
	elapsed := time.Since(start)

	s.logger.Debug("tool executed", "tool", call.Name, "call_id", call.ID, "success", result.OK, "kind", result.Kind, "duration", elapsed)
	// The event stream carries the full result; history gets the truncated one.
	s.emitter.Emit(EventToolCallEnd, map[string]any{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"success":   result.OK,
		"output":    result.JSON(),
	})

	return Execution{
		Iteration:    iteration,
		CallID:       call.ID,
		Name:         call.Name,
		RawArguments: call.Arguments,
		Arguments:    args,
		RepairError:  repairErr,
		Result:       result,
		Duration:     elapsed,
	}
}

// renderResult produces the tool message content, truncating command
// output stream by stream so line limits still apply.
func (s *Session) renderResult(res tools.Result) string {
	if out, ok := res.Payload.(*tools.ExecResult); ok && out != nil {
		trimmed := *out
		trimmed.Stdout = TruncateToolOutput(trimmed.Stdout, res.Tool, s.config.ToolOutputLimits, s.config.ToolLineLimits)
		trimmed.Stderr = TruncateToolOutput(trimmed.Stderr, res.Tool, s.config.ToolOutputLimits, s.config.ToolLineLimits)
		res.Payload = &trimmed
		return res.JSON()
	}
	return TruncateToolOutput(res.JSON(), res.Tool, s.config.ToolOutputLimits, nil)
}
