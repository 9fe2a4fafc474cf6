package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/contextmesh/core"
)

// WorkflowState describes where a workflow run ended up.
type WorkflowState string

// Terminal workflow states. A workflow that aborts on a failed step reports
// WorkflowStateFailed; one that ran every step (possibly with tolerated
// failures) reports WorkflowStateCompleted.
const (
	WorkflowStateCompleted WorkflowState = "completed"
	WorkflowStateFailed    WorkflowState = "failed"
)

// WorkflowStep is one sequential stage in a workflow. Steps execute strictly
// in order; each step's output feeds the next step's request.
type WorkflowStep struct {
	// Definition is the agent to run for this step.
	Definition core.AgentDefinition

	// Operation names the step for result reporting. Defaults to the
	// definition's agent type.
	Operation string

	// OutputMapping renames the step output before it feeds the next step.
	// When set, the raw result string is placed under each mapped key;
	// when empty the result is exposed as "input".
	OutputMapping map[string]string

	// ContinueOnError lets the workflow proceed past a failure of this
	// step. The next step then receives the last successful output.
	ContinueOnError bool

	// Timeout overrides the definition timeout for this step only.
	Timeout time.Duration
}

// StepResult reports the outcome of one workflow step.
type StepResult struct {
	Operation string
	Execution ExecutionResult
}

// WorkflowResult is the aggregate outcome of a workflow run. FailedStep is
// the zero-based index of the step that aborted the workflow, or -1 when no
// step aborted it.
type WorkflowResult struct {
	Success       bool
	WorkflowID    string
	State         WorkflowState
	Results       []StepResult
	FailedStep    int
	ExecutionTime time.Duration
}

// ExecuteWorkflow runs steps strictly sequentially, threading each step's
// output into the next step's request. A failed step aborts the workflow
// unless it opted into ContinueOnError, in which case its failure is recorded
// and the chain continues with the last successful output.
//
// The request given to step n>0 is built in layers: the initial request at
// the bottom, the previous output (via OutputMapping, or "input") on top,
// plus "previous_results" and a "workflow_context" descriptor.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, steps []WorkflowStep, initial core.Request) WorkflowResult {
	workflowID := uuid.NewString()
	start := o.opts.Clock.Now()

	result := WorkflowResult{
		WorkflowID: workflowID,
		FailedStep: -1,
	}

	if len(steps) == 0 {
		result.Success = false
		result.State = WorkflowStateFailed
		result.Results = []StepResult{}
		return result
	}

	o.opts.Logger.Info("workflow started", "workflow_id", workflowID, "steps", len(steps))

	var (
		lastOutput   core.Request
		previous     []map[string]any
		anyCompleted bool
	)

	for i, step := range steps {
		operation := step.Operation
		if operation == "" {
			operation = step.Definition.Type
		}

		def := step.Definition
		if step.Timeout > 0 {
			def.Timeout = step.Timeout
		}

		req := buildStepRequest(initial, lastOutput, previous, workflowID, i, len(steps))

		o.observeState(def.Type, AgentStateWorking)

		execResult := o.ExecuteAgent(ctx, def, req)

		stepResult := StepResult{Operation: operation, Execution: execResult}

		if execResult.Success {
			anyCompleted = true
			lastOutput = mapStepOutput(step, execResult.Result)
			previous = append(previous, map[string]any{
				"operation": operation,
				"success":   true,
				"result":    execResult.Result,
			})
			result.Results = append(result.Results, stepResult)
			o.observeState(def.Type, AgentStateIdle)
			continue
		}

		o.observeState(def.Type, AgentStateError)

		if !step.ContinueOnError {
			// Abort: the failed step's result is recorded, later steps never
			// run.
			result.Results = append(result.Results, stepResult)
			result.Success = false
			result.State = WorkflowStateFailed
			result.FailedStep = i
			result.ExecutionTime = o.opts.Clock.Now().Sub(start)

			o.opts.Logger.Error("workflow aborted",
				"workflow_id", workflowID,
				"failed_step", i,
				"operation", operation,
			)

			return result
		}

		// Tolerated failure: record it and carry the last successful output
		// forward unchanged.
		previous = append(previous, map[string]any{
			"operation": operation,
			"success":   false,
			"error":     errString(execResult.Err),
		})
		result.Results = append(result.Results, stepResult)

		o.opts.Logger.Warn("workflow step failed, continuing",
			"workflow_id", workflowID,
			"step", i,
			"operation", operation,
		)
	}

	result.Success = anyCompleted
	result.State = WorkflowStateCompleted
	if !anyCompleted {
		result.State = WorkflowStateFailed
	}
	result.ExecutionTime = o.opts.Clock.Now().Sub(start)

	o.opts.Logger.Info("workflow finished",
		"workflow_id", workflowID,
		"success", result.Success,
		"steps_run", len(result.Results),
		"duration", result.ExecutionTime,
	)

	return result
}

// buildStepRequest layers the chained inputs for step index. The first step
// receives the initial request untouched.
func buildStepRequest(initial, lastOutput core.Request, previous []map[string]any, workflowID string, index, total int) core.Request {
	if index == 0 {
		return initial
	}

	req := make(core.Request, len(initial)+len(lastOutput)+2)

	for k, v := range initial {
		req[k] = v
	}
	for k, v := range lastOutput {
		req[k] = v
	}

	req["previous_results"] = previous
	req["workflow_context"] = map[string]any{
		"workflow_id": workflowID,
		"step":        index,
		"total_steps": total,
	}

	return req
}

// mapStepOutput applies the step's OutputMapping to its raw result. Without
// a mapping the result is exposed under "input".
func mapStepOutput(step WorkflowStep, content string) core.Request {
	if len(step.OutputMapping) == 0 {
		return core.Request{"input": content}
	}

	out := make(core.Request, len(step.OutputMapping))
	for _, target := range step.OutputMapping {
		out[target] = content
	}
	return out
}

func (o *Orchestrator) observeState(agentType string, state AgentState) {
	if o.opts.StateObserver == nil {
		return
	}
	o.opts.StateObserver(agentType, state)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
