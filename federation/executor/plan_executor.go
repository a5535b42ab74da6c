package executor

import (
	"context"
	"fmt"

	"github.com/n9te9/go-graphql-federation-gateway/federation/planner"
	"golang.org/x/sync/errgroup"
)

// ExecutePlan walks a scheduled Query Plan tree (Sequence/Parallel/Fetch/
// Flatten) and returns the merged, pruned response. It is the tree-shaped
// counterpart to Execute: where Execute drives plan.Steps directly off
// DependsOn, ExecutePlan drives the same per-step work (processStep) off
// the tree Schedule already produced, so a cached QueryPlan can be replayed
// without re-deriving execution order from the dependency graph each time.
func (e *ExecutorV2) ExecutePlan(
	ctx context.Context,
	qp *planner.QueryPlan,
	variables map[string]interface{},
) (map[string]interface{}, error) {
	plan := &planner.PlanV2{
		Steps:            qp.Steps,
		RootStepIndexes:  rootStepIndexes(qp.Steps),
		OriginalDocument: qp.OriginalDocument,
	}

	execCtx := &ExecutionContext{
		ctx:     ctx,
		plan:    plan,
		results: make(map[int]interface{}),
		errors:  make([]GraphQLError, 0),
	}

	if err := e.runNode(ctx, execCtx, qp.Root, variables); err != nil {
		return nil, fmt.Errorf("executing plan: %w", err)
	}

	response := make(map[string]interface{})
	data := make(map[string]interface{})

	for _, stepID := range plan.RootStepIndexes {
		execCtx.mu.RLock()
		stepResult := execCtx.results[stepID]
		execCtx.mu.RUnlock()

		if stepData, ok := stepResult.(map[string]interface{}); ok {
			if stepDataMap, ok := stepData["data"].(map[string]interface{}); ok {
				for k, v := range stepDataMap {
					data[k] = v
				}
			}
		}
	}
	response["data"] = data

	execCtx.mu.RLock()
	if len(execCtx.errors) > 0 {
		response["errors"] = execCtx.errors
	}
	execCtx.mu.RUnlock()

	return e.pruneResponse(response, plan), nil
}

// runNode dispatches one plan node: Sequence children run in order, Parallel
// children run concurrently and join, Fetch processes its step, Flatten
// transparently runs its wrapped Fetch (the response-path handling already
// lives in processStep's representation extraction, keyed by the step's
// InsertionPath).
func (e *ExecutorV2) runNode(
	ctx context.Context,
	execCtx *ExecutionContext,
	node *planner.PlanNode,
	variables map[string]interface{},
) error {
	if node == nil {
		return nil
	}

	switch node.Kind {
	case planner.NodeSequence:
		for _, child := range node.Children {
			if err := e.runNode(ctx, execCtx, child, variables); err != nil {
				return err
			}
		}
		return nil

	case planner.NodeParallel:
		eg, gctx := errgroup.WithContext(ctx)
		for _, child := range node.Children {
			child := child
			eg.Go(func() error {
				return e.runNode(gctx, execCtx, child, variables)
			})
		}
		return eg.Wait()

	case planner.NodeFlatten:
		return e.runNode(ctx, execCtx, node.Inner, variables)

	case planner.NodeFetch:
		step := findStepByID(execCtx.plan.Steps, node.StepID)
		if step == nil {
			return fmt.Errorf("fetch node references unknown step %d", node.StepID)
		}
		return e.processStep(ctx, execCtx, step, variables)

	default:
		return fmt.Errorf("unknown plan node kind %d", node.Kind)
	}
}

func findStepByID(steps []*planner.StepV2, id int) *planner.StepV2 {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func rootStepIndexes(steps []*planner.StepV2) []int {
	ids := make([]int, 0, len(steps))
	for _, s := range steps {
		if len(s.DependsOn) == 0 {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
