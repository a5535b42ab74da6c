package planner

import "sort"

// NodeKind discriminates the four Query Plan node shapes.
type NodeKind int

const (
	// NodeSequence runs its children in declaration order, awaiting each
	// before starting the next.
	NodeSequence NodeKind = iota
	// NodeParallel runs its children concurrently and joins before
	// returning.
	NodeParallel
	// NodeFetch issues one subgraph call (root or entity).
	NodeFetch
	// NodeFlatten wraps a Fetch whose response_path is non-empty.
	NodeFlatten
)

// PlanNode is one node of the executable Query Plan tree: Sequence(children),
// Parallel(children), Fetch{step}, or Flatten{path, inner}.
type PlanNode struct {
	Kind     NodeKind
	Children []*PlanNode // Sequence, Parallel
	StepID   int         // Fetch: index into the owning PlanV2.Steps
	Path     []string    // Flatten: the response_path segments
	Inner    *PlanNode   // Flatten: wraps exactly one Fetch node
}

// QueryPlan is the root of a scheduled plan, always a Sequence (possibly of
// one child) per §4.6.
type QueryPlan struct {
	Root             *PlanNode
	Steps            []*StepV2
	OriginalDocument any
	OperationType    string
}

// Schedule topologically schedules a PlanV2's fetch graph into a tree of
// Sequence/Parallel/Fetch/Flatten nodes by draining ready-step waves (Kahn's
// algorithm), exactly as the executor's own validateDAG/executeSteps wave
// loop does internally — lifted here into a pure, cacheable step so the Plan
// stage can cache the tree shape independent of running it.
//
// Mutation root steps are additionally ordered by MutationFieldPosition: if
// two become ready in the same wave, they are nested in their own Sequence
// within that wave (inside its Parallel when the wave holds other steps too)
// so their relative order is preserved.
func Schedule(plan *PlanV2) (*QueryPlan, error) {
	inDegree := make(map[int]int, len(plan.Steps))
	children := make(map[int][]int, len(plan.Steps))
	byID := make(map[int]*StepV2, len(plan.Steps))

	for _, step := range plan.Steps {
		byID[step.ID] = step
		if _, ok := inDegree[step.ID]; !ok {
			inDegree[step.ID] = 0
		}
		for _, dep := range step.DependsOn {
			inDegree[step.ID]++
			children[dep] = append(children[dep], step.ID)
		}
	}

	queue := make([]int, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Ints(queue)

	var waves [][]*PlanNode
	visited := 0
	for len(queue) > 0 {
		wave := make([]int, len(queue))
		copy(wave, queue)
		sort.Ints(wave)
		queue = queue[:0]

		waveNodes := buildWaveNodes(wave, byID, plan.OperationType)
		waves = append(waves, waveNodes)
		visited += len(wave)

		next := make(map[int]bool)
		for _, id := range wave {
			for _, childID := range children[id] {
				inDegree[childID]--
				if inDegree[childID] == 0 {
					next[childID] = true
				}
			}
		}
		for id := range next {
			queue = append(queue, id)
		}
	}

	if visited != len(plan.Steps) {
		return nil, errCyclicFetchGraph
	}

	root := &PlanNode{Kind: NodeSequence}
	for _, wave := range waves {
		if len(wave) == 1 {
			root.Children = append(root.Children, wave[0])
			continue
		}
		root.Children = append(root.Children, &PlanNode{Kind: NodeParallel, Children: wave})
	}

	return &QueryPlan{
		Root:             root,
		Steps:            plan.Steps,
		OriginalDocument: plan.OriginalDocument,
		OperationType:    plan.OperationType,
	}, nil
}

// buildWaveNodes turns one ready-wave of step IDs into plan nodes, wrapping
// each Fetch with Flatten when the step's response path (InsertionPath) is
// non-empty, and nesting same-wave mutation steps into an ordered Sequence
// by MutationFieldPosition so mutation-root order is never scrambled by
// wave concurrency.
func buildWaveNodes(wave []int, byID map[int]*StepV2, operationType string) []*PlanNode {
	var mutationIDs, rest []int
	for _, id := range wave {
		step := byID[id]
		if operationType == "mutation" && step.StepType == StepTypeQuery {
			mutationIDs = append(mutationIDs, id)
		} else {
			rest = append(rest, id)
		}
	}

	var nodes []*PlanNode
	if len(mutationIDs) > 1 {
		sort.Slice(mutationIDs, func(i, j int) bool {
			return byID[mutationIDs[i]].MutationFieldPosition < byID[mutationIDs[j]].MutationFieldPosition
		})
		seq := &PlanNode{Kind: NodeSequence}
		for _, id := range mutationIDs {
			seq.Children = append(seq.Children, fetchNode(id, byID[id]))
		}
		nodes = append(nodes, seq)
	} else {
		for _, id := range mutationIDs {
			nodes = append(nodes, fetchNode(id, byID[id]))
		}
	}

	for _, id := range rest {
		nodes = append(nodes, fetchNode(id, byID[id]))
	}
	return nodes
}

func fetchNode(id int, step *StepV2) *PlanNode {
	fetch := &PlanNode{Kind: NodeFetch, StepID: id}
	path := step.InsertionPath
	if len(path) == 0 {
		path = step.Path
	}
	if len(path) == 0 {
		return fetch
	}
	return &PlanNode{Kind: NodeFlatten, Path: path, Inner: fetch}
}
