package planner

import (
	"errors"
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

var errCyclicFetchGraph = errors.New("fetch graph optimization would introduce a cycle")

// Optimize runs the §4.5 fixed-point optimization passes over a freshly
// lowered fetch graph: merge same-parent/same-subgraph siblings, absorb
// pass-through children, batch multi-type entity calls at a shared response
// path, then patch aliases introduced by the first pass into every
// descendant that reads them. A pass that would create a cycle leaves the
// offending pair un-merged rather than applying it.
func Optimize(plan *PlanV2) {
	for {
		changed := false
		changed = mergeSiblings(plan) || changed
		changed = mergePassThroughChildren(plan) || changed
		changed = batchMultiType(plan) || changed
		if !changed {
			break
		}
	}
	applyAliasPatching(plan)
}

// mergeSiblings unions the outputs of two fetch steps that share a parent,
// service, and response path (ignoring type-condition wrapping), provided
// no field-name conflict exists with incompatible values. A conflicting
// field name on the shared type is resolved by aliasing the later step's
// field and recording the rewrite in InternalAliases.
func mergeSiblings(plan *PlanV2) bool {
	changed := false

	for i := 0; i < len(plan.Steps); i++ {
		a := plan.Steps[i]
		if a == nil {
			continue
		}
		for j := i + 1; j < len(plan.Steps); j++ {
			b := plan.Steps[j]
			if b == nil {
				continue
			}
			if !sameParents(a.DependsOn, b.DependsOn) {
				continue
			}
			if a.SubGraph == nil || b.SubGraph == nil || a.SubGraph.Name != b.SubGraph.Name {
				continue
			}
			if !samePath(a.InsertionPath, b.InsertionPath) || a.StepType != b.StepType {
				continue
			}
			if wouldCycle(plan, a.ID, b.ID) {
				continue
			}

			aliasConflictingFields(b, a)
			a.SelectionSet = append(a.SelectionSet, b.SelectionSet...)
			redirectDependents(plan, b.ID, a.ID)
			plan.Steps[j] = nil
			changed = true
		}
	}

	compactSteps(plan)
	return changed
}

// mergePassThroughChildren absorbs a child step into its sole parent when
// the parent's existing output already contains everything the child's
// input selection needs — i.e. the hop across subgraphs bought nothing the
// parent didn't already fetch.
func mergePassThroughChildren(plan *PlanV2) bool {
	changed := false

	parentCount := make(map[int]int)
	for _, s := range plan.Steps {
		if s == nil {
			continue
		}
		for _, dep := range s.DependsOn {
			parentCount[dep]++
		}
	}

	for _, s := range plan.Steps {
		if s == nil || len(s.DependsOn) != 1 {
			continue
		}
		parentID := s.DependsOn[0]
		parent := findStep(plan, parentID)
		if parent == nil {
			continue
		}
		if !selectionIsSubsetByName(s.SelectionSet, parent.SelectionSet) {
			continue
		}
		if parent.SubGraph == nil || s.SubGraph == nil || parent.SubGraph.Name != s.SubGraph.Name {
			continue
		}

		// rewire s's children to depend on parent instead of s.
		for _, child := range plan.Steps {
			if child == nil {
				continue
			}
			for k, dep := range child.DependsOn {
				if dep == s.ID {
					child.DependsOn[k] = parentID
				}
			}
		}
		removeStep(plan, s.ID)
		changed = true
	}

	return changed
}

// batchMultiType coalesces two sibling entity-fetch steps against the same
// subgraph and response path that resolve disjoint entity types into a
// single _entities call carrying representations of both types.
func batchMultiType(plan *PlanV2) bool {
	changed := false

	for i := 0; i < len(plan.Steps); i++ {
		a := plan.Steps[i]
		if a == nil || a.StepType != StepTypeEntity {
			continue
		}
		for j := i + 1; j < len(plan.Steps); j++ {
			b := plan.Steps[j]
			if b == nil || b.StepType != StepTypeEntity {
				continue
			}
			if a.SubGraph == nil || b.SubGraph == nil || a.SubGraph.Name != b.SubGraph.Name {
				continue
			}
			if !samePath(a.InsertionPath, b.InsertionPath) {
				continue
			}
			if a.ParentType == b.ParentType {
				continue // same type: that's mergeSiblings' job, not a disjoint-type batch
			}
			if !sameParents(a.DependsOn, b.DependsOn) {
				continue
			}
			if wouldCycle(plan, a.ID, b.ID) {
				continue
			}

			a.SelectionSet = append(a.SelectionSet,
				&ast.InlineFragment{
					TypeCondition: &ast.NamedType{Name: identName(b.ParentType)},
					SelectionSet:  b.SelectionSet,
				})
			redirectDependents(plan, b.ID, a.ID)
			plan.Steps[j] = nil
			changed = true
		}
	}

	compactSteps(plan)
	return changed
}

// applyAliasPatching rewrites every descendant step's input selections so
// they reference an alias recorded in InternalAliases rather than the
// original field name, since the original name no longer resolves on the
// merged step's output.
func applyAliasPatching(plan *PlanV2) {
	for _, step := range plan.Steps {
		if step == nil || len(step.InternalAliases) == 0 {
			continue
		}
		for _, child := range plan.Steps {
			if child == nil || !dependsOn(child, step.ID) {
				continue
			}
			child.SelectionSet = renameSelections(child.SelectionSet, step.InternalAliases)
		}
	}
}

// --- helpers ---

func sameParents(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			return false
		}
	}
	return true
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dependsOn(step *StepV2, id int) bool {
	for _, d := range step.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}

func findStep(plan *PlanV2, id int) *StepV2 {
	for _, s := range plan.Steps {
		if s != nil && s.ID == id {
			return s
		}
	}
	return nil
}

func removeStep(plan *PlanV2, id int) {
	out := plan.Steps[:0]
	for _, s := range plan.Steps {
		if s == nil || s.ID == id {
			continue
		}
		out = append(out, s)
	}
	plan.Steps = out
}

func compactSteps(plan *PlanV2) {
	out := make([]*StepV2, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		if s != nil {
			out = append(out, s)
		}
	}
	plan.Steps = out
}

func redirectDependents(plan *PlanV2, from, to int) {
	for _, s := range plan.Steps {
		if s == nil {
			continue
		}
		for i, dep := range s.DependsOn {
			if dep == from {
				s.DependsOn[i] = to
			}
		}
	}
}

// wouldCycle reports whether merging step b into step a (by redirecting b's
// dependents onto a) could create a cycle: true only if a transitively
// depends on b already.
func wouldCycle(plan *PlanV2, aID, bID int) bool {
	visited := map[int]bool{}
	var walk func(id int) bool
	walk = func(id int) bool {
		if id == bID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		s := findStep(plan, id)
		if s == nil {
			return false
		}
		for _, dep := range s.DependsOn {
			if walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(aID)
}

// selectionIsSubsetByName reports whether every top-level field name in
// needle also appears as a top-level field name in haystack.
func selectionIsSubsetByName(needle, haystack []ast.Selection) bool {
	have := make(map[string]bool, len(haystack))
	for _, sel := range haystack {
		if f, ok := sel.(*ast.Field); ok {
			have[f.Name.String()] = true
		}
	}
	for _, sel := range needle {
		f, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if !have[f.Name.String()] {
			return false
		}
	}
	return true
}

// aliasConflictingFields detects field-name collisions between two sibling
// selection sets and records a rewrite on the incoming step (b) so its
// response key no longer collides with the step it's merging into (a).
func aliasConflictingFields(b, a *StepV2) {
	existing := make(map[string]bool, len(a.SelectionSet))
	for _, sel := range a.SelectionSet {
		if f, ok := sel.(*ast.Field); ok {
			existing[responseKey(f)] = true
		}
	}

	if b.InternalAliases == nil {
		b.InternalAliases = make(map[string]string)
	}

	for _, sel := range b.SelectionSet {
		f, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		key := responseKey(f)
		if !existing[key] {
			continue
		}
		aliasName := fmt.Sprintf("__alias_%s_%d", key, b.ID)
		f.Alias = identName(aliasName)
		b.InternalAliases[key] = aliasName
	}
}

func responseKey(f *ast.Field) string {
	if f.Alias != nil && f.Alias.String() != "" {
		return f.Alias.String()
	}
	return f.Name.String()
}

func renameSelections(selections []ast.Selection, aliases map[string]string) []ast.Selection {
	for _, sel := range selections {
		f, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if newName, ok := aliases[f.Name.String()]; ok {
			f.Name = identName(newName)
		}
		if len(f.SelectionSet) > 0 {
			f.SelectionSet = renameSelections(f.SelectionSet, aliases)
		}
	}
	return selections
}

func identName(name string) *ast.Name {
	return &ast.Name{Value: name}
}
