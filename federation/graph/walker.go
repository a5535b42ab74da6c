package graph

import (
	"sort"
	"strings"
)

// PathCost is the comparable cost of a candidate route through the graph:
// how many subgraph boundaries it crosses, how many edges deep it runs, the
// sum of the edge weights along it, and the ordered list of subgraph names
// it passes through (used only to break ties once the first three numbers
// agree).
//
// SubgraphJumps and EdgeCostSum usually move together, since most edges
// cost 1 exactly when they cross into another subgraph, but a @provides
// ShortCut crosses a subgraph boundary at zero edge cost -- that is the case
// the two dimensions are kept separate for.
type PathCost struct {
	SubgraphJumps int
	Depth         int
	EdgeCostSum   int
	Visited       []string
}

// Dominates reports whether c is at least as good as o in every dimension
// and strictly better in at least one. A path whose cost is dominated by
// another candidate's never belongs in a best-path set.
func (c PathCost) Dominates(o PathCost) bool {
	if c.SubgraphJumps > o.SubgraphJumps || c.Depth > o.Depth || c.EdgeCostSum > o.EdgeCostSum {
		return false
	}
	return c.SubgraphJumps < o.SubgraphJumps || c.Depth < o.Depth || c.EdgeCostSum < o.EdgeCostSum
}

// Less orders two costs by the tie-break rule: fewer subgraph jumps first,
// then shallower depth, then smaller edge-cost sum, then earlier
// lexicographic ordering of the subgraph names visited.
func (c PathCost) Less(o PathCost) bool {
	if c.SubgraphJumps != o.SubgraphJumps {
		return c.SubgraphJumps < o.SubgraphJumps
	}
	if c.Depth != o.Depth {
		return c.Depth < o.Depth
	}
	if c.EdgeCostSum != o.EdgeCostSum {
		return c.EdgeCostSum < o.EdgeCostSum
	}
	return lexLess(c.Visited, o.Visited)
}

func lexLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Path is one candidate route from an entry point to a destination node,
// carrying the cost tuple used to compare it against its siblings.
type Path struct {
	Nodes []string
	Cost  PathCost
}

// visitedSubGraphs returns the ordered, deduplicated subgraph names a node
// sequence passes through.
func (g *WeightedDirectedGraph) visitedSubGraphs(nodes []string) []string {
	seen := make(map[string]bool, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, id := range nodes {
		node, ok := g.Nodes[id]
		if !ok || node.SubGraph == nil {
			continue
		}
		if !seen[node.SubGraph.Name] {
			seen[node.SubGraph.Name] = true
			out = append(out, node.SubGraph.Name)
		}
	}
	return out
}

// BestPaths enumerates every non-dominated path from the given entry points
// to target, pruning dominated candidates against the running frontier as
// it searches, and returns the survivors sorted by the tie-break order --
// BestPaths(...)[0] is always the winning path when the caller only needs
// one. A nil or empty result means target is unreachable from every entry
// point.
//
// Search depth is bounded by the node count: a federation graph can contain
// cycles (an entity that round-trips between two subgraphs), so candidate
// paths never revisit a node, and no simple path can be longer than the
// number of nodes in the graph.
//
// The graph is immutable once built, so results are memoized per (entry
// points, target): the planner asks the same question for the same
// ambiguous field on every request, and the DFS underneath is exponential
// in the worst case -- paying for it once per schema load instead of once
// per request matters as the subgraph count grows.
func (g *WeightedDirectedGraph) BestPaths(entryPoints []string, target string) []*Path {
	if _, ok := g.Nodes[target]; !ok {
		return nil
	}

	cacheKey := bestPathsCacheKey(entryPoints, target)
	if cached, ok := g.bestPathsCache.Load(cacheKey); ok {
		return cached.([]*Path)
	}

	result := g.computeBestPaths(entryPoints, target)
	g.bestPathsCache.Store(cacheKey, result)
	return result
}

func bestPathsCacheKey(entryPoints []string, target string) string {
	sorted := append([]string{}, entryPoints...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",") + "->" + target
}

func (g *WeightedDirectedGraph) computeBestPaths(entryPoints []string, target string) []*Path {
	maxDepth := len(g.Nodes)

	var frontier []*Path
	consider := func(nodes []string, cost PathCost) {
		for _, existing := range frontier {
			if existing.Cost.Dominates(cost) {
				return
			}
		}
		kept := frontier[:0]
		for _, existing := range frontier {
			if !cost.Dominates(existing.Cost) {
				kept = append(kept, existing)
			}
		}
		frontier = append(kept, &Path{Nodes: append([]string{}, nodes...), Cost: cost})
	}

	seen := make(map[string]bool, len(entryPoints))
	var entries []string
	for _, ep := range entryPoints {
		if !seen[ep] {
			seen[ep] = true
			entries = append(entries, ep)
		}
	}
	sort.Strings(entries)

	var walk func(nodeID string, path []string, onPath map[string]bool, jumps, depth, costSum int, subGraph string)
	walk = func(nodeID string, path []string, onPath map[string]bool, jumps, depth, costSum int, subGraph string) {
		if depth > maxDepth {
			return
		}
		path = append(path, nodeID)

		if nodeID == target {
			consider(path, PathCost{
				SubgraphJumps: jumps,
				Depth:         depth,
				EdgeCostSum:   costSum,
				Visited:       g.visitedSubGraphs(path),
			})
		}

		node, ok := g.Nodes[nodeID]
		if !ok {
			return
		}

		neighbors := make(map[string]int, len(node.Edges)+len(node.ShortCut))
		for dst, w := range node.Edges {
			neighbors[dst] = w
		}
		for dst := range node.ShortCut {
			if _, exists := neighbors[dst]; !exists {
				neighbors[dst] = 0
			}
		}

		dests := make([]string, 0, len(neighbors))
		for dst := range neighbors {
			dests = append(dests, dst)
		}
		sort.Strings(dests)

		for _, dst := range dests {
			if onPath[dst] {
				continue
			}
			dstNode, dstOK := g.Nodes[dst]
			nextSubGraph := subGraph
			nextJumps := jumps
			if dstOK && dstNode.SubGraph != nil {
				if subGraph != "" && dstNode.SubGraph.Name != subGraph {
					nextJumps++
				}
				nextSubGraph = dstNode.SubGraph.Name
			}

			onPath[dst] = true
			walk(dst, append([]string{}, path...), onPath, nextJumps, depth+1, costSum+neighbors[dst], nextSubGraph)
			delete(onPath, dst)
		}
	}

	for _, ep := range entries {
		if _, ok := g.Nodes[ep]; !ok {
			continue
		}
		startSubGraph := ""
		if n := g.Nodes[ep]; n.SubGraph != nil {
			startSubGraph = n.SubGraph.Name
		}
		onPath := map[string]bool{ep: true}
		walk(ep, nil, onPath, 0, 0, 0, startSubGraph)
	}

	sort.Slice(frontier, func(i, j int) bool { return frontier[i].Cost.Less(frontier[j].Cost) })
	return frontier
}
