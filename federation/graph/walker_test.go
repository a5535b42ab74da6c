package graph_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/federation/graph"
)

func TestPathCost_Dominates(t *testing.T) {
	tests := []struct {
		name string
		a, b graph.PathCost
		want bool
	}{
		{
			name: "strictly fewer jumps dominates",
			a:    graph.PathCost{SubgraphJumps: 1, Depth: 3, EdgeCostSum: 1},
			b:    graph.PathCost{SubgraphJumps: 2, Depth: 3, EdgeCostSum: 1},
			want: true,
		},
		{
			name: "equal in every dimension does not dominate",
			a:    graph.PathCost{SubgraphJumps: 1, Depth: 3, EdgeCostSum: 1},
			b:    graph.PathCost{SubgraphJumps: 1, Depth: 3, EdgeCostSum: 1},
			want: false,
		},
		{
			name: "worse in one dimension, better in another: neither dominates",
			a:    graph.PathCost{SubgraphJumps: 1, Depth: 5, EdgeCostSum: 1},
			b:    graph.PathCost{SubgraphJumps: 2, Depth: 3, EdgeCostSum: 1},
			want: false,
		},
		{
			name: "worse in every dimension never dominates",
			a:    graph.PathCost{SubgraphJumps: 3, Depth: 5, EdgeCostSum: 4},
			b:    graph.PathCost{SubgraphJumps: 1, Depth: 2, EdgeCostSum: 1},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Dominates(tt.b); got != tt.want {
				t.Errorf("Dominates() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPathCost_Less_TieBreakOrder(t *testing.T) {
	tests := []struct {
		name string
		a, b graph.PathCost
		want bool
	}{
		{
			name: "fewer subgraph jumps wins first",
			a:    graph.PathCost{SubgraphJumps: 1, Depth: 9, EdgeCostSum: 9, Visited: []string{"z"}},
			b:    graph.PathCost{SubgraphJumps: 2, Depth: 1, EdgeCostSum: 1, Visited: []string{"a"}},
			want: true,
		},
		{
			name: "equal jumps: shallower depth wins",
			a:    graph.PathCost{SubgraphJumps: 1, Depth: 2, EdgeCostSum: 9},
			b:    graph.PathCost{SubgraphJumps: 1, Depth: 3, EdgeCostSum: 1},
			want: true,
		},
		{
			name: "equal jumps and depth: smaller edge cost wins",
			a:    graph.PathCost{SubgraphJumps: 1, Depth: 2, EdgeCostSum: 1},
			b:    graph.PathCost{SubgraphJumps: 1, Depth: 2, EdgeCostSum: 2},
			want: true,
		},
		{
			name: "equal on everything else: lexicographically earlier subgraph list wins",
			a:    graph.PathCost{SubgraphJumps: 1, Depth: 2, EdgeCostSum: 1, Visited: []string{"alpha", "beta"}},
			b:    graph.PathCost{SubgraphJumps: 1, Depth: 2, EdgeCostSum: 1, Visited: []string{"gamma"}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Less(tt.b); got != tt.want {
				t.Errorf("Less() = %v, want %v", got, tt.want)
			}
			if tt.want && tt.b.Less(tt.a) {
				t.Error("Less() should not hold in both directions")
			}
		})
	}
}

func TestBestPaths_SingleSubgraph_NoJumps(t *testing.T) {
	sg := newTestSubGraph(t, "catalog", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildGraph([]*graph.SubGraphV2{sg})
	target := graph.NodeKey("catalog", "Query", "product")

	paths := g.BestPaths([]string{graph.RootNodeID}, target)
	if len(paths) != 1 {
		t.Fatalf("expected exactly one best path, got %d", len(paths))
	}
	best := paths[0]
	if best.Cost.SubgraphJumps != 0 {
		t.Errorf("expected 0 subgraph jumps within a single subgraph, got %d", best.Cost.SubgraphJumps)
	}
	if best.Nodes[len(best.Nodes)-1] != target {
		t.Errorf("expected path to end at target %q, got %q", target, best.Nodes[len(best.Nodes)-1])
	}
}

func TestBestPaths_PrefersFewerSubgraphJumps(t *testing.T) {
	// `name` is only declared on Product in the catalog subgraph; reviews
	// only extends Product for the key field, so the cheapest path from
	// reviews' own Product node to catalog:Product.name must cross into
	// catalog exactly once.
	sgCatalog := newTestSubGraph(t, "catalog", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	sgReviews := newTestSubGraph(t, "reviews", `
		type Product @key(fields: "id") {
			id: ID!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4002")

	g := graph.BuildGraph([]*graph.SubGraphV2{sgCatalog, sgReviews})

	entry := graph.NodeKey("reviews", "Product", "")
	target := graph.NodeKey("catalog", "Product", "name")

	paths := g.BestPaths([]string{entry}, target)
	if len(paths) == 0 {
		t.Fatal("expected at least one path from reviews:Product to catalog:Product.name")
	}
	best := paths[0]
	if best.Cost.SubgraphJumps != 1 {
		t.Errorf("expected exactly 1 subgraph jump, got %d", best.Cost.SubgraphJumps)
	}
	if best.Nodes[0] != entry {
		t.Errorf("expected path to start at %q, got %q", entry, best.Nodes[0])
	}
}

func TestBestPaths_UnreachableTargetReturnsEmpty(t *testing.T) {
	sg := newTestSubGraph(t, "catalog", `
		type Product @key(fields: "id") { id: ID! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildGraph([]*graph.SubGraphV2{sg})

	paths := g.BestPaths([]string{graph.RootNodeID}, "catalog:DoesNotExist")
	if paths != nil {
		t.Errorf("expected nil for an unknown target, got %v", paths)
	}
}

func TestBestPaths_DeterministicAcrossRuns(t *testing.T) {
	sgCatalog := newTestSubGraph(t, "catalog", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
			price: Int!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	sgInventory := newTestSubGraph(t, "inventory", `
		type Product @key(fields: "id") {
			id: ID!
			inStock: Boolean!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4002")

	g := graph.BuildGraph([]*graph.SubGraphV2{sgCatalog, sgInventory})
	entry := graph.NodeKey("inventory", "Product", "")
	target := graph.NodeKey("catalog", "Product", "name")

	first := g.BestPaths([]string{entry}, target)
	if len(first) == 0 {
		t.Fatal("expected at least one path from inventory:Product to catalog:Product.name")
	}
	for i := 0; i < 5; i++ {
		again := g.BestPaths([]string{entry}, target)
		if len(again) != len(first) {
			t.Fatalf("run %d: best-path set size changed: got %d, want %d", i, len(again), len(first))
		}
		for j := range first {
			want, got := first[j].Cost, again[j].Cost
			if want.SubgraphJumps != got.SubgraphJumps || want.Depth != got.Depth || want.EdgeCostSum != got.EdgeCostSum {
				t.Fatalf("run %d: best path %d cost changed: got %+v, want %+v", i, j, got, want)
			}
		}
	}
}
