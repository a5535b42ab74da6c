package graph_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/federation/graph"
)

func TestBuildGraph_AbstractMoveEdge_SameSubgraph(t *testing.T) {
	sg := newTestSubGraph(t, "catalog", `
		interface Node { id: ID! }

		type Product implements Node @key(fields: "id") {
			id: ID!
			name: String!
		}

		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildGraph([]*graph.SubGraphV2{sg})

	nodeKey := graph.NodeKey("catalog", "Node", "")
	productKey := graph.NodeKey("catalog", "Product", "")

	node, ok := g.Nodes[nodeKey]
	if !ok {
		t.Fatalf("expected a type-level node for interface Node")
	}
	weight, ok := node.Edges[productKey]
	if !ok {
		t.Fatalf("expected an abstract-move edge from Node to Product")
	}
	if weight != 0 {
		t.Errorf("expected a same-subgraph abstract move to cost 0, got %d", weight)
	}
}

func TestBuildGraph_AbstractMoveEdge_CrossSubgraph(t *testing.T) {
	sgCatalog := newTestSubGraph(t, "catalog", `
		interface Node { id: ID! }
		type Query { node(id: ID!): Node }
	`, "http://localhost:4001")

	sgReviews := newTestSubGraph(t, "reviews", `
		type Review implements Node @key(fields: "id") {
			id: ID!
			body: String!
		}
		type Query { review(id: ID!): Review }
	`, "http://localhost:4002")

	g := graph.BuildGraph([]*graph.SubGraphV2{sgCatalog, sgReviews})

	nodeKey := graph.NodeKey("reviews", "Node", "")
	reviewKey := graph.NodeKey("reviews", "Review", "")

	node, ok := g.Nodes[nodeKey]
	if !ok {
		t.Fatalf("expected a Node type-level node scoped to the reviews subgraph")
	}
	if weight, ok := node.Edges[reviewKey]; !ok || weight != 0 {
		t.Errorf("expected a same-subgraph move from reviews:Node to reviews:Review at cost 0, got %d (ok=%v)", weight, ok)
	}
}

func TestBuildGraph_UnionMoveEdge(t *testing.T) {
	sg := newTestSubGraph(t, "search", `
		type Product @key(fields: "id") { id: ID! name: String! }
		type Review @key(fields: "id") { id: ID! body: String! }
		union SearchResult = Product | Review

		type Query { search(term: String!): SearchResult }
	`, "http://localhost:4003")

	g := graph.BuildGraph([]*graph.SubGraphV2{sg})

	unionKey := graph.NodeKey("search", "SearchResult", "")
	productKey := graph.NodeKey("search", "Product", "")
	reviewKey := graph.NodeKey("search", "Review", "")

	unionNode, ok := g.Nodes[unionKey]
	if !ok {
		t.Fatalf("expected a type-level node for union SearchResult")
	}
	if _, ok := unionNode.Edges[productKey]; !ok {
		t.Error("expected a union move edge from SearchResult to Product")
	}
	if _, ok := unionNode.Edges[reviewKey]; !ok {
		t.Error("expected a union move edge from SearchResult to Review")
	}
}

func TestBuildGraph_RootEntrypoints(t *testing.T) {
	sg := newTestSubGraph(t, "catalog", `
		type Product @key(fields: "id") { id: ID! name: String! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildGraph([]*graph.SubGraphV2{sg})

	root, ok := g.Nodes[graph.RootNodeID]
	if !ok {
		t.Fatal("expected a synthetic root node")
	}

	queryKey := graph.NodeKey("catalog", "Query", "")
	if _, ok := g.Nodes[queryKey]; !ok {
		t.Fatal("expected a type-level node for the Query root type")
	}
	if weight, ok := root.Edges[queryKey]; !ok || weight != 0 {
		t.Errorf("expected a weight-0 entrypoint edge from root to catalog:Query, got %d (ok=%v)", weight, ok)
	}

	productFieldKey := graph.NodeKey("catalog", "Query", "product")
	if _, ok := g.Nodes[productFieldKey]; !ok {
		t.Error("expected a field-level node for Query.product")
	}
}

func TestBuildGraph_RootEntrypoints_NoMutationNodeWhenAbsent(t *testing.T) {
	sg := newTestSubGraph(t, "catalog", `
		type Product @key(fields: "id") { id: ID! name: String! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildGraph([]*graph.SubGraphV2{sg})

	mutationKey := graph.NodeKey("catalog", "Mutation", "")
	if _, ok := g.Nodes[mutationKey]; ok {
		t.Error("expected no Mutation node when the schema declares none")
	}
}

func TestNewSuperGraphV2_BuildsGraphField(t *testing.T) {
	sg := newTestSubGraph(t, "catalog", `
		type Product @key(fields: "id") { id: ID! name: String! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	superGraph, err := graph.NewSuperGraphV2([]*graph.SubGraphV2{sg})
	if err != nil {
		t.Fatalf("NewSuperGraphV2 failed: %v", err)
	}

	if superGraph.Graph == nil {
		t.Fatal("expected NewSuperGraphV2 to populate the Graph field")
	}
	if _, ok := superGraph.Graph.Nodes[graph.RootNodeID]; !ok {
		t.Error("expected the built graph to include the synthetic root node")
	}
}
