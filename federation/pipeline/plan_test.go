package pipeline_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/federation/graph"
	"github.com/n9te9/go-graphql-federation-gateway/federation/pipeline"
	"github.com/n9te9/go-graphql-federation-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

func buildTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	productSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
			price: Float!
		}

		type Query {
			product(id: ID!): Product
		}
	`

	productSG, err := graph.NewSubGraphV2("product", []byte(productSchema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraphV2 failed: %v", err)
	}

	superGraph, err := graph.NewSuperGraphV2([]*graph.SubGraphV2{productSG})
	if err != nil {
		t.Fatalf("NewSuperGraphV2 failed: %v", err)
	}

	plannerV2 := planner.NewPlannerV2(superGraph)
	return pipeline.New(nil, plannerV2, pipeline.DefaultConfig())
}

func TestPipeline_Plan_BuildsScheduledTree(t *testing.T) {
	p := buildTestPipeline(t)

	doc, err := p.Parse(`query { product(id: "1") { id name price } }`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	norm, err := p.Normalize(doc, "", nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	plan, err := p.Plan(norm, "")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Root == nil {
		t.Fatal("expected a non-nil plan root")
	}
	if plan.OperationType != string(ast.Query) {
		t.Errorf("expected operation type %q, got %q", ast.Query, plan.OperationType)
	}
}

func TestPipeline_Plan_EmptySubgraphSelectionShortCircuits(t *testing.T) {
	p := buildTestPipeline(t)

	doc, err := p.Parse(`query { __typename }`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	norm, err := p.Normalize(doc, "", nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(norm.SubgraphSelection) != 0 {
		t.Fatalf("expected no subgraph-bound selection, got %d", len(norm.SubgraphSelection))
	}

	plan, err := p.Plan(norm, "")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Root == nil || plan.Root.Kind != planner.NodeSequence {
		t.Fatalf("expected a synthetic empty NodeSequence root, got %+v", plan.Root)
	}
	if len(plan.Root.Children) != 0 {
		t.Errorf("expected no children on the synthetic empty plan, got %d", len(plan.Root.Children))
	}
}

func TestPipeline_Plan_CachesByNormalizedSelectionAndOverrideContext(t *testing.T) {
	p := buildTestPipeline(t)

	doc, err := p.Parse(`query { product(id: "1") { id name } }`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	norm, err := p.Normalize(doc, "", nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	planA, err := p.Plan(norm, "")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	planB, err := p.Plan(norm, "")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if planA != planB {
		t.Error("expected the same cached *planner.QueryPlan for an identical selection and override context")
	}

	planC, err := p.Plan(norm, "authz")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if planA == planC {
		t.Error("expected a distinct plan for a different override context")
	}
}
