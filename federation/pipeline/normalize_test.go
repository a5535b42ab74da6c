package pipeline_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/federation/pipeline"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

func newTestPipeline() *pipeline.Pipeline {
	return pipeline.New(nil, nil, pipeline.DefaultConfig())
}

func TestPipeline_Normalize_InlinesFragments(t *testing.T) {
	query := `
		query {
			product(id: "1") {
				...ProductFields
			}
		}
		fragment ProductFields on Product {
			name
			price
		}
	`
	p := newTestPipeline()
	l := lexer.New(query)
	prs := parser.New(l)
	doc := prs.ParseDocument()
	if len(prs.Errors()) > 0 {
		t.Fatalf("parse errors: %v", prs.Errors())
	}

	norm, err := p.Normalize(doc, "", nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(norm.SubgraphSelection) != 1 {
		t.Fatalf("expected 1 top-level selection, got %d", len(norm.SubgraphSelection))
	}
}

func TestPipeline_Normalize_SplitsIntrospection(t *testing.T) {
	query := `
		query {
			__typename
			product(id: "1") {
				name
			}
		}
	`
	p := newTestPipeline()
	l := lexer.New(query)
	prs := parser.New(l)
	doc := prs.ParseDocument()
	if len(prs.Errors()) > 0 {
		t.Fatalf("parse errors: %v", prs.Errors())
	}

	norm, err := p.Normalize(doc, "", nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(norm.Introspection) != 1 {
		t.Fatalf("expected root __typename routed to introspection, got %d", len(norm.Introspection))
	}
	if len(norm.SubgraphSelection) != 1 {
		t.Fatalf("expected product routed to subgraph selection, got %d", len(norm.SubgraphSelection))
	}
}

func TestPipeline_Normalize_CoercesVariableDefaults(t *testing.T) {
	query := `
		query ($region: String = "us") {
			product(id: "1") {
				name
			}
		}
	`
	p := newTestPipeline()
	l := lexer.New(query)
	prs := parser.New(l)
	doc := prs.ParseDocument()
	if len(prs.Errors()) > 0 {
		t.Fatalf("parse errors: %v", prs.Errors())
	}

	norm, err := p.Normalize(doc, "", map[string]any{})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if norm.Variables["region"] != "us" {
		t.Errorf("expected default region to be coerced to 'us', got %v", norm.Variables["region"])
	}
}

func TestPipeline_Normalize_SuppliedVariableWinsOverDefault(t *testing.T) {
	query := `
		query ($region: String = "us") {
			product(id: "1") {
				name
			}
		}
	`
	p := newTestPipeline()
	l := lexer.New(query)
	prs := parser.New(l)
	doc := prs.ParseDocument()
	if len(prs.Errors()) > 0 {
		t.Fatalf("parse errors: %v", prs.Errors())
	}

	norm, err := p.Normalize(doc, "", map[string]any{"region": "eu"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if norm.Variables["region"] != "eu" {
		t.Errorf("expected supplied region 'eu' to win over default, got %v", norm.Variables["region"])
	}
}
