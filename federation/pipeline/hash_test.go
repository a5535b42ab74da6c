package pipeline_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/federation/pipeline"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

func mustHash(t *testing.T, query string) uint64 {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}

	var op *ast.OperationDefinition
	for _, def := range doc.Definitions {
		if o, ok := def.(*ast.OperationDefinition); ok {
			op = o
			break
		}
	}
	if op == nil {
		t.Fatal("no operation found")
	}

	h, err := pipeline.ASTHash(op.SelectionSet)
	if err != nil {
		t.Fatalf("ASTHash failed: %v", err)
	}
	return h
}

func TestASTHash_StableAcrossArgumentOrder(t *testing.T) {
	a := mustHash(t, `query { product(id: "1", region: "us") { name } }`)
	b := mustHash(t, `query { product(region: "us", id: "1") { name } }`)
	if a != b {
		t.Errorf("expected argument-order-insensitive hash, got %d vs %d", a, b)
	}
}

func TestASTHash_DiffersOnDifferentSelection(t *testing.T) {
	a := mustHash(t, `query { product(id: "1") { name } }`)
	b := mustHash(t, `query { product(id: "1") { price } }`)
	if a == b {
		t.Error("expected different selections to hash differently")
	}
}

func TestASTHash_DiffersOnDifferentArgumentValue(t *testing.T) {
	a := mustHash(t, `query { product(id: "1") { name } }`)
	b := mustHash(t, `query { product(id: "2") { name } }`)
	if a == b {
		t.Error("expected different argument values to hash differently")
	}
}

func TestASTHash_StableAcrossDirectiveOrder(t *testing.T) {
	a := mustHash(t, `query { product(id: "1") { name @include(if: true) @skip(if: false) } }`)
	b := mustHash(t, `query { product(id: "1") { name @skip(if: false) @include(if: true) } }`)
	if a != b {
		t.Errorf("expected directive-order-insensitive hash, got %d vs %d", a, b)
	}
}
