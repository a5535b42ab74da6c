package consumer_test

import (
	"strings"
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/federation/consumer"
	"github.com/n9te9/go-graphql-federation-gateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

func buildTestSchema(t *testing.T) *consumer.Schema {
	t.Helper()

	productSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
			price: Float! @deprecated(reason: "use priceV2")
		}

		type Query {
			product(id: ID!): Product
		}
	`

	productSG, err := graph.NewSubGraphV2("product", []byte(productSchema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraphV2 failed: %v", err)
	}

	sg, err := graph.NewSuperGraphV2([]*graph.SubGraphV2{productSG})
	if err != nil {
		t.Fatalf("NewSuperGraphV2 failed: %v", err)
	}

	return consumer.New(sg)
}

func TestSchema_HasField(t *testing.T) {
	s := buildTestSchema(t)

	if !s.HasField("Product", "name") {
		t.Error("expected Product.name to be known")
	}
	if s.HasField("Product", "doesNotExist") {
		t.Error("expected Product.doesNotExist to be unknown")
	}
	if !s.HasField("Product", "__typename") {
		t.Error("expected __typename to always be known")
	}
}

func TestSchema_FieldTypeName(t *testing.T) {
	s := buildTestSchema(t)

	if got := s.FieldTypeName("Query", "product"); got != "Product" {
		t.Errorf("expected Query.product type name Product, got %q", got)
	}
	if got := s.FieldTypeName("Product", "name"); got != "String" {
		t.Errorf("expected Product.name type name String, got %q", got)
	}
}

func TestSchema_RootTypeName(t *testing.T) {
	s := buildTestSchema(t)

	if got := s.RootTypeName(ast.Query); got != "Query" {
		t.Errorf("expected Query, got %q", got)
	}
}

func TestSchema_StripsJoinArtifacts(t *testing.T) {
	s := buildTestSchema(t)

	for _, def := range s.Document.Definitions {
		var name string
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			name = d.Name.String()
		case *ast.InterfaceTypeDefinition:
			name = d.Name.String()
		case *ast.DirectiveDefinition:
			name = d.Name.String()
		}
		if strings.HasPrefix(name, "join__") {
			t.Errorf("expected no join__ artifacts in consumer schema, found %q", name)
		}
	}
}

func TestSchema_ResolveType_Object(t *testing.T) {
	s := buildTestSchema(t)

	typ := s.ResolveType("Product")
	if typ == nil {
		t.Fatal("expected Product to resolve")
	}
	if typ["kind"] != "OBJECT" {
		t.Errorf("expected kind OBJECT, got %v", typ["kind"])
	}

	fields, ok := typ["fields"].([]map[string]any)
	if !ok {
		t.Fatalf("expected fields to be []map[string]any, got %T", typ["fields"])
	}

	var priceDeprecated bool
	for _, f := range fields {
		if f["name"] == "price" {
			priceDeprecated = f["isDeprecated"].(bool)
		}
	}
	if !priceDeprecated {
		t.Error("expected Product.price to be marked deprecated")
	}
}

func TestSchema_ResolveType_Unknown(t *testing.T) {
	s := buildTestSchema(t)

	if typ := s.ResolveType("DoesNotExist"); typ != nil {
		t.Errorf("expected nil for unknown type, got %v", typ)
	}
}

func TestSchema_StripsJoinDirectivesAndTypes(t *testing.T) {
	doc := &ast.Document{
		Definitions: []ast.Definition{
			&ast.EnumTypeDefinition{
				Name: &ast.Name{Value: "join__Graph"},
				Values: []*ast.EnumValueDefinition{
					{Name: &ast.Name{Value: "PRODUCT"}},
				},
			},
			&ast.DirectiveDefinition{
				Name: &ast.Name{Value: "join__field"},
			},
			&ast.ObjectTypeDefinition{
				Name: &ast.Name{Value: "Product"},
				Fields: []*ast.FieldDefinition{
					{
						Name: &ast.Name{Value: "id"},
						Type: &ast.NonNullType{Type: &ast.NamedType{Name: &ast.Name{Value: "ID"}}},
						Directives: []*ast.Directive{
							{Name: "join__field", Arguments: nil},
						},
					},
				},
			},
		},
	}

	sg := &graph.SuperGraphV2{Schema: doc}
	s := consumer.New(sg)

	for _, def := range s.Document.Definitions {
		if _, ok := def.(*ast.EnumTypeDefinition); ok {
			t.Error("expected join__Graph enum to be stripped")
		}
		if _, ok := def.(*ast.DirectiveDefinition); ok {
			t.Error("expected join__field directive definition to be stripped")
		}
	}

	product, ok := s.Object("Product")
	if !ok {
		t.Fatal("expected Product to survive stripping")
	}
	if len(product.Fields) != 1 {
		t.Fatalf("expected 1 field on Product, got %d", len(product.Fields))
	}
	if len(product.Fields[0].Directives) != 0 {
		t.Errorf("expected join__field directive to be stripped from Product.id, got %v", product.Fields[0].Directives)
	}
}

func TestSchema_ResolveSchema_IncludesBuiltinScalars(t *testing.T) {
	s := buildTestSchema(t)

	root := s.ResolveSchema()
	types, ok := root["types"].([]map[string]any)
	if !ok {
		t.Fatalf("expected types to be []map[string]any, got %T", root["types"])
	}

	found := make(map[string]bool)
	for _, typ := range types {
		found[typ["name"].(string)] = true
	}
	for _, want := range []string{"String", "ID", "Product", "Query"} {
		if !found[want] {
			t.Errorf("expected %q in __schema.types", want)
		}
	}
}

