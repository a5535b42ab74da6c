// Package consumer derives the client-facing schema from Supergraph State
// and answers introspection queries against it.
package consumer

import (
	"strings"

	"github.com/n9te9/go-graphql-federation-gateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// joinPrefix marks the federation-internal types/directives
// (join__Graph, join__field, join__type, join__implements, join__owner, ...)
// that exist only to record subgraph ownership and must never reach a
// client's introspection view.
const joinPrefix = "join__"

// Schema is the client-facing projection of a SuperGraphV2: the same types
// and fields, minus every join__* artifact, ready to answer introspection
// and validate operations against.
type Schema struct {
	Document *ast.Document
	objects  map[string]*ast.ObjectTypeDefinition
	fields   map[string]map[string]*ast.FieldDefinition
}

// New derives a consumer Schema from a composed supergraph. Grounded on
// super_graph_v2.go's mergeSchemaDeep/copyFields deep-copy traversal,
// generalized to emit a separate document (a projection) instead of
// mutating the supergraph document in place.
func New(sg *graph.SuperGraphV2) *Schema {
	s := &Schema{
		Document: &ast.Document{Definitions: make([]ast.Definition, 0, len(sg.Schema.Definitions))},
		objects:  make(map[string]*ast.ObjectTypeDefinition),
		fields:   make(map[string]map[string]*ast.FieldDefinition),
	}

	for _, def := range sg.Schema.Definitions {
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			if isJoinName(d.Name.String()) {
				continue
			}
			stripped := stripObjectType(d)
			s.Document.Definitions = append(s.Document.Definitions, stripped)
			s.objects[stripped.Name.String()] = stripped
			s.fields[stripped.Name.String()] = fieldsByName(stripped.Fields)

		case *ast.InterfaceTypeDefinition:
			if isJoinName(d.Name.String()) {
				continue
			}
			s.Document.Definitions = append(s.Document.Definitions, d)
			s.fields[d.Name.String()] = fieldsByName(d.Fields)

		case *ast.DirectiveDefinition:
			if isJoinName(d.Name.String()) {
				continue
			}
			s.Document.Definitions = append(s.Document.Definitions, d)

		case *ast.UnionTypeDefinition, *ast.EnumTypeDefinition,
			*ast.ScalarTypeDefinition, *ast.InputObjectTypeDefinition:
			if isJoinName(namedTypeDefName(def)) {
				continue
			}
			s.Document.Definitions = append(s.Document.Definitions, def)
		}
	}

	return s
}

func isJoinName(name string) bool {
	return strings.HasPrefix(name, joinPrefix)
}

// stripObjectType copies an object type definition dropping join__* field
// directives (join__field, join__type, join__owner, join__implements) and
// any field whose type is itself a join__ synthetic.
func stripObjectType(def *ast.ObjectTypeDefinition) *ast.ObjectTypeDefinition {
	fields := make([]*ast.FieldDefinition, 0, len(def.Fields))
	for _, f := range def.Fields {
		if isJoinName(unwrapTypeName(f.Type)) {
			continue
		}
		fields = append(fields, &ast.FieldDefinition{
			Name:       f.Name,
			Arguments:  f.Arguments,
			Type:       f.Type,
			Directives: stripJoinDirectives(f.Directives),
		})
	}
	return &ast.ObjectTypeDefinition{
		Name:       def.Name,
		Interfaces: def.Interfaces,
		Fields:     fields,
		Directives: stripJoinDirectives(def.Directives),
	}
}

func stripJoinDirectives(dirs []*ast.Directive) []*ast.Directive {
	if dirs == nil {
		return nil
	}
	out := make([]*ast.Directive, 0, len(dirs))
	for _, d := range dirs {
		if isJoinName(d.Name) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func fieldsByName(fields []*ast.FieldDefinition) map[string]*ast.FieldDefinition {
	m := make(map[string]*ast.FieldDefinition, len(fields))
	for _, f := range fields {
		m[f.Name.String()] = f
	}
	return m
}

// HasField implements pipeline.SchemaValidator.
func (s *Schema) HasField(typeName, fieldName string) bool {
	if fieldName == "__typename" || fieldName == "__schema" || fieldName == "__type" {
		return true
	}
	fields, ok := s.fields[typeName]
	if !ok {
		return false
	}
	_, ok = fields[fieldName]
	return ok
}

// FieldTypeName implements pipeline.SchemaValidator: returns the named
// inner type of a field (lists/non-null unwrapped), or "" if unknown.
func (s *Schema) FieldTypeName(typeName, fieldName string) string {
	fields, ok := s.fields[typeName]
	if !ok {
		return ""
	}
	field, ok := fields[fieldName]
	if !ok {
		return ""
	}
	return unwrapTypeName(field.Type)
}

func unwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return unwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return unwrapTypeName(typ.Type)
	default:
		return ""
	}
}

// RootTypeName implements pipeline.SchemaValidator.
func (s *Schema) RootTypeName(operation ast.OperationType) string {
	switch operation {
	case ast.Mutation:
		return "Mutation"
	case ast.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// Object returns the stripped object type definition by name, if any.
func (s *Schema) Object(name string) (*ast.ObjectTypeDefinition, bool) {
	def, ok := s.objects[name]
	return def, ok
}

// FieldAuth reports a field's authorization requirement, read off a
// `@requiresScopes(scopes: [[String!]!])` directive (Apollo's convention:
// the outer list is OR'd, each inner list is AND'd), and whether the
// field's own type is non-null. The authorization filter in package authz
// reads only the scopes; it does not use the non-null flag.
type FieldAuth struct {
	RequiredScopes [][]string
	NonNull        bool
}

func (s *Schema) FieldAuth(typeName, fieldName string) FieldAuth {
	fields, ok := s.fields[typeName]
	if !ok {
		return FieldAuth{}
	}
	field, ok := fields[fieldName]
	if !ok {
		return FieldAuth{}
	}

	_, nonNull := field.Type.(*ast.NonNullType)
	auth := FieldAuth{NonNull: nonNull}

	for _, d := range field.Directives {
		if d.Name != "requiresScopes" {
			continue
		}
		for _, arg := range d.Arguments {
			if arg.Name.String() != "scopes" {
				continue
			}
			outer, ok := arg.Value.(*ast.ListValue)
			if !ok {
				continue
			}
			for _, group := range outer.Values {
				inner, ok := group.(*ast.ListValue)
				if !ok {
					continue
				}
				var scopes []string
				for _, v := range inner.Values {
					scopes = append(scopes, scopeValueString(v))
				}
				auth.RequiredScopes = append(auth.RequiredScopes, scopes)
			}
		}
	}
	return auth
}

func scopeValueString(v ast.Value) string {
	switch val := v.(type) {
	case *ast.StringValue:
		return val.Value
	case *ast.EnumValue:
		return val.Value
	default:
		return ""
	}
}
