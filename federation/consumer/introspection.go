package consumer

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// introspection type kind constants, matching the GraphQL introspection
// system's __TypeKind enum.
const (
	kindScalar      = "SCALAR"
	kindObject      = "OBJECT"
	kindInterface   = "INTERFACE"
	kindUnion       = "UNION"
	kindEnum        = "ENUM"
	kindInputObject = "INPUT_OBJECT"
	kindList        = "LIST"
	kindNonNull     = "NON_NULL"
)

var builtinScalars = map[string]bool{
	"String": true, "Int": true, "Float": true, "Boolean": true, "ID": true,
}

// ResolveTypename answers a `__typename` selection for a concrete object
// type; federation already tells the executor which concrete type owns a
// given response object, so this is just a passthrough helper kept here for
// symmetry with the rest of the introspection surface.
func ResolveTypename(typeName string) string {
	return typeName
}

// ResolveSchema builds the `__schema` introspection root: every named type
// in the consumer schema (builtin scalars included), plus directive
// definitions and the three root operation type names.
func (s *Schema) ResolveSchema() map[string]any {
	types := make([]map[string]any, 0, len(s.Document.Definitions)+len(builtinScalars))
	for name := range builtinScalars {
		types = append(types, s.resolveBuiltinScalar(name))
	}
	for _, def := range s.Document.Definitions {
		if t := s.resolveNamedTypeDefinition(def); t != nil {
			types = append(types, t)
		}
	}

	directives := make([]map[string]any, 0)
	for _, def := range s.Document.Definitions {
		if d, ok := def.(*ast.DirectiveDefinition); ok {
			directives = append(directives, s.resolveDirectiveDefinition(d))
		}
	}

	return map[string]any{
		"types":            types,
		"queryType":        map[string]any{"name": "Query"},
		"mutationType":     s.maybeRootType("Mutation"),
		"subscriptionType": s.maybeRootType("Subscription"),
		"directives":       directives,
	}
}

func (s *Schema) maybeRootType(name string) any {
	if _, ok := s.objects[name]; ok {
		return map[string]any{"name": name}
	}
	return nil
}

// ResolveType answers a `__type(name: ...)` lookup, returning nil when the
// name is unknown (a valid null result, not an error).
func (s *Schema) ResolveType(name string) map[string]any {
	if builtinScalars[name] {
		return s.resolveBuiltinScalar(name)
	}
	for _, def := range s.Document.Definitions {
		if namedTypeDefName(def) == name {
			return s.resolveNamedTypeDefinition(def)
		}
	}
	return nil
}

func namedTypeDefName(def ast.Definition) string {
	switch d := def.(type) {
	case *ast.ObjectTypeDefinition:
		return d.Name.String()
	case *ast.InterfaceTypeDefinition:
		return d.Name.String()
	case *ast.UnionTypeDefinition:
		return d.Name.String()
	case *ast.EnumTypeDefinition:
		return d.Name.String()
	case *ast.ScalarTypeDefinition:
		return d.Name.String()
	case *ast.InputObjectTypeDefinition:
		return d.Name.String()
	default:
		return ""
	}
}

func (s *Schema) resolveBuiltinScalar(name string) map[string]any {
	return map[string]any{
		"kind":        kindScalar,
		"name":        name,
		"description": nil,
		"fields":      nil,
	}
}

func (s *Schema) resolveNamedTypeDefinition(def ast.Definition) map[string]any {
	switch d := def.(type) {
	case *ast.ObjectTypeDefinition:
		return map[string]any{
			"kind":          kindObject,
			"name":          d.Name.String(),
			"fields":        s.resolveFields(d.Fields),
			"interfaces":    resolveInterfaceRefs(d.Interfaces),
			"possibleTypes": nil,
		}
	case *ast.InterfaceTypeDefinition:
		return map[string]any{
			"kind":          kindInterface,
			"name":          d.Name.String(),
			"fields":        s.resolveFields(d.Fields),
			"possibleTypes": s.possibleTypesOf(d.Name.String()),
		}
	case *ast.UnionTypeDefinition:
		return map[string]any{
			"kind":          kindUnion,
			"name":          d.Name.String(),
			"possibleTypes": resolveInterfaceRefs(d.Types),
		}
	case *ast.EnumTypeDefinition:
		values := make([]map[string]any, 0, len(d.Values))
		for _, v := range d.Values {
			values = append(values, map[string]any{
				"name":              v.Name.String(),
				"isDeprecated":      hasDirective(v.Directives, "deprecated"),
				"deprecationReason": deprecationReason(v.Directives),
			})
		}
		return map[string]any{
			"kind":       kindEnum,
			"name":       d.Name.String(),
			"enumValues": values,
		}
	case *ast.ScalarTypeDefinition:
		return map[string]any{
			"kind": kindScalar,
			"name": d.Name.String(),
		}
	case *ast.InputObjectTypeDefinition:
		return map[string]any{
			"kind":        kindInputObject,
			"name":        d.Name.String(),
			"inputFields": s.resolveInputValues(d.Fields),
		}
	default:
		return nil
	}
}

func (s *Schema) resolveFields(fields []*ast.FieldDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{
			"name":              f.Name.String(),
			"type":              s.resolveTypeRef(f.Type),
			"args":              s.resolveInputValues(f.Arguments),
			"isDeprecated":      hasDirective(f.Directives, "deprecated"),
			"deprecationReason": deprecationReason(f.Directives),
		})
	}
	return out
}

func (s *Schema) resolveInputValues(values []*ast.InputValueDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(values))
	for _, v := range values {
		var defaultValue any
		if v.DefaultValue != nil {
			defaultValue = literalString(v.DefaultValue)
		}
		out = append(out, map[string]any{
			"name":         v.Name.String(),
			"type":         s.resolveTypeRef(v.Type),
			"defaultValue": defaultValue,
		})
	}
	return out
}

// resolveTypeRef renders a __Type reference honoring GraphQL's wrapping
// rules: NON_NULL and LIST each add a layer with an "ofType" pointing at the
// next one in, terminating at a named type.
func (s *Schema) resolveTypeRef(t ast.Type) map[string]any {
	switch typ := t.(type) {
	case *ast.NonNullType:
		return map[string]any{
			"kind":   kindNonNull,
			"name":   nil,
			"ofType": s.resolveTypeRef(typ.Type),
		}
	case *ast.ListType:
		return map[string]any{
			"kind":   kindList,
			"name":   nil,
			"ofType": s.resolveTypeRef(typ.Type),
		}
	case *ast.NamedType:
		name := typ.Name.String()
		if builtinScalars[name] {
			return map[string]any{"kind": kindScalar, "name": name, "ofType": nil}
		}
		for _, def := range s.Document.Definitions {
			if namedTypeDefName(def) == name {
				kind := typeKindOf(def)
				return map[string]any{"kind": kind, "name": name, "ofType": nil}
			}
		}
		return map[string]any{"kind": kindScalar, "name": name, "ofType": nil}
	default:
		return map[string]any{"kind": kindScalar, "name": fmt.Sprintf("%T", t), "ofType": nil}
	}
}

func typeKindOf(def ast.Definition) string {
	switch def.(type) {
	case *ast.ObjectTypeDefinition:
		return kindObject
	case *ast.InterfaceTypeDefinition:
		return kindInterface
	case *ast.UnionTypeDefinition:
		return kindUnion
	case *ast.EnumTypeDefinition:
		return kindEnum
	case *ast.InputObjectTypeDefinition:
		return kindInputObject
	default:
		return kindScalar
	}
}

func resolveInterfaceRefs(types []*ast.NamedType) []map[string]any {
	out := make([]map[string]any, 0, len(types))
	for _, t := range types {
		out = append(out, map[string]any{"name": t.Name.String()})
	}
	return out
}

func (s *Schema) possibleTypesOf(interfaceName string) []map[string]any {
	var out []map[string]any
	for _, def := range s.Document.Definitions {
		obj, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		for _, iface := range obj.Interfaces {
			if iface.Name.String() == interfaceName {
				out = append(out, map[string]any{"name": obj.Name.String()})
				break
			}
		}
	}
	return out
}

func (s *Schema) resolveDirectiveDefinition(d *ast.DirectiveDefinition) map[string]any {
	return map[string]any{
		"name": d.Name.String(),
		"args": s.resolveInputValues(d.Arguments),
	}
}

func hasDirective(dirs []*ast.Directive, name string) bool {
	for _, d := range dirs {
		if d.Name == name {
			return true
		}
	}
	return false
}

func deprecationReason(dirs []*ast.Directive) any {
	for _, d := range dirs {
		if d.Name != "deprecated" {
			continue
		}
		for _, arg := range d.Arguments {
			if arg.Name.String() != "reason" {
				continue
			}
			if sv, ok := arg.Value.(*ast.StringValue); ok {
				return sv.Value
			}
		}
		return "No longer supported"
	}
	return nil
}

func literalToGoIntrospection(v ast.Value) any {
	value, err := literalToGo(v)
	if err != nil {
		return nil
	}
	return value
}

func literalString(v ast.Value) any {
	return literalToGoIntrospection(v)
}
