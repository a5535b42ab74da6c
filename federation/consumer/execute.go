package consumer

import (
	"github.com/n9te9/graphql-parser/ast"
)

// ExecuteIntrospection answers the introspection-only half of a normalized
// operation (the selections Normalize routed away from subgraph planning)
// by resolving `__schema`/`__type`/`__typename` against this schema and
// projecting the requested fields out of the resolved shape. Unlike a
// subgraph fetch, there is nothing to plan or dispatch here: the whole
// answer is derived from the in-memory document, so this runs synchronously
// against the already-built introspection maps.
func (s *Schema) ExecuteIntrospection(selections []ast.Selection, rootTypeName string) map[string]any {
	out := make(map[string]any, len(selections))
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		key := responseKey(field)
		name := field.Name.String()

		switch name {
		case "__typename":
			out[key] = rootTypeName
		case "__schema":
			out[key] = project(s.ResolveSchema(), field.SelectionSet)
		case "__type":
			typeName := stringArg(field.Arguments, "name")
			resolved := s.ResolveType(typeName)
			if resolved == nil {
				out[key] = nil
			} else {
				out[key] = project(resolved, field.SelectionSet)
			}
		}
	}
	return out
}

func responseKey(f *ast.Field) string {
	if f.Alias != nil && f.Alias.String() != "" {
		return f.Alias.String()
	}
	return f.Name.String()
}

func stringArg(args []*ast.Argument, name string) string {
	for _, a := range args {
		if a.Name.String() != name {
			continue
		}
		if sv, ok := a.Value.(*ast.StringValue); ok {
			return sv.Value
		}
	}
	return ""
}

// project selects the requested fields out of a resolved introspection
// value. Values produced by resolveNamedTypeDefinition and friends are
// always map[string]any or []map[string]any (or a scalar/nil leaf), so this
// only needs to handle those three shapes plus the __typename meta-field.
func project(value any, selections []ast.Selection) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		return projectObject(v, selections)
	case []map[string]any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, projectObject(item, selections))
		}
		return out
	default:
		return v
	}
}

func projectObject(obj map[string]any, selections []ast.Selection) map[string]any {
	if selections == nil {
		return obj
	}
	out := make(map[string]any, len(selections))
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		key := responseKey(field)
		if name == "__typename" {
			out[key] = kindOf(obj)
			continue
		}
		child, present := obj[name]
		if !present {
			out[key] = nil
			continue
		}
		out[key] = project(child, field.SelectionSet)
	}
	return out
}

func kindOf(obj map[string]any) string {
	if kind, ok := obj["kind"].(string); ok {
		return "__Type:" + kind
	}
	return ""
}
