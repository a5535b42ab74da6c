package pipeline

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// NormalizedOperation is the output of the Normalize stage: the
// subgraph-bound selection set (fragments inlined, ready for planning) kept
// separate from the introspection-bound selections that the Consumer Schema
// answers directly, plus the root type name the planner needs next.
type NormalizedOperation struct {
	Operation         *ast.OperationDefinition
	SubgraphSelection []ast.Selection
	Introspection     []ast.Selection
	RootTypeName      string
	Variables         map[string]any
}

// resolveOperation selects the operation by name per §4.1: if the document
// has exactly one operation, the name (if given) is ignored; if it has more
// than one, a name is required and must match exactly one of them.
func resolveOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}

	if len(ops) == 0 {
		return nil, newStageError(CodeOperationResolved, "document contains no operations")
	}
	if len(ops) == 1 {
		return ops[0], nil
	}
	if operationName == "" {
		return nil, newStageError(CodeOperationResolved, "operation name is required when a document defines multiple operations")
	}

	var matched *ast.OperationDefinition
	for _, op := range ops {
		if op.Name != nil && op.Name.String() == operationName {
			if matched != nil {
				return nil, newStageError(CodeOperationResolved, "operation name %q is ambiguous", operationName)
			}
			matched = op
		}
	}
	if matched == nil {
		return nil, newStageError(CodeOperationResolved, "no operation named %q", operationName)
	}
	return matched, nil
}

func collectFragmentDefinitions(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if fragDef, ok := def.(*ast.FragmentDefinition); ok {
			fragments[fragDef.Name.String()] = fragDef
		}
	}
	return fragments
}

// inlineFragments performs §4.1(b)/(c): every fragment spread becomes an
// inline fragment against its declared type, and `@include`/`@skip` present
// on the spread are hoisted onto the resulting inline fragment so they are
// evaluated exactly once regardless of how many times the fragment is used.
func inlineFragments(selections []ast.Selection, fragmentDefs map[string]*ast.FragmentDefinition, depth int) ([]ast.Selection, error) {
	if depth > 64 {
		return nil, newStageError(CodeOperationResolved, "fragment spread nesting exceeds the supported depth")
	}

	result := make([]ast.Selection, 0, len(selections))
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			child, err := inlineFragments(s.SelectionSet, fragmentDefs, depth+1)
			if err != nil {
				return nil, err
			}
			result = append(result, &ast.Field{
				Alias:        s.Alias,
				Name:         s.Name,
				Arguments:    s.Arguments,
				Directives:   s.Directives,
				SelectionSet: child,
			})

		case *ast.InlineFragment:
			child, err := inlineFragments(s.SelectionSet, fragmentDefs, depth+1)
			if err != nil {
				return nil, err
			}
			result = append(result, &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				Directives:    s.Directives,
				SelectionSet:  child,
			})

		case *ast.FragmentSpread:
			fragDef, ok := fragmentDefs[s.Name.String()]
			if !ok {
				return nil, newStageError(CodeOperationResolved, "unknown fragment %q", s.Name.String())
			}
			child, err := inlineFragments(fragDef.SelectionSet, fragmentDefs, depth+1)
			if err != nil {
				return nil, err
			}
			result = append(result, &ast.InlineFragment{
				TypeCondition: fragDef.TypeCondition,
				Directives:    s.Directives,
				SelectionSet:  child,
			})

		default:
			return nil, newStageError(CodeOperationResolved, "unsupported selection node %T", sel)
		}
	}
	return result, nil
}

// splitIntrospection performs §4.1(e): any field named with a leading `__`
// (except `__typename`) goes to introspection; root-level `__typename` goes
// to introspection; non-root `__typename` stays subgraph-bound. Inline
// fragments split recursively, kept on whichever side(s) end up non-empty.
func splitIntrospection(selections []ast.Selection, isRoot bool) (subgraph, introspection []ast.Selection) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			name := s.Name.String()
			switch {
			case name == "__typename":
				if isRoot {
					introspection = append(introspection, s)
				} else {
					subgraph = append(subgraph, s)
				}
			case len(name) >= 2 && name[:2] == "__":
				introspection = append(introspection, s)
			default:
				subgraph = append(subgraph, s)
			}

		case *ast.InlineFragment:
			sub, intro := splitIntrospection(s.SelectionSet, false)
			if len(sub) > 0 {
				subgraph = append(subgraph, &ast.InlineFragment{
					TypeCondition: s.TypeCondition,
					Directives:    s.Directives,
					SelectionSet:  sub,
				})
			}
			if len(intro) > 0 {
				introspection = append(introspection, &ast.InlineFragment{
					TypeCondition: s.TypeCondition,
					Directives:    s.Directives,
					SelectionSet:  intro,
				})
			}

		default:
			subgraph = append(subgraph, sel)
		}
	}
	return subgraph, introspection
}

// coerceVariableDefaults fills in default values for variables the caller
// did not supply. Go GraphQL parser ASTs model a variable definition as
// (name, type, optional default); this project's parser carries that on
// ast.VariableDefinition via Variable/Type/DefaultValue.
func coerceVariableDefaults(op *ast.OperationDefinition, variables map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(variables))
	for k, v := range variables {
		coerced[k] = v
	}

	for _, varDef := range op.VariableDefinitions {
		if varDef.Variable == nil {
			continue
		}
		name := varDef.Variable.Name
		if _, supplied := coerced[name]; supplied {
			continue
		}
		if varDef.DefaultValue == nil {
			continue
		}
		value, err := literalToGo(varDef.DefaultValue)
		if err != nil {
			return nil, wrapStageError(CodeBadUserInput, err, "coercing default for variable $%s", name)
		}
		coerced[name] = value
	}
	return coerced, nil
}

func literalToGo(v ast.Value) (any, error) {
	switch val := v.(type) {
	case *ast.StringValue:
		return val.Value, nil
	case *ast.IntValue:
		return val.Value, nil
	case *ast.FloatValue:
		if val.Value != val.Value {
			return nil, fmt.Errorf("NaN is not a valid default value")
		}
		return val.Value, nil
	case *ast.BooleanValue:
		return val.Value, nil
	case *ast.EnumValue:
		return val.Value, nil
	case *ast.ListValue:
		out := make([]any, 0, len(val.Values))
		for _, item := range val.Values {
			v, err := literalToGo(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *ast.ObjectValue:
		out := make(map[string]any, len(val.Fields))
		for _, f := range val.Fields {
			v, err := literalToGo(f.Value)
			if err != nil {
				return nil, err
			}
			out[f.Name.String()] = v
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported default value literal %T", v)
	}
}

func rootTypeName(op *ast.OperationDefinition) string {
	switch op.Operation {
	case ast.Mutation:
		return "Mutation"
	case ast.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}
