// Package authz implements the authorization filter: it checks each selected
// field against a request's scopes and rebuilds the operation's selection
// set with unauthorized fields removed. A field whose children were all
// removed is removed too. Field nullability is not considered: an
// unauthorized non-null field is removed like any other field, and its
// parent stays as long as one of its other selections survives.
package authz

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// Mode controls what happens once at least one field has been trimmed.
type Mode string

const (
	// ModeNullify continues planning/execution against the trimmed
	// selection set; the stripped fields simply resolve to null (or are
	// absent, if their parent was also removed) in the response.
	ModeNullify Mode = "nullify"
	// ModeReject refuses the whole request once any field is unauthorized.
	ModeReject Mode = "reject"
)

// Claims is the authenticated caller's scope set for this request.
type Claims struct {
	Scopes map[string]bool
}

// NewClaims builds a Claims from a flat scope list.
func NewClaims(scopes []string) Claims {
	c := Claims{Scopes: make(map[string]bool, len(scopes))}
	for _, s := range scopes {
		c.Scopes[s] = true
	}
	return c
}

func (c Claims) satisfies(groups [][]string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, group := range groups {
		all := true
		for _, scope := range group {
			if !c.Scopes[scope] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// FieldAuth is the authorization-relevant shape of one field, supplied by
// the consumer schema.
type FieldAuth struct {
	RequiredScopes [][]string
	NonNull        bool
}

// Schema is the narrow view of the consumer schema the filter needs.
type Schema interface {
	FieldAuth(typeName, fieldName string) FieldAuth
	FieldTypeName(typeName, fieldName string) string
}

// Finding is one unauthorized field, recorded with its response path.
type Finding struct {
	Path    []string
	Message string
}

// Result is the outcome of running the filter over an operation.
type Result struct {
	Selections []ast.Selection
	Findings   []Finding
	Trimmed    bool
}

// Filter runs the three-phase authorization walk.
type Filter struct {
	schema Schema
	mode   Mode
}

func New(schema Schema, mode Mode) *Filter {
	return &Filter{schema: schema, mode: mode}
}

func (f *Filter) Mode() Mode { return f.mode }

// Apply walks selections (already fragment-inlined, per the Normalize
// stage's output) against rootTypeName and claims, and returns the trimmed
// selection set plus every finding. When mode is ModeReject and len(result.
// Findings) > 0, the caller must surface the findings as the response and
// never proceed to planning.
func (f *Filter) Apply(selections []ast.Selection, rootTypeName string, claims Claims) Result {
	var findings []Finding
	trimmed := f.filterSelections(selections, rootTypeName, claims, nil, &findings)
	return Result{
		Selections: trimmed,
		Findings:   findings,
		Trimmed:    len(findings) > 0,
	}
}

// filterSelections drops every field that fails its own scope check and
// records a finding for it. A field with a selection set is dropped as well
// when filtering removed some of its children and none survive, so removal
// cascades upward through parents left empty. FieldAuth.NonNull is not read:
// a parent with surviving selections is kept even when a removed child was
// non-null.
func (f *Filter) filterSelections(
	selections []ast.Selection,
	typeName string,
	claims Claims,
	path []string,
	findings *[]Finding,
) []ast.Selection {
	out := make([]ast.Selection, 0, len(selections))
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			name := s.Name.String()
			fieldPath := append(append([]string{}, path...), name)

			if name == "__typename" || name == "__schema" || name == "__type" {
				out = append(out, s)
				continue
			}

			auth := f.schema.FieldAuth(typeName, name)
			if !claims.satisfies(auth.RequiredScopes) {
				*findings = append(*findings, Finding{
					Path:    fieldPath,
					Message: fmt.Sprintf("not authorized for field %q on type %q", name, typeName),
				})
				continue
			}

			if len(s.SelectionSet) > 0 {
				childType := f.schema.FieldTypeName(typeName, name)
				before := len(*findings)
				children := f.filterSelections(s.SelectionSet, childType, claims, fieldPath, findings)
				childRemoved := len(*findings) > before
				if childRemoved && len(children) == 0 {
					// Every child was stripped and the field has no
					// remaining selections of its own; drop it too so the
					// executor never requests an empty object.
					continue
				}
				out = append(out, &ast.Field{
					Alias:        s.Alias,
					Name:         s.Name,
					Arguments:    s.Arguments,
					Directives:   s.Directives,
					SelectionSet: children,
				})
				continue
			}

			out = append(out, s)

		case *ast.InlineFragment:
			cond := typeName
			if s.TypeCondition != nil {
				cond = s.TypeCondition.Name.String()
			}
			children := f.filterSelections(s.SelectionSet, cond, claims, path, findings)
			if len(children) == 0 {
				continue
			}
			out = append(out, &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				Directives:    s.Directives,
				SelectionSet:  children,
			})

		default:
			out = append(out, sel)
		}
	}
	return out
}
