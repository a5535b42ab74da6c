// Package pipeline implements the Operation Pipeline: Parse, Validate,
// Normalize, and Plan as independently cached, single-flighted stages.
package pipeline

import (
	"fmt"
	"time"

	"github.com/n9te9/go-graphql-federation-gateway/federation/cache"
	"github.com/n9te9/go-graphql-federation-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// SchemaValidator answers the type-shape questions the Validate stage needs
// without coupling the pipeline to the consumer package's concrete type.
type SchemaValidator interface {
	HasField(typeName, fieldName string) bool
	FieldTypeName(typeName, fieldName string) string
	RootTypeName(operation ast.OperationType) string
}

// ValidationError is one finding from the Validate stage.
type ValidationError struct {
	Message string
	Path    []string
}

type normalizedShape struct {
	Operation         *ast.OperationDefinition
	SubgraphSelection []ast.Selection
	Introspection     []ast.Selection
	RootTypeName      string
}

// Pipeline owns one cache.Stage per stage and the planner used by Plan.
type Pipeline struct {
	validator     SchemaValidator
	planner       *planner.PlannerV2
	maxRootFields int

	parseCache     *cache.Stage[*ast.Document]
	validateCache  *cache.Stage[[]ValidationError]
	normalizeCache *cache.Stage[*normalizedShape]
	planCache      *cache.Stage[*planner.QueryPlan]
}

// Config bounds each stage's cache.
type Config struct {
	ParseCacheSize     int
	ValidateCacheSize  int
	NormalizeCacheSize int
	PlanCacheSize      int
	TTL                time.Duration

	// MaxRootFields caps how many top-level fields a single operation may
	// select. Zero means unbounded; this is the `plugins.max_root_fields`
	// config knob's enforcement point.
	MaxRootFields int
}

// DefaultConfig matches the teacher's preference for small, fixed pool
// sizes over unbounded growth (see gateway/engine.go's single bundle swap).
func DefaultConfig() Config {
	return Config{
		ParseCacheSize:     1024,
		ValidateCacheSize:  1024,
		NormalizeCacheSize: 1024,
		PlanCacheSize:      1024,
		TTL:                0,
	}
}

func New(validator SchemaValidator, pl *planner.PlannerV2, cfg Config) *Pipeline {
	return &Pipeline{
		validator:      validator,
		planner:        pl,
		maxRootFields:  cfg.MaxRootFields,
		parseCache:     cache.NewStage[*ast.Document]("parse", cfg.ParseCacheSize, cfg.TTL),
		validateCache:  cache.NewStage[[]ValidationError]("validate", cfg.ValidateCacheSize, cfg.TTL),
		normalizeCache: cache.NewStage[*normalizedShape]("normalize", cfg.NormalizeCacheSize, cfg.TTL),
		planCache:      cache.NewStage[*planner.QueryPlan]("plan", cfg.PlanCacheSize, cfg.TTL),
	}
}

// Parse runs the Parse stage, cached by raw query text.
func (p *Pipeline) Parse(query string) (*ast.Document, error) {
	return p.parseCache.GetOrCompute(query, func() (*ast.Document, error) {
		l := lexer.New(query)
		prs := parser.New(l)
		doc := prs.ParseDocument()
		if len(prs.Errors()) > 0 {
			return nil, newStageError(CodeParseFailed, "%v", prs.Errors())
		}
		return doc, nil
	})
}

// Validate runs the Validate stage, cached by the document's structural
// hash. Checks unknown fields, unknown fragment spreads, and unknown
// variable references; argument/variable type coercion failures surface
// from Normalize instead, since that's where default values are applied.
func (p *Pipeline) Validate(doc *ast.Document, operationName string) ([]ValidationError, error) {
	op, err := resolveOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	if p.maxRootFields > 0 {
		if n := countRootFields(op.SelectionSet); n > p.maxRootFields {
			return nil, newStageError(CodeTooManyRootFields, "operation selects %d root fields, limit is %d", n, p.maxRootFields)
		}
	}

	key, err := OperationHash(op)
	if err != nil {
		return nil, wrapStageError(CodeValidationFailed, err, "hashing document for validate cache key")
	}
	// Fragment definitions sit outside the operation body, so each one is
	// hashed as a field named after the fragment and folded into the key.
	var fragSels []ast.Selection
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			fragSels = append(fragSels, &ast.Field{Name: &ast.Name{Value: frag.Name.String()}, SelectionSet: []ast.Selection{
				&ast.InlineFragment{TypeCondition: frag.TypeCondition, SelectionSet: frag.SelectionSet}}})
		}
	}
	fragHash, err := ASTHash(fragSels)
	if err != nil {
		return nil, wrapStageError(CodeValidationFailed, err, "hashing fragments for validate cache key")
	}

	errs, err := p.validateCache.GetOrCompute(fmt.Sprintf("%x:%x", key, fragHash), func() ([]ValidationError, error) {
		fragmentDefs := collectFragmentDefinitions(doc)
		declaredVars := make(map[string]bool, len(op.VariableDefinitions))
		for _, vd := range op.VariableDefinitions {
			if vd.Variable != nil {
				declaredVars[vd.Variable.Name] = true
			}
		}

		var findings []ValidationError
		rootType := rootTypeName(op)
		if p.validator != nil {
			rootType = p.validator.RootTypeName(op.Operation)
		}
		p.validateSelections(op.SelectionSet, rootType, fragmentDefs, declaredVars, nil, &findings)
		return findings, nil
	})
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return errs, &StageError{Code: CodeValidationFailed, Message: fmt.Sprintf("%d validation error(s)", len(errs))}
	}
	return errs, nil
}

// countRootFields counts direct field selections at an operation's top
// level; __typename is excluded since it never reaches a subgraph.
func countRootFields(selections []ast.Selection) int {
	n := 0
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && f.Name.String() != "__typename" {
			n++
		}
	}
	return n
}

func (p *Pipeline) validateSelections(
	selections []ast.Selection,
	typeName string,
	fragmentDefs map[string]*ast.FragmentDefinition,
	declaredVars map[string]bool,
	path []string,
	findings *[]ValidationError,
) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			name := s.Name.String()
			fieldPath := append(append([]string{}, path...), name)

			if name != "__typename" && name != "__schema" && name != "__type" {
				if p.validator != nil && !p.validator.HasField(typeName, name) {
					*findings = append(*findings, ValidationError{
						Message: fmt.Sprintf("Cannot query field %q on type %q", name, typeName),
						Path:    fieldPath,
					})
				}
			}

			for _, arg := range s.Arguments {
				checkArgumentVariables(arg.Value, declaredVars, fieldPath, findings)
			}

			if len(s.SelectionSet) > 0 {
				nextType := typeName
				if p.validator != nil {
					nextType = p.validator.FieldTypeName(typeName, name)
				}
				p.validateSelections(s.SelectionSet, nextType, fragmentDefs, declaredVars, fieldPath, findings)
			}

		case *ast.InlineFragment:
			cond := typeName
			if s.TypeCondition != nil {
				cond = s.TypeCondition.Name.String()
			}
			p.validateSelections(s.SelectionSet, cond, fragmentDefs, declaredVars, path, findings)

		case *ast.FragmentSpread:
			fragName := s.Name.String()
			fragDef, ok := fragmentDefs[fragName]
			if !ok {
				*findings = append(*findings, ValidationError{
					Message: fmt.Sprintf("Unknown fragment %q", fragName),
					Path:    path,
				})
				continue
			}
			cond := typeName
			if fragDef.TypeCondition != nil {
				cond = fragDef.TypeCondition.Name.String()
			}
			p.validateSelections(fragDef.SelectionSet, cond, fragmentDefs, declaredVars, path, findings)
		}
	}
}

func checkArgumentVariables(v ast.Value, declaredVars map[string]bool, path []string, findings *[]ValidationError) {
	switch val := v.(type) {
	case *ast.Variable:
		if !declaredVars[val.Name] {
			*findings = append(*findings, ValidationError{
				Message: fmt.Sprintf("Unknown variable $%s", val.Name),
				Path:    path,
			})
		}
	case *ast.ListValue:
		for _, item := range val.Values {
			checkArgumentVariables(item, declaredVars, path, findings)
		}
	case *ast.ObjectValue:
		for _, f := range val.Fields {
			checkArgumentVariables(f.Value, declaredVars, path, findings)
		}
	}
}

// Normalize runs the Normalize stage. The cached shape (fragment-inlined
// selections split into subgraph/introspection halves) depends only on the
// document and operation name; variable default coercion is recomputed
// fresh per call since its output depends on the caller-supplied variables,
// which are not part of the cache key.
func (p *Pipeline) Normalize(doc *ast.Document, operationName string, variables map[string]any) (*NormalizedOperation, error) {
	op, err := resolveOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	bodyHash, err := OperationHash(op)
	if err != nil {
		return nil, wrapStageError(CodeOperationResolved, err, "hashing operation")
	}
	var fragSels []ast.Selection
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			fragSels = append(fragSels, &ast.Field{Name: &ast.Name{Value: frag.Name.String()}, SelectionSet: []ast.Selection{
				&ast.InlineFragment{TypeCondition: frag.TypeCondition, SelectionSet: frag.SelectionSet}}})
		}
	}
	fragHash, err := ASTHash(fragSels)
	if err != nil {
		return nil, wrapStageError(CodeOperationResolved, err, "hashing fragments")
	}
	cacheKey := fmt.Sprintf("%x:%x:%s", bodyHash, fragHash, operationName)

	shape, err := p.normalizeCache.GetOrCompute(cacheKey, func() (*normalizedShape, error) {
		fragmentDefs := collectFragmentDefinitions(doc)
		inlined, err := inlineFragments(op.SelectionSet, fragmentDefs, 0)
		if err != nil {
			return nil, err
		}
		subgraphSel, introspectionSel := splitIntrospection(inlined, true)
		return &normalizedShape{
			Operation:         op,
			SubgraphSelection: subgraphSel,
			Introspection:     introspectionSel,
			RootTypeName:      rootTypeName(op),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	coerced, err := coerceVariableDefaults(op, variables)
	if err != nil {
		return nil, err
	}

	return &NormalizedOperation{
		Operation:         shape.Operation,
		SubgraphSelection: shape.SubgraphSelection,
		Introspection:     shape.Introspection,
		RootTypeName:      shape.RootTypeName,
		Variables:         coerced,
	}, nil
}

// Plan runs the Plan stage: builds a synthetic single-operation document
// from the normalized subgraph-bound selection (fragments are already
// inlined, so no FragmentDefinitions are needed), plans it, applies the
// fetch-graph optimization passes, and schedules it into a Query Plan tree.
// overrideContext distinguishes plans that must differ only by
// authorization trimming (empty string when authorization is disabled).
func (p *Pipeline) Plan(norm *NormalizedOperation, overrideContext string) (*planner.QueryPlan, error) {
	opHash, err := ASTHash(norm.SubgraphSelection)
	if err != nil {
		return nil, wrapStageError(CodePlanBuildFailed, err, "hashing normalized operation")
	}
	cacheKey := fmt.Sprintf("%x:%s", opHash, overrideContext)

	return p.planCache.GetOrCompute(cacheKey, func() (*planner.QueryPlan, error) {
		if len(norm.SubgraphSelection) == 0 {
			// Everything was introspection-only or stripped by authorization;
			// the executor still runs projection over an empty accumulator to
			// emit nulls for whatever the projection plan asks for.
			return &planner.QueryPlan{
				Root:          &planner.PlanNode{Kind: planner.NodeSequence},
				OperationType: string(norm.Operation.Operation),
			}, nil
		}

		syntheticDoc := &ast.Document{
			Definitions: []ast.Definition{
				&ast.OperationDefinition{
					Operation:    norm.Operation.Operation,
					Name:         norm.Operation.Name,
					SelectionSet: norm.SubgraphSelection,
				},
			},
		}

		planV2, err := p.planner.Plan(syntheticDoc, norm.Variables)
		if err != nil {
			return nil, wrapStageError(CodePlanBuildFailed, err, "building fetch graph")
		}

		planner.Optimize(planV2)

		queryPlan, err := planner.Schedule(planV2)
		if err != nil {
			return nil, wrapStageError(CodePlanBuildFailed, err, "scheduling query plan")
		}
		return queryPlan, nil
	})
}
