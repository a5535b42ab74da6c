package gateway

import (
	"fmt"
	"net/http"

	"github.com/n9te9/go-graphql-federation-gateway/federation/authz"
	"github.com/n9te9/go-graphql-federation-gateway/federation/consumer"
	"github.com/n9te9/go-graphql-federation-gateway/federation/executor"
	"github.com/n9te9/go-graphql-federation-gateway/federation/graph"
	"github.com/n9te9/go-graphql-federation-gateway/federation/pipeline"
	"github.com/n9te9/go-graphql-federation-gateway/federation/planner"
)

// executionEngine bundles all read-only components required to serve GraphQL
// requests: every field is rebuilt together from a single supergraph
// composition, so a hot reload always swaps a fully consistent snapshot
// rather than mixing an old planner with a new schema.
type executionEngine struct {
	planner     *planner.PlannerV2
	executor    *executor.ExecutorV2
	superGraph  *graph.SuperGraphV2
	schema      *consumer.Schema
	pipeline    *pipeline.Pipeline
	authzFilter *authz.Filter
}

// schemaStore groups a set of raw SDLs, host URLs, and the engine built from them.
// The gateway does not use it: its atomic.Value store holds the *executionEngine directly.
type schemaStore struct {
	sdls   map[string]string // subgraph name → SDL string
	hosts  map[string]string // subgraph name → base URL
	engine *executionEngine
}

// buildEngine composes a new SuperGraph from the given SDLs and host map, then wraps it
// in an executionEngine together with a PlannerV2 and ExecutorV2.
// The order that subgraphs are processed follows the iteration order of sdls, which is
// non-deterministic in Go maps; SuperGraphV2 is expected to be order-independent.
func buildEngine(sdls, hosts map[string]string, httpClient *http.Client, authzSetting AuthorizationSetting, pluginsSetting PluginsSetting) (*executionEngine, error) {
	subGraphs := make([]*graph.SubGraphV2, 0, len(sdls))
	for name, sdl := range sdls {
		sg, err := graph.NewSubGraphV2(name, []byte(sdl), hosts[name])
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", name, err)
		}
		subGraphs = append(subGraphs, sg)
	}

	superGraph, err := graph.NewSuperGraphV2(subGraphs)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	schema := consumer.New(superGraph)
	plannerV2 := planner.NewPlannerV2(superGraph)

	var authzFilter *authz.Filter
	if authzSetting.Enable {
		mode := authz.ModeNullify
		if authzSetting.Mode == string(authz.ModeReject) {
			mode = authz.ModeReject
		}
		authzFilter = authz.New(schema, mode)
	}

	pipelineConfig := pipeline.DefaultConfig()
	pipelineConfig.MaxRootFields = pluginsSetting.MaxRootFields

	return &executionEngine{
		planner:     plannerV2,
		executor:    executor.NewExecutorV2(httpClient, superGraph),
		superGraph:  superGraph,
		schema:      schema,
		pipeline:    pipeline.New(schema, plannerV2, pipelineConfig),
		authzFilter: authzFilter,
	}, nil
}

// copyMap returns a shallow copy of a string map.
func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
