package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/n9te9/go-graphql-federation-gateway/federation/authz"
	"github.com/n9te9/go-graphql-federation-gateway/federation/executor"
	"github.com/n9te9/go-graphql-federation-gateway/federation/pipeline"
	"github.com/n9te9/go-graphql-federation-gateway/registry"
	"github.com/n9te9/graphql-parser/ast"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type GatewayService struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	SchemaFiles []string `yaml:"schema_files"`
}

type GatewayOption struct {
	Endpoint                    string                    `yaml:"endpoint"`
	ServiceName                 string                    `yaml:"service_name"`
	Port                        int                       `yaml:"port"`
	TimeoutDuration             string                    `yaml:"timeout_duration" default:"5s"`
	EnableHangOverRequestHeader bool                      `yaml:"enable_hang_over_request_header" default:"true"`
	Services                    []GatewayService          `yaml:"services"`
	Opentelemetry               OpentelemetrySetting      `yaml:"opentelemetry"`
	Authorization               AuthorizationSetting      `yaml:"authorization"`
	CORS                        CORSSetting               `yaml:"cors"`
	JWT                         JWTSetting                `yaml:"jwt"`
	PersistedDocuments          PersistedDocumentsSetting `yaml:"persisted_documents"`
	Supergraph                  SupergraphSetting         `yaml:"supergraph"`
	Plugins                     PluginsSetting            `yaml:"plugins"`
}

// PluginsSetting configures the request-shaping plugins the gateway
// enforces ahead of planning (config §6 "plugins" section). MaxRootFields
// of 0 leaves the operation's root field count unbounded.
type PluginsSetting struct {
	MaxRootFields int `yaml:"max_root_fields"`
}

// SupergraphSetting configures how the supergraph definition is sourced
// (config §6 "supergraph" section). WatchFiles turns on an fsnotify-backed
// reload: editing any configured service's schema files on disk triggers a
// Reload without restarting the process.
type SupergraphSetting struct {
	WatchFiles bool `yaml:"watch_files" default:"false"`
}

// PersistedDocumentsSetting configures the persisted-document store (config
// §6 "persisted_documents" section). When Enable is false the gateway never
// attaches a registry.Registry, so a persisted-query extension always
// resolves to PERSISTED_QUERY_NOT_FOUND.
type PersistedDocumentsSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

type AuthorizationSetting struct {
	Enable bool `yaml:"enable" default:"false"`
	// Mode is "reject" or "nullify"; defaults to "nullify" when empty.
	Mode string `yaml:"mode"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

type gateway struct {
	graphQLEndpoint string
	serviceName     string

	store atomic.Value // *executionEngine; swapped wholesale by Reload

	services       []GatewayService
	httpClient     *http.Client
	authzSetting   AuthorizationSetting
	pluginsSetting PluginsSetting

	documents *registry.Registry

	enableComplementRequestId   bool
	enableHangOverRequestHeader bool
	enableOpentelemetryTracing  bool
}

var _ http.Handler = (*gateway)(nil)

// engine returns the currently active execution engine. Every request reads
// one consistent snapshot, even if Reload swaps in a new one concurrently.
func (g *gateway) engine() *executionEngine {
	return g.store.Load().(*executionEngine)
}

// WithRegistry attaches a persisted-document store; once set, a request
// whose query is empty but whose extensions name a persisted-query hash is
// resolved against it instead of requiring the client to send the document
// text.
func (g *gateway) WithRegistry(r *registry.Registry) *gateway {
	g.documents = r
	return g
}

// RegistrationHandler returns the persisted-document registration endpoint
// (POST /schema/registration) if a registry is attached, for the process
// entrypoint to mount alongside the GraphQL endpoint itself.
func (g *gateway) RegistrationHandler() (http.Handler, bool) {
	if g.documents == nil {
		return nil, false
	}
	return g.documents, true
}

// Reload re-reads every subgraph's schema files from disk, recomposes the
// supergraph, and atomically swaps in the resulting engine. In-flight
// requests keep executing against the engine snapshot they already loaded;
// only requests that arrive after the swap see the new schema.
func (g *gateway) Reload() error {
	sdls := make(map[string]string, len(g.services))
	hosts := make(map[string]string, len(g.services))
	for _, s := range g.services {
		var schema []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("failed to read schema file %q for service %q: %w", f, s.Name, err)
			}
			schema = append(schema, src...)
		}
		sdls[s.Name] = string(schema)
		hosts[s.Name] = s.Host
	}

	eng, err := buildEngine(sdls, hosts, g.httpClient, g.authzSetting, g.pluginsSetting)
	if err != nil {
		return err
	}
	g.store.Store(eng)
	return nil
}

func NewGateway(settings GatewayOption) (*gateway, error) {
	sdls := make(map[string]string, len(settings.Services))
	hosts := make(map[string]string, len(settings.Services))
	for _, s := range settings.Services {
		var schema []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			schema = append(schema, src...)
		}
		sdls[s.Name] = string(schema)
		hosts[s.Name] = s.Host
	}

	// Create HTTP client with timeout for subgraph requests
	httpClient := &http.Client{
		Timeout: 3 * time.Second, // 3 second timeout for subgraph requests
	}

	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	eng, err := buildEngine(sdls, hosts, httpClient, settings.Authorization, settings.Plugins)
	if err != nil {
		return nil, err
	}

	var documents *registry.Registry
	if settings.PersistedDocuments.Enable {
		documents = registry.NewRegistry()
		documents.Start()
	}

	gw := &gateway{
		graphQLEndpoint:             settings.Endpoint,
		serviceName:                 settings.ServiceName,
		services:                    settings.Services,
		httpClient:                  httpClient,
		authzSetting:                settings.Authorization,
		pluginsSetting:              settings.Plugins,
		documents:                   documents,
		enableComplementRequestId:   true,
		enableHangOverRequestHeader: settings.EnableHangOverRequestHeader,
		enableOpentelemetryTracing:  settings.Opentelemetry.TracingSetting.Enable,
	}
	gw.store.Store(eng)
	return gw, nil
}

type graphQLRequest struct {
	Query         string            `json:"query"`
	OperationName string            `json:"operationName"`
	Variables     map[string]any    `json:"variables"`
	Extensions    graphQLExtensions `json:"extensions"`
}

type graphQLExtensions struct {
	PersistedQuery *persistedQueryExtension `json:"persistedQuery"`
}

type persistedQueryExtension struct {
	Sha256Hash string `json:"sha256Hash"`
}

// graphQLRequestFromQuery builds a graphQLRequest from a GraphQL-over-HTTP
// GET request's query string: query/operationName are plain strings,
// variables/extensions are JSON-encoded per the GraphQL-over-HTTP spec.
func graphQLRequestFromQuery(values url.Values) (graphQLRequest, error) {
	req := graphQLRequest{
		Query:         values.Get("query"),
		OperationName: values.Get("operationName"),
	}

	if raw := values.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			return graphQLRequest{}, fmt.Errorf("failed to decode variables: %w", err)
		}
	}

	if raw := values.Get("extensions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Extensions); err != nil {
			return graphQLRequest{}, fmt.Errorf("failed to decode extensions: %w", err)
		}
	}

	return req, nil
}

// WrapCORS applies the configured CORS policy ahead of h. A disabled
// configuration returns h unchanged.
func WrapCORS(h http.Handler, settings CORSSetting) http.Handler {
	if !settings.Enable {
		return h
	}
	return newCORSMiddleware(settings)(h)
}

// WrapJWT applies the bearer-token verification gate ahead of h. A disabled
// configuration returns h unchanged, leaving every request's claims empty.
func WrapJWT(h http.Handler, settings JWTSetting) http.Handler {
	if !settings.Enable {
		return h
	}
	return newJWTGate(settings).Middleware(h)
}

func writeGraphQLErrors(w http.ResponseWriter, status int, code string, messages ...string) {
	errs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		errs = append(errs, map[string]any{
			"message":    m,
			"extensions": map[string]string{"code": code},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"errors": errs})
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	case http.MethodGet:
		var err error
		req, err = graphQLRequestFromQuery(r.URL.Query())
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	eng := g.engine()

	ctx := r.Context()
	if g.enableHangOverRequestHeader {
		ctx = executor.SetRequestHeaderToContext(ctx, r.Header)
	}

	if req.Query == "" && req.Extensions.PersistedQuery != nil {
		hash := req.Extensions.PersistedQuery.Sha256Hash
		if g.documents == nil {
			writeGraphQLErrors(w, http.StatusOK, "PERSISTED_QUERY_NOT_FOUND", "no persisted document store configured")
			return
		}
		query, ok := g.documents.Lookup(hash)
		if !ok {
			writeGraphQLErrors(w, http.StatusOK, "PERSISTED_QUERY_NOT_FOUND", "no persisted document registered for this hash")
			return
		}
		req.Query = query
	} else if req.Extensions.PersistedQuery != nil && g.documents != nil {
		if registry.Hash(req.Query) == req.Extensions.PersistedQuery.Sha256Hash {
			g.documents.Register(req.Query)
		}
	}

	doc, err := eng.pipeline.Parse(req.Query)
	if err != nil {
		writeGraphQLErrors(w, http.StatusBadRequest, "GRAPHQL_PARSE_FAILED", err.Error())
		return
	}

	if r.Method == http.MethodGet && hasMutation(doc) {
		writeGraphQLErrors(w, http.StatusMethodNotAllowed, "MUTATION_NOT_ALLOWED_FOR_GET", "mutations must be sent as a POST request")
		return
	}

	if err := g.validateAccessibility(eng, doc); err != nil {
		writeGraphQLErrors(w, http.StatusForbidden, "INACCESSIBLE_FIELD", err.Error())
		return
	}

	if _, err := eng.pipeline.Validate(doc, req.OperationName); err != nil {
		writeGraphQLErrors(w, http.StatusOK, validateErrorCode(err), err.Error())
		return
	}

	norm, err := eng.pipeline.Normalize(doc, req.OperationName, req.Variables)
	if err != nil {
		writeGraphQLErrors(w, http.StatusOK, "OPERATION_RESOLUTION_FAILURE", err.Error())
		return
	}

	overrideContext := ""
	if eng.authzFilter != nil {
		claims := claimsFromContext(ctx)
		result := eng.authzFilter.Apply(norm.SubgraphSelection, norm.RootTypeName, claims)
		if result.Trimmed {
			if eng.authzFilter.Mode() == authz.ModeReject {
				messages := make([]string, 0, len(result.Findings))
				for _, f := range result.Findings {
					messages = append(messages, f.Message)
				}
				writeGraphQLErrors(w, http.StatusForbidden, "UNAUTHORIZED_FIELD_OR_TYPE", messages...)
				return
			}
			norm.SubgraphSelection = result.Selections
			overrideContext = "authz"
		}
	}

	plan, err := eng.pipeline.Plan(norm, overrideContext)
	if err != nil {
		writeGraphQLErrors(w, http.StatusOK, "QUERY_PLAN_BUILD_FAILED", err.Error())
		return
	}

	resp, err := eng.executor.ExecutePlan(ctx, plan, norm.Variables)
	if err != nil {
		writeGraphQLErrors(w, http.StatusOK, "INTERNAL_SERVER_ERROR", err.Error())
		return
	}

	if len(norm.Introspection) > 0 {
		introData := eng.schema.ExecuteIntrospection(norm.Introspection, norm.RootTypeName)
		if data, ok := resp["data"].(map[string]interface{}); ok {
			for k, v := range introData {
				data[k] = v
			}
		} else {
			resp["data"] = introData
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (g *gateway) Start(port int) error {
	fmt.Printf("Gateway started on port %d\n", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), g)
}

// validateErrorCode maps a Validate stage failure to its extensions.code,
// falling back to GRAPHQL_VALIDATION_FAILED for anything that isn't a
// tagged pipeline.StageError.
func validateErrorCode(err error) string {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return string(stageErr.Code)
	}
	return "GRAPHQL_VALIDATION_FAILED"
}

// hasMutation reports whether doc contains a mutation operation, so GET
// requests (read-only per GraphQL-over-HTTP) can be rejected before
// planning or execution.
func hasMutation(doc *ast.Document) bool {
	for _, def := range doc.Definitions {
		if opDef, ok := def.(*ast.OperationDefinition); ok && opDef.Operation == ast.Mutation {
			return true
		}
	}
	return false
}

// validateAccessibility validates that no @inaccessible fields are queried.
func (g *gateway) validateAccessibility(eng *executionEngine, doc *ast.Document) error {
	for _, def := range doc.Definitions {
		if opDef, ok := def.(*ast.OperationDefinition); ok {
			rootTypeName := "Query"
			switch opDef.Operation {
			case ast.Query:
				rootTypeName = "Query"
			case ast.Mutation:
				rootTypeName = "Mutation"
			case ast.Subscription:
				rootTypeName = "Subscription"
			}

			if err := g.validateSelectionSet(eng, opDef.SelectionSet, rootTypeName); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateSelectionSet recursively validates selections.
func (g *gateway) validateSelectionSet(eng *executionEngine, selSet []ast.Selection, parentTypeName string) error {
	if selSet == nil {
		return nil
	}

	for _, sel := range selSet {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()

			// Skip introspection fields
			if fieldName == "__typename" || fieldName == "__schema" || fieldName == "__type" {
				continue
			}

			// Check if field is inaccessible
			if err := g.checkFieldAccessibility(eng, parentTypeName, fieldName); err != nil {
				return err
			}

			// Get the field type for recursive validation
			nextTypeName := g.getFieldTypeName(eng, parentTypeName, fieldName)
			if nextTypeName != "" {
				if err := g.validateSelectionSet(eng, s.SelectionSet, nextTypeName); err != nil {
					return err
				}
			}

		case *ast.FragmentSpread:
			// Handle fragment spreads
			// For now, skip validation in fragments
			// TODO: Implement fragment validation

		case *ast.InlineFragment:
			// Handle inline fragments
			typeCondition := ""
			if s.TypeCondition != nil {
				typeCondition = s.TypeCondition.String()
			}
			if typeCondition == "" {
				typeCondition = parentTypeName
			}
			if err := g.validateSelectionSet(eng, s.SelectionSet, typeCondition); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkFieldAccessibility checks if a field is inaccessible.
func (g *gateway) checkFieldAccessibility(eng *executionEngine, typeName, fieldName string) error {
	for _, subGraph := range eng.superGraph.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists {
			if field, ok := entity.Fields[fieldName]; ok {
				if field.IsInaccessible() {
					return fmt.Errorf("Cannot query field \"%s\" on type \"%s\"", fieldName, typeName)
				}
			}
		}

		// Also check non-entity types in the schema
		for _, def := range subGraph.Schema.Definitions {
			if objDef, ok := def.(*ast.ObjectTypeDefinition); ok {
				if objDef.Name.String() == typeName {
					for _, f := range objDef.Fields {
						if f.Name.String() == fieldName {
							// Check for @inaccessible directive
							for _, d := range f.Directives {
								if d.Name == "inaccessible" {
									return fmt.Errorf("Cannot query field \"%s\" on type \"%s\"", fieldName, typeName)
								}
							}
						}
					}
				}
			}
		}
	}

	return nil
}

// getFieldTypeName returns the type name of a field.
func (g *gateway) getFieldTypeName(eng *executionEngine, typeName, fieldName string) string {
	for _, def := range eng.superGraph.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok {
			if objDef.Name.String() == typeName {
				for _, field := range objDef.Fields {
					if field.Name.String() == fieldName {
						return g.unwrapTypeName(field.Type)
					}
				}
			}
		}
	}
	return ""
}

// unwrapTypeName extracts the base type name from a type.
func (g *gateway) unwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return g.unwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return g.unwrapTypeName(typ.Type)
	}
	return ""
}
