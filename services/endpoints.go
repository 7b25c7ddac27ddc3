package services

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/lborres/gatekeep/core"
)

// BaseEndpoints returns framework-agnostic descriptions of the auth
// endpoints. Paths are relative to the configured base path; adapters bind
// their handlers by OperationID.
func BaseEndpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:   "/signup",
			Method: http.MethodPost,
			Metadata: core.EndpointMetadata{
				OperationID: core.OpSignUp,
				Description: "Register a user with name, username, email and password",
			},
		},
		{
			Path:   "/login",
			Method: http.MethodPost,
			Metadata: core.EndpointMetadata{
				OperationID: core.OpSignIn,
				Description: "Log in with email or username and receive a session cookie",
			},
		},
		{
			Path:      "/me",
			Method:    http.MethodGet,
			Protected: true,
			Metadata: core.EndpointMetadata{
				OperationID: core.OpMe,
				Description: "Return the user owning the current session",
			},
		},
		{
			Path:   "/logout",
			Method: http.MethodPost,
			Metadata: core.EndpointMetadata{
				OperationID: core.OpSignOut,
				Description: "Revoke the current session and clear the cookie",
			},
		},
		{
			Path:      "/refresh",
			Method:    http.MethodPost,
			Protected: true,
			Metadata: core.EndpointMetadata{
				OperationID: core.OpRefresh,
				Description: "Replace the current session token with a new one",
			},
		},
	}
}

// EndpointRegistry holds endpoints keyed by "METHOD:PATH" and rejects
// duplicates.
type EndpointRegistry struct {
	endpoints map[string]core.Endpoint
}

// NewEndpointRegistry creates a registry with the base endpoints registered.
func NewEndpointRegistry() *EndpointRegistry {
	reg := &EndpointRegistry{endpoints: make(map[string]core.Endpoint)}
	// base endpoints never conflict with an empty registry
	_ = reg.Register(BaseEndpoints()...)
	return reg
}

// Register adds endpoints as one batch. On any conflict, with the registry
// or inside the batch, nothing is registered.
func (r *EndpointRegistry) Register(endpoints ...core.Endpoint) error {
	seen := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		key := ep.Key()
		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("endpoint conflict: %s %s already registered", ep.Method, ep.Path)
		}
		if seen[key] {
			return fmt.Errorf("duplicate endpoint in batch: %s %s", ep.Method, ep.Path)
		}
		seen[key] = true
	}

	for _, ep := range endpoints {
		r.endpoints[ep.Key()] = ep
	}
	return nil
}

// Endpoints returns all registered endpoints ordered by path, then method.
func (r *EndpointRegistry) Endpoints() []core.Endpoint {
	result := make([]core.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		result = append(result, ep)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Path != result[j].Path {
			return result[i].Path < result[j].Path
		}
		return result[i].Method < result[j].Method
	})
	return result
}
