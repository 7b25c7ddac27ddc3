package core

// Operation IDs of the built-in endpoints. HTTP adapters bind their handlers
// by these IDs.
const (
	OpSignUp  = "signUpWithUsernameAndEmail"
	OpSignIn  = "signInWithEmailOrUsername"
	OpMe      = "getCurrentUser"
	OpSignOut = "signOut"
	OpRefresh = "refreshSession"
)

type Endpoint struct {
	Path   string
	Method string
	// Protected endpoints require a live session before the handler runs.
	Protected bool
	Metadata  EndpointMetadata
}

type EndpointMetadata struct {
	OperationID string
	Description string
}

// Key returns the registry key of the endpoint.
func (e Endpoint) Key() string {
	return e.Method + ":" + e.Path
}

// ErrorResponse represents an error response structure
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse is the acknowledgement body of login and logout.
type SuccessResponse struct {
	Success bool `json:"success"`
}
