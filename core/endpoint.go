package core

// Endpoint is a framework-agnostic route description. Adapters bind a
// handler per OperationID.
type Endpoint struct {
	Path     string
	Method   string
	Metadata EndpointMetadata
}

type EndpointMetadata struct {
	OperationID string
	Description string
	Public      bool // served without the swarm key
}

// ErrorResponse represents an error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HeadsResponse is the body of a heads query
type HeadsResponse struct {
	Address string   `json:"address"`
	Heads   []string `json:"heads"`
}
