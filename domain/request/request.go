// Package request provides request/response value types for the document
// pipeline. These are extracted from HTTP and passed to pure functions.
package request

import "net/url"

// Request represents an incoming document request (value type).
type Request struct {
	// Actor identity (resolved by the HTTP layer)
	Actor string
	Admin bool

	// HTTP request details
	Method   string
	Path     string
	Selector string // from the Range header; empty means whole document
	IfMatch  string // conditional write precondition; empty means none
	Query    url.Values
	Body     string

	// Metadata
	RemoteIP string
	TraceID  string
}

// Response represents a document response (value type).
type Response struct {
	Status      int
	Body        []byte
	ContentType string

	// ContentRange is the selector the response is scoped to, surfaced as
	// "Content-Range: selector <sel>".
	ContentRange string

	// ETag is the version tag of the addressed node.
	ETag string

	// Location is set for templated creation (the new document's path).
	Location string
}

// ErrorResponse represents an error to return to the client (value type).
type ErrorResponse struct {
	Status  int
	Code    string
	Message string
}

// Common error responses. The taxonomy maps one-to-one onto wire status
// codes; none are silently swallowed except malformed rule markup, which is
// excluded from matching long before a request gets this far.
var (
	ErrNotFound = ErrorResponse{
		Status:  404,
		Code:    "not_found",
		Message: "No document exists at this path",
	}
	ErrSelectorNoMatch = ErrorResponse{
		Status:  416,
		Code:    "selector_unsatisfiable",
		Message: "The selector matches nothing in this document",
	}
	ErrUnauthorized = ErrorResponse{
		Status:  403,
		Code:    "unauthorized",
		Message: "No rule allows this request",
	}
	ErrShapeViolation = ErrorResponse{
		Status:  422,
		Code:    "shape_violation",
		Message: "The proposed subtree fails a structural constraint",
	}
	ErrWouldViolateShape = ErrorResponse{
		Status:  409,
		Code:    "would_violate_shape",
		Message: "Removing this node would break an ancestor's structural constraint",
	}
	ErrAlreadyExists = ErrorResponse{
		Status:  409,
		Code:    "already_exists",
		Message: "A document already exists at the declared path",
	}
	ErrVersionConflict = ErrorResponse{
		Status:  412,
		Code:    "version_conflict",
		Message: "The node's version tag no longer matches If-Match",
	}
	ErrAmbiguous = ErrorResponse{
		Status:  500,
		Code:    "ambiguous_reference",
		Message: "A reference that must resolve to exactly one node matched several",
	}
	ErrCompositionFailure = ErrorResponse{
		Status:  500,
		Code:    "composition_failure",
		Message: "Document composition failed",
	}
	ErrMalformed = ErrorResponse{
		Status:  400,
		Code:    "malformed_representation",
		Message: "The submitted representation is not a single well-formed element",
	}
	ErrInvalidSelector = ErrorResponse{
		Status:  400,
		Code:    "invalid_selector",
		Message: "The Range selector is not valid CSS selector syntax",
	}
	ErrInternal = ErrorResponse{
		Status:  500,
		Code:    "internal_error",
		Message: "The request failed inside the server",
	}
)
