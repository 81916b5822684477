package core

import (
	"errors"
	"fmt"
)

// Request failures, classified by the gateway
var (
	ErrNetworkUnreachable     = errors.New("network unreachable")            // no response at all
	ErrAuthenticationRejected = errors.New("credentials rejected")           // 400 on login
	ErrAuthorizationDenied    = errors.New("not authorised for this action") // role or token missing, 401/403
	ErrServerError            = errors.New("server rejected request")        // any other non-2xx
)

// Replication and data errors
var (
	ErrReplicationFailure = errors.New("replication failure")
	ErrValidationFailure  = errors.New("validation failure")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrInvalidAddress     = errors.New("invalid collection address")
	ErrHashMismatch       = errors.New("entry hash mismatch")
)

// Storage errors
var (
	ErrTokenNotFound = errors.New("no persisted token")
)

// Config errors
var (
	ErrBaseURLRequired      = errors.New("backend base url is required")
	ErrTokenStorageRequired = errors.New("token storage is required")
	ErrReplicaStoreRequired = errors.New("replica storage is required")
	ErrTransportRequired    = errors.New("peer transport is required")
	ErrCollectionRequired   = errors.New("collection name is required")
)

// Messages shown to the user for each class of failure
const (
	MsgLoginSuccess  = "Login successful!"
	MsgLoggedOut     = "Logged out"
	MsgNetworkError  = "There is a network error, Please try again shortly."
	MsgBadCredential = "Your username or password did not match, please try again."
	MsgNotAuthorised = "Sorry you are not authorised to fetch the data"
	MsgGenericError  = "Something went wrong! Please try again shortly."
)

// RequestError carries the operation and HTTP status of a failed backend call
type RequestError struct {
	Op     string
	Status int // 0 when no response was received
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// UserMessage maps an error to the text displayed to the user
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNetworkUnreachable):
		return MsgNetworkError
	case errors.Is(err, ErrAuthenticationRejected):
		return MsgBadCredential
	case errors.Is(err, ErrAuthorizationDenied):
		return MsgNotAuthorised
	default:
		return MsgGenericError
	}
}
