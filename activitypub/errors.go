package activitypub

import "errors"

// Failure taxonomy for federation operations. Callers branch with errors.Is;
// everything else wrapping these is context.
var (
	// ErrNotFound: discovery or dereference came back non-success. Aborts
	// only the dependent operation.
	ErrNotFound = errors.New("actor not found")
	// ErrMalformed: a document or activity is missing a required field.
	ErrMalformed = errors.New("malformed document")
	// ErrUnauthenticated: missing, unparseable, or mismatched HTTP signature.
	ErrUnauthenticated = errors.New("request not authenticated")
	// ErrDelivery: a recipient delivery exhausted its retry budget.
	ErrDelivery = errors.New("delivery failed")
)
