package control

import (
	"errors"
	"fmt"
)

// ErrMissingReferenceImage is returned when a dispatch is attempted before
// any image was uploaded. Nothing is sent in that case.
var ErrMissingReferenceImage = errors.New("no reference image")

// ErrUnknownPipeline is returned when selecting a pipeline the catalog does not know.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// TransportError covers unreachable servers, non-2xx statuses and
// undecodable response bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendFailure is a well-formed response carrying success=false.
type BackendFailure struct {
	Message string
}

func (e *BackendFailure) Error() string {
	if e.Message == "" {
		return "backend reported failure"
	}
	return "backend reported failure: " + e.Message
}
