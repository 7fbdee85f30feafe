package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell them apart without
// matching on message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindUpstream
	KindFormat
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindFormat:
		return "format"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by the chat and completion services.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause returns the underlying message without the operation prefix.
func (e *Error) Cause() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UpstreamError carries a non-success response from the completion endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion API error (status %d): %s", e.StatusCode, e.Body)
}

var (
	ErrEmptyResponse  = errors.New("empty response from completion API")
	ErrUnknownFormat  = errors.New("unrecognized completion response format")
	ErrBlankSessionID = errors.New("sessionId must not be blank")
	ErrBlankMessage   = errors.New("message must not be blank")
)
