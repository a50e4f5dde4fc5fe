package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a session failed
type ErrorKind string

const (
	KindVideoNotFound       ErrorKind = "video_not_found"
	KindQualityNotAvailable ErrorKind = "quality_not_available"
	KindNetwork             ErrorKind = "network_error"
	KindDownload            ErrorKind = "download_error"
	KindInvalidSession      ErrorKind = "invalid_session"
	KindRateLimited         ErrorKind = "rate_limited"
	KindCancelled           ErrorKind = "cancelled"
	KindUnknown             ErrorKind = "unknown"
)

// FetchError is a classified failure. Callers branch on Kind.
type FetchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewFetchError creates a classified error
func NewFetchError(kind ErrorKind, message string, err error) *FetchError {
	return &FetchError{Kind: kind, Message: message, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches another *FetchError of the same kind, so sentinel comparisons work
// with errors.Is.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Kind == e.Kind && t.Message == ""
}

var (
	// ErrSessionNotFound is returned for a session id the store has never seen
	ErrSessionNotFound = &FetchError{Kind: KindInvalidSession}

	// ErrRateLimited is the rejection injected by the rate limiter
	ErrRateLimited = &FetchError{Kind: KindRateLimited}

	// ErrArtifactNotReady is returned when a session has no artifact yet
	ErrArtifactNotReady = errors.New("artifact not ready")

	// ErrArtifactExpired is returned when the artifact was removed by the sweeper
	ErrArtifactExpired = errors.New("artifact expired")
)

// KindOf classifies any error. Unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// MessageOf returns the human message of a classified error
func MessageOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Message != "" {
			return fe.Message
		}
		if fe.Err != nil {
			return fe.Err.Error()
		}
		return string(fe.Kind)
	}
	return err.Error()
}
