package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrOffline is returned when a sync is requested while disconnected
	ErrOffline = errors.New("device is offline")
	// ErrSyncInProgress is returned when a sync is requested while one is running
	ErrSyncInProgress = errors.New("sync in progress")
)

// APIError represents an error response from the sync API
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Retryable reports whether the request may succeed when repeated
func (e APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// PushRejectedError reports pushed operations that failed server validation.
// Their queue entries stay queued for the next cycle.
type PushRejectedError struct {
	Rejected []PushRejection
}

func (e *PushRejectedError) Error() string {
	if len(e.Rejected) == 1 {
		r := e.Rejected[0]
		return fmt.Sprintf("push rejected for %s: %s", r.EntityID, r.Error)
	}
	return fmt.Sprintf("push rejected for %d operations", len(e.Rejected))
}

// localError marks failures of the local store during a cycle
type localError struct {
	err error
}

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

func local(err error) error {
	if err == nil {
		return nil
	}
	return &localError{err: err}
}

// ClassifyError maps a cycle error to the error type recorded in sync logs
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}

	var (
		apiErr      APIError
		rejectedErr *PushRejectedError
		localErr    *localError
		netErr      net.Error
	)

	switch {
	case errors.Is(err, ErrOffline):
		return ErrorTypeOffline
	case errors.Is(err, ErrSyncInProgress):
		return ErrorTypeInProgress
	case errors.As(err, &rejectedErr):
		return ErrorTypeRejected
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return ErrorTypeAuth
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return ErrorTypeServer
		default:
			return ErrorTypeClient
		}
	case errors.As(err, &localErr):
		return ErrorTypeLocal
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeNetwork
	case strings.Contains(err.Error(), "connection refused"):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}
