package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch means a run fetched data but no currency passed validation
	ErrEmptyBatch = errors.New("no valid records")

	// ErrInvalidRecord means a record violates the persistence invariants
	ErrInvalidRecord = errors.New("invalid rate record")
)

// FetchErrorKind classifies a failed snapshot fetch
type FetchErrorKind string

const (
	FetchTimeout        FetchErrorKind = "timeout"
	FetchConnectivity   FetchErrorKind = "connectivity"
	FetchProvider       FetchErrorKind = "provider"
	FetchMalformed      FetchErrorKind = "malformed_response"
	FetchInvalidRequest FetchErrorKind = "invalid_request"
)

// FetchError is returned by rate providers
type FetchError struct {
	Kind FetchErrorKind
	// Code is the provider's error type, set for FetchProvider
	Code string
	Err  error
}

func (e *FetchError) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "fetch failed: " + msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchErrorKind reports whether err is a FetchError of the given kind
func IsFetchErrorKind(err error, kind FetchErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// StoreError is a storage-level fault. Nothing of the failed operation is visible.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
