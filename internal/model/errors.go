package model

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a machine-readable error category
type Kind string

const (
	KindNeedsClarification Kind = "needs_clarification"
	KindNoData             Kind = "no_data"
	KindResourceExhausted  Kind = "resource_exhausted"
	KindBreakerOpen        Kind = "circuit_breaker_open"
	KindContextOverflow    Kind = "context_overflow"
)

var (
	// ErrTransient marks an error as safe to retry
	ErrTransient = errors.New("transient failure")
	// ErrUnsupportedIntent is returned when an intent has no aggregation plan
	ErrUnsupportedIntent = errors.New("intent has no aggregation plan")
	// ErrPoolClosed is returned by Acquire after CloseAll
	ErrPoolClosed = errors.New("connection pool closed")
	// ErrInvalidFilter is returned for filter keys or values the calculator cannot bind
	ErrInvalidFilter = errors.New("invalid filter")
)

// NeedsClarificationError means a required business entity could not be resolved
type NeedsClarificationError struct {
	Field    string
	Question string
}

func (e *NeedsClarificationError) Error() string {
	if e.Question != "" {
		return fmt.Sprintf("%s: missing %s: %s", KindNeedsClarification, e.Field, e.Question)
	}
	return fmt.Sprintf("%s: missing %s", KindNeedsClarification, e.Field)
}

// Kind implements Kinded
func (e *NeedsClarificationError) Kind() Kind { return KindNeedsClarification }

// NoDataError means the filtered result set was empty where data was required
type NoDataError struct {
	Intent  IntentType
	Filters map[string]string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("%s: no rows for %s with filters %v", KindNoData, e.Intent, e.Filters)
}

// Kind implements Kinded
func (e *NoDataError) Kind() Kind { return KindNoData }

// ResourceExhaustedError means no pooled handle became free within the timeout
type ResourceExhaustedError struct {
	Resource string
	Waited   time.Duration
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s unavailable after %v", KindResourceExhausted, e.Resource, e.Waited)
}

// Kind implements Kinded
func (e *ResourceExhaustedError) Kind() Kind { return KindResourceExhausted }

// CircuitBreakerOpenError is returned without calling a dependency that is tripped
type CircuitBreakerOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("%s: %s (retry after %v)", KindBreakerOpen, e.Name, e.RetryAfter)
}

// Kind implements Kinded
func (e *CircuitBreakerOpenError) Kind() Kind { return KindBreakerOpen }

// ContextOverflowError means the metrics alone do not fit the token ceiling
type ContextOverflowError struct {
	Tokens    int
	MaxTokens int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("%s: %d tokens exceeds ceiling %d", KindContextOverflow, e.Tokens, e.MaxTokens)
}

// Kind implements Kinded
func (e *ContextOverflowError) Kind() Kind { return KindContextOverflow }

// Kinded is implemented by every typed pipeline error
type Kinded interface {
	error
	Kind() Kind
}

// KindOf extracts the category of err, or "" when it is not a typed pipeline error
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}
