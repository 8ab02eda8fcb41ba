package shopify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when Shopify reports that a resource does not exist.
var ErrNotFound = errors.New("shopify: resource not found")

// AuthError means the access token was rejected.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("shopify authentication failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("shopify authentication failed: %s", e.Message)
}

// ThrottleError means the request was rejected for rate limiting. RetryAfter
// is a hint and may be zero.
type ThrottleError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("shopify request throttled: %s", e.Message)
}

// CostError means a single query exceeds the maximum allowed cost and will
// never succeed as written.
type CostError struct {
	Message string
}

func (e *CostError) Error() string {
	return fmt.Sprintf("shopify query cost exceeded: %s", e.Message)
}

type GraphQLError struct {
	Message string
	Code    string
}

func (e *GraphQLError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("shopify graphql error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("shopify graphql error: %s", e.Message)
}

// UserErrorsError wraps the userErrors list a mutation returned.
type UserErrorsError struct {
	Operation string
	Errors    []UserError
}

func (e *UserErrorsError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ue := range e.Errors {
		if len(ue.Field) > 0 {
			msgs = append(msgs, fmt.Sprintf("%s: %s", strings.Join(ue.Field, "."), ue.Message))
		} else {
			msgs = append(msgs, ue.Message)
		}
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is(err, ErrNotFound) match "does not exist" user errors.
func (e *UserErrorsError) Unwrap() error {
	for _, ue := range e.Errors {
		msg := strings.ToLower(ue.Message)
		if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
			return ErrNotFound
		}
	}
	return nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("shopify API request failed: %d - %s", e.StatusCode, e.Body)
}

// BulkOperationError reports a bulk operation that ended in a failed state.
type BulkOperationError struct {
	ID        string
	Status    string
	ErrorCode string
}

func (e *BulkOperationError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("bulk operation %s ended %s: %s", e.ID, e.Status, e.ErrorCode)
	}
	return fmt.Sprintf("bulk operation %s ended %s", e.ID, e.Status)
}

// IsThrottled reports whether err is a rate limit rejection.
func IsThrottled(err error) bool {
	var te *ThrottleError
	return errors.As(err, &te)
}

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
