package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicatePosting is returned when a posting with the same
	// (op_type, correlation_id) was already written
	ErrDuplicatePosting = errors.New("posting already recorded")
	// ErrEdgeExists is returned when a user already has a sponsor
	ErrEdgeExists = errors.New("referral edge already exists")
)

// InvalidPostingError rejects a posting that violates ledger rules
type InvalidPostingError struct {
	Reason string
}

func (e *InvalidPostingError) Error() string {
	return "invalid posting: " + e.Reason
}

// InsufficientBalanceError rejects a debit that would overdraw a protected account
type InsufficientBalanceError struct {
	AccountID int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

// InvalidStateTransitionError rejects a withdrawal action not allowed from
// the request's current status
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// RateLimitedError rejects a new withdrawal while too many are in flight
type RateLimitedError struct {
	Active int
	Max    int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many active withdrawal requests: %d of %d allowed", e.Active, e.Max)
}

// CycleError reports referral graph corruption found during an upline walk
type CycleError struct {
	UserID string
}

func (e *CycleError) Error() string {
	return "referral cycle detected at user " + e.UserID
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ErrorStatusCode maps service errors to HTTP status codes for handlers
func ErrorStatusCode(err error) int {
	var (
		invalidPosting *InvalidPostingError
		insufficient   *InsufficientBalanceError
		badTransition  *InvalidStateTransitionError
		rateLimited    *RateLimitedError
		cycle          *CycleError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEdgeExists):
		return http.StatusConflict
	case errors.As(err, &invalidPosting):
		return http.StatusUnprocessableEntity
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity
	case errors.As(err, &badTransition):
		return http.StatusConflict
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &cycle):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
