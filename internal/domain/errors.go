package domain

import "errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
	ErrStore        = errors.New("store failure")
	ErrDuplicate    = errors.New("duplicate key")
	ErrRateLimited  = errors.New("rate limited")
)

// AccessDeniedError carries the reason code and user-facing text of a policy
// denial. errors.Is(err, ErrAccessDenied) holds for it.
type AccessDeniedError struct {
	Reason  string
	Message string
}

func (e *AccessDeniedError) Error() string { return "access denied: " + e.Reason }

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }
