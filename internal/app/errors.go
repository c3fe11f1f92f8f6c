package app

import "errors"

// Sentinel error kinds forming the one closed set the Gateway maps onto
// HTTP status codes (spec.md §7, §9 "Error categorization"). Repository
// methods wrap these with errors.Is-compatible detail via fmt.Errorf's
// %w verb; callers at the Gateway boundary never see anything else.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrInternal   = errors.New("internal error")
)
