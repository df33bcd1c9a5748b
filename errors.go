package main

import "errors"

// Failure kinds surfaced at the CLI boundary. Callers wrap these with %w and
// context; the CLI matches with errors.Is to pick exit behavior.
var (
	// Bad caller input. Surfaced immediately, never retried.
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidRange      = errors.New("start time is after end time")
	ErrIncompleteRange   = errors.New("both start and end must be supplied together")

	// Transient or upstream failures. Retried internally with a bound.
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrUpstream    = errors.New("upstream API error")
	ErrPagination  = errors.New("malformed page response")

	// Configuration or programming errors. Fail fast, never silently degrade.
	ErrUnknownMetric = errors.New("unknown metric key")
	ErrMissingSlot   = errors.New("missing template slot content")
	ErrUnknownSlot   = errors.New("unknown template slot")

	// AI scoring failures. The affected epic falls back to "Not available".
	ErrAIService = errors.New("AI service error")
)
