package rate

import "errors"

var (
	// ErrRateLimited is returned by callers that surface a rejected Decision as an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps counter store failures passed to the failure hook.
	ErrStoreUnavailable = errors.New("rate counter store unavailable")
	// ErrUnknownClass is returned for classes missing from the rule table.
	ErrUnknownClass = errors.New("unknown rate limit class")
)
