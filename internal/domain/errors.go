package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid purchase request")
	ErrAlreadyOwned   = errors.New("buyer already owns item")
	ErrNoEvaluators   = errors.New("no evaluators configured")
	ErrSigningFailed  = errors.New("signing failed")
	ErrLockHeld       = errors.New("lock already held")
)
