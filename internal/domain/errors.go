package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrStateConflict is returned when an operation targets a bet that is
	// not in the state the operation requires. The bet is left untouched.
	ErrStateConflict = errors.New("bet state conflict")

	// ErrPoolConflict is returned when a bet cannot be removed from the
	// matchmaking pool because a concurrent match attempt already claimed it.
	ErrPoolConflict = errors.New("bet already claimed from pool")

	ErrInvalidBet   = errors.New("invalid bet parameters")
	ErrStalePrice   = errors.New("price too stale")
	ErrNoPrice      = errors.New("no price available")
	ErrLockExpired  = errors.New("price lock expired")
	ErrLockHeld     = errors.New("lock already held")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrWSDisconnect = errors.New("websocket disconnected")
)
