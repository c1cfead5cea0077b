package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrStaleVersion    = errors.New("stale version")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrMalformed       = errors.New("malformed message")
	ErrRateLimited     = errors.New("rate limited")
	ErrFetchCancelled  = errors.New("fetch cancelled")
)
