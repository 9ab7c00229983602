package service

import "errors"

// Sentinel kinds returned by the Service. Adapters translate them to
// transport-specific codes.
var (
	ErrNotStarted    = errors.New("service not started")
	ErrStopped       = errors.New("service stopped; its supplied directory or store is closed")
	ErrInvalidRecord = errors.New("invalid student record")
	ErrBackpressure  = errors.New("scoring queue is full")
	ErrNotFound      = errors.New("student not found")
	ErrInvalidLimit  = errors.New("invalid leaderboard limit")
)
