package repository

import "errors"

// Sentinel kinds for ranking store errors.
var (
	ErrNotFound     = errors.New("student not ranked")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrInvalidURN   = errors.New("student urn is empty")
)
