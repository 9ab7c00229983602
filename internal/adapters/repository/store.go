// Package repository holds the ranking stores that order students by score.
package repository

import (
	"context"

	"github.com/okian/trophy/internal/domain/types"
)

// Store provides read/write access to the ranking state.
//
// Ordering is score DESC then URN ASC. Tied scores share a rank and the next
// distinct score takes the next consecutive rank.
type Store interface {
	// Upsert sets the student's score, replacing any previous value even
	// when the new score is lower.
	Upsert(ctx context.Context, s types.Standing) error

	// Remove drops a student. Returns ErrNotFound if the URN is unknown.
	Remove(ctx context.Context, urn string) error

	// Rank returns the current rank and score for a student.
	// Returns ErrNotFound if the URN is unknown.
	Rank(ctx context.Context, urn string) (types.Entry, error)

	// TopN returns the top-N entries in ranking order.
	TopN(ctx context.Context, n int) ([]types.Entry, error)

	// Count returns the number of ranked students.
	Count(ctx context.Context) (int, error)

	Close() error
}

// denseRanks assigns ranks to entries already in ranking order, starting at 1.
func denseRanks(entries []types.Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}
