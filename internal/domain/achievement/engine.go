// Package achievement computes a student's achievement score from their
// recorded sports participations.
package achievement

import (
	"context"
	"fmt"
	"runtime"

	"github.com/okian/trophy/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// Entry is one classified participation line of a student record.
type Entry struct {
	Sport       string   `json:"sport"`
	RawPosition string   `json:"raw_position"`
	Level       Level    `json:"level"`
	Position    Position `json:"position"`
	Points      int      `json:"points"`
}

// Result is the full breakdown of a student's score.
type Result struct {
	URN          string  `json:"urn"`
	Total        int     `json:"total"`
	EntryPoints  int     `json:"entry_points"`
	CaptainBonus int     `json:"captain_bonus"`
	SportBonus   int     `json:"sport_bonus"`
	Entries      []Entry `json:"entries"`
	// PendingResolved is true when at least one entry has a scoring
	// position. It is informational and never affects Total.
	PendingResolved bool `json:"pending_resolved"`
}

// Classify turns a record's participations into classified, priced entries.
// A sport without a position is treated as Invalid.
func Classify(rec model.StudentRecord) []Entry {
	parts := rec.Participations()
	entries := make([]Entry, 0, len(parts))
	for _, p := range parts {
		e := Entry{Sport: p.Sport, RawPosition: p.Position, Level: ClassifyLevel(p.Sport)}
		if p.HasPosition {
			e.Position = NormalizePosition(p.Position)
		}
		e.Points = Points(e.Level, e.Position)
		entries = append(entries, e)
	}
	return entries
}

// ComputeScore returns the total score and its breakdown for one record.
// It is pure: the same record always yields the same Result.
func ComputeScore(rec model.StudentRecord) Result {
	entries := Classify(rec)
	res := Result{URN: rec.URN, Entries: entries}

	bonusSport := false
	for _, e := range entries {
		res.EntryPoints += e.Points
		if IsBonusSport(e.Sport) {
			bonusSport = true
		}
	}
	if rec.IsCaptain {
		res.CaptainBonus = CaptainBonus
	}
	if bonusSport {
		res.SportBonus = SportBonus
	}
	res.PendingResolved = HasAnyValidPosition(entries)

	res.Total = res.EntryPoints + res.CaptainBonus + res.SportBonus
	if res.Total < 0 {
		res.Total = 0
	}
	return res
}

// Scorer computes achievement results, honoring ctx for cancellation.
type Scorer interface {
	Score(ctx context.Context, rec model.StudentRecord) (Result, error)
	ScoreAll(ctx context.Context, recs []model.StudentRecord) ([]Result, error)
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithConcurrency bounds how many records ScoreAll scores at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// Engine is the default Scorer. It holds no per-record state and is safe
// for concurrent use.
type Engine struct {
	concurrency int
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score scores one record.
func (e *Engine) Score(ctx context.Context, rec model.StudentRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("context cancelled: %w", err)
	}
	return ComputeScore(rec), nil
}

// ScoreAll scores a batch concurrently. Results keep the input order.
func (e *Engine) ScoreAll(ctx context.Context, recs []model.StudentRecord) ([]Result, error) {
	out := make([]Result, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range recs {
		g.Go(func() error {
			res, err := e.Score(gctx, recs[i])
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
