package roster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/model"
	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ErrVerification is returned when the server's rankings disagree with
// locally computed scores after the settle window.
var ErrVerification = errors.New("leaderboard verification failed")

const (
	pollInterval = 100 * time.Millisecond
	maxIssues    = 10
)

// Config controls a load run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Students int           // Number of students to generate and submit
	Workers  int           // Number of concurrent requests
	TopN     int           // Leaderboard entries to fetch and check
	Timeout  time.Duration // HTTP request timeout
	Settle   time.Duration // How long to wait for asynchronous scoring
	Seed     int64         // Roster generator seed
	Token    string        // Bearer token for write routes
	Output   string        // Optional path to save the generated roster
}

// Report summarizes a load run.
type Report struct {
	RunID              string        `json:"run_id"`
	Submitted          int           `json:"submitted"`
	Accepted           int           `json:"accepted"`
	Duplicates         int           `json:"duplicates"`
	Failed             int           `json:"failed"`
	Verified           int           `json:"verified"`
	LeaderboardEntries int           `json:"leaderboard_entries"`
	Issues             []string      `json:"issues,omitempty"`
	Duration           time.Duration `json:"duration"`
}

// RunLoad generates a roster, submits it to the server concurrently, waits
// for scoring to settle and verifies every submitted student's score and
// the leaderboard ordering.
func RunLoad(ctx context.Context, cfg Config) (Report, error) {
	log := logger.Named("loadtest")
	start := time.Now()
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	rep := Report{RunID: uuid.NewString()[:8]}

	c := newClient(cfg.BaseURL, cfg.Token, cfg.Timeout)
	if err := c.health(ctx); err != nil {
		return rep, fmt.Errorf("service health check failed: %w", err)
	}

	// Prefix URNs with the run id so repeated runs against one server do
	// not overwrite each other.
	recs := Generate(cfg.Students, cfg.Seed)
	for i := range recs {
		recs[i].URN = rep.RunID + "-" + recs[i].URN
	}
	if cfg.Output != "" {
		if err := Save(cfg.Output, recs); err != nil {
			log.Warn(ctx, "failed to save roster", logger.Error(err))
		}
	}
	log.Info(ctx, "submitting roster",
		logger.String("run", rep.RunID),
		logger.Int("students", len(recs)),
		logger.Int("workers", cfg.Workers),
	)

	accepted := submitAll(ctx, c, recs, cfg.Workers, &rep)
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	issues, err := waitForScores(ctx, c, accepted, cfg)
	if err != nil {
		return rep, err
	}
	rep.Verified = len(accepted) - len(issues)

	board, err := c.leaderboard(ctx, cfg.TopN)
	if err != nil {
		return rep, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	rep.LeaderboardEntries = len(board)
	issues = append(issues, CheckLeaderboard(board)...)

	rep.Duration = time.Since(start)
	rep.Issues = issues
	if len(rep.Issues) > maxIssues {
		rep.Issues = append(rep.Issues[:maxIssues], fmt.Sprintf("... and %d more", len(issues)-maxIssues))
	}
	log.Info(ctx, "load run finished",
		logger.String("run", rep.RunID),
		logger.Int("accepted", rep.Accepted),
		logger.Int("duplicates", rep.Duplicates),
		logger.Int("failed", rep.Failed),
		logger.Int("verified", rep.Verified),
		logger.Duration("took", rep.Duration),
	)
	if len(issues) > 0 {
		return rep, fmt.Errorf("%w: %d issues", ErrVerification, len(issues))
	}
	return rep, nil
}

// submitAll posts every record with bounded concurrency and returns the
// records the server accepted for scoring.
func submitAll(ctx context.Context, c *client, recs []model.StudentRecord, workers int, rep *Report) []model.StudentRecord {
	var acceptedN, duplicates, failed atomic.Int64
	ok := make([]bool, len(recs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range recs {
		g.Go(func() error {
			a, err := c.submit(gctx, recs[i])
			switch {
			case err != nil:
				failed.Add(1)
			case a.Duplicate:
				duplicates.Add(1)
				ok[i] = true
			default:
				acceptedN.Add(1)
				ok[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Submitted = len(recs)
	rep.Accepted = int(acceptedN.Load())
	rep.Duplicates = int(duplicates.Load())
	rep.Failed = int(failed.Load())

	out := make([]model.StudentRecord, 0, len(recs))
	for i, rec := range recs {
		if ok[i] {
			out = append(out, rec)
		}
	}
	return out
}

// waitForScores polls each student's rank until every score matches the
// locally computed total or the settle window closes. It returns the
// remaining mismatches.
func waitForScores(ctx context.Context, c *client, recs []model.StudentRecord, cfg Config) ([]string, error) {
	want := make(map[string]int, len(recs))
	for _, rec := range recs {
		want[rec.URN] = achievement.ComputeScore(rec).Total
	}
	deadline := time.Now().Add(cfg.Settle)
	pending := recs
	for {
		var err error
		pending, err = mismatched(ctx, c, pending, want, cfg.Workers)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	issues := make([]string, 0, len(pending))
	for _, rec := range pending {
		issues = append(issues, fmt.Sprintf("%s: expected score %d", rec.URN, want[rec.URN]))
	}
	return issues, nil
}

func mismatched(ctx context.Context, c *client, recs []model.StudentRecord, want map[string]int, workers int) ([]model.StudentRecord, error) {
	bad := make([]bool, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range recs {
		g.Go(func() error {
			e, err := c.rank(gctx, recs[i].URN)
			var se *statusError
			switch {
			case errors.As(err, &se) && se.Status == http.StatusNotFound:
				bad[i] = true
			case err != nil:
				return err
			case e.Score != want[recs[i].URN]:
				bad[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ranking retrieval failed: %w", err)
	}
	out := make([]model.StudentRecord, 0)
	for i, rec := range recs {
		if bad[i] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CheckLeaderboard verifies ordering and dense ranks of a leaderboard page
// that starts at rank 1.
func CheckLeaderboard(entries []types.Entry) []string {
	var issues []string
	for i, e := range entries {
		if i == 0 {
			if e.Rank != 1 {
				issues = append(issues, fmt.Sprintf("first entry %s has rank %d", e.URN, e.Rank))
			}
			continue
		}
		prev := entries[i-1]
		a := types.Standing{URN: prev.URN, Score: prev.Score}
		b := types.Standing{URN: e.URN, Score: e.Score}
		if !types.Less(a, b) {
			issues = append(issues, fmt.Sprintf("%s listed before %s out of order", prev.URN, e.URN))
		}
		wantRank := prev.Rank
		if e.Score != prev.Score {
			wantRank++
		}
		if e.Rank != wantRank {
			issues = append(issues, fmt.Sprintf("%s has rank %d, want %d", e.URN, e.Rank, wantRank))
		}
	}
	return issues
}
