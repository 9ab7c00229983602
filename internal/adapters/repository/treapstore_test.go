package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/okian/trophy/internal/domain/types"
)

func mustUpsert(t testing.TB, s Store, urn string, score int) {
	t.Helper()
	if err := s.Upsert(context.Background(), types.Standing{URN: urn, Name: "n-" + urn, Score: score}); err != nil {
		t.Fatalf("upsert %s: %v", urn, err)
	}
}

func TestTreapStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("expected count 0, got %d", n)
	}

	mustUpsert(t, store, "U1", 50)
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}

	entry, err := store.Rank(ctx, "U1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.Score != 50 || entry.Name != "n-U1" {
		t.Errorf("unexpected entry %+v", entry)
	}

	entries, err := store.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].URN != "U1" {
		t.Errorf("unexpected top entries %+v", entries)
	}
}

func TestTreapStore_UpsertReplacesScore(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	mustUpsert(t, store, "U1", 103)
	mustUpsert(t, store, "U2", 55)
	mustUpsert(t, store, "U1", 15)

	top, err := store.TopN(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].URN != "U2" || top[1].URN != "U1" || top[1].Score != 15 {
		t.Errorf("lowered score not applied: %+v", top)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
}

func TestTreapStore_DenseTies(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	mustUpsert(t, store, "U3", 50)
	mustUpsert(t, store, "U1", 103)
	mustUpsert(t, store, "U2", 50)
	mustUpsert(t, store, "U4", 0)

	top, _ := store.TopN(ctx, 10)
	want := []struct {
		urn  string
		rank int
	}{{"U1", 1}, {"U2", 2}, {"U3", 2}, {"U4", 3}}
	for i, w := range want {
		if top[i].URN != w.urn || top[i].Rank != w.rank {
			t.Errorf("row %d: got %s/%d want %s/%d", i, top[i].URN, top[i].Rank, w.urn, w.rank)
		}
	}
	for _, w := range want {
		e, err := store.Rank(ctx, w.urn)
		if err != nil {
			t.Fatalf("rank %s: %v", w.urn, err)
		}
		if e.Rank != w.rank {
			t.Errorf("Rank(%s) = %d, want %d", w.urn, e.Rank, w.rank)
		}
	}
}

func TestTreapStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	mustUpsert(t, store, "U1", 60)
	mustUpsert(t, store, "U2", 45)

	if err := store.Remove(ctx, "U1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Rank(ctx, "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	e, _ := store.Rank(ctx, "U2")
	if e.Rank != 1 {
		t.Errorf("expected U2 to move up to rank 1, got %d", e.Rank)
	}
}

func TestTreapStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	if _, err := store.TopN(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
	if err := store.Upsert(ctx, types.Standing{Score: 10}); !errors.Is(err, ErrInvalidURN) {
		t.Errorf("expected ErrInvalidURN, got %v", err)
	}
	if _, err := store.Rank(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestTreapStore_SnapshotServesCurrentData(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx, WithSnapshotInterval(5*time.Millisecond), WithTopCacheSize(2))
	defer store.Close()

	for i := 0; i < 5; i++ {
		mustUpsert(t, store, fmt.Sprintf("U%d", i), i*10)
	}
	time.Sleep(30 * time.Millisecond)

	top, _ := store.TopN(ctx, 2)
	if len(top) != 2 || top[0].URN != "U4" {
		t.Fatalf("unexpected cached top %+v", top)
	}

	// A write after the snapshot must be visible immediately.
	mustUpsert(t, store, "U9", 999)
	top, _ = store.TopN(ctx, 2)
	if top[0].URN != "U9" {
		t.Errorf("stale snapshot served: %+v", top)
	}

	// Requests larger than the cache fall back to the tree.
	time.Sleep(30 * time.Millisecond)
	all, _ := store.TopN(ctx, 10)
	if len(all) != 6 {
		t.Errorf("expected 6 entries, got %d", len(all))
	}
}

func TestTreapStore_MatchesSortedReference(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic test data
	ref := make(map[string]int)
	for i := 0; i < 3000; i++ {
		urn := fmt.Sprintf("U%04d", rng.Intn(800))
		if rng.Intn(10) == 0 {
			if _, ok := ref[urn]; ok {
				if err := store.Remove(ctx, urn); err != nil {
					t.Fatalf("remove %s: %v", urn, err)
				}
				delete(ref, urn)
			}
			continue
		}
		score := rng.Intn(20) * 15
		mustUpsert(t, store, urn, score)
		ref[urn] = score
	}

	rows := make([]types.Standing, 0, len(ref))
	for urn, score := range ref {
		rows = append(rows, types.Standing{URN: urn, Score: score})
	}
	sort.Slice(rows, func(i, j int) bool { return types.Less(rows[i], rows[j]) })

	top, err := store.TopN(ctx, len(rows))
	if err != nil {
		t.Fatalf("topn: %v", err)
	}
	if len(top) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(top))
	}
	for i := range rows {
		if top[i].URN != rows[i].URN || top[i].Score != rows[i].Score {
			t.Fatalf("row %d: got %s/%d want %s/%d", i, top[i].URN, top[i].Score, rows[i].URN, rows[i].Score)
		}
		e, err := store.Rank(ctx, rows[i].URN)
		if err != nil || e.Rank != top[i].Rank {
			t.Fatalf("rank mismatch for %s: %d vs %d (%v)", rows[i].URN, e.Rank, top[i].Rank, err)
		}
	}
}

func TestTreapStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx, WithSnapshotInterval(time.Millisecond))
	defer store.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				urn := fmt.Sprintf("U%d-%d", w, i%50)
				_ = store.Upsert(ctx, types.Standing{URN: urn, Score: i})
				_, _ = store.TopN(ctx, 10)
				_, _ = store.Rank(ctx, urn)
			}
		}(w)
	}
	wg.Wait()

	if n, _ := store.Count(ctx); n != 8*50 {
		t.Errorf("expected %d students, got %d", 8*50, n)
	}
}

func BenchmarkTreapStore_Upsert(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()
	urns := make([]string, 10000)
	for i := range urns {
		urns[i] = fmt.Sprintf("U%05d", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Upsert(ctx, types.Standing{URN: urns[i%len(urns)], Score: (i * 15) % 400})
	}
}

func BenchmarkTreapStore_TopN(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()
	for i := 0; i < 10000; i++ {
		mustUpsert(b, store, fmt.Sprintf("U%05d", i), (i*15)%400)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.TopN(ctx, 100)
	}
}
