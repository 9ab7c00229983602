package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// The BST comparator is types.Less, where "less" means ranks earlier, so an
// in-order traversal yields the leaderboard from best to worst. Node
// priorities come from a hash of the URN: scores are small integers with
// many ties, so they cannot double as priorities without unbalancing the
// tree.

// snapshot is an immutable view of the leading rows, valid for one version.
type snapshot struct {
	version uint64
	top     []types.Entry
	total   int
}

type node struct {
	key   types.Standing
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, s types.Standing) *node {
	if n == nil {
		return &node{key: s, prio: xxhash.Sum64String(s.URN), size: 1}
	}
	if types.Less(s, n.key) {
		n.left = insert(n.left, s)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, s)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, s types.Standing) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.key.URN == s.URN && n.key.Score == s.Score:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, s)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, s)
		}
	case types.Less(s, n.key):
		n.left = deleteNode(n.left, s)
	default:
		n.right = deleteNode(n.right, s)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit standings in ranking order.
func collectTopN(n *node, limit int, out *[]types.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, types.EntryAt(n.key, 0))
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

var _ Store = (*TreapStore)(nil)

// TreapStore keeps standings in a treap ordered by rank, a URN index, and a
// count of students per distinct score for dense rank lookups.
type TreapStore struct {
	mu               sync.RWMutex
	root             *node
	byURN            map[string]types.Standing
	scoreCounts      map[int]int
	version          uint64
	snapshotInterval time.Duration
	topCacheSize     int

	snap atomic.Pointer[snapshot]

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a treap store and starts its snapshot publisher.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		snapshotInterval: 1 * time.Second,
		topCacheSize:     500,
		byURN:            make(map[string]types.Standing),
		scoreCounts:      make(map[int]int),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishSnapshot()
	s.startPeriodicSnapshots(ctx)
	return s
}

func (s *TreapStore) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot()
			}
		}
	}()
}

// publishSnapshot rebuilds the cached leading rows when the tree changed.
func (s *TreapStore) publishSnapshot() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur := s.snap.Load(); cur != nil && cur.version == s.version {
		return
	}
	top := make([]types.Entry, 0, min(s.topCacheSize, len(s.byURN)))
	collectTopN(s.root, s.topCacheSize, &top)
	denseRanks(top)
	s.snap.Store(&snapshot{version: s.version, top: top, total: len(s.byURN)})
	metrics.UpdateLeaderboardSize(len(s.byURN))
}

// Close stops the snapshot publisher. It is safe to call more than once.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Upsert implements Store.Upsert in O(log n) expected time.
func (s *TreapStore) Upsert(_ context.Context, st types.Standing) error {
	if st.URN == "" {
		return ErrInvalidURN
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLatency("upsert", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	if old, ok := s.byURN[st.URN]; ok {
		s.root = deleteNode(s.root, old)
		s.decScore(old.Score)
	}
	s.byURN[st.URN] = st
	s.scoreCounts[st.Score]++
	s.root = insert(s.root, st)
	s.version++
	s.mu.Unlock()

	metrics.RecordLeaderboardWrite()
	return nil
}

// Remove implements Store.Remove.
func (s *TreapStore) Remove(_ context.Context, urn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byURN[urn]
	if !ok {
		return ErrNotFound
	}
	s.root = deleteNode(s.root, old)
	s.decScore(old.Score)
	delete(s.byURN, urn)
	s.version++
	return nil
}

// decScore must be called with s.mu held.
func (s *TreapStore) decScore(score int) {
	if s.scoreCounts[score] <= 1 {
		delete(s.scoreCounts, score)
		return
	}
	s.scoreCounts[score]--
}

// Rank returns the student's dense rank: one more than the number of
// distinct scores above theirs.
func (s *TreapStore) Rank(_ context.Context, urn string) (types.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLatency("rank", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byURN[urn]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	above := 0
	for score := range s.scoreCounts {
		if score > st.Score {
			above++
		}
	}
	return types.EntryAt(st, above+1), nil
}

// TopN returns the top n entries. Requests that fit in a current snapshot
// are served from it without taking the tree lock for traversal.
func (s *TreapStore) TopN(_ context.Context, n int) ([]types.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLatency("topn", float64(time.Since(start).Microseconds())/1000)
	}()
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap := s.snap.Load(); snap != nil && snap.version == s.version &&
		(n <= len(snap.top) || len(snap.top) == snap.total) {
		out := make([]types.Entry, min(n, len(snap.top)))
		copy(out, snap.top)
		return out, nil
	}

	out := make([]types.Entry, 0, min(n, len(s.byURN)))
	collectTopN(s.root, n, &out)
	denseRanks(out)
	return out, nil
}

// Count returns the number of ranked students.
func (s *TreapStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURN), nil
}
