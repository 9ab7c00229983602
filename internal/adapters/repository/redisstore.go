package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the ranking in Redis so several service instances can
// share one leaderboard.
//
// Keys:
//   - "{key}:z" sorted set, member URN, score = -points. Ascending order of
//     the negated score gives points DESC, and Redis breaks ties by member
//     ascending, which is exactly URN ASC.
//   - "{key}:info" hash URN -> Standing JSON.
//   - "{key}:counts" hash points -> number of students holding it, used to
//     compute dense ranks without scanning the set.
type RedisStore struct {
	rdb *redis.Client
	key string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The caller owns the client unless
// Close is called.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, key: "trophy:leaderboard"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStore(rdb, opts...), nil
}

func (s *RedisStore) zkey() string     { return s.key + ":z" }
func (s *RedisStore) infoKey() string  { return s.key + ":info" }
func (s *RedisStore) countKey() string { return s.key + ":counts" }

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// Upsert replaces the student's score inside a WATCH transaction so the
// per-score counters stay consistent under concurrent writers.
func (s *RedisStore) Upsert(ctx context.Context, st types.Standing) error {
	if st.URN == "" {
		return ErrInvalidURN
	}
	defer observe("upsert", time.Now())

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal standing: %w", err)
	}
	txf := func(tx *redis.Tx) error {
		old, err := tx.ZScore(ctx, s.zkey(), st.URN).Result()
		exists := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if exists {
				pipe.HIncrBy(ctx, s.countKey(), strconv.Itoa(int(-old)), -1)
			}
			pipe.ZAdd(ctx, s.zkey(), redis.Z{Score: float64(-st.Score), Member: st.URN})
			pipe.HSet(ctx, s.infoKey(), st.URN, data)
			pipe.HIncrBy(ctx, s.countKey(), strconv.Itoa(st.Score), 1)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf); err != nil {
		return fmt.Errorf("redis upsert %s: %w", st.URN, err)
	}
	metrics.RecordLeaderboardWrite()
	return nil
}

// Remove implements Store.Remove.
func (s *RedisStore) Remove(ctx context.Context, urn string) error {
	defer observe("remove", time.Now())
	txf := func(tx *redis.Tx) error {
		old, err := tx.ZScore(ctx, s.zkey(), urn).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.zkey(), urn)
			pipe.HDel(ctx, s.infoKey(), urn)
			pipe.HIncrBy(ctx, s.countKey(), strconv.Itoa(int(-old)), -1)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("redis remove %s: %w", urn, err)
	}
	return nil
}

// watch retries the optimistic transaction a few times on conflict.
func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error) error {
	const maxRetries = 5
	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.rdb.Watch(ctx, txf, s.zkey())
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Rank implements Store.Rank.
func (s *RedisStore) Rank(ctx context.Context, urn string) (types.Entry, error) {
	defer observe("rank", time.Now())

	raw, err := s.rdb.HGet(ctx, s.infoKey(), urn).Result()
	if errors.Is(err, redis.Nil) {
		return types.Entry{}, ErrNotFound
	}
	if err != nil {
		return types.Entry{}, fmt.Errorf("redis rank %s: %w", urn, err)
	}
	var st types.Standing
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return types.Entry{}, fmt.Errorf("decode standing %s: %w", urn, err)
	}
	counts, err := s.rdb.HGetAll(ctx, s.countKey()).Result()
	if err != nil {
		return types.Entry{}, fmt.Errorf("redis rank counts: %w", err)
	}
	above := 0
	for field, n := range counts {
		score, err := strconv.Atoi(field)
		if err != nil || n == "0" || n == "" {
			continue
		}
		if score > st.Score {
			above++
		}
	}
	return types.EntryAt(st, above+1), nil
}

// TopN implements Store.TopN.
func (s *RedisStore) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	defer observe("topn", time.Now())
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	urns, err := s.rdb.ZRange(ctx, s.zkey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis topn: %w", err)
	}
	if len(urns) == 0 {
		return []types.Entry{}, nil
	}
	raws, err := s.rdb.HMGet(ctx, s.infoKey(), urns...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis topn info: %w", err)
	}
	out := make([]types.Entry, 0, len(urns))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// info hash lags the sorted set only if a writer crashed mid-way
			continue
		}
		var st types.Standing
		if err := json.Unmarshal([]byte(str), &st); err != nil {
			return nil, fmt.Errorf("decode standing %s: %w", urns[i], err)
		}
		out = append(out, types.EntryAt(st, 0))
	}
	denseRanks(out)
	return out, nil
}

// Count implements Store.Count.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.zkey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	metrics.UpdateLeaderboardSize(int(n))
	return int(n), nil
}

// Clear deletes every key owned by the store.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.zkey(), s.infoKey(), s.countKey()).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
