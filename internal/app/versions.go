package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/okian/trophy/internal/adapters/directory"
	workerpool "github.com/okian/trophy/internal/adapters/mq/worker"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/model"
)

const versionStripes = 64

// versions stamps every accepted change to a student with a number that is
// never reused. A student with no stamp reads as version 0, which is also
// what a deleted student reads as.
type versions struct {
	next    atomic.Uint64
	stripes [versionStripes]versionStripe
}

type versionStripe struct {
	mu   sync.Mutex
	seen map[string]uint64
}

func newVersions() *versions {
	v := &versions{}
	for i := range v.stripes {
		v.stripes[i].seen = make(map[string]uint64)
	}
	return v
}

// lock locks and returns the stripe guarding urn. Directory writes and
// reads for urn happen under it so a stamp always matches what was read.
func (v *versions) lock(urn string) *versionStripe {
	st := &v.stripes[xxhash.Sum64String(urn)%versionStripes]
	st.mu.Lock()
	return st
}

// bump stamps urn with a fresh version. The stripe must be held.
func (v *versions) bump(st *versionStripe, urn string) {
	st.seen[urn] = v.next.Add(1)
}

// directorySource serves workers the directory's current record together
// with its stamp.
type directorySource struct {
	dir      Directory
	versions *versions
}

func (d directorySource) Snapshot(ctx context.Context, urn string) (workerpool.Snapshot, error) {
	st := d.versions.lock(urn)
	defer st.mu.Unlock()

	snap := workerpool.Snapshot{Version: st.seen[urn]}
	rec, err := d.dir.Get(ctx, urn)
	if errors.Is(err, directory.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	snap.Record, snap.Exists = rec, true
	return snap, nil
}

func (d directorySource) Changed(urn string, version uint64) bool {
	st := d.versions.lock(urn)
	defer st.mu.Unlock()
	return st.seen[urn] != version
}

// prescored hands back results computed in bulk for records that are still
// current and scores anything that changed since.
type prescored struct {
	engine        *achievement.Engine
	byFingerprint map[string]achievement.Result
}

func (p prescored) Score(ctx context.Context, rec model.StudentRecord) (achievement.Result, error) {
	if res, ok := p.byFingerprint[model.Fingerprint(rec)]; ok {
		return res, nil
	}
	return p.engine.Score(ctx, rec)
}
