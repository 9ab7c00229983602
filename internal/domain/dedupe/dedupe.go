// Package dedupe suppresses rescoring of student records that have not
// changed since they were last accepted.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper remembers the latest accepted fingerprint per student.
type Deduper interface {
	// SeenAndRecord atomically compares fingerprint with the one stored for
	// key. It returns true when they match. Otherwise it stores fingerprint
	// as the latest and returns false.
	SeenAndRecord(ctx context.Context, key, fingerprint string) bool

	// Forget drops whatever is stored for key so the next submission is
	// always accepted. Used after a failed enqueue and on deletion.
	Forget(ctx context.Context, key string)

	Size() int64
}

// node is one entry of the recency list; head is the newest.
type node struct {
	key         string
	fingerprint string
	prev, next  *node
}

func (n *node) reset() {
	n.key, n.fingerprint = "", ""
	n.prev, n.next = nil, nil
}

// inMemoryDeduper keeps fingerprints in a map. In bounded mode the entries
// are also linked newest to oldest, and the tail is evicted when full.
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node
	tail     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key, fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.seen[key]; ok {
		if n.fingerprint == fingerprint {
			return true
		}
		// changed record: refresh in place and move to the front
		n.fingerprint = fingerprint
		d.unlink(n)
		d.pushFront(n)
		return false
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	n := d.nodePool.Get().(*node)
	n.key = key
	n.fingerprint = fingerprint
	d.pushFront(n)
	d.seen[key] = n
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Forget(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	d.unlink(n)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// pushFront must be called with d.mu held.
func (d *inMemoryDeduper) pushFront(n *node) {
	n.prev = nil
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
}

// unlink must be called with d.mu held.
func (d *inMemoryDeduper) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	n := d.tail
	if n == nil {
		return
	}
	delete(d.seen, n.key)
	d.unlink(n)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// Size returns the number of students currently remembered.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
