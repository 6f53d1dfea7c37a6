// Package txpool pools idle storage.ReadTxn snapshots for short-lived
// reads (FindOne and other ad hoc lookups), per spec.md §4.3's "read
// transaction pool (default 4)". A Find cursor that needs to stay open
// across many Next calls does not use the pool at all — it owns a
// dedicated ReadTxn for its own lifetime instead, started via
// storage.Environment.BeginRead directly.
//
// Grounded on the teacher's connection-pool-less design: FiloDB opens one
// KVReader per call and discards it, which is correct but wasteful under
// load; Reset/Renew on storage.ReadTxn exist specifically so this pool can
// reuse the struct instead of re-walking the free list and re-mapping on
// every acquire.
package txpool

import (
	"sync"

	"mongolite/internal/storage"
)

// DefaultSize is the pool capacity spec.md names as the default.
const DefaultSize = 4

// Pool hands out storage.ReadTxn snapshots renewed against the
// environment's current version on each Acquire, and returns them to the
// freelist on Release. A Pool is safe for concurrent use.
type Pool struct {
	env  *storage.Environment
	size int

	mu   sync.Mutex
	idle []*storage.ReadTxn
}

// New builds a Pool over env with the given capacity. A size <= 0 uses
// DefaultSize.
func New(env *storage.Environment, size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{env: env, size: size}
}

// Acquire returns a ReadTxn snapshotting the environment's current state:
// either a renewed idle one from the pool, or (if the pool is empty) a
// fresh one from the environment directly.
func (p *Pool) Acquire() *storage.ReadTxn {
	p.mu.Lock()
	n := len(p.idle)
	if n == 0 {
		p.mu.Unlock()
		return p.env.BeginRead()
	}
	tx := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.mu.Unlock()

	tx.Renew()
	return tx
}

// Release returns tx to the pool for reuse, or discards it (ending its
// snapshot) if the pool is already at capacity.
func (p *Pool) Release(tx *storage.ReadTxn) {
	tx.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= p.size {
		return
	}
	p.idle = append(p.idle, tx)
}

// Close ends every idle snapshot still held by the pool. Callers must
// first ensure no Acquire is in flight.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, tx := range idle {
		tx.EndRead()
	}
}
