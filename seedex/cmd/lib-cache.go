// Copyright © 2024 The seedex Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"sync/atomic"

	"github.com/cespare/xxhash"
	psync "github.com/exascience/pargo/sync"
	"github.com/seqforge/seedex/seedex/cmd/fmidx"
)

// Cache scope sizes. All are per worker except the shared scope.
const (
	DefaultCurrentCacheBytes = 16 << 20
	DefaultLocalCacheBytes   = 32 << 20
)

// SeedRange is one leaf range of a seed descent: the suffix-array
// interval, which index it lives on, and how many mismatches the
// branch took.
type SeedRange struct {
	Rng      fmidx.SARange
	IdxFw    bool
	Mismatch uint8
}

// CacheEntry is the memoized result of one seed query. Once an entry
// leaves the current-read scope it is immutable: concurrent readers
// observe either "absent" or the final value.
type CacheEntry struct {
	Ranges []SeedRange

	// reference coordinates resolved so far, in range order
	Coords      []fmidx.Coord
	ResolvedAll bool
}

// footprint approximates the entry's memory cost for scope budgets.
func (e *CacheEntry) footprint(keyLen int) int {
	return keyLen + 24 + len(e.Ranges)*16 + len(e.Coords)*8
}

// TotalSize sums the sizes of all leaf ranges.
func (e *CacheEntry) TotalSize() int {
	n := 0
	for _, r := range e.Ranges {
		n += r.Rng.Size()
	}
	return n
}

// cacheKey canonicalizes a seed query: the 0-4 coded pattern, the
// orientation bit, and the mismatch budget the descent ran with.
func cacheKey(pat []byte, fw bool, mm int) string {
	b := make([]byte, len(pat)+2)
	copy(b, pat)
	if fw {
		b[len(pat)] = '+'
	} else {
		b[len(pat)] = '-'
	}
	b[len(pat)+1] = byte('0' + mm)
	return string(b)
}

// ---------------------------------------------------------------------
// current-read scope

type currentCache struct {
	m      map[string]*CacheEntry
	bytes  int
	budget int
}

func newCurrentCache(budget int) *currentCache {
	return &currentCache{m: make(map[string]*CacheEntry, 64), budget: budget}
}

func (c *currentCache) get(key string) (*CacheEntry, bool) {
	e, ok := c.m[key]
	return e, ok
}

// put inserts unless the byte budget is exhausted; failure is
// non-fatal, the entry is simply not memoized.
func (c *currentCache) put(key string, e *CacheEntry) bool {
	if _, ok := c.m[key]; ok {
		return true
	}
	fp := e.footprint(len(key))
	if c.bytes+fp > c.budget {
		return false
	}
	c.m[key] = e
	c.bytes += fp
	return true
}

func (c *currentCache) clear() {
	clear(c.m)
	c.bytes = 0
}

// ---------------------------------------------------------------------
// thread-local scope

// localCache is bounded by a byte budget with FIFO-order eviction at
// entry level, which is close enough to LRU for seed queries that
// cluster within a batch of reads.
type localCache struct {
	m      map[string]*CacheEntry
	order  []string
	bytes  int
	budget int
}

func newLocalCache(budget int) *localCache {
	return &localCache{m: make(map[string]*CacheEntry, 1024), budget: budget}
}

func (c *localCache) get(key string) (*CacheEntry, bool) {
	e, ok := c.m[key]
	return e, ok
}

func (c *localCache) put(key string, e *CacheEntry) bool {
	if _, ok := c.m[key]; ok {
		return true
	}
	fp := e.footprint(len(key))
	if fp > c.budget {
		return false
	}
	for c.bytes+fp > c.budget && len(c.order) > 0 {
		old := c.order[0]
		c.order = c.order[1:]
		if oe, ok := c.m[old]; ok {
			c.bytes -= oe.footprint(len(old))
			delete(c.m, old)
		}
	}
	c.m[key] = e
	c.order = append(c.order, key)
	c.bytes += fp
	return true
}

// ---------------------------------------------------------------------
// process-shared scope

type sharedKey string

// Hash implements pargo's Hashable.
func (k sharedKey) Hash() uint64 { return xxhash.Sum64String(string(k)) }

// SharedCache is the process-wide scope, shared by all workers. The
// underlying map guarantees at most one winning writer per key;
// losers drop their copy.
type SharedCache struct {
	m      *psync.Map
	bytes  int64
	budget int64
}

// NewSharedCache returns a shared scope bounded by the byte budget.
func NewSharedCache(budget int64, splits int) *SharedCache {
	return &SharedCache{m: psync.NewMap(splits), budget: budget}
}

func (c *SharedCache) get(key string) (*CacheEntry, bool) {
	v, ok := c.m.Load(sharedKey(key))
	if !ok {
		return nil, false
	}
	return v.(*CacheEntry), true
}

func (c *SharedCache) put(key string, e *CacheEntry) bool {
	fp := int64(e.footprint(len(key)))
	if atomic.LoadInt64(&c.bytes)+fp > c.budget {
		return false
	}
	_, found := c.m.LoadOrStore(sharedKey(key), e)
	if !found {
		atomic.AddInt64(&c.bytes, fp)
	}
	return true
}

// ---------------------------------------------------------------------
// per-worker bundle

// CacheBundle is one worker's view of the three scopes. Lookup order
// is current, then local, then shared; scopes are strictly layered
// and no two scope locks are ever held together.
type CacheBundle struct {
	current *currentCache
	local   *localCache // nil when disabled
	shared  *SharedCache // nil when disabled

	// promotion thresholds: only fully resolved entries whose ranges
	// stay small are worth keeping beyond the read
	promoteMaxRange int

	met *Metrics
}

// NewCacheBundle builds a worker's cache interface. local and shared
// may be disabled with 0 / nil.
func NewCacheBundle(currentBudget, localBudget int, shared *SharedCache, met *Metrics) *CacheBundle {
	b := &CacheBundle{
		current:         newCurrentCache(currentBudget),
		shared:          shared,
		promoteMaxRange: 64,
		met:             met,
	}
	if localBudget > 0 {
		b.local = newLocalCache(localBudget)
	}
	return b
}

// Lookup finds a memoized seed query in scope order. Entries found in
// outer scopes are copied into the current scope so later lookups in
// this read stay local.
func (b *CacheBundle) Lookup(key string) (*CacheEntry, bool) {
	if e, ok := b.current.get(key); ok {
		b.met.CacheHitCurrent++
		return e, true
	}
	if b.local != nil {
		if e, ok := b.local.get(key); ok {
			b.met.CacheHitLocal++
			b.current.put(key, e)
			return e, true
		}
	}
	if b.shared != nil {
		if e, ok := b.shared.get(key); ok {
			b.met.CacheHitShared++
			b.current.put(key, e)
			return e, true
		}
	}
	return nil, false
}

// Insert memoizes a fresh entry in the current-read scope. A failed
// insert is recorded and absorbed.
func (b *CacheBundle) Insert(key string, e *CacheEntry) {
	if !b.current.put(key, e) {
		b.met.CacheInsertFails++
	}
}

// FinishRead promotes worthwhile current entries outward and clears
// the current scope. Promotion copies the entry out of the current
// scope before taking the next scope, keeping the lock order strict.
func (b *CacheBundle) FinishRead() {
	if b.local != nil || b.shared != nil {
		for key, e := range b.current.m {
			if !e.ResolvedAll || e.TotalSize() > b.promoteMaxRange {
				continue
			}
			if b.local != nil && !b.local.put(key, e) {
				b.met.CacheInsertFails++
			}
			if b.shared != nil && !b.shared.put(key, e) {
				b.met.CacheInsertFails++
			}
		}
	}
	b.current.clear()
}
