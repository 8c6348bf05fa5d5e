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
	"fmt"
	"sync"
	"testing"

	"github.com/seqforge/seedex/seedex/cmd/fmidx"
)

func testEntry(size int32) *CacheEntry {
	return &CacheEntry{
		Ranges:      []SeedRange{{Rng: fmidx.SARange{Lo: 0, Hi: size}, IdxFw: true}},
		Coords:      []fmidx.Coord{{RefID: 0, Off: 7}},
		ResolvedAll: true,
	}
}

func TestCacheKeyCanonicalization(t *testing.T) {
	pat := []byte{0, 1, 2, 3}
	kf := cacheKey(pat, true, 0)
	kr := cacheKey(pat, false, 0)
	k1 := cacheKey(pat, true, 1)
	if kf == kr {
		t.Error("orientation must be part of the key")
	}
	if kf == k1 {
		t.Error("mismatch budget must be part of the key")
	}
}

func TestCacheLookupOrderAndPromotion(t *testing.T) {
	met := &Metrics{}
	shared := NewSharedCache(1<<20, 2)
	b := NewCacheBundle(1<<16, 1<<16, shared, met)

	key := cacheKey([]byte{0, 1, 2}, true, 0)
	e := testEntry(4)

	if _, ok := b.Lookup(key); ok {
		t.Fatal("empty cache should miss")
	}
	b.Insert(key, e)
	if got, ok := b.Lookup(key); !ok || got != e {
		t.Fatal("current scope should hit")
	}
	if met.CacheHitCurrent != 1 {
		t.Errorf("current hits %d, want 1", met.CacheHitCurrent)
	}

	// promotion moves the entry outward at read end
	b.FinishRead()
	got, ok := b.Lookup(key)
	if !ok {
		t.Fatal("local scope should hit after promotion")
	}
	if met.CacheHitLocal != 1 {
		t.Errorf("local hits %d, want 1", met.CacheHitLocal)
	}
	if len(got.Ranges) != 1 || got.Ranges[0].Rng.Size() != 4 {
		t.Error("promoted value differs")
	}

	// a different bundle sharing the process scope sees it too
	b2 := NewCacheBundle(1<<16, 0, shared, &Metrics{})
	if _, ok = b2.Lookup(key); !ok {
		t.Fatal("shared scope should hit from another bundle")
	}
}

func TestCacheCoherence(t *testing.T) {
	// two lookups that both succeed yield identical values
	met := &Metrics{}
	b := NewCacheBundle(1<<16, 1<<16, nil, met)
	key := cacheKey([]byte{3, 2, 1}, false, 1)
	b.Insert(key, testEntry(2))

	a1, ok1 := b.Lookup(key)
	a2, ok2 := b.Lookup(key)
	if !ok1 || !ok2 || a1 != a2 {
		t.Error("lookups disagree")
	}
}

func TestCurrentCacheBudget(t *testing.T) {
	met := &Metrics{}
	b := NewCacheBundle(64, 0, nil, met)

	// entries beyond the byte budget are not memoized, non-fatally
	for i := 0; i < 10; i++ {
		key := cacheKey([]byte{byte(i % 4), 1, 2, 3, 0, 1, 2, 3}, true, 0)
		b.Insert(key+fmt.Sprint(i), testEntry(2))
	}
	if met.CacheInsertFails == 0 {
		t.Error("expected some insert failures under a tiny budget")
	}
}

func TestLocalCacheEviction(t *testing.T) {
	c := newLocalCache(200)
	for i := 0; i < 50; i++ {
		c.put(fmt.Sprintf("key-%02d", i), testEntry(1))
	}
	if c.bytes > 200 {
		t.Errorf("budget exceeded: %d", c.bytes)
	}
	if len(c.m) == 0 {
		t.Error("cache should retain recent entries")
	}
	if _, ok := c.get("key-00"); ok {
		t.Error("oldest entry should have been evicted")
	}
}

func TestSharedCacheSingleWriter(t *testing.T) {
	shared := NewSharedCache(1<<20, 4)
	key := cacheKey([]byte{1, 1, 2, 2}, true, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shared.put(key, testEntry(3))
		}()
	}
	wg.Wait()

	e1, ok := shared.get(key)
	if !ok {
		t.Fatal("entry missing")
	}
	e2, _ := shared.get(key)
	if e1 != e2 {
		t.Error("concurrent writers produced unstable value")
	}
}
