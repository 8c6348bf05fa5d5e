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
	"testing"

	"github.com/seqforge/seedex/seedex/cmd/fmidx"
)

func hamming(a, b string) int {
	d := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}

// occurrencesWithin lists the offsets where pat occurs in seq with at
// most mm mismatches.
func occurrencesWithin(seq, pat string, mm int) map[int]int {
	out := make(map[int]int)
	for i := 0; i+len(pat) <= len(seq); i++ {
		if d := hamming(seq[i:i+len(pat)], pat); d <= mm {
			out[i] = d
		}
	}
	return out
}

func newTestSearcher(t *testing.T, seq string, bidir bool) (*SeedSearcher, *fmidx.Index, *Metrics) {
	t.Helper()
	idx, err := fmidx.New([]fmidx.Reference{{Name: "chr", Seq: []byte(seq)}}, bidir)
	if err != nil {
		t.Fatal(err)
	}
	met := &Metrics{}
	bundle := NewCacheBundle(1<<20, 0, nil, met)
	return NewSeedSearcher(idx, bundle, met), idx, met
}

// collect resolves every hit range into reference offsets with the
// mismatch count of its branch.
func collectHitOffsets(t *testing.T, idx *fmidx.Index, hits []SeedHit) map[int]int {
	t.Helper()
	out := make(map[int]int)
	for _, h := range hits {
		for i := 0; i < h.Rng.Size(); i++ {
			c, ok := idx.Resolve(h.IdxFw, h.Rng, i, h.Len)
			if !ok {
				t.Fatalf("resolve failed for hit %+v", h)
			}
			if prev, dup := out[int(c.Off)]; dup {
				t.Fatalf("offset %d found twice (mm %d and %d): descent cases overlap",
					c.Off, prev, h.Mismatch)
			}
			out[int(c.Off)] = int(h.Mismatch)
		}
	}
	return out
}

func searchOne(s *SeedSearcher, pat string, mm int) *SeedResults {
	seeds := []InstSeed{{
		Off: 0, Len: len(pat), Fw: true, MM: mm,
		Pat: fmidx.EncodeSeq([]byte(pat)),
	}}
	var res SeedResults
	s.Search(seeds, &res)
	return &res
}

func TestSearchExact(t *testing.T) {
	seq := "ACGTACGTTTGGACGTACCA"
	s, idx, _ := newTestSearcher(t, seq, false)

	res := searchOne(s, "ACGTAC", 0)
	got := collectHitOffsets(t, idx, res.Hits)
	want := occurrencesWithin(seq, "ACGTAC", 0)

	if len(got) != len(want) {
		t.Fatalf("found %v, want %v", got, want)
	}
	for off := range want {
		if _, ok := got[off]; !ok {
			t.Errorf("missing occurrence at %d", off)
		}
	}
}

func TestSearchOneMismatchComplete(t *testing.T) {
	// seed coverage invariant: every occurrence within Hamming
	// distance 1 must be reported by exactly one branch
	seq := "AAGTACCTGACGTACGTATTACGAACGT"
	pat := "ACGTAC"
	s, idx, _ := newTestSearcher(t, seq, true)

	res := searchOne(s, pat, 1)
	got := collectHitOffsets(t, idx, res.Hits)
	want := occurrencesWithin(seq, pat, 1)

	for off, d := range want {
		gd, ok := got[off]
		if !ok {
			t.Errorf("missing occurrence at %d (distance %d)", off, d)
			continue
		}
		if gd != d {
			t.Errorf("offset %d: mismatch count %d, want %d", off, gd, d)
		}
	}
	for off := range got {
		if _, ok := want[off]; !ok {
			t.Errorf("spurious occurrence at %d", off)
		}
	}
}

func TestSearchTwoMismatchesComplete(t *testing.T) {
	seq := "TTACGTACTTAAGTACGTTTACCTACGTTTACGCACGG"
	pat := "ACGTAC"
	s, idx, _ := newTestSearcher(t, seq, true)

	res := searchOne(s, pat, 2)
	got := collectHitOffsets(t, idx, res.Hits)
	want := occurrencesWithin(seq, pat, 2)

	if len(got) != len(want) {
		t.Fatalf("found %d offsets %v, want %d %v", len(got), got, len(want), want)
	}
	for off, d := range want {
		if got[off] != d {
			t.Errorf("offset %d: mismatch count %d, want %d", off, got[off], d)
		}
	}
}

func TestSearchCacheReuse(t *testing.T) {
	seq := "ACGTACGTTTGGACGTACCA"
	s, _, met := newTestSearcher(t, seq, false)

	searchOne(s, "ACGTAC", 0)
	ops := met.BwtOps
	searchOne(s, "ACGTAC", 0)
	if met.BwtOps != ops {
		t.Errorf("second search of the same seed should hit the cache, ops %d -> %d",
			ops, met.BwtOps)
	}
	if met.CacheHitCurrent == 0 {
		t.Error("expected a current-scope cache hit")
	}
}

func TestSearchHitOrdering(t *testing.T) {
	// AC is frequent, GGACGTACCA unique: the unique (larger) seed with
	// the smaller range must rank first
	seq := "ACGTACGTTTGGACGTACCAACAC"
	s, _, _ := newTestSearcher(t, seq, false)

	seeds := []InstSeed{
		{Off: 0, Len: 2, Fw: true, MM: 0, Pat: fmidx.EncodeSeq([]byte("AC"))},
		{Off: 2, Len: 10, Fw: true, MM: 0, Pat: fmidx.EncodeSeq([]byte("GGACGTACCA"))},
	}
	var res SeedResults
	s.Search(seeds, &res)

	if len(res.Hits) < 2 {
		t.Fatalf("expected hits for both seeds, got %d", len(res.Hits))
	}
	if res.Hits[0].Len != 10 {
		t.Errorf("first hit should be the most specific seed, got len %d with range %d",
			res.Hits[0].Len, res.Hits[0].Rng.Size())
	}
	if !res.Exhausted {
		t.Error("search should mark the seed space exhausted")
	}
}

func TestSearchSkipsNSeed(t *testing.T) {
	seq := "ACGTACGTTTGGACGTACCA"
	s, _, _ := newTestSearcher(t, seq, false)

	seeds := []InstSeed{{
		Off: 0, Len: 4, Fw: true, MM: 0,
		Pat: []byte{0, 4, 2, 3}, HasN: true,
	}}
	var res SeedResults
	s.Search(seeds, &res)
	if len(res.Hits) != 0 {
		t.Errorf("N seed should contribute no hits, got %d", len(res.Hits))
	}
}
