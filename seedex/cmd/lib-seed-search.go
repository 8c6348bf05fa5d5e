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
	"sort"

	"github.com/seqforge/seedex/seedex/cmd/fmidx"
)

// SeedHit is one entry of the per-read hit table: a leaf range of a
// seed descent, tagged with which seed produced it.
type SeedHit struct {
	Rng      fmidx.SARange
	IdxFw    bool // which index the range lives on
	Mismatch uint8

	SeedIdx int // index into the instantiated seed list
	Off     int // seed offset within its strand sequence
	Len     int
	Fw      bool   // strand of the seed
	Pat     []byte // the searched pattern, aliases the seed
	Key     string
}

// SeedResults collects the hits of one mate.
type SeedResults struct {
	Hits      []SeedHit
	NFw, NRc  int
	Exhausted bool // every instantiated seed has been searched
}

// Reset clears the result set for the next read.
func (r *SeedResults) Reset() {
	r.Hits = r.Hits[:0]
	r.NFw, r.NRc = 0, 0
	r.Exhausted = false
}

// SeedSearcher runs the mismatch-tolerant descent of the index for
// each instantiated seed, memoizing results through the cache bundle.
// One searcher per worker.
type SeedSearcher struct {
	idx    *fmidx.Index
	caches *CacheBundle
	met    *Metrics

	// ranges holding more positions than this are cached but not
	// extended; huge ranges carry no mapping information
	maxRangeSize int

	ranges    []SeedRange // scratch for one descent
	descentMM uint8
}

// NewSeedSearcher builds a searcher bound to a worker's cache bundle.
func NewSeedSearcher(idx *fmidx.Index, caches *CacheBundle, met *Metrics) *SeedSearcher {
	return &SeedSearcher{
		idx:          idx,
		caches:       caches,
		met:          met,
		maxRangeSize: 1024,
	}
}

// Search runs all instantiated seeds and fills the hit table, ranked
// for extension priority.
func (s *SeedSearcher) Search(seeds []InstSeed, out *SeedResults) {
	for i := range seeds {
		sd := &seeds[i]
		if sd.HasN {
			continue // can never match the index alphabet
		}

		key := cacheKey(sd.Pat, sd.Fw, sd.MM)

		entry, ok := s.caches.Lookup(key)
		if !ok {
			s.ranges = s.ranges[:0]
			s.descend(sd.Pat, sd.MM)

			entry = &CacheEntry{Ranges: append([]SeedRange(nil), s.ranges...)}
			s.caches.Insert(key, entry)
		}

		for _, r := range entry.Ranges {
			if r.Rng.Empty() {
				continue
			}
			if r.Rng.Size() > s.maxRangeSize {
				s.met.SeedRangesSkipped++
				continue
			}
			out.Hits = append(out.Hits, SeedHit{
				Rng:      r.Rng,
				IdxFw:    r.IdxFw,
				Mismatch: r.Mismatch,
				SeedIdx:  i,
				Off:      sd.Off,
				Len:      sd.Len,
				Fw:       sd.Fw,
				Pat:      sd.Pat,
				Key:      key,
			})
			if sd.Fw {
				out.NFw++
			} else {
				out.NRc++
			}
		}
	}
	out.Exhausted = true

	// extension priority: small ranges first (most specific), longer
	// seeds first, then seed offset
	sort.Slice(out.Hits, func(i, j int) bool {
		a, b := &out.Hits[i], &out.Hits[j]
		if a.Rng.Size() != b.Rng.Size() {
			return a.Rng.Size() < b.Rng.Size()
		}
		if a.Len != b.Len {
			return a.Len > b.Len
		}
		return a.Off < b.Off
	})
}

// descend collects the leaf ranges of a pattern with up to mm
// mismatches into s.ranges.
//
// Occurrences are partitioned by how many mismatches fall into each
// half of the pattern. Cases with all mismatches in the right half
// descend the reverse index, which consumes the pattern left to
// right, so branching happens late; cases touching the left half
// descend the forward index, which consumes right to left. Every
// occurrence is found by exactly one case and one branch.
func (s *SeedSearcher) descend(pat []byte, mm int) {
	// exact occurrences
	if r := s.searchExact(pat); !r.Empty() {
		s.ranges = append(s.ranges, SeedRange{Rng: r, IdxFw: true})
	}
	if mm == 0 {
		return
	}

	half := len(pat) / 2 // left half: [0, half)

	// (left, right) mismatch counts per case
	cases := [][2]int{{1, 0}, {0, 1}}
	if mm >= 2 {
		cases = append(cases, [2]int{2, 0}, [2]int{0, 2}, [2]int{1, 1})
	}

	for _, c := range cases {
		lNeed, rNeed := c[0], c[1]
		if lNeed > half || rNeed > len(pat)-half {
			continue
		}
		if lNeed > 0 {
			// forward index: consume pat from the right end
			s.fwDescend(pat, len(pat)-1, s.idx.FullRange(true), half, lNeed, rNeed)
		} else {
			// reverse index: consume pat from the left end
			s.revDescend(pat, 0, s.idx.FullRange(false), half, rNeed)
		}
	}
}

func (s *SeedSearcher) searchExact(pat []byte) fmidx.SARange {
	r := s.idx.FullRange(true)
	for i := len(pat) - 1; i >= 0; i-- {
		r = s.idx.Extend(true, r, pat[i])
		s.met.BwtOps++
		if r.Empty() {
			break
		}
	}
	return r
}

// fwDescend walks the forward index right to left, spending exactly
// lNeed substitutions in [0, half) and rNeed in [half, len).
func (s *SeedSearcher) fwDescend(pat []byte, pos int, r fmidx.SARange, half, lNeed, rNeed int) {
	if r.Empty() {
		return
	}
	if pos < 0 {
		if lNeed == 0 && rNeed == 0 {
			s.ranges = append(s.ranges, SeedRange{Rng: r, IdxFw: true, Mismatch: s.descentMM})
		}
		return
	}

	inLeft := pos < half
	// prune: not enough positions left for the required substitutions
	if inLeft {
		if rNeed > 0 || lNeed > pos+1 {
			return
		}
	} else if rNeed > pos-half+1 {
		return
	}

	// match the pattern character
	s.met.BwtOps++
	s.fwDescend(pat, pos-1, s.idx.Extend(true, r, pat[pos]), half, lNeed, rNeed)

	// substitute, if this half still owes mismatches
	need := rNeed
	if inLeft {
		need = lNeed
	}
	if need == 0 {
		return
	}
	for b := byte(0); b < 4; b++ {
		if b == pat[pos] {
			continue
		}
		s.met.SeedEdits++
		s.met.BwtOps++
		nr := s.idx.Extend(true, r, b)
		s.descentMM++
		if inLeft {
			s.fwDescend(pat, pos-1, nr, half, lNeed-1, rNeed)
		} else {
			s.fwDescend(pat, pos-1, nr, half, lNeed, rNeed-1)
		}
		s.descentMM--
	}
}

// revDescend walks the reverse index, consuming the pattern left to
// right, spending exactly rNeed substitutions in [half, len) and none
// in the left half.
func (s *SeedSearcher) revDescend(pat []byte, pos int, r fmidx.SARange, half, rNeed int) {
	if r.Empty() {
		return
	}
	if pos == len(pat) {
		if rNeed == 0 {
			s.ranges = append(s.ranges, SeedRange{Rng: r, IdxFw: false, Mismatch: s.descentMM})
		}
		return
	}
	if pos >= half && rNeed > len(pat)-pos {
		return
	}

	s.met.BwtOps++
	s.revDescend(pat, pos+1, s.idx.Extend(false, r, pat[pos]), half, rNeed)

	if pos < half || rNeed == 0 {
		return
	}
	for b := byte(0); b < 4; b++ {
		if b == pat[pos] {
			continue
		}
		s.met.SeedEdits++
		s.met.BwtOps++
		s.descentMM++
		s.revDescend(pat, pos+1, s.idx.Extend(false, r, b), half, rNeed-1)
		s.descentMM--
	}
}
