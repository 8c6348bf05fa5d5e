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
	"math"

	"github.com/rdleal/intervalst/interval"
	"github.com/seqforge/seedex/seedex/cmd/fmidx"
)

// ResolverOptions bound how much of a range the group walk may
// materialize. Both budgets are boosted by the reporting policy: a
// request for N best alignments multiplies them by a factor >= N.
type ResolverOptions struct {
	PosFrac    float64 // fraction of a range's positions that may be tried
	RowMult    float64 // resolution operations allowed per position
	PolicyMult int     // boost from the reporting policy, >= 1

	// reference-scanner shortcut: when a range is at most NarrowWidth
	// wide and a coordinate was already resolved nearby, scan the
	// reference instead of walking the range
	ScanNarrowed bool
	NarrowWidth  int
	ScanFlank    int32 // how far around a resolved coordinate to scan
}

// DefaultResolverOptions resolves conservatively; the scanner is off
// by default and stays off under report-all.
var DefaultResolverOptions = ResolverOptions{
	PosFrac:      1.0,
	RowMult:      4.0,
	PolicyMult:   1,
	ScanNarrowed: false,
	NarrowWidth:  4,
	ScanFlank:    512,
}

// Resolver lazily materializes reference coordinates for selected
// index ranges. One per worker; Reset is called between reads.
type Resolver struct {
	idx *fmidx.Index
	opt ResolverOptions
	met *Metrics

	// per-read record of resolved neighborhoods, per reference
	trees map[int32]*interval.SearchTree[int32, int32]
	last  fmidx.Coord
	any   bool
}

// NewResolver builds a resolver for one worker.
func NewResolver(idx *fmidx.Index, opt ResolverOptions, met *Metrics) *Resolver {
	return &Resolver{
		idx:   idx,
		opt:   opt,
		met:   met,
		trees: make(map[int32]*interval.SearchTree[int32, int32], 8),
	}
}

// Reset drops per-read state.
func (rv *Resolver) Reset() {
	clear(rv.trees)
	rv.any = false
}

// budget returns how many positions of a range of size n may be
// tried, and the total operation allowance.
func (rv *Resolver) budget(n int) (int, int) {
	maxPos := int(math.Ceil(rv.opt.PosFrac*float64(n))) * rv.opt.PolicyMult
	if maxPos < 1 {
		maxPos = 1
	}
	if maxPos > n {
		maxPos = n
	}
	maxOps := int(float64(maxPos) * rv.opt.RowMult)
	if maxOps < maxPos {
		maxOps = maxPos
	}
	return maxPos, maxOps
}

// Walk materializes reference coordinates for a seed hit, up to the
// budgets, appending to out. Coordinates are starts of the seed
// pattern occurrence.
func (rv *Resolver) Walk(hit *SeedHit, out []fmidx.Coord) []fmidx.Coord {
	n := hit.Rng.Size()
	if n == 0 {
		return out
	}

	// the shortcut substitutes a reference scan for the range walk
	// when the range is narrow and there is a resolved coordinate to
	// anchor the scan
	if rv.opt.ScanNarrowed && rv.any && n <= rv.opt.NarrowWidth && len(hit.Pat) > 0 {
		if c, ok := rv.scan(hit); ok {
			rv.met.ResolveScans++
			return append(out, c)
		}
	}

	maxPos, maxOps := rv.budget(n)
	ops := 0
	for i := 0; i < n && i < maxPos && ops < maxOps; i++ {
		ops++
		rv.met.ResolveOps++
		c, ok := rv.idx.Resolve(hit.IdxFw, hit.Rng, i, hit.Len)
		if !ok {
			continue
		}
		out = append(out, c)
		rv.note(c, int32(hit.Len))
	}
	return out
}

// note records a resolved coordinate for later scanner anchoring.
func (rv *Resolver) note(c fmidx.Coord, seedLen int32) {
	rv.last = c
	rv.any = true

	t, ok := rv.trees[c.RefID]
	if !ok {
		t = interval.NewSearchTree[int32, int32](func(x, y int32) int { return int(x - y) })
		rv.trees[c.RefID] = t
	}
	t.Insert(c.Off-rv.opt.ScanFlank, c.Off+seedLen+rv.opt.ScanFlank, c.Off)
}

// scan looks for the seed pattern around the most recently resolved
// coordinate instead of walking the suffix array.
func (rv *Resolver) scan(hit *SeedHit) (fmidx.Coord, bool) {
	c := rv.last
	t, ok := rv.trees[c.RefID]
	if !ok {
		return fmidx.Coord{}, false
	}
	if _, ok = t.AnyIntersection(c.Off, c.Off+1); !ok {
		return fmidx.Coord{}, false
	}
	off := rv.idx.ScanSeed(c.RefID, hit.Pat, c.Off-rv.opt.ScanFlank, c.Off+rv.opt.ScanFlank)
	if off < 0 {
		return fmidx.Coord{}, false
	}
	return fmidx.Coord{RefID: c.RefID, Off: off}, true
}
