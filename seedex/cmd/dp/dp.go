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

// Package dp implements banded gapped extension of seed hits with
// affine gap penalties, in two lane widths: an 8-bit lane for short
// extensions, retried in 16-bit lanes when a cell saturates.
package dp

import (
	"math/rand"
	"sort"
)

// Mode selects whether the whole read must be consumed.
type Mode int

const (
	// Local allows any non-negative-scoring sub-path; read ends may be
	// soft-clipped.
	Local Mode = iota
	// EndToEnd requires the edit script to consume the entire read.
	EndToEnd
)

// Lane saturation caps. A cell that would exceed the cap in the 8-bit
// lane triggers a 16-bit retry.
const (
	lane8Cap  = 127
	lane16Cap = 32767
)

const negInf = int32(-1 << 29)

// Backtrace codes: two bits for the H source plus extension bits for
// the two gap states.
const (
	srcDiag    = 0
	srcRefGap  = 1 // E: gap in the reference, consumes a read char
	srcReadGap = 2 // F: gap in the read, consumes a ref row
	srcStart   = 3

	bitRefGapExt  = 1 << 2
	bitReadGapExt = 1 << 3
)

// Config holds the fixed parameters of an aligner. All penalties are
// non-negative.
type Config struct {
	Mode Mode

	MaxHalf    int // band half-width around the anchor diagonal
	GapBarrier int // no gap within this many columns of either read end

	ReadGapOpen   int
	ReadGapExtend int
	RefGapOpen    int
	RefGapExtend  int

	// when true, candidate cells are ranked by row before score
	RowFirst bool
}

// Problem is one extension request: a read profile against a
// reference window.
type Problem struct {
	// Profile[j*5+b] is the score of aligning read position j against
	// ref base code b (0-4). It encodes match bonus, mismatch and N
	// penalties, including quality scaling.
	Profile []int32
	ReadSeq []byte // 0-4 codes, for mismatch counting in backtrace
	Ref     []byte // 0-4 coded reference window

	// Pad is the number of window rows before the projected read
	// start; the anchor diagonal runs through (Pad, 0).
	Pad int

	MinScore int

	// Rng breaks ties between equal-ranked candidate cells; it is
	// derived from the read's seed, keeping runs deterministic.
	Rng *rand.Rand
}

// EditOp is one CIGAR-equivalent operation.
type EditOp struct {
	Op  byte // 'M', 'I', 'D', 'S'
	Len int
}

// Result of one extension.
type Result struct {
	Found      bool
	Saturated  bool // 8-bit lane overflowed; retried in 16-bit
	Score      int
	RefOff     int // alignment start row within the window
	Edits      []EditOp
	Mismatches int
	GapOpens   int
	GapBases   int
}

// Aligner owns the reusable DP matrices of one worker. Not safe for
// concurrent use; each worker allocates its own.
type Aligner struct {
	cfg Config

	h   []int32
	dir []byte
	f   []int32 // vertical gap state, one rolling row

	cands []candidate

	// counters for the metrics stream
	Calls8, Calls16, Saturations uint64
}

type candidate struct {
	row, col int
	score    int32
	tie      uint32
}

// NewAligner returns an aligner with the given configuration.
func NewAligner(cfg Config) *Aligner {
	return &Aligner{cfg: cfg}
}

// Config returns the aligner's configuration.
func (a *Aligner) Config() Config { return a.cfg }

// MaxProfileScore returns the best score the profile can reach, the
// sum of each position's best positive entry.
func MaxProfileScore(profile []int32, readLen int) int {
	var best int32
	for j := 0; j < readLen; j++ {
		m := profile[j*5]
		for b := 1; b < 5; b++ {
			if v := profile[j*5+b]; v > m {
				m = v
			}
		}
		if m > 0 {
			best += m
		}
	}
	return int(best)
}

// Align extends the problem, first in the 8-bit lane, retrying in
// 16-bit lanes on saturation. It returns the best passing alignment
// or Found=false.
func (a *Aligner) Align(p *Problem) Result {
	// skip the 8-bit lane when the best possible score already
	// exceeds its cap
	saturated := false
	if MaxProfileScore(p.Profile, len(p.ReadSeq)) <= lane8Cap {
		a.Calls8++
		r := a.run(p, lane8Cap)
		if !r.Saturated {
			return r
		}
		a.Saturations++
		saturated = true
	}
	a.Calls16++
	r := a.run(p, lane16Cap)
	r.Saturated = saturated
	return r
}

func (a *Aligner) ensure(rows, cols int) {
	n := rows * cols
	if cap(a.h) < n {
		a.h = make([]int32, n)
		a.dir = make([]byte, n)
	}
	a.h = a.h[:n]
	a.dir = a.dir[:n]
	if cap(a.f) < cols {
		a.f = make([]int32, cols)
	}
	a.f = a.f[:cols]
}

// run fills the banded matrix with the given lane cap and backtraces
// the best candidate cell.
func (a *Aligner) run(p *Problem, laneCap int32) Result {
	rows := len(p.Ref)
	cols := len(p.ReadSeq)
	if rows == 0 || cols == 0 {
		return Result{}
	}
	a.ensure(rows, cols)

	local := a.cfg.Mode == Local
	maxHalf := a.cfg.MaxHalf
	barrier := a.cfg.GapBarrier

	rdOpen := int32(a.cfg.ReadGapOpen)
	rdExt := int32(a.cfg.ReadGapExtend)
	rfOpen := int32(a.cfg.RefGapOpen)
	rfExt := int32(a.cfg.RefGapExtend)

	for j := 0; j < cols; j++ {
		a.f[j] = negInf
	}

	saturated := false
	a.cands = a.cands[:0]
	minScore := int32(p.MinScore)

	for i := 0; i < rows; i++ {
		// band limits for this row: |j - (i - Pad)| <= maxHalf
		jLo := i - p.Pad - maxHalf
		jHi := i - p.Pad + maxHalf
		if jLo < 0 {
			jLo = 0
		}
		if jHi > cols-1 {
			jHi = cols - 1
		}

		base := i * cols
		prev := base - cols
		refBase := int(p.Ref[i])

		rowBest := negInf
		rowBestJ := -1

		eRow := negInf // horizontal gap state, rolling left to right

		for j := 0; j < cols; j++ {
			if j < jLo || j > jHi {
				a.h[base+j] = negInf
				a.dir[base+j] = srcStart
				a.f[j] = negInf
				eRow = negInf
				continue
			}

			sc := p.Profile[j*5+refBase]

			// diagonal: substitutions, plus fresh alignment starts
			var diag int32
			switch {
			case j == 0:
				// both modes may start at read position 0 in any row
				diag = sc
			case i == 0:
				if local {
					diag = sc // earlier read chars soft-clipped
				} else {
					diag = negInf
				}
			default:
				if h := a.h[prev+j-1]; h == negInf {
					diag = negInf
				} else {
					diag = h + sc
				}
			}

			// gap states; the barrier keeps gaps away from read ends
			inBarrier := j < barrier || j > cols-1-barrier

			e := negInf // gap in the reference: from the left
			eFromExt := false
			if j > 0 && !inBarrier {
				open, ext := negInf, negInf
				// a gap of length n costs open + n*extend
				if hh := a.h[base+j-1]; hh != negInf {
					open = hh - rfOpen - rfExt
				}
				if eRow != negInf {
					ext = eRow - rfExt
				}
				if ext > open {
					e, eFromExt = ext, true
				} else {
					e = open
				}
			}

			f := negInf // gap in the read: from above
			fFromExt := false
			if i > 0 && !inBarrier {
				open, ext := negInf, negInf
				if hh := a.h[prev+j]; hh != negInf {
					open = hh - rdOpen - rdExt
				}
				if a.f[j] != negInf {
					ext = a.f[j] - rdExt
				}
				if ext > open {
					f, fFromExt = ext, true
				} else {
					f = open
				}
			}

			h := diag
			src := byte(srcDiag)
			if e > h {
				h = e
				src = srcRefGap
			}
			if f > h {
				h = f
				src = srcReadGap
			}
			if local && h < 0 {
				h = 0
				src = srcStart
			}
			if h != negInf && h > laneCap {
				saturated = true
			}

			var bits byte
			if eFromExt {
				bits |= bitRefGapExt
			}
			if fFromExt {
				bits |= bitReadGapExt
			}

			a.h[base+j] = h
			a.dir[base+j] = src | bits
			eRow = e
			a.f[j] = f

			// candidate collection: best cell per row; end-to-end
			// alignments must consume the whole read
			if local {
				if h > rowBest {
					rowBest = h
					rowBestJ = j
				}
			} else if j == cols-1 && h != negInf {
				rowBest = h
				rowBestJ = j
			}
		}

		ok := rowBestJ >= 0 && rowBest != negInf && rowBest >= minScore
		if ok && local && rowBest <= 0 {
			ok = false
		}
		if ok {
			a.cands = append(a.cands, candidate{row: i, col: rowBestJ, score: rowBest, tie: p.Rng.Uint32()})
		}
	}

	if saturated && laneCap == lane8Cap {
		return Result{Saturated: true}
	}
	if len(a.cands) == 0 {
		return Result{}
	}

	// rank candidates: score then row (or row first), ties broken by
	// the read's random stream
	rowFirst := a.cfg.RowFirst
	sort.Slice(a.cands, func(x, y int) bool {
		cx, cy := a.cands[x], a.cands[y]
		if rowFirst {
			if cx.row != cy.row {
				return cx.row < cy.row
			}
			if cx.score != cy.score {
				return cx.score > cy.score
			}
		} else {
			if cx.score != cy.score {
				return cx.score > cy.score
			}
			if cx.row != cy.row {
				return cx.row < cy.row
			}
		}
		return cx.tie < cy.tie
	})

	return a.backtrace(p, a.cands[0])
}

// backtrace walks the direction matrix from the chosen cell back to
// the alignment start and emits the edit script in read order.
func (a *Aligner) backtrace(p *Problem, c candidate) Result {
	cols := len(p.ReadSeq)
	local := a.cfg.Mode == Local

	res := Result{Found: true, Score: int(c.score)}

	var rev []EditOp
	push := func(op byte, n int) {
		if n == 0 {
			return
		}
		if len(rev) > 0 && rev[len(rev)-1].Op == op {
			rev[len(rev)-1].Len += n
			return
		}
		rev = append(rev, EditOp{Op: op, Len: n})
	}

	push('S', cols-1-c.col) // trailing soft clip, local only

	i, j := c.row, c.col
	for i >= 0 && j >= 0 {
		cell := a.dir[i*cols+j]

		if local && a.h[i*cols+j] == 0 {
			break
		}

		switch cell & 3 {
		case srcDiag:
			push('M', 1)
			if p.ReadSeq[j] != p.Ref[i] || p.ReadSeq[j] == 4 {
				res.Mismatches++
			}
			i--
			j--
		case srcRefGap:
			res.GapOpens++
			for j >= 0 {
				push('I', 1)
				res.GapBases++
				ext := a.dir[i*cols+j]&bitRefGapExt != 0
				j--
				if !ext {
					break
				}
			}
		case srcReadGap:
			res.GapOpens++
			for i >= 0 {
				push('D', 1)
				res.GapBases++
				ext := a.dir[i*cols+j]&bitReadGapExt != 0
				i--
				if !ext {
					break
				}
			}
		case srcStart:
			goto done
		}
	}
done:

	res.RefOff = i + 1
	push('S', j+1) // leading soft clip, local only

	// reverse into read order
	res.Edits = make([]EditOp, len(rev))
	for k := range rev {
		res.Edits[len(rev)-1-k] = rev[k]
	}
	return res
}

// ReadSpan returns the number of read bases the edits consume.
func ReadSpan(edits []EditOp) int {
	n := 0
	for _, e := range edits {
		switch e.Op {
		case 'M', 'I', 'S':
			n += e.Len
		}
	}
	return n
}

// RefSpan returns the number of reference bases the edits consume.
func RefSpan(edits []EditOp) int {
	n := 0
	for _, e := range edits {
		switch e.Op {
		case 'M', 'D':
			n += e.Len
		}
	}
	return n
}
