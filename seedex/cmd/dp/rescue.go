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

package dp

import (
	"github.com/shenwei356/wfa"
)

// MateRescuer finds the opposite mate of an aligned anchor inside the
// fragment window the paired-end policy implies. The path is searched
// with gap-affine wavefront alignment in semi-global mode, which
// handles the window-sized target cheaply; the returned operations
// are then rescored under the caller's quality-aware profile, so an
// accepted rescue carries exactly the score the banded extension
// would assign to the same path.
type MateRescuer struct {
	cfg Config

	pen  wfa.Penalties
	opts wfa.Options
	algn *wfa.Aligner

	Calls uint64
}

// NewMateRescuer builds a rescuer sharing the extension aligner's gap
// model. The wavefront search uses uniform penalties (its mismatch
// cost cannot vary by quality); per-base quality enters in rescoring.
func NewMateRescuer(cfg Config, mismatchPen int) *MateRescuer {
	if mismatchPen < 1 {
		mismatchPen = 1
	}
	gapOpen := cfg.ReadGapOpen
	if cfg.RefGapOpen > gapOpen {
		gapOpen = cfg.RefGapOpen
	}
	gapExt := cfg.ReadGapExtend
	if cfg.RefGapExtend > gapExt {
		gapExt = cfg.RefGapExtend
	}
	if gapExt < 1 {
		gapExt = 1
	}

	r := &MateRescuer{
		cfg: cfg,
		pen: wfa.Penalties{
			Mismatch: uint32(mismatchPen),
			GapOpen:  uint32(gapOpen),
			GapExt:   uint32(gapExt),
		},
		opts: wfa.Options{GlobalAlignment: false},
	}
	r.algn = wfa.New(&r.pen, &r.opts)
	return r
}

// Rescue aligns the read against the window. Problem.Pad is unused;
// the wavefront search has no band.
func (r *MateRescuer) Rescue(p *Problem) Result {
	if len(p.ReadSeq) == 0 || len(p.Ref) < len(p.ReadSeq) {
		return Result{}
	}
	r.Calls++

	q := p.ReadSeq
	t := p.Ref
	ar, err := r.algn.AlignPointers(&q, &t)
	if err != nil {
		return Result{}
	}
	return rescoreWfaOps(ar.Ops, p, r.cfg)
}

// The alphabet differs from SAM: M exact match, X mismatch, I
// consumes only the target, D consumes only the query, H clips the
// query. Operations are recorded during backtrace, from the
// alignment end back to its start.
func wfaOp(w *wfa.CIGARRecord) byte { return w.Op }
func wfaLen(w *wfa.CIGARRecord) int { return int(w.N) }

// rescoreWfaOps converts a wavefront op list into an edit script and
// scores it under the profile, applying the mode and minimum-score
// contract of the banded extension.
func rescoreWfaOps(ops []*wfa.CIGARRecord, p *Problem, cfg Config) Result {
	if len(ops) == 0 {
		return Result{}
	}
	local := cfg.Mode == Local
	readLen := len(p.ReadSeq)

	// ops run from the alignment end back to its start, so the region
	// start sits at the highest base-pairing index and the end at the
	// lowest; everything outside is target shift or query clip
	startIdx, endIdx := -1, -1
	for i, w := range ops {
		if op := wfaOp(w); op == 'M' || op == 'X' {
			if endIdx < 0 {
				endIdx = i
			}
			startIdx = i
		}
	}
	if startIdx < 0 {
		return Result{}
	}

	refOff, clipHead, clipTail := 0, 0, 0
	for _, w := range ops[startIdx+1:] { // before the aligned region
		switch wfaOp(w) {
		case 'I':
			refOff += wfaLen(w)
		case 'D', 'H':
			clipHead += wfaLen(w)
		}
	}
	for _, w := range ops[:endIdx] { // after the aligned region
		switch wfaOp(w) {
		case 'D', 'H':
			clipTail += wfaLen(w)
		}
	}

	if !local && clipHead+clipTail > 0 {
		return Result{} // the whole read must be consumed
	}

	res := Result{Found: true, RefOff: refOff}
	var score int32
	qi, ti := clipHead, refOff

	var edits []EditOp
	push := func(op byte, n int) {
		if n == 0 {
			return
		}
		if len(edits) > 0 && edits[len(edits)-1].Op == op {
			edits[len(edits)-1].Len += n
			return
		}
		edits = append(edits, EditOp{Op: op, Len: n})
	}
	push('S', clipHead)

	for i := startIdx; i >= endIdx; i-- {
		w := ops[i]
		n := wfaLen(w)
		switch wfaOp(w) {
		case 'M', 'X':
			for k := 0; k < n; k++ {
				if qi >= readLen || ti >= len(p.Ref) {
					return Result{}
				}
				score += p.Profile[qi*5+int(p.Ref[ti])]
				if p.ReadSeq[qi] != p.Ref[ti] || p.ReadSeq[qi] == 4 {
					res.Mismatches++
				}
				qi++
				ti++
			}
			push('M', n)
		case 'I': // target only: a gap in the read
			score -= int32(cfg.ReadGapOpen + n*cfg.ReadGapExtend)
			res.GapOpens++
			res.GapBases += n
			ti += n
			push('D', n)
		case 'D': // query only: a gap in the reference
			score -= int32(cfg.RefGapOpen + n*cfg.RefGapExtend)
			res.GapOpens++
			res.GapBases += n
			qi += n
			push('I', n)
		default:
			return Result{}
		}
	}
	push('S', clipTail)

	if qi+clipTail != readLen {
		return Result{} // op list inconsistent with the read
	}
	if int(score) < p.MinScore {
		return Result{}
	}
	if local && score <= 0 {
		return Result{}
	}

	res.Score = int(score)
	res.Edits = edits
	return res
}
