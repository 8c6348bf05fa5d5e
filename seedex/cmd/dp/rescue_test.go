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
	"math/rand"
	"testing"

	"github.com/shenwei356/wfa"
)

// op builds a wavefront op record.
func op(o byte, n int) *wfa.CIGARRecord {
	return &wfa.CIGARRecord{Op: o, N: uint32(n)}
}

func rescueProblem(read, ref string, bonus, mm int32, minScore int) *Problem {
	r := encode(read)
	return &Problem{
		Profile:  profileFor(r, bonus, mm, mm),
		ReadSeq:  r,
		Ref:      encode(ref),
		MinScore: minScore,
		Rng:      rand.New(rand.NewSource(7)),
	}
}

func TestRescoreWfaOpsExact(t *testing.T) {
	// read CGTACG sits at window offset 3; op words are in backtrace
	// order, so the leading target shift comes last
	p := rescueProblem("CGTACG", "AAACGTACGTAA", 0, 6, -10)
	ops := []*wfa.CIGARRecord{op('I', 3), op('M', 6), op('I', 3)}

	r := rescoreWfaOps(ops, p, e2eConfig())
	if !r.Found {
		t.Fatal("no result")
	}
	if r.RefOff != 3 {
		t.Errorf("ref offset %d, want 3", r.RefOff)
	}
	if got := editsString(r.Edits); got != "6M" {
		t.Errorf("edits %s, want 6M", got)
	}
	if r.Score != 0 || r.Mismatches != 0 {
		t.Errorf("score %d mismatches %d, want 0/0", r.Score, r.Mismatches)
	}
}

func TestRescoreWfaOpsMismatch(t *testing.T) {
	// read pos 3 is T against ref A; the wavefront reports it as X
	p := rescueProblem("CGTTCG", "AAACGTACGTAA", 0, 6, -10)
	ops := []*wfa.CIGARRecord{op('I', 3), op('M', 2), op('X', 1), op('M', 3), op('I', 3)}

	r := rescoreWfaOps(ops, p, e2eConfig())
	if !r.Found {
		t.Fatal("no result")
	}
	if got := editsString(r.Edits); got != "6M" {
		t.Errorf("edits %s, want 6M", got)
	}
	if r.Score != -6 {
		t.Errorf("score %d, want -6", r.Score)
	}
	if r.Mismatches != 1 {
		t.Errorf("mismatches %d, want 1", r.Mismatches)
	}
}

func TestRescoreWfaOpsReadGap(t *testing.T) {
	// read CGTCGTA lacks the A of ref CGTACGTA: a 1-base target-only
	// op ('I' in the wavefront alphabet, 'D' in ours)
	p := rescueProblem("CGTCGTA", "AACGTACGTAAA", 0, 6, -15)
	ops := []*wfa.CIGARRecord{op('I', 3), op('M', 4), op('I', 1), op('M', 3), op('I', 2)}

	r := rescoreWfaOps(ops, p, e2eConfig())
	if !r.Found {
		t.Fatal("no result")
	}
	if got := editsString(r.Edits); got != "3M1D4M" {
		t.Errorf("edits %s, want 3M1D4M", got)
	}
	if r.Score != -8 { // open 5 + extend 3
		t.Errorf("score %d, want -8", r.Score)
	}
	if r.RefOff != 2 {
		t.Errorf("ref offset %d, want 2", r.RefOff)
	}
}

func TestRescoreWfaOpsRefGap(t *testing.T) {
	// read CGTAACGTA carries an extra A: a query-only op ('D' in the
	// wavefront alphabet, 'I' in ours)
	p := rescueProblem("CGTAACGTA", "AACGTACGTAAA", 0, 6, -15)
	ops := []*wfa.CIGARRecord{op('I', 2), op('M', 4), op('D', 1), op('M', 4), op('I', 2)}

	r := rescoreWfaOps(ops, p, e2eConfig())
	if !r.Found {
		t.Fatal("no result")
	}
	if got := editsString(r.Edits); got != "4M1I4M" {
		t.Errorf("edits %s, want 4M1I4M", got)
	}
	if r.Score != -8 {
		t.Errorf("score %d, want -8", r.Score)
	}
}

func TestRescoreWfaOpsClipRejectedEndToEnd(t *testing.T) {
	p := rescueProblem("TTCGTACG", "AAACGTACGTAA", 0, 6, -50)
	ops := []*wfa.CIGARRecord{op('I', 3), op('M', 6), op('H', 2), op('I', 3)}

	if r := rescoreWfaOps(ops, p, e2eConfig()); r.Found {
		t.Error("end-to-end mode must reject clipped rescues")
	}
}

func TestRescoreWfaOpsClipLocal(t *testing.T) {
	cfg := e2eConfig()
	cfg.Mode = Local
	// leading TT clipped, CGTACG aligned with bonus 2
	p := rescueProblem("TTCGTACG", "AAACGTACGTAA", 2, 6, 10)
	ops := []*wfa.CIGARRecord{op('I', 3), op('M', 6), op('H', 2), op('I', 3)}

	r := rescoreWfaOps(ops, p, cfg)
	if !r.Found {
		t.Fatal("no result")
	}
	if got := editsString(r.Edits); got != "2S6M" {
		t.Errorf("edits %s, want 2S6M", got)
	}
	if r.Score != 12 {
		t.Errorf("score %d, want 12", r.Score)
	}
	if r.RefOff != 3 {
		t.Errorf("ref offset %d, want 3", r.RefOff)
	}
}

func TestRescoreWfaOpsBelowMinScore(t *testing.T) {
	p := rescueProblem("CGTTCG", "AAACGTACGTAA", 0, 6, -5)
	ops := []*wfa.CIGARRecord{op('I', 3), op('M', 2), op('X', 1), op('M', 3), op('I', 3)}

	if r := rescoreWfaOps(ops, p, e2eConfig()); r.Found {
		t.Error("score -6 must not pass a -5 threshold")
	}
}

func TestRescoreWfaOpsInconsistent(t *testing.T) {
	p := rescueProblem("CGTACG", "AAACGTACGTAA", 0, 6, -10)

	// op list consuming fewer read bases than the read has
	if r := rescoreWfaOps([]*wfa.CIGARRecord{op('I', 3), op('M', 4)}, p, e2eConfig()); r.Found {
		t.Error("short op list must be rejected")
	}
	if r := rescoreWfaOps(nil, p, e2eConfig()); r.Found {
		t.Error("empty op list must be rejected")
	}
	// no base-pairing op at all
	if r := rescoreWfaOps([]*wfa.CIGARRecord{op('I', 12)}, p, e2eConfig()); r.Found {
		t.Error("pairing-free op list must be rejected")
	}
}
