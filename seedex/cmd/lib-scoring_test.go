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

func TestParseSimpleFunc(t *testing.T) {
	tests := []struct {
		s    string
		x    float64
		want float64
	}{
		{"L,0,-0.6", 10, -6},
		{"L,-0.6,-0.6", 10, -6.6},
		{"C,5,0", 100, 5},
		{"S,1,1.15", 100, 12.5},
		{"G,20,8", 1, 20},
	}
	for _, tt := range tests {
		f, err := ParseSimpleFunc(tt.s)
		if err != nil {
			t.Fatalf("%s: %v", tt.s, err)
		}
		got := f.Eval(tt.x)
		if got < tt.want-0.01 || got > tt.want+0.01 {
			t.Errorf("%s at %g: got %g, want %g", tt.s, tt.x, got, tt.want)
		}
	}

	for _, bad := range []string{"", "X,1,2", "L,a,2", "L,1", "L,1,2,3"} {
		if _, err := ParseSimpleFunc(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestScoreMismatchQualScaling(t *testing.T) {
	sc := DefaultScoring

	if got := sc.ScoreMismatch(fmidx.BaseA, 40); got != 6 {
		t.Errorf("q40 penalty %d, want 6", got)
	}
	if got := sc.ScoreMismatch(fmidx.BaseA, 0); got != 2 {
		t.Errorf("q0 penalty %d, want 2", got)
	}
	if got := sc.ScoreMismatch(fmidx.BaseA, 93); got != 6 {
		t.Errorf("q93 penalty %d, want 6 (clamped at 40)", got)
	}
	// N is charged the N penalty regardless of quality
	if got := sc.ScoreMismatch(fmidx.BaseN, 40); got != sc.NPen {
		t.Errorf("N penalty %d, want %d", got, sc.NPen)
	}

	sc.QualScaledMM = false
	if got := sc.ScoreMismatch(fmidx.BaseA, 0); got != 6 {
		t.Errorf("constant penalty %d, want 6", got)
	}
}

func TestGapCosts(t *testing.T) {
	sc := DefaultScoring
	if got := sc.ScoreReadGap(3); got != 5+3*3 {
		t.Errorf("read gap of 3: %d", got)
	}
	if got := sc.ScoreRefGap(1); got != 8 {
		t.Errorf("ref gap of 1: %d", got)
	}
}

func TestNFilter(t *testing.T) {
	sc := DefaultScoring // ceiling 0.15 * len

	pass := fmidx.EncodeSeq([]byte("ACGTACGTACGTACGTACGN")) // 1 N in 20, ceil 3
	if !sc.NFilter(pass) {
		t.Error("read with 1 N in 20 should pass")
	}
	fail := fmidx.EncodeSeq([]byte("ACGTNNNNACGTACGTACGT")) // 4 N in 20
	if sc.NFilter(fail) {
		t.Error("read with 4 N in 20 should fail")
	}
}

func TestNFilterPairConcat(t *testing.T) {
	sc := DefaultScoring
	sc.NFilterPaired = true

	// 3 Ns in one mate fails alone (ceil(20*0.15)=3 passes actually:
	// 3 <= 3) so use 4; concatenated, 4 <= ceil(40*0.15)=6 passes.
	m1 := fmidx.EncodeSeq([]byte("ACGTNNNNACGTACGTACGT"))
	m2 := fmidx.EncodeSeq([]byte("ACGTACGTACGTACGTACGT"))

	if sc.NFilter(m1) {
		t.Fatal("mate 1 should fail alone")
	}
	p1, p2 := sc.NFilterPair(m1, m2)
	if !p1 || !p2 {
		t.Error("concatenated pair should pass")
	}
}

func TestSeedInterval(t *testing.T) {
	sc := DefaultScoring
	if iv := sc.SeedInterval(100); iv != 13 { // ceil(1 + 1.15*10)
		t.Errorf("interval at 100: %d, want 13", iv)
	}
	sc.SeedIvalFn = SimpleFunc{Type: 'C', Const: -5, Coef: 0}
	if iv := sc.SeedInterval(100); iv != 1 {
		t.Errorf("interval floor: %d, want 1", iv)
	}
}

func TestCheckScoringRejectsImpossibleMinScore(t *testing.T) {
	sc := DefaultScoring
	sc.MinScoreFn = SimpleFunc{Type: 'L', Const: 10, Coef: 1} // above max 0
	if err := CheckScoring(&sc); err == nil {
		t.Error("expected error for minimum score above best possible")
	}

	sc = DefaultScoring
	sc.ReadGapOpen = -1
	if err := CheckScoring(&sc); err == nil {
		t.Error("expected error for negative penalty")
	}
}

func TestProfile(t *testing.T) {
	sc := DefaultScoring
	enc := fmidx.EncodeSeq([]byte("AC"))
	prof := sc.Profile(enc, []byte{40, 40}, nil)

	if prof[0*5+fmidx.BaseA] != 0 { // match, bonus 0
		t.Errorf("match cell: %d", prof[0])
	}
	if prof[0*5+fmidx.BaseC] != -6 {
		t.Errorf("mismatch cell: %d", prof[0*5+fmidx.BaseC])
	}
	if prof[0*5+fmidx.BaseN] != -1 {
		t.Errorf("N cell: %d", prof[0*5+fmidx.BaseN])
	}
}
