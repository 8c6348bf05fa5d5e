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
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/seqforge/seedex/seedex/cmd/fmidx"
)

// SimpleFunc is a function of read length given as a string like
// "L,0,-0.6": f(x) = Const + Coef*g(x), where g depends on the type:
// C constant, L linear, S square root, G natural log.
type SimpleFunc struct {
	Type  byte
	Const float64
	Coef  float64
}

// ParseSimpleFunc parses a function string, e.g. "S,1,1.15".
func ParseSimpleFunc(s string) (SimpleFunc, error) {
	var f SimpleFunc
	parts := strings.Split(s, ",")
	if len(parts) != 3 || len(parts[0]) != 1 {
		return f, errors.Errorf("invalid function string: %s", s)
	}
	t := parts[0][0]
	switch t {
	case 'C', 'L', 'S', 'G':
	default:
		return f, errors.Errorf("invalid function type %q in: %s", t, s)
	}
	c, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return f, errors.Errorf("invalid constant in function string: %s", s)
	}
	m, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return f, errors.Errorf("invalid coefficient in function string: %s", s)
	}
	return SimpleFunc{Type: t, Const: c, Coef: m}, nil
}

// Eval evaluates the function at x.
func (f SimpleFunc) Eval(x float64) float64 {
	switch f.Type {
	case 'C':
		return f.Const + f.Coef
	case 'L':
		return f.Const + f.Coef*x
	case 'S':
		return f.Const + f.Coef*math.Sqrt(x)
	case 'G':
		return f.Const + f.Coef*math.Log(x)
	}
	return 0
}

// String formats the function back into its flag form.
func (f SimpleFunc) String() string {
	return fmt.Sprintf("%c,%g,%g", f.Type, f.Const, f.Coef)
}

// Scoring converts base-level events into integer scores. Immutable
// after configuration; shared read-only by all workers.
type Scoring struct {
	MatchBonus int

	// mismatch penalty: constant MMPenMax, or scaled between MMPenMin
	// and MMPenMax by the base quality
	MMPenMax     int
	MMPenMin     int
	QualScaledMM bool

	NPen        int
	NAsMismatch bool // treat N as a maximum-penalty mismatch

	ReadGapOpen   int
	ReadGapExtend int
	RefGapOpen    int
	RefGapExtend  int

	MinScoreFn   SimpleFunc
	FloorFn      SimpleFunc
	NCeilFn      SimpleFunc
	SeedIvalFn   SimpleFunc
	NFilterPaired bool // concatenate mates before applying the N filter

	Local bool
}

// DefaultScoring matches the end-to-end sensitive defaults.
var DefaultScoring = Scoring{
	MatchBonus:    0,
	MMPenMax:      6,
	MMPenMin:      2,
	QualScaledMM:  true,
	NPen:          1,
	ReadGapOpen:   5,
	ReadGapExtend: 3,
	RefGapOpen:    5,
	RefGapExtend:  3,
	MinScoreFn:    SimpleFunc{Type: 'L', Const: -0.6, Coef: -0.6},
	FloorFn:       SimpleFunc{Type: 'C', Const: 0, Coef: 0},
	NCeilFn:       SimpleFunc{Type: 'L', Const: 0, Coef: 0.15},
	SeedIvalFn:    SimpleFunc{Type: 'S', Const: 1, Coef: 1.15},
}

// DefaultLocalScoring matches the local sensitive defaults.
var DefaultLocalScoring = Scoring{
	MatchBonus:    2,
	MMPenMax:      6,
	MMPenMin:      2,
	QualScaledMM:  true,
	NPen:          1,
	ReadGapOpen:   5,
	ReadGapExtend: 3,
	RefGapOpen:    5,
	RefGapExtend:  3,
	MinScoreFn:    SimpleFunc{Type: 'G', Const: 20, Coef: 8},
	FloorFn:       SimpleFunc{Type: 'G', Const: -4, Coef: 0},
	NCeilFn:       SimpleFunc{Type: 'L', Const: 0, Coef: 0.15},
	SeedIvalFn:    SimpleFunc{Type: 'S', Const: 1, Coef: 0.75},
	Local:         true,
}

// CheckScoring validates a scoring configuration.
func CheckScoring(sc *Scoring) error {
	if sc.MatchBonus < 0 || sc.MMPenMax < 0 || sc.MMPenMin < 0 || sc.NPen < 0 ||
		sc.ReadGapOpen < 0 || sc.ReadGapExtend < 0 ||
		sc.RefGapOpen < 0 || sc.RefGapExtend < 0 {
		return errors.New("scoring: all penalties and bonuses must be non-negative")
	}
	if sc.MMPenMin > sc.MMPenMax {
		return errors.Errorf("scoring: mismatch penalty range inverted: min %d > max %d",
			sc.MMPenMin, sc.MMPenMax)
	}
	if sc.Local && sc.MatchBonus == 0 {
		return errors.New("scoring: local mode requires a positive match bonus")
	}
	// the minimum score must be achievable by a perfect read
	for _, n := range []int{20, 50, 100, 250, 500} {
		if sc.MinScore(n) > sc.MaxScore(n) {
			return errors.Errorf("scoring: minimum score %d exceeds best possible %d at length %d",
				sc.MinScore(n), sc.MaxScore(n), n)
		}
	}
	return nil
}

// ScoreMatch returns the bonus of a matching base.
func (sc *Scoring) ScoreMatch() int { return sc.MatchBonus }

// ScoreMismatch returns the penalty (positive) of a mismatch at the
// given base with the given quality.
func (sc *Scoring) ScoreMismatch(base byte, qual byte) int {
	if base == fmidx.BaseN {
		return sc.ScoreN(qual)
	}
	if !sc.QualScaledMM {
		return sc.MMPenMax
	}
	q := float64(qual)
	if q > 40 {
		q = 40
	}
	return sc.MMPenMin + int(math.Round(float64(sc.MMPenMax-sc.MMPenMin)*q/40))
}

// ScoreN returns the penalty of aligning through an N.
func (sc *Scoring) ScoreN(qual byte) int {
	if sc.NAsMismatch {
		return sc.MMPenMax
	}
	return sc.NPen
}

// ScoreReadGap returns the penalty of a gap of n bases in the read.
func (sc *Scoring) ScoreReadGap(n int) int {
	return sc.ReadGapOpen + n*sc.ReadGapExtend
}

// ScoreRefGap returns the penalty of a gap of n bases in the reference.
func (sc *Scoring) ScoreRefGap(n int) int {
	return sc.RefGapOpen + n*sc.RefGapExtend
}

// MinScore returns the minimum alignment score for a read of the
// given length.
func (sc *Scoring) MinScore(readLen int) int {
	return int(sc.MinScoreFn.Eval(float64(readLen)))
}

// Floor returns the floor score for a read of the given length.
func (sc *Scoring) Floor(readLen int) int {
	return int(sc.FloorFn.Eval(float64(readLen)))
}

// MaxScore returns the best achievable score for a read of the given
// length.
func (sc *Scoring) MaxScore(readLen int) int {
	return sc.MatchBonus * readLen
}

// NCeiling returns the maximum tolerated count of N bases.
func (sc *Scoring) NCeiling(readLen int) int {
	n := int(sc.NCeilFn.Eval(float64(readLen)))
	if n > readLen {
		n = readLen
	}
	if n < 0 {
		n = 0
	}
	return n
}

// SeedInterval returns the distance between seed offsets, >= 1.
func (sc *Scoring) SeedInterval(readLen int) int {
	iv := int(math.Ceil(sc.SeedIvalFn.Eval(float64(readLen))))
	if iv < 1 {
		iv = 1
	}
	return iv
}

// NFilter reports whether the 0-4 coded sequence passes the N filter.
func (sc *Scoring) NFilter(enc []byte) bool {
	n := 0
	for _, b := range enc {
		if b == fmidx.BaseN {
			n++
		}
	}
	return n <= sc.NCeiling(len(enc))
}

// NFilterPair applies the N filter to a pair. In concatenation mode
// both mates pass or fail together against the combined ceiling.
func (sc *Scoring) NFilterPair(enc1, enc2 []byte) (bool, bool) {
	if !sc.NFilterPaired {
		return sc.NFilter(enc1), sc.NFilter(enc2)
	}
	n := 0
	for _, b := range enc1 {
		if b == fmidx.BaseN {
			n++
		}
	}
	for _, b := range enc2 {
		if b == fmidx.BaseN {
			n++
		}
	}
	ok := n <= sc.NCeiling(len(enc1)+len(enc2))
	return ok, ok
}

// Profile fills a DP score profile for the 0-4 coded read: for read
// position j and reference base code b, profile[j*5+b] is the signed
// score of pairing them.
func (sc *Scoring) Profile(enc, qual []byte, buf []int32) []int32 {
	n := len(enc) * 5
	if cap(buf) < n {
		buf = make([]int32, n)
	}
	buf = buf[:n]
	for j, rb := range enc {
		q := byte(40)
		if j < len(qual) {
			q = qual[j]
		}
		for b := byte(0); b < 5; b++ {
			var v int
			switch {
			case b == fmidx.BaseN || rb == fmidx.BaseN:
				v = -sc.ScoreN(q)
			case b == rb:
				v = sc.MatchBonus
			default:
				v = -sc.ScoreMismatch(rb, q)
			}
			buf[j*5+int(b)] = int32(v)
		}
	}
	return buf
}
