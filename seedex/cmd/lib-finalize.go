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
	"math/rand"
	"sort"

	"github.com/seqforge/seedex/seedex/cmd/dp"
)

// filterCause returns the YF value of the strongest filter that fired.
func filterCause(rd *Read) string {
	switch {
	case rd.FilterQC:
		return "QC"
	case rd.FilterLen:
		return "LN"
	case rd.FilterN:
		return "NS"
	case rd.FilterScore:
		return "SC"
	}
	return ""
}

// unalignedRecord builds the record of a read with no passing
// alignment.
func unalignedRecord(rd *Read, pairedFlags int) Record {
	return Record{
		Name:      rd.Name,
		Flags:     FlagUnmapped | pairedFlags,
		RefID:     -1,
		Pos:       -1,
		MateRefID: -1,
		MatePos:   -1,
		Seq:       rd.Seq,
		Qual:      rd.Qual,
		PairClass: pairClassUnpaired,
		Filter:    filterCause(rd),
	}
}

// candidateRecord builds the record of one aligned candidate.
func candidateRecord(rd *Read, c *Candidate, mapq int, flags int, class string) Record {
	rec := Record{
		Name:       rd.Name,
		Flags:      flags,
		RefID:      c.RefID,
		Pos:        c.RefOff,
		MapQ:       mapq,
		Edits:      c.Edits,
		MateRefID:  -1,
		MatePos:    -1,
		Score:      c.Score,
		Mismatches: c.Mismatches,
		PairClass:  class,
	}
	if c.Fw {
		rec.Seq = rd.Seq
		rec.Qual = rd.Qual
	} else {
		rec.Flags |= FlagReverse
		rec.Seq = RevCompASCII(rd.Seq)
		q := append([]byte(nil), rd.Qual...)
		Reverse(q)
		rec.Qual = q
	}
	return rec
}

// FinalizeUnpaired applies the reporting policy to a single read's
// state and returns its records. The state moves to REPORTED or
// UNALIGNED.
func FinalizeUnpaired(rd *Read, st *ReportState, sc *Scoring, rng *rand.Rand) []Record {
	ranked := rankCandidates(st.cands[0], rng)
	n := st.policy.limit(len(ranked))
	if n == 0 {
		st.stage = stageUnaligned
		return []Record{unalignedRecord(rd, 0)}
	}
	st.stage = stageReported

	best, secbest, cnt := st.Best(0)
	mapq := Mapq(best, secbest, cnt > 1, sc.MinScore(rd.Len()), sc.MaxScore(rd.Len()))

	recs := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		c := &st.cands[0][ranked[i]]
		flags := 0
		q := mapq
		if i > 0 {
			flags |= FlagSecondary
			q = 255
		}
		rec := candidateRecord(rd, c, q, flags, pairClassUnpaired)
		if cnt > 1 {
			rec.SecScore = secbest
			rec.HasSec = true
		}
		recs = append(recs, rec)
	}
	return recs
}

// FinalizePaired applies the reporting policy to a pair's state.
// Concordant pairs win; otherwise a discordant pair if present; the
// mixed fallback emits each mate's best unpaired alignments.
func FinalizePaired(rd1, rd2 *Read, st *ReportState, sc *Scoring, rng *rand.Rand) []Record {
	reads := [2]*Read{rd1, rd2}

	if len(st.pairs) > 0 {
		st.stage = stageReported

		// concordant pairs first, then score, ties by the pair seed
		order := make([]int, len(st.pairs))
		ties := make([]uint32, len(st.pairs))
		for i := range order {
			order[i] = i
			ties[i] = rng.Uint32()
		}
		sort.Slice(order, func(x, y int) bool {
			a, b := st.pairs[order[x]], st.pairs[order[y]]
			if a.Concordant != b.Concordant {
				return a.Concordant
			}
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			return ties[order[x]] < ties[order[y]]
		})

		n := st.policy.limit(len(order))
		recs := make([]Record, 0, 2*n)
		for i := 0; i < n; i++ {
			p := st.pairs[order[i]]
			class := pairClassConcordant
			if !p.Concordant {
				class = pairClassDiscordant
			}
			c1 := &st.cands[0][p.A]
			c2 := &st.cands[1][p.B]

			r1 := pairRecord(reads[0], c1, c2, FlagFirst, p, i > 0, st, sc, 0)
			r2 := pairRecord(reads[1], c2, c1, FlagSecond, p, i > 0, st, sc, 1)
			r1.PairClass = class
			r2.PairClass = class
			recs = append(recs, r1, r2)
		}
		return recs
	}

	// no pairing: mixed mode emits whatever each mate has
	var recs []Record
	if st.policy.Mixed {
		for m := 0; m < 2; m++ {
			rd := reads[m]
			other := 1 - m
			mateFlag := FlagFirst
			if m == 1 {
				mateFlag = FlagSecond
			}
			var mateBest *Candidate
			if len(st.cands[other]) > 0 {
				mateBest = &st.cands[other][bestIndex(st.cands[other])]
			}

			ranked := rankCandidates(st.cands[m], rng)
			n := st.policy.limit(len(ranked))
			if n == 0 {
				rec := unalignedRecord(rd, FlagPaired|mateFlag)
				if mateBest != nil {
					rec.MateRefID = mateBest.RefID
					rec.MatePos = mateBest.RefOff
					if !mateBest.Fw {
						rec.Flags |= FlagMateReverse
					}
				} else {
					rec.Flags |= FlagMateUnmapped
				}
				recs = append(recs, rec)
				continue
			}
			best, secbest, cnt := st.Best(m)
			mapq := Mapq(best, secbest, cnt > 1, sc.MinScore(rd.Len()), sc.MaxScore(rd.Len()))
			for i := 0; i < n; i++ {
				c := &st.cands[m][ranked[i]]
				flags := FlagPaired | mateFlag
				q := mapq
				if i > 0 {
					flags |= FlagSecondary
					q = 255
				}
				rec := candidateRecord(rd, c, q, flags, pairClassMixed)
				if mateBest != nil {
					rec.MateRefID = mateBest.RefID
					rec.MatePos = mateBest.RefOff
					if !mateBest.Fw {
						rec.Flags |= FlagMateReverse
					}
				} else {
					rec.Flags |= FlagMateUnmapped
				}
				recs = append(recs, rec)
			}
		}
	} else {
		recs = append(recs,
			unalignedRecord(rd1, FlagPaired|FlagMateUnmapped|FlagFirst),
			unalignedRecord(rd2, FlagPaired|FlagMateUnmapped|FlagSecond))
	}

	if anyAligned(recs) {
		st.stage = stageReported
	} else {
		st.stage = stageUnaligned
	}
	return recs
}

func anyAligned(recs []Record) bool {
	for i := range recs {
		if recs[i].Flags&FlagUnmapped == 0 {
			return true
		}
	}
	return false
}

// pairRecord builds one mate's record of a reported pair.
func pairRecord(rd *Read, c, mc *Candidate, mateFlag int, p ConcordantPair,
	secondary bool, st *ReportState, sc *Scoring, mate int) Record {

	best, secbest, cnt := st.Best(mate)
	mapq := Mapq(best, secbest, cnt > 1, sc.MinScore(rd.Len()), sc.MaxScore(rd.Len()))

	flags := FlagPaired | mateFlag
	if p.Concordant {
		flags |= FlagProperPair
	}
	if secondary {
		flags |= FlagSecondary
		mapq = 255
	}

	rec := candidateRecord(rd, c, mapq, flags, "")
	if !mc.Fw {
		rec.Flags |= FlagMateReverse
	}
	rec.MateRefID = mc.RefID
	rec.MatePos = mc.RefOff

	// signed template length: positive for the leftmost mate
	span := int32(dp.RefSpan(c.Edits))
	mspan := int32(dp.RefSpan(mc.Edits))
	lo, hi := c.RefOff, c.RefOff+span
	if mc.RefOff < lo {
		lo = mc.RefOff
	}
	if mc.RefOff+mspan > hi {
		hi = mc.RefOff + mspan
	}
	if c.RefID == mc.RefID {
		tlen := int(hi - lo)
		if c.RefOff > mc.RefOff || (c.RefOff == mc.RefOff && mateFlag == FlagSecond) {
			tlen = -tlen
		}
		rec.TLen = tlen
	}
	if cnt > 1 {
		rec.SecScore = secbest
		rec.HasSec = true
	}
	return rec
}
