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
	"math/rand"
	"sort"

	"github.com/seqforge/seedex/seedex/cmd/dp"
)

// ReportMode selects how many alignments per read are reported.
type ReportMode int

const (
	// ModeBest reports the single best alignment with a mapping
	// quality informed by up to Limit+1 found alignments (-M).
	ModeBest ReportMode = iota
	// ModeTopK reports up to Limit alignments (-k).
	ModeTopK
	// ModeAll reports every passing alignment (-a).
	ModeAll
)

// ReportPolicy is the immutable reporting configuration.
type ReportPolicy struct {
	Mode  ReportMode
	Limit int

	Discordant bool // emit discordant pairs
	Mixed      bool // emit unpaired alignments for paired reads
}

// DefaultReportPolicy is best-with-MAPQ.
var DefaultReportPolicy = ReportPolicy{Mode: ModeBest, Limit: 1, Discordant: true, Mixed: true}

// appetite returns how many alignments per mate the search should
// accumulate before the policy is satisfied.
func (p *ReportPolicy) appetite() int {
	switch p.Mode {
	case ModeAll:
		return 1 << 30
	case ModeTopK:
		return p.Limit
	default:
		return p.Limit + 1 // -M: best plus evidence for MAPQ
	}
}

// PolicyMult is the boost factor the offset resolver budgets get.
func (p *ReportPolicy) PolicyMult() int {
	n := p.appetite()
	if n > 128 {
		n = 128
	}
	if n < 1 {
		n = 1
	}
	return n
}

// SAM-equivalent flag bits.
const (
	FlagPaired      = 0x1
	FlagProperPair  = 0x2
	FlagUnmapped    = 0x4
	FlagMateUnmapped = 0x8
	FlagReverse     = 0x10
	FlagMateReverse = 0x20
	FlagFirst       = 0x40
	FlagSecond      = 0x80
	FlagSecondary   = 0x100
)

// Candidate is one passing alignment of one mate.
type Candidate struct {
	RefID  int32
	RefOff int32
	Fw     bool
	Score  int
	Edits  []dp.EditOp

	Mismatches int
	GapOpens   int
	GapBases   int
}

// pair classes for the YT tag
const (
	pairClassUnpaired   = "UU"
	pairClassConcordant = "CP"
	pairClassDiscordant = "DP"
	pairClassMixed      = "UP"
)

// Record is what the output sink receives.
type Record struct {
	Name  []byte
	Flags int

	RefID int32 // -1 for unmapped
	Pos   int32 // 0-based; the sink converts
	MapQ  int
	Edits []dp.EditOp

	MateRefID int32
	MatePos   int32
	TLen      int

	Seq  []byte // as aligned (reverse-complemented for rc alignments)
	Qual []byte

	Score      int
	SecScore   int
	HasSec     bool
	Mismatches int
	PairClass  string
	Filter     string // YF cause for filtered reads
}

// ---------------------------------------------------------------------
// per-read reporting state machine

type readStage int

const (
	stageInit readStage = iota
	stageSeeded
	stageExtending
	stageReported
	stageUnaligned
)

func (s readStage) String() string {
	switch s {
	case stageInit:
		return "INIT"
	case stageSeeded:
		return "SEEDED"
	case stageExtending:
		return "EXTENDING"
	case stageReported:
		return "REPORTED"
	}
	return "UNALIGNED"
}

// ReportState accumulates the alignments of one read (or pair) and
// applies the reporting policy. One per worker, reset per read.
type ReportState struct {
	policy *ReportPolicy
	sanity bool

	stage readStage

	paired bool
	cands  [2][]Candidate

	pairs []ConcordantPair

	exhausted [2]bool
}

// ConcordantPair joins the candidate indexes of both mates.
type ConcordantPair struct {
	A, B     int // indexes into cands[0], cands[1]
	FragLen  int
	Score    int
	Concordant bool // false for a discordant pairing
}

// NewReportState builds the per-worker state.
func NewReportState(policy *ReportPolicy, sanity bool) *ReportState {
	return &ReportState{policy: policy, sanity: sanity}
}

// Reset prepares the state for the next read.
func (st *ReportState) Reset(paired bool) {
	st.stage = stageInit
	st.paired = paired
	st.cands[0] = st.cands[0][:0]
	st.cands[1] = st.cands[1][:0]
	st.pairs = st.pairs[:0]
	st.exhausted[0] = false
	st.exhausted[1] = false
}

func (st *ReportState) bug(format string, args ...interface{}) {
	if st.sanity {
		panic(fmt.Sprintf("reporting invariant violated: "+format, args...))
	}
}

// Seeded marks the end of seed search for both mates.
func (st *ReportState) Seeded() {
	if st.stage != stageInit {
		st.bug("Seeded in stage %s", st.stage)
	}
	st.stage = stageSeeded
}

// Extending marks the first extension attempt.
func (st *ReportState) Extending() {
	if st.stage == stageSeeded {
		st.stage = stageExtending
	}
}

func sameCand(a, b *Candidate) bool {
	return a.RefID == b.RefID && a.RefOff == b.RefOff && a.Fw == b.Fw
}

// AddCandidate deposits a passing alignment of one mate (0 or 1) and
// returns its index. An alignment already present (e.g. found both by
// anchoring and by mate rescue) is not duplicated.
func (st *ReportState) AddCandidate(mate int, c Candidate) int {
	if st.stage != stageExtending {
		st.bug("AddCandidate in stage %s", st.stage)
	}
	for i := range st.cands[mate] {
		if sameCand(&st.cands[mate][i], &c) {
			return i
		}
	}
	st.cands[mate] = append(st.cands[mate], c)
	return len(st.cands[mate]) - 1
}

// AddPair deposits a concordant or discordant pairing of two
// candidates already added; equivalent pairings are dropped.
func (st *ReportState) AddPair(p ConcordantPair) {
	for _, q := range st.pairs {
		if sameCand(&st.cands[0][q.A], &st.cands[0][p.A]) &&
			sameCand(&st.cands[1][q.B], &st.cands[1][p.B]) {
			return
		}
	}
	st.pairs = append(st.pairs, p)
}

// Exhausted marks a mate's seed space as exhausted.
func (st *ReportState) Exhausted(mate int) {
	st.exhausted[mate] = true
}

// Done reports whether the policy's appetite is satisfied.
func (st *ReportState) Done() bool {
	want := st.policy.appetite()
	if st.paired {
		n := 0
		for _, p := range st.pairs {
			if p.Concordant {
				n++
			}
		}
		return n >= want
	}
	return len(st.cands[0]) >= want
}

// Best returns the best and second-best scores of a mate.
func (st *ReportState) Best(mate int) (best, secbest int, n int) {
	best, secbest = -1 << 30, -1<<30
	for _, c := range st.cands[mate] {
		if c.Score > best {
			secbest = best
			best = c.Score
		} else if c.Score > secbest {
			secbest = c.Score
		}
	}
	return best, secbest, len(st.cands[mate])
}

// ---------------------------------------------------------------------
// MAPQ

// MapqFloor is the guaranteed minimum MAPQ when no alternative within
// a score gap of g below the best exists (g normalized to the score
// range in tenths).
func MapqFloor(tenths int) int {
	switch {
	case tenths >= 9:
		return 39
	case tenths >= 6:
		return 27
	case tenths >= 3:
		return 15
	case tenths >= 1:
		return 6
	}
	return 0
}

// Mapq estimates mapping quality from the gap between best and
// second-best scores, normalized to the distance between the perfect
// and minimum scores. The result is in [0, 42].
func Mapq(best, secbest int, hasSec bool, minsc, perfect int) int {
	diff := perfect - minsc
	if diff < 1 {
		diff = 1
	}
	bestOver := float64(best-minsc) / float64(diff)

	if !hasSec {
		switch {
		case bestOver >= 0.8:
			return 42
		case bestOver >= 0.7:
			return 40
		case bestOver >= 0.6:
			return 24
		case bestOver >= 0.5:
			return 23
		case bestOver >= 0.4:
			return 8
		case bestOver >= 0.3:
			return 3
		}
		return 0
	}

	gap := float64(best-secbest) / float64(diff)
	var q int
	switch {
	case gap >= 0.9:
		q = 39
	case gap >= 0.75:
		q = 33
	case gap >= 0.6:
		q = 27
	case gap >= 0.42:
		q = 21
	case gap >= 0.3:
		q = 15
	case gap >= 0.2:
		q = 11
	case gap >= 0.1:
		q = 6
	case gap > 0:
		q = 2
	default:
		q = 1 // tied best alignments
	}
	if bestOver < 0.3 && q > 3 {
		q = 3
	}
	if q > 42 {
		q = 42
	}
	return q
}

// ---------------------------------------------------------------------
// finalization

// rankCandidates orders candidate indexes by score, ties broken by
// the read's random stream.
func rankCandidates(cands []Candidate, rng *rand.Rand) []int {
	idx := make([]int, len(cands))
	ties := make([]uint32, len(cands))
	for i := range idx {
		idx[i] = i
		ties[i] = rng.Uint32()
	}
	sort.Slice(idx, func(a, b int) bool {
		ca, cb := cands[idx[a]], cands[idx[b]]
		if ca.Score != cb.Score {
			return ca.Score > cb.Score
		}
		return ties[idx[a]] < ties[idx[b]]
	})
	return idx
}

// limit returns how many ranked alignments the policy emits.
func (p *ReportPolicy) limit(n int) int {
	switch p.Mode {
	case ModeAll:
		return n
	case ModeTopK:
		if n > p.Limit {
			return p.Limit
		}
		return n
	default:
		if n > 0 {
			return 1
		}
		return 0
	}
}
