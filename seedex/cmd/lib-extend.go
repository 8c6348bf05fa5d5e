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

	"github.com/seqforge/seedex/seedex/cmd/dp"
	"github.com/seqforge/seedex/seedex/cmd/fmidx"
	"github.com/seqforge/seedex/seedex/util"
)

// PairOrient is the expected orientation of a concordant pair.
type PairOrient int

const (
	OrientFR PairOrient = iota // forward, then reverse complement
	OrientRF
	OrientFF // both on the same strand (also covers RR)
)

// PairedPolicy decides which pairings count as concordant. Immutable.
type PairedPolicy struct {
	Orient   PairOrient
	MinFrag  int
	MaxFrag  int

	Dovetail bool // downstream mate may start before the upstream one
	Contain  bool // one mate may contain the other
	Overlap  bool // mates may overlap
}

// DefaultPairedPolicy matches FR with fragments of 0-500.
var DefaultPairedPolicy = PairedPolicy{
	Orient:  OrientFR,
	MinFrag: 0,
	MaxFrag: 500,
	Contain: true,
	Overlap: true,
}

// Check classifies a pairing of mate-1 and mate-2 candidates on the
// same reference. It returns the signed-less fragment length and
// whether the pairing is concordant.
func (pp *PairedPolicy) Check(c1, c2 *Candidate, len1, len2 int) (int, bool) {
	if c1.RefID != c2.RefID {
		return 0, false
	}

	s1, e1 := c1.RefOff, c1.RefOff+int32(dp.RefSpan(c1.Edits))
	s2, e2 := c2.RefOff, c2.RefOff+int32(dp.RefSpan(c2.Edits))

	lo, hi := s1, e1
	if s2 < lo {
		lo = s2
	}
	if e2 > hi {
		hi = e2
	}
	frag := int(hi - lo)

	// orientation of the upstream/downstream mates
	var up, down *Candidate
	if s1 <= s2 {
		up, down = c1, c2
	} else {
		up, down = c2, c1
	}
	switch pp.Orient {
	case OrientFR:
		if !(up.Fw && !down.Fw) {
			return frag, false
		}
	case OrientRF:
		if !(!up.Fw && down.Fw) {
			return frag, false
		}
	case OrientFF:
		if c1.Fw != c2.Fw {
			return frag, false
		}
	}

	// geometry restrictions
	upEnd := e1
	downStart := s2
	if up == c2 {
		upEnd = e2
		downStart = s1
	}
	overlaps := downStart < upEnd
	contained := (s1 >= s2 && e1 <= e2) || (s2 >= s1 && e2 <= e1)
	dovetails := downStart < up.RefOff

	if dovetails && !pp.Dovetail {
		return frag, false
	}
	if contained && !pp.Contain {
		return frag, false
	}
	if overlaps && !pp.Overlap {
		return frag, false
	}

	if frag < pp.MinFrag || frag > pp.MaxFrag {
		return frag, false
	}
	return frag, true
}

// ExtendOptions bound the extension effort per read.
type ExtendOptions struct {
	// consecutive failed extension attempts before giving up
	MaxDpFails int
	// coordinates extended per seed hit
	MaxExtendsPerHit int
	// window padding around the projected read span
	DpPad int
}

// DefaultExtendOptions mirrors the sensitive preset.
var DefaultExtendOptions = ExtendOptions{
	MaxDpFails:       15,
	MaxExtendsPerHit: 2,
	DpPad:            15,
}

// ExtensionDriver prioritizes seed hits, drives the DP aligner over
// resolved coordinates, and feeds candidates to the reporting state.
// One per worker.
type ExtensionDriver struct {
	idx      *fmidx.Index
	sc       *Scoring
	aligner  *dp.Aligner
	resolver *Resolver
	caches   *CacheBundle
	pp       *PairedPolicy
	opt      ExtendOptions
	met      *Metrics

	// wavefront aligner dedicated to mate rescue
	rescuer *dp.MateRescuer

	// per-read scratch, reset on entry
	seen    map[uint64]struct{}
	coords  []fmidx.Coord
	winBuf  []byte
	profFw  []int32
	profRc  []int32
	qualRc  []byte
	dpFails int
}

// NewExtensionDriver builds a driver for one worker.
func NewExtensionDriver(idx *fmidx.Index, sc *Scoring, aligner *dp.Aligner,
	resolver *Resolver, caches *CacheBundle, pp *PairedPolicy, opt ExtendOptions,
	met *Metrics) *ExtensionDriver {
	return &ExtensionDriver{
		idx:      idx,
		sc:       sc,
		aligner:  aligner,
		resolver: resolver,
		caches:   caches,
		pp:       pp,
		opt:      opt,
		met:      met,
		rescuer:  dp.NewMateRescuer(aligner.Config(), sc.MMPenMax),
		seen:     make(map[uint64]struct{}, 64),
	}
}

func (d *ExtensionDriver) reset() {
	clear(d.seen)
	d.resolver.Reset()
	d.dpFails = 0
}

// dedupKey folds mate, strand, reference and diagonal into one key;
// two hits on the same diagonal would extend into the same alignment.
func dedupKey(mate int, fw bool, refID int32, diag int32) uint64 {
	k := uint64(uint32(diag)) | uint64(uint32(refID))<<32
	if fw {
		k = util.Hash64(k ^ 0xf00d)
	} else {
		k = util.Hash64(k ^ 0xbeef)
	}
	return k + uint64(mate)
}

// strandData returns the encoded strand sequence, profile and
// qualities for a candidate orientation.
func (d *ExtensionDriver) strandData(rd *Read, fw bool) (enc []byte, prof []int32, qual []byte) {
	if fw {
		d.profFw = d.sc.Profile(rd.Enc, rd.Qual, d.profFw)
		return rd.Enc, d.profFw, rd.Qual
	}
	d.qualRc = append(d.qualRc[:0], rd.Qual...)
	Reverse(d.qualRc)
	d.profRc = d.sc.Profile(rd.RcEnc, d.qualRc, d.profRc)
	return rd.RcEnc, d.profRc, d.qualRc
}

// extendAt runs one gapped extension of a read at a projected
// reference start. Returns the candidate and whether it passed.
func (d *ExtensionDriver) extendAt(rd *Read, fw bool, refID int32, refStart int32,
	rng *rand.Rand) (Candidate, bool) {

	enc, prof, _ := d.strandData(rd, fw)
	readLen := len(enc)

	pad := int32(d.opt.DpPad)
	winLo := refStart - pad
	winHi := refStart + int32(readLen) + pad
	win, actualLo := d.idx.Window(refID, winLo, winHi, d.winBuf)
	d.winBuf = win
	if len(win) == 0 {
		return Candidate{}, false
	}

	prob := &dp.Problem{
		Profile:  prof,
		ReadSeq:  enc,
		Ref:      win,
		Pad:      int(refStart - actualLo),
		MinScore: d.sc.MinScore(readLen),
		Rng:      rng,
	}

	res := d.aligner.Align(prob)
	d.met.DpExtensions++
	if res.Saturated {
		d.met.DpSaturations++
	}
	if !res.Found {
		return Candidate{}, false
	}

	return Candidate{
		RefID:      refID,
		RefOff:     actualLo + int32(res.RefOff),
		Fw:         fw,
		Score:      res.Score,
		Edits:      append([]dp.EditOp(nil), res.Edits...),
		Mismatches: res.Mismatches,
		GapOpens:   res.GapOpens,
		GapBases:   res.GapBases,
	}, true
}

// resolveHit materializes coordinates for a hit, preferring the
// cached resolutions of a previous read. Freshly resolved coordinates
// are written back into the current-scope entry so that complete,
// narrow entries can be promoted at read end.
func (d *ExtensionDriver) resolveHit(hit *SeedHit) []fmidx.Coord {
	entry, cached := d.caches.current.get(hit.Key)
	if cached && entry.ResolvedAll && len(entry.Ranges) == 1 {
		d.met.ResolveCached++
		return append(d.coords[:0], entry.Coords...)
	}

	d.coords = d.resolver.Walk(hit, d.coords[:0])

	// the write-back only covers single-range entries fully walked;
	// promoted entries are immutable and never touched here
	if cached && !entry.ResolvedAll && len(entry.Ranges) == 1 &&
		len(d.coords) == hit.Rng.Size() {
		entry.Coords = append([]fmidx.Coord(nil), d.coords...)
		entry.ResolvedAll = true
	}
	return d.coords
}

// extendHits walks one mate's ranked hit table, extending resolved
// coordinates until the policy is satisfied or budgets run out.
// onCandidate is invoked for each passing alignment.
func (d *ExtensionDriver) extendHits(rd *Read, mate int, hits []SeedHit,
	st *ReportState, rng *rand.Rand, onCandidate func(Candidate) bool) bool {

	for i := range hits {
		hit := &hits[i]
		if d.dpFails >= d.opt.MaxDpFails {
			return false // extension effort exhausted
		}

		d.coords = d.resolveHit(hit)
		nExt := 0
		for _, c := range d.coords {
			if nExt >= d.opt.MaxExtendsPerHit {
				break
			}

			refStart := c.Off - int32(hit.Off)
			key := dedupKey(mate, hit.Fw, c.RefID, refStart)
			if _, ok := d.seen[key]; ok {
				d.met.RedundantHits++
				continue
			}
			d.seen[key] = struct{}{}
			nExt++

			st.Extending()
			cand, ok := d.extendAt(rd, hit.Fw, c.RefID, refStart, rng)
			if !ok {
				d.dpFails++
				continue
			}
			d.dpFails = 0
			if !onCandidate(cand) {
				return true // appetite satisfied
			}
		}
	}
	return false
}

// AlignUnpaired runs the full extension of a single read.
func (d *ExtensionDriver) AlignUnpaired(rd *Read, res *SeedResults, st *ReportState,
	rng *rand.Rand) {

	d.reset()
	d.extendHits(rd, 0, res.Hits, st, rng, func(c Candidate) bool {
		st.AddCandidate(0, c)
		return !st.Done()
	})
	if res.Exhausted {
		st.Exhausted(0)
	}
}

// AlignPair runs the paired extension: the anchor mate is extended
// from its seed hits, and the opposite mate is rescued inside the
// fragment window the policy implies.
func (d *ExtensionDriver) AlignPair(rd1, rd2 *Read, res1, res2 *SeedResults,
	st *ReportState, rng *rand.Rand) {

	d.reset()

	reads := [2]*Read{rd1, rd2}
	results := [2]*SeedResults{res1, res2}

	// which mate anchors first is drawn from the XOR of both seeds,
	// deterministic but unbiased across reads
	first := int((rd1.Seed ^ rd2.Seed) & 1)

	for _, mate := range [2]int{first, 1 - first} {
		other := 1 - mate
		done := d.extendHits(reads[mate], mate, results[mate].Hits, st, rng,
			func(anchor Candidate) bool {
				ai := st.AddCandidate(mate, anchor)

				if resc, ok := d.rescueMate(reads[other], &anchor, rng); ok {
					bi := st.AddCandidate(other, resc)

					c1, c2 := ai, bi
					if mate == 1 {
						c1, c2 = bi, ai
					}
					frag, conc := d.pp.Check(&st.cands[0][c1], &st.cands[1][c2],
						reads[0].Len(), reads[1].Len())
					if conc {
						st.AddPair(ConcordantPair{
							A: c1, B: c2, FragLen: frag,
							Score:      st.cands[0][c1].Score + st.cands[1][c2].Score,
							Concordant: true,
						})
						d.met.ConcordantPairs++
					}
				}
				return !st.Done()
			})
		if done {
			break
		}
	}

	if res1.Exhausted {
		st.Exhausted(0)
	}
	if res2.Exhausted {
		st.Exhausted(1)
	}

	// fallback: both mates aligned but no pair was formed; the best
	// alignments of the two mates are paired and classified by the
	// policy, and a discordant pairing is kept only when discordant
	// reporting is on
	if len(st.pairs) == 0 && len(st.cands[0]) > 0 && len(st.cands[1]) > 0 {
		b0 := bestIndex(st.cands[0])
		b1 := bestIndex(st.cands[1])
		frag, conc := d.pp.Check(&st.cands[0][b0], &st.cands[1][b1], rd1.Len(), rd2.Len())
		if conc || st.policy.Discordant {
			st.AddPair(ConcordantPair{
				A: b0, B: b1, FragLen: frag, Concordant: conc,
				Score: st.cands[0][b0].Score + st.cands[1][b1].Score,
			})
			if conc {
				d.met.ConcordantPairs++
			} else {
				d.met.DiscordantPairs++
			}
		}
	}
}

func bestIndex(cands []Candidate) int {
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[best].Score {
			best = i
		}
	}
	return best
}

// rescueMate searches for the opposite mate inside the fragment
// window implied by an aligned anchor, with a semi-global wavefront
// alignment across the whole window.
func (d *ExtensionDriver) rescueMate(mate *Read, anchor *Candidate,
	rng *rand.Rand) (Candidate, bool) {

	// expected strand of the rescued mate
	var fw bool
	switch d.pp.Orient {
	case OrientFR:
		fw = !anchor.Fw
	case OrientRF:
		fw = !anchor.Fw
	case OrientFF:
		fw = anchor.Fw
	}

	mateLen := mate.Len()
	anchorSpan := int32(dp.RefSpan(anchor.Edits))

	// fragment window on the anchor's reference
	var winLo, winHi int32
	if anchor.Fw == (d.pp.Orient == OrientRF) {
		// anchor is the downstream mate; the window extends upstream
		winHi = anchor.RefOff + anchorSpan
		winLo = winHi - int32(d.pp.MaxFrag)
	} else {
		winLo = anchor.RefOff
		winHi = winLo + int32(d.pp.MaxFrag)
	}

	enc, prof, _ := d.strandData(mate, fw)
	win, actualLo := d.idx.Window(anchor.RefID, winLo, winHi, d.winBuf)
	d.winBuf = win
	if len(win) < mateLen {
		return Candidate{}, false
	}

	prob := &dp.Problem{
		Profile:  prof,
		ReadSeq:  enc,
		Ref:      win,
		MinScore: d.sc.MinScore(mateLen),
		Rng:      rng,
	}

	res := d.rescuer.Rescue(prob)
	d.met.MateRescues++
	if !res.Found {
		return Candidate{}, false
	}

	return Candidate{
		RefID:      anchor.RefID,
		RefOff:     actualLo + int32(res.RefOff),
		Fw:         fw,
		Score:      res.Score,
		Edits:      append([]dp.EditOp(nil), res.Edits...),
		Mismatches: res.Mismatches,
		GapOpens:   res.GapOpens,
		GapBases:   res.GapBases,
	}, true
}
