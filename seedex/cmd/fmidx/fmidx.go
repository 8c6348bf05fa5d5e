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

// Package fmidx answers exact-substring range queries over one or more
// reference sequences with an FM index, and resolves range elements back
// to reference coordinates.
//
// Two indexes are kept: one over the forward concatenation of all
// references, and one over the plain reverse of that concatenation
// (not the reverse complement). The reverse index is only built when
// the caller needs mismatch-tolerant seed descent, where the two
// indexes are used in alternating directions.
package fmidx

import (
	"encoding/gob"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Byte codes of the indexed text. Separators keep matches from
// spanning reference boundaries: patterns only ever contain base
// codes, so a range can never cover a separator or the terminal.
const (
	codeTerm = 0 // terminal sentinel, unique, smallest
	codeSep  = 1 // separator between references
	codeA    = 2
	codeC    = 3
	codeG    = 4
	codeT    = 5
	codeN    = 6 // ambiguous reference base, never matched
)

const sigma = 7

// occSample is the row interval of occurrence checkpoints.
const occSample = 128

// Base codes of decoded reference windows and of encoded patterns:
// A=0, C=1, G=2, T=3, N=4. These are what the scoring profile of the
// DP aligner is indexed with.
const (
	BaseA = 0
	BaseC = 1
	BaseG = 2
	BaseT = 3
	BaseN = 4
)

var encodeBase = [256]byte{}
var encodeText = [256]byte{}

func init() {
	for i := range encodeBase {
		encodeBase[i] = BaseN
		encodeText[i] = codeN
	}
	for _, p := range [][2]byte{{'A', BaseA}, {'C', BaseC}, {'G', BaseG}, {'T', BaseT}} {
		encodeBase[p[0]] = p[1]
		encodeBase[p[0]+'a'-'A'] = p[1]
		encodeText[p[0]] = p[1] + codeA
		encodeText[p[0]+'a'-'A'] = p[1] + codeA
	}
}

// EncodeBase maps an ASCII base to its 0-4 code (N for anything ambiguous).
func EncodeBase(b byte) byte { return encodeBase[b] }

// EncodeSeq maps an ASCII sequence to 0-4 codes.
func EncodeSeq(s []byte) []byte {
	enc := make([]byte, len(s))
	for i, b := range s {
		enc[i] = encodeBase[b]
	}
	return enc
}

// SARange is a half-open interval of suffix-array rows, all of which
// share a common prefix equal to the query pattern. A range of size 0
// means "no hits".
type SARange struct {
	Lo, Hi int32
}

// Size returns the number of text positions the range covers.
func (r SARange) Size() int { return int(r.Hi - r.Lo) }

// Empty reports whether the range covers no positions.
func (r SARange) Empty() bool { return r.Hi <= r.Lo }

// Coord is a reference coordinate: sequence id and 0-based offset.
type Coord struct {
	RefID int32
	Off   int32
}

// Reference is one sequence to index.
type Reference struct {
	Name string
	Seq  []byte // ASCII, case-insensitive
}

// fmCore is one direction of the index: BWT with occurrence
// checkpoints plus the full suffix array.
type fmCore struct {
	Text   []byte // encoded text, ends with codeTerm
	SA     []int32
	Bwt    []byte
	Counts [sigma]int32 // Counts[c] = rows of suffixes starting with a char < c
	Occ    []int32      // checkpoints, stride sigma, every occSample rows
}

func newCore(text []byte) *fmCore {
	n := len(text)
	c := &fmCore{Text: text}
	c.SA = buildSuffixArray(text)

	c.Bwt = make([]byte, n)
	for i, p := range c.SA {
		if p == 0 {
			c.Bwt[i] = text[n-1]
		} else {
			c.Bwt[i] = text[p-1]
		}
	}

	var hist [sigma]int32
	for _, ch := range text {
		hist[ch]++
	}
	var cum int32
	for ch := 0; ch < sigma; ch++ {
		c.Counts[ch] = cum
		cum += hist[ch]
	}

	rows := n/occSample + 1
	c.Occ = make([]int32, rows*sigma)
	var running [sigma]int32
	for i := 0; i < n; i++ {
		if i%occSample == 0 {
			copy(c.Occ[(i/occSample)*sigma:], running[:])
		}
		running[c.Bwt[i]]++
	}
	if n%occSample == 0 {
		copy(c.Occ[(n/occSample)*sigma:], running[:])
	}
	return c
}

// occAt counts occurrences of ch in Bwt[0:row].
func (c *fmCore) occAt(row int32, ch byte) int32 {
	cp := row / occSample
	cnt := c.Occ[cp*sigma+int32(ch)]
	for i := cp * occSample; i < row; i++ {
		if c.Bwt[i] == ch {
			cnt++
		}
	}
	return cnt
}

// extendLeft performs one LF-mapping step: the range of ch+P given the
// range of P.
func (c *fmCore) extendLeft(r SARange, ch byte) SARange {
	return SARange{
		Lo: c.Counts[ch] + c.occAt(r.Lo, ch),
		Hi: c.Counts[ch] + c.occAt(r.Hi, ch),
	}
}

func (c *fmCore) fullRange() SARange {
	return SARange{Lo: 0, Hi: int32(len(c.SA))}
}

// buildSuffixArray sorts all suffixes by prefix doubling.
func buildSuffixArray(text []byte) []int32 {
	n := len(text)
	sa := make([]int32, n)
	rank := make([]int64, n)
	tmp := make([]int64, n)
	for i := 0; i < n; i++ {
		sa[i] = int32(i)
		rank[i] = int64(text[i])
	}

	for k := 1; ; k <<= 1 {
		key := func(p int32) (int64, int64) {
			second := int64(-1)
			if int(p)+k < n {
				second = rank[int(p)+k]
			}
			return rank[p], second
		}
		sort.Slice(sa, func(i, j int) bool {
			a1, a2 := key(sa[i])
			b1, b2 := key(sa[j])
			if a1 != b1 {
				return a1 < b1
			}
			return a2 < b2
		})

		tmp[sa[0]] = 0
		for i := 1; i < n; i++ {
			a1, a2 := key(sa[i-1])
			b1, b2 := key(sa[i])
			tmp[sa[i]] = tmp[sa[i-1]]
			if a1 != b1 || a2 != b2 {
				tmp[sa[i]]++
			}
		}
		copy(rank, tmp)
		if rank[sa[n-1]] == int64(n-1) {
			break
		}
	}
	return sa
}

// Index is the read-only façade over the forward and (optionally)
// reverse FM indexes. It is safe to share across workers.
type Index struct {
	fwd *fmCore
	rev *fmCore // nil unless bidirectional

	names  []string
	lens   []int32
	starts []int32 // start of each reference in the encoded text
	seqs   [][]byte // 0-4 coded reference sequences, for DP windows

	textLen int32 // length of the encoded text without the terminal
}

// New builds an in-memory index over refs. The reverse index is built
// only when bidirectional is true; it is required iff seeds permit
// mismatches.
func New(refs []Reference, bidirectional bool) (*Index, error) {
	if len(refs) == 0 {
		return nil, errors.New("fmidx: no reference sequences")
	}

	var total int
	for _, r := range refs {
		if len(r.Seq) == 0 {
			return nil, errors.Errorf("fmidx: empty reference: %s", r.Name)
		}
		total += len(r.Seq) + 1
	}

	x := &Index{
		names:  make([]string, len(refs)),
		lens:   make([]int32, len(refs)),
		starts: make([]int32, len(refs)),
		seqs:   make([][]byte, len(refs)),
	}

	text := make([]byte, 0, total)
	for i, r := range refs {
		x.names[i] = r.Name
		x.lens[i] = int32(len(r.Seq))
		x.starts[i] = int32(len(text))
		x.seqs[i] = EncodeSeq(r.Seq)
		for _, b := range r.Seq {
			text = append(text, encodeText[b])
		}
		if i < len(refs)-1 {
			text = append(text, codeSep)
		}
	}
	x.textLen = int32(len(text))
	text = append(text, codeTerm)

	x.fwd = newCore(text)
	if bidirectional {
		rtext := make([]byte, len(text))
		for i := int32(0); i < x.textLen; i++ {
			rtext[i] = text[x.textLen-1-i]
		}
		rtext[x.textLen] = codeTerm
		x.rev = newCore(rtext)
	}
	return x, nil
}

// Bidirectional reports whether the reverse index is available.
func (x *Index) Bidirectional() bool { return x.rev != nil }

func (x *Index) core(fw bool) *fmCore {
	if fw {
		return x.fwd
	}
	return x.rev
}

// FullRange returns the range covering the whole suffix array of the
// chosen index, the starting point of any descent.
func (x *Index) FullRange(fw bool) SARange { return x.core(fw).fullRange() }

// Extend performs a one-character left extension of the pattern on the
// chosen index. base is a 0-3 code; extending with N yields an empty
// range.
func (x *Index) Extend(fw bool, r SARange, base byte) SARange {
	if base >= BaseN {
		return SARange{}
	}
	return x.core(fw).extendLeft(r, base+codeA)
}

// RangeFor runs an exact backward search of the 0-4 coded pattern over
// the forward index.
func (x *Index) RangeFor(pattern []byte) SARange {
	r := x.fwd.fullRange()
	for i := len(pattern) - 1; i >= 0; i-- {
		r = x.Extend(true, r, pattern[i])
		if r.Empty() {
			return SARange{}
		}
	}
	return r
}

// Resolve returns the reference coordinate of the i-th position of a
// range found with a pattern of length patLen. For ranges of the
// reverse index the position is mapped back into forward-text
// coordinates first.
func (x *Index) Resolve(fw bool, r SARange, i int, patLen int) (Coord, bool) {
	if i < 0 || i >= r.Size() {
		return Coord{}, false
	}
	pos := x.core(fw).SA[r.Lo+int32(i)]
	if !fw {
		pos = x.textLen - pos - int32(patLen)
	}

	// reference owning this text offset
	j := sort.Search(len(x.starts), func(k int) bool { return x.starts[k] > pos }) - 1
	if j < 0 {
		return Coord{}, false
	}
	off := pos - x.starts[j]
	if off+int32(patLen) > x.lens[j] { // spans a separator, impossible for base-only patterns
		return Coord{}, false
	}
	return Coord{RefID: int32(j), Off: off}, true
}

// NPatterns returns the number of indexed references.
func (x *Index) NPatterns() int { return len(x.names) }

// PatternLength returns the length of reference id.
func (x *Index) PatternLength(id int) int { return int(x.lens[id]) }

// PatternName returns the name of reference id.
func (x *Index) PatternName(id int) string { return x.names[id] }

// Window copies the 0-4 coded reference bases of [start, end) into
// dst, clipping to the sequence bounds. It returns the clipped window
// and its actual start.
func (x *Index) Window(refID int32, start, end int32, dst []byte) ([]byte, int32) {
	seq := x.seqs[refID]
	if start < 0 {
		start = 0
	}
	if end > int32(len(seq)) {
		end = int32(len(seq))
	}
	if start >= end {
		return dst[:0], start
	}
	dst = append(dst[:0], seq[start:end]...)
	return dst, start
}

// ScanSeed scans reference refID for an exact occurrence of the 0-3
// coded pattern within [from, to), returning the first offset or -1.
// This is the reference-scanner shortcut of the offset resolver.
func (x *Index) ScanSeed(refID int32, pattern []byte, from, to int32) int32 {
	seq := x.seqs[refID]
	if from < 0 {
		from = 0
	}
	if to > int32(len(seq))-int32(len(pattern))+1 {
		to = int32(len(seq)) - int32(len(pattern)) + 1
	}
outer:
	for p := from; p < to; p++ {
		for i, b := range pattern {
			if seq[p+int32(i)] != b {
				continue outer
			}
		}
		return p
	}
	return -1
}

// ---------------------------------------------------------------------
// serialization

type indexFile struct {
	Names   []string
	Lens    []int32
	Starts  []int32
	Seqs    [][]byte
	TextLen int32
	Fwd     *fmCore
	Rev     *fmCore
}

// Save writes the index to a single gob file.
func (x *Index) Save(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "fmidx: create index file")
	}
	defer fh.Close()

	enc := gob.NewEncoder(fh)
	err = enc.Encode(&indexFile{
		Names:   x.names,
		Lens:    x.lens,
		Starts:  x.starts,
		Seqs:    x.seqs,
		TextLen: x.textLen,
		Fwd:     x.fwd,
		Rev:     x.rev,
	})
	return errors.Wrap(err, "fmidx: encode index")
}

// Load reads an index saved with Save.
func Load(path string) (*Index, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "fmidx: open index file")
	}
	defer fh.Close()

	var f indexFile
	if err = gob.NewDecoder(fh).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "fmidx: decode index")
	}
	return &Index{
		fwd:     f.Fwd,
		rev:     f.Rev,
		names:   f.Names,
		lens:    f.Lens,
		starts:  f.Starts,
		seqs:    f.Seqs,
		textLen: f.TextLen,
	}, nil
}
