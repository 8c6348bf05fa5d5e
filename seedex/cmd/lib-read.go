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
	"sync"

	"github.com/seqforge/seedex/seedex/cmd/fmidx"
	"github.com/zeebo/wyhash"
)

// Read is one sequencing read flowing through a pipeline. It is
// created by the pattern source, consumed by exactly one worker, and
// recycled afterwards.
type Read struct {
	Name []byte
	Seq  []byte // ASCII, uppercased
	Qual []byte // 0-93 integer qualities

	Enc   []byte // 0-4 base codes
	RcEnc []byte // codes of the reverse complement

	Mate int // 0 unpaired, 1 or 2 for paired reads

	// Seed feeds the pseudo-random streams used for tie-breaks; it is
	// derived from name and sequence, so runs are deterministic.
	Seed uint64

	// filter flags, set before or during alignment
	FilterN   bool
	FilterLen bool
	FilterScore bool
	FilterQC  bool
}

var poolRead = &sync.Pool{New: func() interface{} {
	return &Read{
		Name:  make([]byte, 0, 128),
		Seq:   make([]byte, 0, 512),
		Qual:  make([]byte, 0, 512),
		Enc:   make([]byte, 0, 512),
		RcEnc: make([]byte, 0, 512),
	}
}}

// GetRead fetches a cleared Read from the pool.
func GetRead() *Read {
	r := poolRead.Get().(*Read)
	r.Reset()
	return r
}

// RecycleRead returns a Read to the pool.
func RecycleRead(r *Read) {
	if r != nil {
		poolRead.Put(r)
	}
}

// Reset clears the read for reuse.
func (r *Read) Reset() {
	r.Name = r.Name[:0]
	r.Seq = r.Seq[:0]
	r.Qual = r.Qual[:0]
	r.Enc = r.Enc[:0]
	r.RcEnc = r.RcEnc[:0]
	r.Mate = 0
	r.Seed = 0
	r.FilterN = false
	r.FilterLen = false
	r.FilterScore = false
	r.FilterQC = false
}

// Init fills the derived fields after Name/Seq/Qual are set: encoded
// sequence, reverse complement, and the tie-break seed.
func (r *Read) Init() {
	for i, b := range r.Seq {
		if b >= 'a' && b <= 'z' {
			r.Seq[i] = b - 'a' + 'A'
		}
	}
	r.Enc = append(r.Enc[:0], fmidx.EncodeSeq(r.Seq)...)
	r.RcEnc = append(r.RcEnc[:0], r.Enc...)
	RevCompEnc(r.RcEnc)
	r.Seed = wyhash.Hash(r.Seq, wyhash.Hash(r.Name, 0x5eedc0de))
}

// Len returns the read length.
func (r *Read) Len() int { return len(r.Seq) }

// SameSequence reports whether the read's canonical sequence and
// qualities equal another read's, the trigger of the same-read
// short-circuit.
func (r *Read) SameSequence(o *Read) bool {
	if o == nil || len(r.Seq) != len(o.Seq) {
		return false
	}
	for i, b := range r.Seq {
		if o.Seq[i] != b {
			return false
		}
	}
	for i, q := range r.Qual {
		if i >= len(o.Qual) || o.Qual[i] != q {
			return false
		}
	}
	return true
}

// RevCompEnc reverse-complements a 0-4 coded sequence in place.
// A<->T, C<->G, N stays N.
func RevCompEnc(s []byte) {
	for i, j := 0, len(s)-1; i <= j; i, j = i+1, j-1 {
		a, b := s[i], s[j]
		s[i], s[j] = compCode(b), compCode(a)
	}
}

func compCode(b byte) byte {
	if b >= fmidx.BaseN {
		return fmidx.BaseN
	}
	return 3 - b
}

// RevCompASCII returns the reverse complement of an ASCII sequence.
func RevCompASCII(s []byte) []byte {
	out := make([]byte, len(s))
	for i, b := range s {
		out[len(s)-1-i] = compASCII[b]
	}
	return out
}

var compASCII [256]byte

func init() {
	for i := range compASCII {
		compASCII[i] = 'N'
	}
	compASCII['A'], compASCII['C'], compASCII['G'], compASCII['T'] = 'T', 'G', 'C', 'A'
	compASCII['a'], compASCII['c'], compASCII['g'], compASCII['t'] = 't', 'g', 'c', 'a'
}

// Reverse reverses a byte slice in place.
func Reverse(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
