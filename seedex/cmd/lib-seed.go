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
	"github.com/pkg/errors"
)

// SeedTemplate describes one family of seeds: substring length and
// the mismatch budget of the index descent.
type SeedTemplate struct {
	Length     int
	Mismatches int
}

// CheckSeedTemplate rejects impossible templates at configuration.
func CheckSeedTemplate(t SeedTemplate) error {
	if t.Length < 4 || t.Length > 31 {
		return errors.Errorf("seed length %d out of range [4, 31]", t.Length)
	}
	if t.Mismatches < 0 || t.Mismatches > 2 {
		return errors.Errorf("seed mismatches %d out of range [0, 2]", t.Mismatches)
	}
	if t.Mismatches > t.Length {
		return errors.Errorf("seed mismatches %d exceed seed length %d", t.Mismatches, t.Length)
	}
	return nil
}

// InstSeed is one concrete seed instantiated against a read position.
// Pat aliases the read's encoded sequence (or its reverse complement)
// and must not be mutated.
type InstSeed struct {
	Off int // offset within the strand sequence the seed was taken from
	Len int
	Fw  bool // false: seed taken from the reverse complement
	MM  int
	Pat []byte // 0-4 codes
	HasN bool  // seeds with N can never match and are skipped
}

// SeedInstantiator tiles seeds along a read at the length-dependent
// interval given by the scoring model.
type SeedInstantiator struct {
	sc       *Scoring
	template SeedTemplate
	nofw     bool
	norc     bool
}

// NewSeedInstantiator builds an instantiator; the template must have
// been checked.
func NewSeedInstantiator(sc *Scoring, t SeedTemplate, nofw, norc bool) *SeedInstantiator {
	return &SeedInstantiator{sc: sc, template: t, nofw: nofw, norc: norc}
}

// Instantiate appends the concrete seeds of a read to buf and returns
// it with the counts of forward and reverse-complement seeds. A read
// shorter than the seed length yields no seeds.
func (si *SeedInstantiator) Instantiate(rd *Read, buf []InstSeed) ([]InstSeed, int, int) {
	L := si.template.Length
	rdLen := rd.Len()
	if rdLen < L {
		return buf, 0, 0
	}

	ival := si.sc.SeedInterval(rdLen)
	var nFw, nRc int

	for off := 0; off+L <= rdLen; off += ival {
		if !si.nofw {
			s := InstSeed{
				Off: off, Len: L, Fw: true, MM: si.template.Mismatches,
				Pat: rd.Enc[off : off+L],
			}
			s.HasN = hasN(s.Pat)
			buf = append(buf, s)
			nFw++
		}
		if !si.norc {
			// the same read interval on the reverse-complement strand;
			// Off is the offset within the reverse-complement sequence
			rcOff := rdLen - off - L
			s := InstSeed{
				Off: rcOff, Len: L, Fw: false, MM: si.template.Mismatches,
				Pat: rd.RcEnc[rcOff : rcOff+L],
			}
			s.HasN = hasN(s.Pat)
			buf = append(buf, s)
			nRc++
		}
	}
	return buf, nFw, nRc
}

func hasN(pat []byte) bool {
	for _, b := range pat {
		if b >= 4 {
			return true
		}
	}
	return false
}
