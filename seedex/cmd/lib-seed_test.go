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
	"bytes"
	"testing"
)

func testRead(name, seq string) *Read {
	rd := GetRead()
	rd.Name = append(rd.Name, name...)
	rd.Seq = append(rd.Seq, seq...)
	for range seq {
		rd.Qual = append(rd.Qual, 40)
	}
	rd.Init()
	return rd
}

func TestInstantiateTiling(t *testing.T) {
	sc := DefaultScoring
	sc.SeedIvalFn = SimpleFunc{Type: 'C', Const: 5, Coef: 0}
	si := NewSeedInstantiator(&sc, SeedTemplate{Length: 5}, false, false)

	rd := testRead("r", "ACGTACGTACGTACGT") // len 16, offsets 0,5,10
	seeds, nFw, nRc := si.Instantiate(rd, nil)

	if nFw != 3 || nRc != 3 {
		t.Fatalf("counts fw %d rc %d, want 3/3", nFw, nRc)
	}
	if len(seeds) != 6 {
		t.Fatalf("%d seeds, want 6", len(seeds))
	}

	// forward seed patterns alias the read
	if !bytes.Equal(seeds[0].Pat, rd.Enc[0:5]) {
		t.Error("fw seed 0 pattern wrong")
	}
	// rc seed at fw offset 0 covers the read's last 5 bases
	if seeds[1].Fw || seeds[1].Off != 11 {
		t.Errorf("rc seed 0: fw=%v off=%d, want rc at 11", seeds[1].Fw, seeds[1].Off)
	}
	if !bytes.Equal(seeds[1].Pat, rd.RcEnc[11:16]) {
		t.Error("rc seed 0 pattern wrong")
	}
}

func TestInstantiateShortRead(t *testing.T) {
	sc := DefaultScoring
	si := NewSeedInstantiator(&sc, SeedTemplate{Length: 22}, false, false)

	rd := testRead("r", "ACGTACGT")
	seeds, nFw, nRc := si.Instantiate(rd, nil)
	if len(seeds) != 0 || nFw != 0 || nRc != 0 {
		t.Errorf("short read should yield no seeds, got %d", len(seeds))
	}
}

func TestInstantiateStrandSuppression(t *testing.T) {
	sc := DefaultScoring
	sc.SeedIvalFn = SimpleFunc{Type: 'C', Const: 4, Coef: 0}

	si := NewSeedInstantiator(&sc, SeedTemplate{Length: 5}, true, false)
	rd := testRead("r", "ACGTACGTACGT")
	_, nFw, nRc := si.Instantiate(rd, nil)
	if nFw != 0 || nRc == 0 {
		t.Errorf("nofw: fw %d rc %d", nFw, nRc)
	}

	si = NewSeedInstantiator(&sc, SeedTemplate{Length: 5}, false, true)
	_, nFw, nRc = si.Instantiate(rd, nil)
	if nRc != 0 || nFw == 0 {
		t.Errorf("norc: fw %d rc %d", nFw, nRc)
	}
}

func TestInstantiateSeedWithN(t *testing.T) {
	sc := DefaultScoring
	sc.SeedIvalFn = SimpleFunc{Type: 'C', Const: 100, Coef: 0}
	si := NewSeedInstantiator(&sc, SeedTemplate{Length: 5}, false, true)

	rd := testRead("r", "ACNTACGTACGT")
	seeds, _, _ := si.Instantiate(rd, nil)
	if len(seeds) != 1 || !seeds[0].HasN {
		t.Fatalf("expected one N-marked seed, got %+v", seeds)
	}
}

func TestCheckSeedTemplate(t *testing.T) {
	if err := CheckSeedTemplate(SeedTemplate{Length: 22, Mismatches: 0}); err != nil {
		t.Error(err)
	}
	for _, bad := range []SeedTemplate{
		{Length: 3}, {Length: 32}, {Length: 20, Mismatches: 3}, {Length: 20, Mismatches: -1},
	} {
		if err := CheckSeedTemplate(bad); err == nil {
			t.Errorf("expected error for %+v", bad)
		}
	}
}

func TestRevComp(t *testing.T) {
	got := RevCompASCII([]byte("ACGTN"))
	if string(got) != "NACGT" {
		t.Errorf("revcomp ACGTN = %s", got)
	}

	rd := testRead("r", "AACG")
	// rc of AACG is CGTT
	want := []byte{1, 2, 3, 3}
	if !bytes.Equal(rd.RcEnc, want) {
		t.Errorf("encoded rc %v, want %v", rd.RcEnc, want)
	}
}

func TestSameSequence(t *testing.T) {
	a := testRead("a", "ACGTACGT")
	b := testRead("b", "ACGTACGT")
	c := testRead("c", "ACGTACGA")

	if !a.SameSequence(b) {
		t.Error("identical sequences should match")
	}
	if a.SameSequence(c) {
		t.Error("different sequences should not match")
	}
	if a.SameSequence(nil) {
		t.Error("nil should not match")
	}

	// identical reads derive identical tie-break seeds only when the
	// name also matches; sequences alone decide the short-circuit
	if a.Seed == b.Seed {
		t.Error("different names should give different seeds")
	}
}
