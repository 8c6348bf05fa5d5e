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

package fmidx

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testRefs = []Reference{
	{Name: "chr1", Seq: []byte("ACGTACGTACGTACGT")},
	{Name: "chr2", Seq: []byte("TTTTGGGGCCCCAAAA")},
}

func countOccurrences(seq, pat string) []int {
	var offs []int
	for i := 0; i+len(pat) <= len(seq); i++ {
		if seq[i:i+len(pat)] == pat {
			offs = append(offs, i)
		}
	}
	return offs
}

func TestRangeForResolveRoundTrip(t *testing.T) {
	idx, err := New(testRefs, false)
	if err != nil {
		t.Fatal(err)
	}

	patterns := []string{"ACGT", "GTAC", "TTTT", "CCCCAAAA", "A", "ACGTACGTACGTACGT"}
	for _, pat := range patterns {
		r := idx.RangeFor(EncodeSeq([]byte(pat)))

		want := 0
		for _, ref := range testRefs {
			want += len(countOccurrences(string(ref.Seq), pat))
		}
		if r.Size() != want {
			t.Errorf("pattern %s: range size %d, want %d", pat, r.Size(), want)
			continue
		}

		for i := 0; i < r.Size(); i++ {
			c, ok := idx.Resolve(true, r, i, len(pat))
			if !ok {
				t.Errorf("pattern %s: resolve %d failed", pat, i)
				continue
			}
			got := string(testRefs[c.RefID].Seq[c.Off : int(c.Off)+len(pat)])
			if got != pat {
				t.Errorf("pattern %s: resolved to %s at %s:%d",
					pat, got, idx.PatternName(int(c.RefID)), c.Off)
			}
		}
	}
}

func TestRangeForNoHit(t *testing.T) {
	idx, err := New(testRefs, false)
	if err != nil {
		t.Fatal(err)
	}

	for _, pat := range []string{"ACGTT", "NNNN", "GTACGTACGTACGTACG"} {
		if r := idx.RangeFor(EncodeSeq([]byte(pat))); !r.Empty() {
			t.Errorf("pattern %s: expected empty range, got size %d", pat, r.Size())
		}
	}
}

func TestMatchCannotSpanReferences(t *testing.T) {
	// chr1 ends with ...ACGT, chr2 starts with TTTT: ACGTTTTT exists only
	// across the boundary and must not be found.
	idx, err := New(testRefs, false)
	if err != nil {
		t.Fatal(err)
	}
	if r := idx.RangeFor(EncodeSeq([]byte("ACGTTTTT"))); !r.Empty() {
		t.Errorf("expected no match across reference boundary, got %d", r.Size())
	}
}

func TestReverseIndexResolve(t *testing.T) {
	idx, err := New(testRefs, true)
	if err != nil {
		t.Fatal(err)
	}
	if !idx.Bidirectional() {
		t.Fatal("expected bidirectional index")
	}

	// searching the reversed pattern on the reverse index must find
	// the same occurrences as the forward search.
	pat := "GTAC"
	rpat := "CATG"

	r := idx.FullRange(false)
	enc := EncodeSeq([]byte(rpat))
	for i := len(enc) - 1; i >= 0; i-- {
		r = idx.Extend(false, r, enc[i])
	}

	fwWant := countOccurrences(string(testRefs[0].Seq), pat)
	if r.Size() != len(fwWant) {
		t.Fatalf("reverse search: size %d, want %d", r.Size(), len(fwWant))
	}

	got := make(map[int]bool)
	for i := 0; i < r.Size(); i++ {
		c, ok := idx.Resolve(false, r, i, len(pat))
		if !ok {
			t.Fatalf("reverse resolve %d failed", i)
		}
		if c.RefID != 0 {
			t.Fatalf("reverse resolve: wrong reference %d", c.RefID)
		}
		got[int(c.Off)] = true
	}
	for _, off := range fwWant {
		if !got[off] {
			t.Errorf("reverse search missed occurrence at %d", off)
		}
	}
}

func TestExtendStepwise(t *testing.T) {
	idx, err := New(testRefs, false)
	if err != nil {
		t.Fatal(err)
	}

	// extending left character by character equals a direct search.
	pat := "TACG"
	enc := EncodeSeq([]byte(pat))
	r := idx.FullRange(true)
	for i := len(enc) - 1; i >= 0; i-- {
		r = idx.Extend(true, r, enc[i])
	}
	direct := idx.RangeFor(enc)
	if r != direct {
		t.Errorf("stepwise extension %v != direct search %v", r, direct)
	}
}

func TestWindow(t *testing.T) {
	idx, err := New(testRefs, false)
	if err != nil {
		t.Fatal(err)
	}

	w, start := idx.Window(0, -3, 5, nil)
	if start != 0 || len(w) != 5 {
		t.Fatalf("window clipped wrong: start %d len %d", start, len(w))
	}
	if !bytes.Equal(w, EncodeSeq([]byte("ACGTA"))) {
		t.Errorf("window content wrong: %v", w)
	}

	w, _ = idx.Window(1, 12, 100, nil)
	if !bytes.Equal(w, EncodeSeq([]byte("AAAA"))) {
		t.Errorf("clipped tail window wrong: %v", w)
	}
}

func TestScanSeed(t *testing.T) {
	idx, err := New(testRefs, false)
	if err != nil {
		t.Fatal(err)
	}
	pat := EncodeSeq([]byte("GGGG"))
	if off := idx.ScanSeed(1, pat, 0, 16); off != 4 {
		t.Errorf("scan found %d, want 4", off)
	}
	if off := idx.ScanSeed(0, pat, 0, 16); off != -1 {
		t.Errorf("scan on chr1 found %d, want -1", off)
	}
}

func TestSaveLoad(t *testing.T) {
	idx, err := New(testRefs, true)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "test.sdx")
	if err = idx.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err = os.Stat(path); err != nil {
		t.Fatal(err)
	}

	idx2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if idx2.NPatterns() != 2 || idx2.PatternName(1) != "chr2" || idx2.PatternLength(0) != 16 {
		t.Fatalf("metadata lost in round trip")
	}

	pat := EncodeSeq([]byte("ACGT"))
	if idx.RangeFor(pat) != idx2.RangeFor(pat) {
		t.Errorf("loaded index disagrees with original")
	}
}

func TestLongerReference(t *testing.T) {
	seq := strings.Repeat("ACGTTGCA", 64) + "GATTACAGATTACA"
	idx, err := New([]Reference{{Name: "r", Seq: []byte(seq)}}, false)
	if err != nil {
		t.Fatal(err)
	}

	for _, pat := range []string{"GATTACA", "ACGTTGCA", "TTGCAACG"} {
		r := idx.RangeFor(EncodeSeq([]byte(pat)))
		want := countOccurrences(seq, pat)
		if r.Size() != len(want) {
			t.Errorf("pattern %s: size %d, want %d", pat, r.Size(), len(want))
		}
		for i := 0; i < r.Size(); i++ {
			c, ok := idx.Resolve(true, r, i, len(pat))
			if !ok || seq[c.Off:int(c.Off)+len(pat)] != pat {
				t.Errorf("pattern %s: bad resolution at %d", pat, c.Off)
			}
		}
	}
}
