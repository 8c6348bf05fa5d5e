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
	"io"
	"sync"

	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"
	"github.com/seqforge/seedex/seedex/cmd/fmidx"
)

// AlnSink accepts finished alignment records. Emitting the header is
// a distinct call preceding any record. Implementations are safe for
// concurrent EmitRecord calls.
type AlnSink interface {
	EmitHeader() error
	EmitRecord(rec *Record) error
	Finalize() error
}

// SAMSink writes SAM records through biogo's writer. The single
// mutex makes record emission an atomic append.
type SAMSink struct {
	mu sync.Mutex

	w    io.Writer
	hdr  *sam.Header
	refs []*sam.Reference
	sw   *sam.Writer

	truncNames bool

	asTag, xsTag, xmTag, ytTag, yfTag sam.Tag
}

// NewSAMSink builds a sink over the index's reference dictionary.
func NewSAMSink(w io.Writer, idx *fmidx.Index, truncNames bool) (*SAMSink, error) {
	refs := make([]*sam.Reference, idx.NPatterns())
	for i := range refs {
		r, err := sam.NewReference(idx.PatternName(i), "", "", idx.PatternLength(i), nil, nil)
		if err != nil {
			return nil, errors.Wrap(err, "sam: reference")
		}
		refs[i] = r
	}
	hdr, err := sam.NewHeader(nil, refs)
	if err != nil {
		return nil, errors.Wrap(err, "sam: header")
	}
	return &SAMSink{
		w:          w,
		hdr:        hdr,
		refs:       refs,
		truncNames: truncNames,
		asTag:      sam.Tag{'A', 'S'},
		xsTag:      sam.Tag{'X', 'S'},
		xmTag:      sam.Tag{'X', 'M'},
		ytTag:      sam.Tag{'Y', 'T'},
		yfTag:      sam.Tag{'Y', 'F'},
	}, nil
}

// EmitHeader writes the header; it must precede any record.
func (s *SAMSink) EmitHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sw != nil {
		return errors.New("sam: header already emitted")
	}
	sw, err := sam.NewWriter(s.w, s.hdr, sam.FlagDecimal)
	if err != nil {
		return errors.Wrap(err, "sam: writer")
	}
	s.sw = sw
	return nil
}

func (s *SAMSink) ref(id int32) *sam.Reference {
	if id < 0 || int(id) >= len(s.refs) {
		return nil
	}
	return s.refs[id]
}

// EmitRecord converts and appends one record.
func (s *SAMSink) EmitRecord(rec *Record) error {
	name := string(rec.Name)
	if s.truncNames && len(name) > 255 {
		name = name[:255]
	}

	var cigar []sam.CigarOp
	if rec.Flags&FlagUnmapped == 0 {
		cigar = make([]sam.CigarOp, 0, len(rec.Edits))
		for _, e := range rec.Edits {
			var t sam.CigarOpType
			switch e.Op {
			case 'M':
				t = sam.CigarMatch
			case 'I':
				t = sam.CigarInsertion
			case 'D':
				t = sam.CigarDeletion
			case 'S':
				t = sam.CigarSoftClipped
			default:
				return errors.Errorf("sam: unknown edit op %q", e.Op)
			}
			cigar = append(cigar, sam.NewCigarOp(t, e.Len))
		}
	}

	var aux []sam.Aux
	addAux := func(t sam.Tag, v interface{}) error {
		a, err := sam.NewAux(t, v)
		if err != nil {
			return errors.Wrap(err, "sam: aux")
		}
		aux = append(aux, a)
		return nil
	}
	if rec.Flags&FlagUnmapped == 0 {
		if err := addAux(s.asTag, rec.Score); err != nil {
			return err
		}
		if rec.HasSec {
			if err := addAux(s.xsTag, rec.SecScore); err != nil {
				return err
			}
		}
		if err := addAux(s.xmTag, rec.Mismatches); err != nil {
			return err
		}
	}
	if rec.PairClass != "" {
		if err := addAux(s.ytTag, rec.PairClass); err != nil {
			return err
		}
	}
	if rec.Filter != "" {
		if err := addAux(s.yfTag, rec.Filter); err != nil {
			return err
		}
	}

	mapq := rec.MapQ
	if mapq > 255 {
		mapq = 255
	}

	r, err := sam.NewRecord(name,
		s.ref(rec.RefID), s.ref(rec.MateRefID),
		int(rec.Pos), int(rec.MatePos), rec.TLen,
		byte(mapq), cigar, rec.Seq, rec.Qual, aux)
	if err != nil {
		return errors.Wrap(err, "sam: record")
	}
	r.Flags = sam.Flags(rec.Flags)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sw == nil {
		return errors.New("sam: record emitted before header")
	}
	return errors.Wrap(s.sw.Write(r), "sam: write")
}

// Finalize flushes nothing; the SAM text writer is unbuffered here
// and the caller owns the underlying stream.
func (s *SAMSink) Finalize() error { return nil }
