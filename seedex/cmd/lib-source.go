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
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/seqforge/seedex/seedex/util"
)

// QualEncoding selects how the quality line is decoded into 0-93
// integers.
type QualEncoding int

const (
	QualPhred33 QualEncoding = iota
	QualPhred64
	QualSolexa
	QualInts
)

// SourceOptions configure the read source.
type SourceOptions struct {
	Unpaired    []string
	Mate1       []string
	Mate2       []string
	Interleaved []string

	Quals QualEncoding

	Trim5 int
	Trim3 int

	Skip uint64 // reads (or pairs) skipped before aligning
	Upto uint64 // 0: no limit

	// called when a new input file is opened, for progress display
	OnFile func(path string)
}

// fastxPatternSource is the lock-guarded FIFO all workers pull from.
type fastxPatternSource struct {
	mu  sync.Mutex
	opt SourceOptions

	paired      bool
	interleaved bool
	files1      []string
	files2      []string
	fi          int
	r1, r2      *fastx.Reader

	delivered uint64
	limit     uint64 // skip+upto, saturating
	skipped   uint64

	done bool
}

// NewPatternSource builds the source. Exactly one input style must be
// present: unpaired files, mate1+mate2 file lists of equal length, or
// interleaved files.
func NewPatternSource(opt SourceOptions) (PatternSource, error) {
	s := &fastxPatternSource{opt: opt}
	switch {
	case len(opt.Unpaired) > 0:
		s.files1 = opt.Unpaired
	case len(opt.Interleaved) > 0:
		s.files1 = opt.Interleaved
		s.paired = true
		s.interleaved = true
	case len(opt.Mate1) > 0:
		if len(opt.Mate1) != len(opt.Mate2) {
			return nil, errors.New("source: -1 and -2 need the same number of files")
		}
		s.files1 = opt.Mate1
		s.files2 = opt.Mate2
		s.paired = true
	default:
		return nil, errors.New("source: no input files")
	}

	// the original guarded upto+skip with a comparison that could
	// never fire; saturate unconditionally instead
	if opt.Upto == 0 {
		s.limit = math.MaxUint64
	} else {
		s.limit = util.SaturatingAddUint64(opt.Upto, opt.Skip)
	}
	return s, nil
}

// nextFile advances to the next input file pair, returning false when
// all files are consumed.
func (s *fastxPatternSource) nextFile() (bool, error) {
	if s.r1 != nil {
		s.r1.Close()
		s.r1 = nil
	}
	if s.r2 != nil {
		s.r2.Close()
		s.r2 = nil
	}
	if s.fi >= len(s.files1) {
		return false, nil
	}

	var err error
	s.r1, err = fastx.NewReader(nil, s.files1[s.fi], "")
	if err != nil {
		return false, errors.Wrapf(err, "source: open %s", s.files1[s.fi])
	}
	if s.opt.OnFile != nil {
		s.opt.OnFile(s.files1[s.fi])
	}
	if len(s.files2) > 0 {
		s.r2, err = fastx.NewReader(nil, s.files2[s.fi], "")
		if err != nil {
			return false, errors.Wrapf(err, "source: open %s", s.files2[s.fi])
		}
	}
	s.fi++
	return true, nil
}

// readOne pulls one record from a reader, advancing files on EOF when
// advance is allowed.
func (s *fastxPatternSource) readOne(r **fastx.Reader, advance bool) (*fastx.Record, error) {
	for {
		if *r == nil {
			if !advance {
				return nil, nil
			}
			ok, err := s.nextFile()
			if err != nil || !ok {
				return nil, err
			}
		}
		record, err := (*r).Read()
		if err == io.EOF {
			if !advance {
				return nil, nil
			}
			ok, err := s.nextFile()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil
			}
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "source: read")
		}
		return record, nil
	}
}

// Next delivers the next read or pair. It implements PatternSource.
func (s *fastxPatternSource) Next() (*Read, *Read, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.done || s.delivered >= s.limit {
			s.done = true
			return nil, nil, false, true, nil
		}

		rec1, err := s.readOne(&s.r1, true)
		if err != nil {
			return nil, nil, false, true, err
		}
		if rec1 == nil {
			s.done = true
			return nil, nil, false, true, nil
		}

		var rec2 *fastx.Record
		if s.paired {
			if s.interleaved {
				rec2, err = s.readOne(&s.r1, false)
			} else {
				rec2, err = s.readOne(&s.r2, false)
			}
			if err != nil {
				return nil, nil, false, true, err
			}
			if rec2 == nil {
				return nil, nil, false, true,
					errors.New("source: odd number of records for paired input")
			}
		}

		s.delivered++
		if s.delivered <= s.opt.Skip {
			s.skipped++
			continue
		}

		ra, err := s.buildRead(rec1, 0)
		if err != nil {
			return nil, nil, false, true, err
		}
		if !s.paired {
			return ra, nil, false, false, nil
		}
		ra.Mate = 1
		rb, err := s.buildRead(rec2, 2)
		if err != nil {
			return nil, nil, false, true, err
		}
		return ra, rb, true, false, nil
	}
}

// buildRead copies a parsed record into a pipeline Read, applying
// trimming and quality decoding.
func (s *fastxPatternSource) buildRead(rec *fastx.Record, mate int) (*Read, error) {
	rd := GetRead()
	rd.Mate = mate
	rd.Name = append(rd.Name, rec.ID...)

	seqb := rec.Seq.Seq
	qual, err := decodeQuals(rec.Seq.Qual, s.opt.Quals)
	if err != nil {
		return nil, err
	}

	lo := s.opt.Trim5
	hi := len(seqb) - s.opt.Trim3
	if lo > len(seqb) {
		lo = len(seqb)
	}
	if hi < lo {
		hi = lo
	}
	rd.Seq = append(rd.Seq, seqb[lo:hi]...)
	if len(qual) >= hi {
		rd.Qual = append(rd.Qual, qual[lo:hi]...)
	} else {
		for range rd.Seq {
			rd.Qual = append(rd.Qual, 40)
		}
	}
	rd.Init()
	return rd, nil
}

// decodeQuals normalizes a quality line into 0-93 integers.
func decodeQuals(q []byte, enc QualEncoding) ([]byte, error) {
	switch enc {
	case QualPhred33, QualPhred64:
		off := byte(33)
		if enc == QualPhred64 {
			off = 64
		}
		out := make([]byte, len(q))
		for i, c := range q {
			if c < off {
				return nil, errors.Errorf("source: quality char %q below encoding offset", c)
			}
			v := c - off
			if v > 93 {
				v = 93
			}
			out[i] = v
		}
		return out, nil
	case QualSolexa:
		out := make([]byte, len(q))
		for i, c := range q {
			sol := float64(int(c) - 64)
			// solexa odds to phred scale
			p := 10 * math.Log10(math.Pow(10, sol/10)+1)
			v := int(p + 0.5)
			if v > 93 {
				v = 93
			}
			if v < 0 {
				v = 0
			}
			out[i] = byte(v)
		}
		return out, nil
	case QualInts:
		fields := strings.Fields(string(q))
		out := make([]byte, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, errors.Wrap(err, "source: integer quality")
			}
			if v < 0 {
				v = 0
			}
			if v > 93 {
				v = 93
			}
			out = append(out, byte(v))
		}
		return out, nil
	}
	return nil, errors.New("source: unknown quality encoding")
}
