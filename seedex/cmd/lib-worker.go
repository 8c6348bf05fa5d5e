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
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/seqforge/seedex/seedex/cmd/dp"
	"github.com/seqforge/seedex/seedex/cmd/fmidx"
	"gonum.org/v1/gonum/stat"
)

// Metrics are one worker's counters, merged periodically into the
// global aggregator.
type Metrics struct {
	Reads, Bases    uint64
	PairsIn         uint64
	SameRead        uint64
	SameReadBases   uint64

	Seeds, SeedHits   uint64
	BwtOps, SeedEdits uint64
	SeedRangesSkipped uint64

	CacheHitCurrent  uint64
	CacheHitLocal    uint64
	CacheHitShared   uint64
	CacheInsertFails uint64

	ResolveOps    uint64
	ResolveScans  uint64
	ResolveCached uint64

	RedundantHits uint64
	DpExtensions  uint64
	DpSaturations uint64
	MateRescues   uint64

	ConcordantPairs uint64
	DiscordantPairs uint64

	Aligned     uint64
	Unaligned   uint64
	FilteredN   uint64
	FilteredLen uint64

	// sampled concordant fragment lengths for the metrics line
	FragLens []float64
}

// Merge adds o into m and zeroes o.
func (m *Metrics) Merge(o *Metrics) {
	m.Reads += o.Reads
	m.Bases += o.Bases
	m.PairsIn += o.PairsIn
	m.SameRead += o.SameRead
	m.SameReadBases += o.SameReadBases
	m.Seeds += o.Seeds
	m.SeedHits += o.SeedHits
	m.BwtOps += o.BwtOps
	m.SeedEdits += o.SeedEdits
	m.SeedRangesSkipped += o.SeedRangesSkipped
	m.CacheHitCurrent += o.CacheHitCurrent
	m.CacheHitLocal += o.CacheHitLocal
	m.CacheHitShared += o.CacheHitShared
	m.CacheInsertFails += o.CacheInsertFails
	m.ResolveOps += o.ResolveOps
	m.ResolveScans += o.ResolveScans
	m.ResolveCached += o.ResolveCached
	m.RedundantHits += o.RedundantHits
	m.DpExtensions += o.DpExtensions
	m.DpSaturations += o.DpSaturations
	m.MateRescues += o.MateRescues
	m.ConcordantPairs += o.ConcordantPairs
	m.DiscordantPairs += o.DiscordantPairs
	m.Aligned += o.Aligned
	m.Unaligned += o.Unaligned
	m.FilteredN += o.FilteredN
	m.FilteredLen += o.FilteredLen
	if len(m.FragLens) < 10000 {
		m.FragLens = append(m.FragLens, o.FragLens...)
	}
	*o = Metrics{FragLens: o.FragLens[:0]}
}

// MetricsAggregator is the global accumulator; workers merge into it
// under its mutex every mergeIval reads.
type MetricsAggregator struct {
	mu    sync.Mutex
	total Metrics
	start time.Time
}

// NewMetricsAggregator starts the clock.
func NewMetricsAggregator() *MetricsAggregator {
	return &MetricsAggregator{start: time.Now()}
}

// Merge folds a worker's counters in.
func (a *MetricsAggregator) Merge(m *Metrics) {
	a.mu.Lock()
	a.total.Merge(m)
	a.mu.Unlock()
}

// Snapshot copies the current totals.
func (a *MetricsAggregator) Snapshot() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.total
	s.FragLens = append([]float64(nil), a.total.FragLens...)
	return s
}

// WriteLine emits one monotonically timestamped metrics line.
func (a *MetricsAggregator) WriteLine(w io.Writer) {
	s := a.Snapshot()
	elapsed := time.Since(a.start).Seconds()
	rps := float64(s.Reads) / elapsed

	var fragMean, fragSD float64
	if len(s.FragLens) > 0 {
		fragMean = stat.Mean(s.FragLens, nil)
		fragSD = stat.StdDev(s.FragLens, nil)
	}

	fmt.Fprintf(w,
		"%d\treads:%d\tbases:%d\taligned:%d\tunal:%d\tsame:%d\t"+
			"bwt:%d\tcache:%d/%d/%d\tresolve:%d\tdp:%d\tsat:%d\tresc:%d\t"+
			"conc:%d\tdisc:%d\tfrag:%.1f±%.1f\treads/sec:%.1f\n",
		time.Now().Unix(),
		s.Reads, s.Bases, s.Aligned, s.Unaligned, s.SameRead,
		s.BwtOps, s.CacheHitCurrent, s.CacheHitLocal, s.CacheHitShared,
		s.ResolveOps, s.DpExtensions, s.DpSaturations, s.MateRescues,
		s.ConcordantPairs, s.DiscordantPairs, fragMean, fragSD, rps)
}

// ---------------------------------------------------------------------
// pattern source

// PatternSource delivers reads one at a time to workers; it is
// responsible for thread-safe delivery.
type PatternSource interface {
	// Next returns the next read (pair). done is true when the source
	// is drained; the other fields are then nil.
	Next() (ra, rb *Read, paired, done bool, err error)
}

// ---------------------------------------------------------------------
// alignment options

// AlignOptions is the immutable configuration record built by the
// flag parser and threaded through construction of every component.
type AlignOptions struct {
	Threads int

	Seed  SeedTemplate
	NoFw  bool
	NoRc  bool

	Scoring  *Scoring
	Policy   *ReportPolicy
	Paired   *PairedPolicy
	Extend   ExtendOptions
	Resolver ResolverOptions
	DP       dp.Config

	CurrentCacheBytes int
	LocalCacheBytes   int
	SharedCacheBytes  int64 // 0 disables the shared scope

	MergeIval int           // reads between metric merges
	MetIval   time.Duration // 0 disables periodic metrics lines
	MetWriter io.Writer

	SanityChecks bool
}

// ---------------------------------------------------------------------
// worker

// Worker owns one pipeline instance: seed aligner, DP aligner, cache
// bundle and counters. All per-read work is sequential and
// non-suspending.
type Worker struct {
	id  int
	opt *AlignOptions
	idx *fmidx.Index

	inst     *SeedInstantiator
	searcher *SeedSearcher
	driver   *ExtensionDriver
	caches   *CacheBundle
	st       *ReportState

	src  PatternSource
	sink AlnSink
	agg  *MetricsAggregator

	met Metrics
	rng *rand.Rand

	seeds    []InstSeed
	results  [2]SeedResults

	// same-read short-circuit state
	prev     *Read
	prevRecs []Record
	prevPaired bool
	prevMate *Read
	prevMateRecs []Record

	sinceMerge int
	lastMet    time.Time
}

// NewWorker wires one worker's pipeline.
func NewWorker(id int, idx *fmidx.Index, opt *AlignOptions, shared *SharedCache,
	src PatternSource, sink AlnSink, agg *MetricsAggregator) *Worker {

	w := &Worker{
		id:   id,
		opt:  opt,
		idx:  idx,
		src:  src,
		sink: sink,
		agg:  agg,
		rng:  rand.New(rand.NewSource(int64(id) + 1)),
	}
	w.caches = NewCacheBundle(opt.CurrentCacheBytes, opt.LocalCacheBytes, shared, &w.met)
	w.inst = NewSeedInstantiator(opt.Scoring, opt.Seed, opt.NoFw, opt.NoRc)
	w.searcher = NewSeedSearcher(idx, w.caches, &w.met)

	ropt := opt.Resolver
	ropt.PolicyMult = opt.Policy.PolicyMult()
	if opt.Policy.Mode == ModeAll {
		// report-all must enumerate every range element
		ropt.ScanNarrowed = false
		ropt.PosFrac = 1
		ropt.RowMult = 1e9
		ropt.PolicyMult = 1 << 20
	}
	resolver := NewResolver(idx, ropt, &w.met)

	aligner := dp.NewAligner(opt.DP)
	w.driver = NewExtensionDriver(idx, opt.Scoring, aligner, resolver, w.caches,
		opt.Paired, opt.Extend, &w.met)
	w.st = NewReportState(opt.Policy, opt.SanityChecks)
	return w
}

// Run pulls reads until the source is drained, then flushes partial
// metrics. Shutdown is cooperative; there is no mid-read cancellation.
func (w *Worker) Run() error {
	w.lastMet = time.Now()
	for {
		ra, rb, paired, done, err := w.src.Next()
		if err != nil {
			return err
		}
		if done {
			break
		}

		if paired {
			w.processPair(ra, rb)
		} else {
			w.processUnpaired(ra)
		}

		w.sinceMerge++
		if w.sinceMerge >= w.opt.MergeIval {
			w.agg.Merge(&w.met)
			w.sinceMerge = 0
		}
		if w.id == 0 && w.opt.MetIval > 0 && w.opt.MetWriter != nil &&
			time.Since(w.lastMet) >= w.opt.MetIval {
			w.agg.WriteLine(w.opt.MetWriter)
			w.lastMet = time.Now()
		}
	}
	w.agg.Merge(&w.met)
	return nil
}

// seedRead applies pre-alignment filters and runs seed search for one
// mate. It returns false when the read cannot be aligned at all.
func (w *Worker) seedRead(rd *Read, mate int) bool {
	w.results[mate].Reset()
	if rd.Len() < w.opt.Seed.Length {
		rd.FilterLen = true
		w.met.FilteredLen++
		return false
	}
	if rd.Len() <= w.opt.Seed.Mismatches {
		rd.FilterLen = true
		w.met.FilteredLen++
		log.Warningf("read %s shorter than the seed mismatch count, skipped", rd.Name)
		return false
	}
	if !w.opt.Scoring.NFilter(rd.Enc) {
		rd.FilterN = true
		w.met.FilteredN++
		return false
	}

	w.seeds = w.seeds[:0]
	var nFw, nRc int
	w.seeds, nFw, nRc = w.inst.Instantiate(rd, w.seeds)
	w.met.Seeds += uint64(nFw + nRc)

	w.searcher.Search(w.seeds, &w.results[mate])
	w.met.SeedHits += uint64(len(w.results[mate].Hits))
	return true
}

func (w *Worker) emit(recs []Record) {
	for i := range recs {
		if err := w.sink.EmitRecord(&recs[i]); err != nil {
			checkError(err)
		}
		if recs[i].Flags&FlagSecondary != 0 {
			continue
		}
		if recs[i].Flags&FlagUnmapped == 0 {
			w.met.Aligned++
		} else {
			w.met.Unaligned++
		}
	}
}

// replay re-emits the previous read's records under a new name.
func replay(recs []Record, name []byte) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r
		out[i].Name = name
	}
	return out
}

func (w *Worker) processUnpaired(rd *Read) {
	w.met.Reads++
	w.met.Bases += uint64(rd.Len())

	// identical canonical sequence: replay the previous outcome
	if !w.prevPaired && rd.SameSequence(w.prev) {
		w.met.SameRead++
		w.met.SameReadBases += uint64(rd.Len())
		w.emit(replay(w.prevRecs, rd.Name))
		// the remembered state still matches this read
		return
	}

	w.st.Reset(false)
	w.rng.Seed(int64(rd.Seed))

	var recs []Record
	if !w.seedRead(rd, 0) {
		recs = []Record{unalignedRecord(rd, 0)}
	} else {
		w.st.Seeded()
		w.driver.AlignUnpaired(rd, &w.results[0], w.st, w.rng)
		recs = FinalizeUnpaired(rd, w.st, w.opt.Scoring, w.rng)
	}
	w.emit(recs)
	w.caches.FinishRead()
	w.remember(rd, nil, recs, nil, false)
}

func (w *Worker) processPair(rd1, rd2 *Read) {
	w.met.Reads += 2
	w.met.PairsIn++
	w.met.Bases += uint64(rd1.Len() + rd2.Len())

	if w.prevPaired && rd1.SameSequence(w.prev) && rd2.SameSequence(w.prevMate) {
		w.met.SameRead += 2
		w.met.SameReadBases += uint64(rd1.Len() + rd2.Len())
		w.emit(replay(w.prevRecs, rd1.Name))
		w.emit(replay(w.prevMateRecs, rd2.Name))
		return
	}

	w.st.Reset(true)
	w.rng.Seed(int64(rd1.Seed ^ rd2.Seed))

	ok1 := w.seedRead(rd1, 0)
	ok2 := w.seedRead(rd2, 1)

	// paired-mode N filter may consider the concatenation
	if ok1 && ok2 && w.opt.Scoring.NFilterPaired {
		p1, p2 := w.opt.Scoring.NFilterPair(rd1.Enc, rd2.Enc)
		if !p1 || !p2 {
			rd1.FilterN, rd2.FilterN = true, true
			w.met.FilteredN += 2
			ok1, ok2 = false, false
		}
	}

	var recs []Record
	if !ok1 && !ok2 {
		recs = []Record{
			unalignedRecord(rd1, FlagPaired|FlagMateUnmapped|FlagFirst),
			unalignedRecord(rd2, FlagPaired|FlagMateUnmapped|FlagSecond),
		}
	} else {
		w.st.Seeded()
		w.driver.AlignPair(rd1, rd2, &w.results[0], &w.results[1], w.st, w.rng)
		for _, p := range w.st.pairs {
			if p.Concordant && len(w.met.FragLens) < 4096 {
				w.met.FragLens = append(w.met.FragLens, float64(p.FragLen))
			}
		}
		recs = FinalizePaired(rd1, rd2, w.st, w.opt.Scoring, w.rng)
	}
	w.emit(recs)
	w.caches.FinishRead()

	// split the records between mates for replay bookkeeping
	var r1, r2 []Record
	for _, r := range recs {
		if r.Flags&FlagSecond != 0 {
			r2 = append(r2, r)
		} else {
			r1 = append(r1, r)
		}
	}
	w.remember(rd1, rd2, r1, r2, true)
}

// remember keeps deep copies of the read and its records for the
// same-read short-circuit of the following read.
func (w *Worker) remember(rd, mate *Read, recs, mateRecs []Record, paired bool) {
	if w.prev == nil {
		w.prev = &Read{}
	}
	copyReadKey(w.prev, rd)
	if paired {
		if w.prevMate == nil {
			w.prevMate = &Read{}
		}
		copyReadKey(w.prevMate, mate)
	}
	w.prevPaired = paired
	w.prevRecs = deepCopyRecords(recs)
	w.prevMateRecs = deepCopyRecords(mateRecs)
}

func copyReadKey(dst, src *Read) {
	dst.Name = append(dst.Name[:0], src.Name...)
	dst.Seq = append(dst.Seq[:0], src.Seq...)
	dst.Qual = append(dst.Qual[:0], src.Qual...)
}

// deepCopyRecords detaches records from the read buffers they alias.
func deepCopyRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r
		out[i].Name = append([]byte(nil), r.Name...)
		out[i].Seq = append([]byte(nil), r.Seq...)
		out[i].Qual = append([]byte(nil), r.Qual...)
		out[i].Edits = append([]dp.EditOp(nil), r.Edits...)
	}
	return out
}

// ---------------------------------------------------------------------
// pipeline runner

// RunPipelines starts one worker per thread over a shared source and
// sink, and blocks until the source drains.
func RunPipelines(idx *fmidx.Index, opt *AlignOptions, src PatternSource, sink AlnSink) error {
	if err := sink.EmitHeader(); err != nil {
		return err
	}

	var shared *SharedCache
	if opt.SharedCacheBytes > 0 {
		shared = NewSharedCache(opt.SharedCacheBytes, opt.Threads)
	}

	agg := NewMetricsAggregator()

	var wg sync.WaitGroup
	errs := make([]error, opt.Threads)
	for i := 0; i < opt.Threads; i++ {
		w := NewWorker(i, idx, opt, shared, src, sink, agg)
		wg.Add(1)
		go func(w *Worker, i int) {
			defer wg.Done()
			errs[i] = w.Run()
		}(w, i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	if opt.MetWriter != nil {
		agg.WriteLine(opt.MetWriter)
	}
	return sink.Finalize()
}
