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
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/seqforge/seedex/seedex/cmd/dp"
	"github.com/seqforge/seedex/seedex/cmd/fmidx"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Align reads against an index",
	Long: `Align reads against an index

Input should be (gzipped) FASTQ or FASTA records from files or stdin:
unpaired via -U, paired via -1/-2 or --interleaved.

Seeds of length -L are tiled along each read at the interval given by -i,
searched against the index with up to -N mismatches, and seed hits are
extended by banded gapped dynamic programming. Alignments scoring at least
the --score-min function pass. Output is SAM.

Reporting is exactly one of:
  -M <n>  best alignment with MAPQ, searching up to n+1 candidates (default)
  -k <n>  up to n alignments per read
  -a      all alignments

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		outFile := getFlagString(cmd, "out-file")

		var fhLog *os.File
		if opt.LogToFile() {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		outputLog := opt.Verbose || opt.LogToFile()

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}
			if fhLog != nil {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------
		// presets first: they only touch flags the user left untouched

		local := getFlagBool(cmd, "local")
		if f := getFlagString(cmd, "preset-file"); f != "" {
			checkError(loadPresetFile(expandPath(f)))
		}
		if p := getFlagString(cmd, "preset"); p != "" {
			checkError(applyPreset(cmd, p, local))
		}

		// ---------------------------------------------------------------
		// alignment parameters

		seedLen := getFlagPositiveInt(cmd, "seed-len")
		if seedLen < 4 || seedLen > 31 {
			checkError(fmt.Errorf("value of flag -L/--seed-len (%d) should be in range [4, 31]", seedLen))
		}
		seedMM := getFlagNonNegativeInt(cmd, "seed-mismatches")
		if seedMM > 2 {
			checkError(fmt.Errorf("value of flag -N/--seed-mismatches (%d) should be 0, 1 or 2", seedMM))
		}
		tpl := SeedTemplate{Length: seedLen, Mismatches: seedMM}
		checkError(CheckSeedTemplate(tpl))

		// scoring model, seeded from the mode's defaults
		sc := DefaultScoring
		if local {
			sc = DefaultLocalScoring
		}
		if cmd.Flags().Changed("ma") {
			sc.MatchBonus = getFlagNonNegativeInt(cmd, "ma")
		}
		if cmd.Flags().Changed("mp") {
			mx, mn, err := parseIntPair(getFlagString(cmd, "mp"))
			checkError(err)
			sc.MMPenMax, sc.MMPenMin = mx, mn
			sc.QualScaledMM = mx != mn
		}
		if cmd.Flags().Changed("np") {
			sc.NPen = getFlagNonNegativeInt(cmd, "np")
		}
		if cmd.Flags().Changed("rdg") {
			open, ext, err := parseIntPair(getFlagString(cmd, "rdg"))
			checkError(err)
			sc.ReadGapOpen, sc.ReadGapExtend = open, ext
		}
		if cmd.Flags().Changed("rfg") {
			open, ext, err := parseIntPair(getFlagString(cmd, "rfg"))
			checkError(err)
			sc.RefGapOpen, sc.RefGapExtend = open, ext
		}
		if cmd.Flags().Changed("score-min") {
			fn, err := ParseSimpleFunc(getFlagString(cmd, "score-min"))
			checkError(err)
			sc.MinScoreFn = fn
		}
		if cmd.Flags().Changed("n-ceil") {
			fn, err := ParseSimpleFunc(getFlagString(cmd, "n-ceil"))
			checkError(err)
			sc.NCeilFn = fn
		}
		if cmd.Flags().Changed("seed-interval") {
			fn, err := ParseSimpleFunc(getFlagString(cmd, "seed-interval"))
			checkError(err)
			sc.SeedIvalFn = fn
		}
		sc.NFilterPaired = getFlagBool(cmd, "n-filter-paired")
		checkError(CheckScoring(&sc))

		// ---------------------------------------------------------------
		// reporting policy: -k, -a and -M are mutually exclusive

		nPolicy := 0
		for _, f := range []string{"k", "all", "best"} {
			if cmd.Flags().Changed(f) {
				nPolicy++
			}
		}
		if nPolicy > 1 {
			checkError(fmt.Errorf("flags -k, -a and -M are mutually exclusive"))
		}
		policy := DefaultReportPolicy
		switch {
		case getFlagBool(cmd, "all"):
			policy.Mode = ModeAll
			policy.Limit = 0
		case cmd.Flags().Changed("k"):
			policy.Mode = ModeTopK
			policy.Limit = getFlagPositiveInt(cmd, "k")
		default:
			policy.Mode = ModeBest
			policy.Limit = getFlagPositiveInt(cmd, "best")
		}
		policy.Discordant = !getFlagBool(cmd, "no-discordant")
		policy.Mixed = !getFlagBool(cmd, "no-mixed")

		// ---------------------------------------------------------------
		// paired-end policy

		pp := DefaultPairedPolicy
		pp.MinFrag = getFlagNonNegativeInt(cmd, "minins")
		pp.MaxFrag = getFlagPositiveInt(cmd, "maxins")
		if pp.MinFrag > pp.MaxFrag {
			checkError(fmt.Errorf("-I/--minins (%d) larger than -X/--maxins (%d)", pp.MinFrag, pp.MaxFrag))
		}
		switch {
		case getFlagBool(cmd, "rf"):
			pp.Orient = OrientRF
		case getFlagBool(cmd, "ff"):
			pp.Orient = OrientFF
		default:
			pp.Orient = OrientFR
		}
		pp.Dovetail = !getFlagBool(cmd, "no-dovetail") && getFlagBool(cmd, "dovetail")
		pp.Contain = !getFlagBool(cmd, "no-contain")
		pp.Overlap = !getFlagBool(cmd, "no-overlap")

		// ---------------------------------------------------------------
		// DP configuration

		dpCfg := dp.Config{
			MaxHalf:       getFlagPositiveInt(cmd, "band-half"),
			GapBarrier:    getFlagPositiveInt(cmd, "gbar"),
			ReadGapOpen:   sc.ReadGapOpen,
			ReadGapExtend: sc.ReadGapExtend,
			RefGapOpen:    sc.RefGapOpen,
			RefGapExtend:  sc.RefGapExtend,
			RowFirst:      getFlagBool(cmd, "row-first"),
		}
		if local {
			dpCfg.Mode = dp.Local
		} else {
			dpCfg.Mode = dp.EndToEnd
		}

		ext := DefaultExtendOptions
		ext.MaxDpFails = getFlagPositiveInt(cmd, "dp-fails")
		ext.MaxExtendsPerHit = getFlagPositiveInt(cmd, "extends-per-hit")
		ext.DpPad = getFlagNonNegativeInt(cmd, "dpad")

		rv := DefaultResolverOptions
		rv.ScanNarrowed = getFlagBool(cmd, "scan-narrowed")
		rv.NarrowWidth = getFlagPositiveInt(cmd, "narrow-width")

		// ---------------------------------------------------------------
		// index

		dbDir := getFlagString(cmd, "index")
		if dbDir == "" {
			checkError(fmt.Errorf("flag -d/--index needed"))
		}
		dbDir = expandPath(dbDir)

		if getFlagBool(cmd, "mm") {
			log.Warning("--mm: this index format is always loaded into process memory")
		}

		if outputLog {
			log.Infof("seedex v%s", VERSION)
			log.Info()
			log.Infof("loading index: %s", dbDir)
		}
		idx, err := fmidx.Load(dbDir)
		checkError(err)
		if seedMM > 0 && !idx.Bidirectional() {
			checkError(fmt.Errorf("index lacks the reverse text needed for -N %d; rebuild with mismatches enabled", seedMM))
		}
		if outputLog {
			log.Infof("index loaded in %s: %d reference(s)", time.Since(timeStart), idx.NPatterns())
		}

		// ---------------------------------------------------------------
		// input

		src1 := expandPaths(getFlagStringSlice(cmd, "unpaired"))
		m1 := expandPaths(getFlagStringSlice(cmd, "mate1"))
		m2 := expandPaths(getFlagStringSlice(cmd, "mate2"))
		il := expandPaths(getFlagStringSlice(cmd, "interleaved"))

		if f := getFlagString(cmd, "infile-list"); f != "" {
			files, err := getFileListFromFile(expandPath(f))
			checkError(err)
			src1 = append(src1, expandPaths(files)...)
		}
		if d := getFlagString(cmd, "in-dir"); d != "" {
			re, err := regexp.Compile(getFlagString(cmd, "file-regexp"))
			checkError(err)
			files, err := listInputDir(expandPath(d), re, opt.Threads)
			checkError(err)
			src1 = append(src1, files...)
		}

		var quals QualEncoding
		switch {
		case getFlagBool(cmd, "phred64"):
			quals = QualPhred64
		case getFlagBool(cmd, "solexa-quals"):
			quals = QualSolexa
		case getFlagBool(cmd, "int-quals"):
			quals = QualInts
		default:
			quals = QualPhred33
		}

		sopt := SourceOptions{
			Unpaired:    src1,
			Mate1:       m1,
			Mate2:       m2,
			Interleaved: il,
			Quals:       quals,
			Trim5:       getFlagNonNegativeInt(cmd, "trim5"),
			Trim3:       getFlagNonNegativeInt(cmd, "trim3"),
			Skip:        getFlagUint64(cmd, "skip"),
			Upto:        getFlagUint64(cmd, "upto"),
		}

		nFiles := len(src1) + len(m1) + len(il)
		var progress *mpb.Progress
		if opt.Verbose && !opt.LogToFile() && nFiles > 1 {
			progress = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar := progress.AddBar(int64(nFiles),
				mpb.PrependDecorators(
					decor.Name("input files: "),
					decor.CountersNoUnit("%d/%d"),
				),
				mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO)),
			)
			sopt.OnFile = func(string) { bar.Increment() }
		}

		source, err := NewPatternSource(sopt)
		checkError(err)

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"))
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		sink, err := NewSAMSink(outfh, idx, !getFlagBool(cmd, "no-truncate-names"))
		checkError(err)

		// metrics
		var metW *os.File
		aopt := &AlignOptions{
			Threads: opt.Threads,

			Seed: tpl,
			NoFw: getFlagBool(cmd, "nofw"),
			NoRc: getFlagBool(cmd, "norc"),

			Scoring:  &sc,
			Policy:   &policy,
			Paired:   &pp,
			Extend:   ext,
			Resolver: rv,
			DP:       dpCfg,

			CurrentCacheBytes: getFlagPositiveInt(cmd, "current-cache") << 20,
			LocalCacheBytes:   getFlagNonNegativeInt(cmd, "local-cache") << 20,
			SharedCacheBytes:  int64(getFlagNonNegativeInt(cmd, "shared-cache")) << 20,

			MergeIval: getFlagPositiveInt(cmd, "merge-ival"),
			MetIval:   time.Duration(getFlagNonNegativeInt(cmd, "met-ival")) * time.Second,

			SanityChecks: getFlagBool(cmd, "sanity"),
		}
		if f := getFlagString(cmd, "met-file"); f != "" {
			metW, err = os.Create(expandPath(f))
			checkError(err)
			defer metW.Close()
			aopt.MetWriter = metW
		} else if getFlagBool(cmd, "met-stderr") {
			aopt.MetWriter = os.Stderr
		}

		if outputLog {
			log.Infof("aligning with %d threads, seed length %d, %d mismatch(es), interval %s",
				aopt.Threads, seedLen, seedMM, sc.SeedIvalFn.String())
		}

		checkError(RunPipelines(idx, aopt, source, sink))
		if progress != nil {
			progress.Wait()
		}

		if outputLog {
			log.Infof("done aligning")
			if outFile != "-" {
				log.Infof("alignments saved to: %s", outFile)
			}
		}
	},
}

// parseIntPair parses "A,B" flag values like --mp 6,2.
func parseIntPair(s string) (int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected two comma-separated integers: %s", s)
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid integer in %s", s)
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid integer in %s", s)
	}
	return a, b, nil
}

func init() {
	RootCmd.AddCommand(alignCmd)

	// input
	alignCmd.Flags().StringP("index", "d", "",
		formatFlagUsage(`Index file: a gob-serialized FM index of the references.`))
	alignCmd.Flags().StringSliceP("unpaired", "U", []string{},
		formatFlagUsage("Files with unpaired reads ('-' for stdin)."))
	alignCmd.Flags().StringSliceP("mate1", "1", []string{},
		formatFlagUsage("Files with mate-1 reads, matched with -2."))
	alignCmd.Flags().StringSliceP("mate2", "2", []string{},
		formatFlagUsage("Files with mate-2 reads, matched with -1."))
	alignCmd.Flags().StringSliceP("interleaved", "", []string{},
		formatFlagUsage("Files with interleaved paired reads."))
	alignCmd.Flags().StringP("infile-list", "", "",
		formatFlagUsage("File with unpaired input paths, one per line."))
	alignCmd.Flags().StringP("in-dir", "", "",
		formatFlagUsage("Directory to scan for unpaired input files."))
	alignCmd.Flags().StringP("file-regexp", "", `\.(f[aq]|fast[aq])(\.gz)?$`,
		formatFlagUsage("Regular expression of file names in --in-dir."))
	alignCmd.Flags().Uint64P("skip", "s", 0,
		formatFlagUsage("Skip the first N reads or pairs."))
	alignCmd.Flags().Uint64P("upto", "u", 0,
		formatFlagUsage("Align at most N reads or pairs after -s (0 for no limit)."))
	alignCmd.Flags().IntP("trim5", "5", 0,
		formatFlagUsage("Trim N bases from the 5' end of each read."))
	alignCmd.Flags().IntP("trim3", "3", 0,
		formatFlagUsage("Trim N bases from the 3' end of each read."))
	alignCmd.Flags().BoolP("phred64", "", false,
		formatFlagUsage("Qualities are Phred+64."))
	alignCmd.Flags().BoolP("solexa-quals", "", false,
		formatFlagUsage("Qualities are Solexa scale."))
	alignCmd.Flags().BoolP("int-quals", "", false,
		formatFlagUsage("Qualities are space-separated integers."))

	// alignment
	alignCmd.Flags().IntP("seed-mismatches", "N", 0,
		formatFlagUsage("Mismatches allowed in seed matching: 0, 1 or 2."))
	alignCmd.Flags().IntP("seed-len", "L", 22,
		formatFlagUsage("Seed substring length: 4-31."))
	alignCmd.Flags().StringP("seed-interval", "i", "S,1,1.15",
		formatFlagUsage(`Function of read length giving the interval between seed offsets, e.g. "S,1,1.15".`))
	alignCmd.Flags().StringP("n-ceil", "", "L,0,0.15",
		formatFlagUsage("Function of read length giving the maximum tolerated Ns."))
	alignCmd.Flags().IntP("dpad", "", 15,
		formatFlagUsage("Reference window padding around the projected read span."))
	alignCmd.Flags().IntP("gbar", "", 4,
		formatFlagUsage("Disallow gaps within N positions of either read end."))
	alignCmd.Flags().IntP("band-half", "", 15,
		formatFlagUsage("Half-width of the dynamic programming band."))
	alignCmd.Flags().BoolP("nofw", "", false,
		formatFlagUsage("Do not align the forward strand of reads."))
	alignCmd.Flags().BoolP("norc", "", false,
		formatFlagUsage("Do not align the reverse-complement strand of reads."))
	alignCmd.Flags().BoolP("local", "", false,
		formatFlagUsage("Local alignment: read ends may be soft-clipped (default is end-to-end)."))
	alignCmd.Flags().BoolP("row-first", "", false,
		formatFlagUsage("Rank backtrace cells by row before score."))

	// scoring
	alignCmd.Flags().IntP("ma", "", 0,
		formatFlagUsage("Match bonus (2 in --local mode)."))
	alignCmd.Flags().StringP("mp", "", "6,2",
		formatFlagUsage("Maximum and minimum mismatch penalty, quality-scaled between them."))
	alignCmd.Flags().IntP("np", "", 1,
		formatFlagUsage("Penalty for positions with N in read or reference."))
	alignCmd.Flags().StringP("rdg", "", "5,3",
		formatFlagUsage("Read gap open and extend penalties."))
	alignCmd.Flags().StringP("rfg", "", "5,3",
		formatFlagUsage("Reference gap open and extend penalties."))
	alignCmd.Flags().StringP("score-min", "", "L,-0.6,-0.6",
		formatFlagUsage(`Function of read length giving the minimum passing score ("G,20,8" in --local mode).`))
	alignCmd.Flags().BoolP("n-filter-paired", "", false,
		formatFlagUsage("Apply the N filter to the concatenation of both mates."))

	// reporting
	alignCmd.Flags().IntP("k", "k", 1,
		formatFlagUsage("Report up to N alignments per read."))
	alignCmd.Flags().BoolP("all", "a", false,
		formatFlagUsage("Report all alignments."))
	alignCmd.Flags().IntP("best", "M", 1,
		formatFlagUsage("Report the best alignment, searching up to N+1 candidates for MAPQ."))
	alignCmd.Flags().BoolP("no-discordant", "", false,
		formatFlagUsage("Suppress discordant pair alignments."))
	alignCmd.Flags().BoolP("no-mixed", "", false,
		formatFlagUsage("Suppress unpaired alignments for paired reads."))

	// paired-end
	alignCmd.Flags().IntP("minins", "I", 0,
		formatFlagUsage("Minimum fragment length for concordant pairs."))
	alignCmd.Flags().IntP("maxins", "X", 500,
		formatFlagUsage("Maximum fragment length for concordant pairs."))
	alignCmd.Flags().BoolP("rf", "", false,
		formatFlagUsage("Mates are in reverse/forward orientation."))
	alignCmd.Flags().BoolP("ff", "", false,
		formatFlagUsage("Mates are on the same strand."))
	alignCmd.Flags().BoolP("dovetail", "", false,
		formatFlagUsage("Allow the downstream mate to extend past the upstream one."))
	alignCmd.Flags().BoolP("no-dovetail", "", false,
		formatFlagUsage("Forbid dovetailing pairs."))
	alignCmd.Flags().BoolP("no-contain", "", false,
		formatFlagUsage("Forbid one mate containing the other."))
	alignCmd.Flags().BoolP("no-overlap", "", false,
		formatFlagUsage("Forbid overlapping mates."))

	// resolver
	alignCmd.Flags().BoolP("scan-narrowed", "", false,
		formatFlagUsage("Substitute a reference scan for narrow range walks (ignored with -a)."))
	alignCmd.Flags().IntP("narrow-width", "", 4,
		formatFlagUsage("Maximum range size the reference scanner may replace."))

	// effort
	alignCmd.Flags().IntP("dp-fails", "D", 15,
		formatFlagUsage("Consecutive failed extensions before giving up on a read."))
	alignCmd.Flags().IntP("extends-per-hit", "R", 2,
		formatFlagUsage("Coordinates extended per seed hit."))

	// presets
	alignCmd.Flags().StringP("preset", "", "",
		formatFlagUsage(`Named preset: very-fast, fast, sensitive, very-sensitive; "%LOCAL%" in the name expands against --local.`))
	alignCmd.Flags().StringP("preset-file", "", "",
		formatFlagUsage("TOML file with additional presets."))

	// performance / memory
	alignCmd.Flags().BoolP("mm", "", false,
		formatFlagUsage("Memory-map the index (accepted for compatibility)."))
	alignCmd.Flags().IntP("current-cache", "", 16,
		formatFlagUsage("Per-read cache budget in MiB."))
	alignCmd.Flags().IntP("local-cache", "", 32,
		formatFlagUsage("Per-worker cache budget in MiB (0 disables)."))
	alignCmd.Flags().IntP("shared-cache", "", 0,
		formatFlagUsage("Process-shared cache budget in MiB (0 disables)."))

	// metrics
	alignCmd.Flags().IntP("merge-ival", "", 16,
		formatFlagUsage("Reads between worker metric merges."))
	alignCmd.Flags().IntP("met-ival", "", 0,
		formatFlagUsage("Seconds between metrics lines (0 disables)."))
	alignCmd.Flags().StringP("met-file", "", "",
		formatFlagUsage("Write metrics lines to this file."))
	alignCmd.Flags().BoolP("met-stderr", "", false,
		formatFlagUsage("Write metrics lines to standard error."))

	// output
	alignCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))
	alignCmd.Flags().BoolP("no-truncate-names", "", false,
		formatFlagUsage("Do not truncate query names at 255 characters."))
	alignCmd.Flags().BoolP("sanity", "", false,
		formatFlagUsage("Enable internal invariant assertions."))

	alignCmd.SetUsageTemplate(usageTemplate("-d <index> [-U reads.fq.gz | -1 r1.fq -2 r2.fq] [-o out.sam]"))
}
