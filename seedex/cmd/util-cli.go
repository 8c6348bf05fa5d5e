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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/iafan/cwalk"
	gzip "github.com/klauspost/pgzip"
	"github.com/mattn/go-colorable"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/shenwei356/go-logging"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
)

var log = logging.MustGetLogger("seedex")

func init() {
	backend := logging.NewLogBackend(colorable.NewColorableStderr(), "", 0)
	format := logging.MustStringFormatter(
		`%{color}[%{level:.4s}]%{color:reset} %{message}`)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))
}

// addLog mirrors log output into a file; callers close the handle.
func addLog(file string, verbose bool) *os.File {
	fh, err := os.Create(file)
	checkError(err)

	backend := logging.NewLogBackend(fh, "", 0)
	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} [%{level:.4s}] %{message}`)
	b2 := logging.NewBackendFormatter(backend, format)

	if verbose {
		stderr := logging.NewBackendFormatter(
			logging.NewLogBackend(colorable.NewColorableStderr(), "", 0),
			logging.MustStringFormatter(`%{color}[%{level:.4s}]%{color:reset} %{message}`))
		logging.SetBackend(stderr, b2)
	} else {
		logging.SetBackend(b2)
	}
	return fh
}

// checkError prints fatal errors and exits: exit 1 for configuration
// and I/O errors before alignment starts, per the error contract.
func checkError(err error) {
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// Options are the global flags shared by all commands.
type Options struct {
	Threads int
	Verbose bool
	LogFile string
}

// LogToFile reports whether log output is mirrored to a file.
func (o *Options) LogToFile() bool { return o.LogFile != "" }

// getOptions reads the persistent flags. Parallelism knobs of the
// runtime and the sorting library follow the thread count, so no
// later code needs to consult it for anything but worker counts.
func getOptions(cmd *cobra.Command) *Options {
	opt := &Options{
		Threads: getFlagNonNegativeInt(cmd, "threads"),
		Verbose: !getFlagBool(cmd, "quiet"),
		LogFile: getFlagString(cmd, "log"),
	}
	if opt.Threads == 0 {
		opt.Threads = runtime.NumCPU()
	}
	runtime.GOMAXPROCS(opt.Threads)
	sorts.MaxProcs = opt.Threads
	return opt
}

// ---------------------------------------------------------------------
// flag getters

func getFlagBool(cmd *cobra.Command, flag string) bool {
	v, err := cmd.Flags().GetBool(flag)
	checkError(err)
	return v
}

func getFlagString(cmd *cobra.Command, flag string) string {
	v, err := cmd.Flags().GetString(flag)
	checkError(err)
	return v
}

func getFlagStringSlice(cmd *cobra.Command, flag string) []string {
	v, err := cmd.Flags().GetStringSlice(flag)
	checkError(err)
	return v
}

func getFlagInt(cmd *cobra.Command, flag string) int {
	v, err := cmd.Flags().GetInt(flag)
	checkError(err)
	return v
}

func getFlagUint64(cmd *cobra.Command, flag string) uint64 {
	v, err := cmd.Flags().GetUint64(flag)
	checkError(err)
	return v
}

func getFlagFloat64(cmd *cobra.Command, flag string) float64 {
	v, err := cmd.Flags().GetFloat64(flag)
	checkError(err)
	return v
}

func getFlagPositiveInt(cmd *cobra.Command, flag string) int {
	v := getFlagInt(cmd, flag)
	if v <= 0 {
		checkError(fmt.Errorf("value of flag --%s should be positive: %d", flag, v))
	}
	return v
}

func getFlagNonNegativeInt(cmd *cobra.Command, flag string) int {
	v := getFlagInt(cmd, flag)
	if v < 0 {
		checkError(fmt.Errorf("value of flag --%s should not be negative: %d", flag, v))
	}
	return v
}

func getFlagNonNegativeFloat64(cmd *cobra.Command, flag string) float64 {
	v := getFlagFloat64(cmd, flag)
	if v < 0 {
		checkError(fmt.Errorf("value of flag --%s should not be negative: %f", flag, v))
	}
	return v
}

// ---------------------------------------------------------------------
// paths and files

func isStdin(file string) bool {
	return file == "-"
}

// expandPath expands a leading ~ in paths.
func expandPath(path string) string {
	p, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return p
}

func expandPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = expandPath(p)
	}
	return out
}

// getFileListFromFile reads one path per line.
func getFileListFromFile(file string) ([]string, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read file list: %s", file)
	}

	var files []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		files = append(files, line)
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read file list: %s", file)
	}
	return files, fh.Close()
}

// listInputDir walks a directory with several workers and returns the
// files whose names match pattern, sorted so that the read order is
// reproducible across runs.
func listInputDir(dir string, pattern *regexp.Regexp, threads int) ([]string, error) {
	var mu sync.Mutex
	var files []string

	cwalk.NumWorkers = threads
	err := cwalk.WalkWithSymlinks(dir, func(rel string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !pattern.MatchString(info.Name()) {
			return nil
		}
		mu.Lock()
		files = append(files, filepath.Join(dir, rel))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan input directory: %s", dir)
	}

	sort.Strings(files)
	return files, nil
}

// outStream opens the output, optionally gzipped, buffered.
func outStream(file string, gzipped bool) (*bufio.Writer, io.Closer, io.Closer, error) {
	var w *os.File
	if isStdin(file) {
		w = os.Stdout
	} else {
		var err error
		w, err = os.Create(file)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "create out file: %s", file)
		}
	}

	if gzipped {
		gw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "gzip writer")
		}
		return bufio.NewWriterSize(gw, 65536), gw, w, nil
	}
	return bufio.NewWriterSize(w, 65536), nil, w, nil
}

// formatFlagUsage puts a usage string on one line for cobra by replacing
// newlines with spaces.
func formatFlagUsage(usage string) string {
	usage = strings.ReplaceAll(usage, "\n", " ")
	return usage
}

func usageTemplate(s string) string {
	return fmt.Sprintf(`Usage:{{if .Runnable}}
  %s %s{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`, "{{.CommandPath}}", s)
}
