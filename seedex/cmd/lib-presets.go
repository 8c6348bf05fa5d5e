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
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Presets are named flag bundles. A preset sets only flags the user
// did not pass explicitly, so applying a preset and then explicit
// flags equals applying the flags over the expanded preset.
var presets = map[string]map[string]string{
	"very-fast": {
		"seed-len": "22", "seed-mismatches": "0",
		"seed-interval": "S,0,2.50", "dp-fails": "5", "extends-per-hit": "1",
	},
	"fast": {
		"seed-len": "22", "seed-mismatches": "0",
		"seed-interval": "S,0,2.50", "dp-fails": "10", "extends-per-hit": "2",
	},
	"sensitive": {
		"seed-len": "22", "seed-mismatches": "0",
		"seed-interval": "S,1,1.15", "dp-fails": "15", "extends-per-hit": "2",
	},
	"very-sensitive": {
		"seed-len": "20", "seed-mismatches": "0",
		"seed-interval": "S,1,0.50", "dp-fails": "20", "extends-per-hit": "3",
	},
	"very-fast-local": {
		"seed-len": "25", "seed-mismatches": "0",
		"seed-interval": "S,1,2.00", "dp-fails": "5", "extends-per-hit": "1",
	},
	"fast-local": {
		"seed-len": "22", "seed-mismatches": "0",
		"seed-interval": "S,1,1.75", "dp-fails": "10", "extends-per-hit": "2",
	},
	"sensitive-local": {
		"seed-len": "20", "seed-mismatches": "0",
		"seed-interval": "S,1,0.75", "dp-fails": "15", "extends-per-hit": "2",
	},
	"very-sensitive-local": {
		"seed-len": "20", "seed-mismatches": "0",
		"seed-interval": "S,1,0.50", "dp-fails": "20", "extends-per-hit": "3",
	},
}

// expandPresetName evaluates the %LOCAL% substitution against the
// local/end-to-end flag.
func expandPresetName(name string, local bool) string {
	if strings.Contains(name, "%LOCAL%") {
		if local {
			return strings.ReplaceAll(name, "%LOCAL%", "-local")
		}
		return strings.ReplaceAll(name, "%LOCAL%", "")
	}
	return name
}

// loadPresetFile merges user presets from a TOML file into the
// builtin table; user presets of the same name win.
func loadPresetFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read preset file: %s", path)
	}
	var file struct {
		Presets map[string]map[string]string `toml:"presets"`
	}
	if err = toml.Unmarshal(data, &file); err != nil {
		return errors.Wrapf(err, "parse preset file: %s", path)
	}
	for name, flags := range file.Presets {
		presets[name] = flags
	}
	return nil
}

// applyPreset sets all flags of the named preset that the user left
// untouched. Last-wins holds on scalars by construction.
func applyPreset(cmd *cobra.Command, name string, local bool) error {
	key := expandPresetName(name, local)
	flags, ok := presets[key]
	if !ok {
		return errors.Errorf("unknown preset: %s", key)
	}
	for flag, val := range flags {
		if cmd.Flags().Changed(flag) {
			continue
		}
		if err := cmd.Flags().Set(flag, val); err != nil {
			return errors.Wrapf(err, "preset %s: flag --%s", key, flag)
		}
	}
	return nil
}
