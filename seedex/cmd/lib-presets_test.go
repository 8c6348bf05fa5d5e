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
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func presetTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "t", Run: func(*cobra.Command, []string) {}}
	cmd.Flags().Int("seed-len", 22, "")
	cmd.Flags().Int("seed-mismatches", 0, "")
	cmd.Flags().String("seed-interval", "S,1,1.15", "")
	cmd.Flags().Int("dp-fails", 15, "")
	cmd.Flags().Int("extends-per-hit", 2, "")
	return cmd
}

func TestExpandPresetName(t *testing.T) {
	if got := expandPresetName("sensitive%LOCAL%", true); got != "sensitive-local" {
		t.Errorf("local expansion: %s", got)
	}
	if got := expandPresetName("sensitive%LOCAL%", false); got != "sensitive" {
		t.Errorf("end-to-end expansion: %s", got)
	}
	if got := expandPresetName("fast", true); got != "fast" {
		t.Errorf("plain name changed: %s", got)
	}
}

func TestApplyPreset(t *testing.T) {
	cmd := presetTestCmd()
	if err := applyPreset(cmd, "very-sensitive", false); err != nil {
		t.Fatal(err)
	}
	v, _ := cmd.Flags().GetInt("seed-len")
	if v != 20 {
		t.Errorf("seed-len %d, want 20", v)
	}
	s, _ := cmd.Flags().GetString("seed-interval")
	if s != "S,1,0.50" {
		t.Errorf("seed-interval %s", s)
	}
}

func TestPresetExplicitFlagsWin(t *testing.T) {
	// applying preset P then explicit flags F equals applying F over
	// the expanded preset: explicit flags are never overwritten
	cmd := presetTestCmd()
	if err := cmd.Flags().Set("seed-len", "17"); err != nil {
		t.Fatal(err)
	}
	if err := applyPreset(cmd, "very-sensitive", false); err != nil {
		t.Fatal(err)
	}
	v, _ := cmd.Flags().GetInt("seed-len")
	if v != 17 {
		t.Errorf("explicit seed-len overwritten: %d", v)
	}
	d, _ := cmd.Flags().GetInt("dp-fails")
	if d != 20 {
		t.Errorf("preset dp-fails not applied: %d", d)
	}
}

func TestUnknownPreset(t *testing.T) {
	cmd := presetTestCmd()
	if err := applyPreset(cmd, "warp-speed", false); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestLoadPresetFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.toml")
	content := `
[presets.custom]
seed-len = "18"
dp-fails = "30"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := loadPresetFile(path); err != nil {
		t.Fatal(err)
	}
	defer delete(presets, "custom")

	cmd := presetTestCmd()
	if err := applyPreset(cmd, "custom", false); err != nil {
		t.Fatal(err)
	}
	v, _ := cmd.Flags().GetInt("seed-len")
	if v != 18 {
		t.Errorf("custom preset seed-len %d, want 18", v)
	}
}

func TestDecodeQuals(t *testing.T) {
	out, err := decodeQuals([]byte("I!"), QualPhred33)
	if err != nil || out[0] != 40 || out[1] != 0 {
		t.Errorf("phred33: %v %v", out, err)
	}

	out, err = decodeQuals([]byte{64 + 30}, QualPhred64)
	if err != nil || out[0] != 30 {
		t.Errorf("phred64: %v %v", out, err)
	}

	if _, err = decodeQuals([]byte{10}, QualPhred33); err == nil {
		t.Error("expected error for quality below offset")
	}

	out, err = decodeQuals([]byte("40 0 93 200"), QualInts)
	if err != nil || out[0] != 40 || out[1] != 0 || out[2] != 93 || out[3] != 93 {
		t.Errorf("int quals: %v %v", out, err)
	}

	// high solexa values converge to phred
	out, err = decodeQuals([]byte{64 + 40}, QualSolexa)
	if err != nil || out[0] != 40 {
		t.Errorf("solexa 40: %v %v", out, err)
	}
}
