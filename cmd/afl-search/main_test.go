package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/byml"
	"github.com/user/aflgo/pkg/config"
	"github.com/user/aflgo/pkg/sarc"
	"github.com/user/aflgo/pkg/search"
	"github.com/user/aflgo/pkg/yaz0"
)

func placement(name, id string) byml.Hash {
	return byml.Hash{
		"UnitConfigName": byml.String(name),
		"UnitConfig":     byml.Hash{"ParameterConfigName": byml.String(name)},
		"Id":             byml.String(id),
		"Translate":      byml.Hash{"X": byml.F32(1), "Y": byml.F32(2), "Z": byml.F32(3)},
		"Priority":       byml.S32(7),
	}
}

// newRomfs writes one smo stage holding a single ObjA placement.
func newRomfs(t *testing.T) string {
	t.Helper()
	romfs := t.TempDir()
	dir := filepath.Join(romfs, search.StageDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	doc, err := byml.Marshal(byml.Array{
		byml.Hash{"ObjectList": byml.Array{placement("ObjA", "obj1")}},
	}, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	w := sarc.NewWriter(binary.LittleEndian)
	w.AddFile("TestStageMap.byml", doc)
	archive, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "TestStageMap.szs"), yaz0.Compress(archive, 0x80), 0644); err != nil {
		t.Fatal(err)
	}
	return romfs
}

func runSearch(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run("afl-search", args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestSearch_Flags(t *testing.T) {
	romfs := newRomfs(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "results.txt")
	cfg := filepath.Join(dir, "config.ini")

	stdout, _, err := runSearch(t, "", "smo", "--config", cfg, "-r", romfs, "-n", "ObjA", "-k", "Priority", "-o", out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stdout, "found 1 matches\n") || !strings.Contains(stdout, "saved results to "+out) {
		t.Errorf("unexpected output:\n%s", stdout)
	}
	report, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"TestStageMap:\n", "\tPriority: 7\n", "\tTranslate: (1.000, 2.000, 3.000)\n", "\tscenarios: 1\n"} {
		if !strings.Contains(string(report), want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestSearch_ConfigAndPrompt(t *testing.T) {
	romfs := newRomfs(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.ini")
	c, _ := config.Load(cfgPath)
	c.SetRomfs("smo", romfs)
	c.SetDefaultGame("smo")
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "results.txt")
	stdout, _, err := runSearch(t, "objA\n\n", "--config", cfgPath, "--ignore-case", "-o", out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stdout, "object name: ") || !strings.Contains(stdout, "query key?: ") {
		t.Errorf("expected prompts, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "found 1 matches") {
		t.Errorf("expected a case-folded match, got:\n%s", stdout)
	}
}

func TestSearch_NoMatches(t *testing.T) {
	romfs := newRomfs(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "results.txt")
	stdout, _, err := runSearch(t, "", "smo", "--config", filepath.Join(dir, "c.ini"), "-r", romfs, "-n", "Nothing", "-o", out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "found no matches") {
		t.Errorf("unexpected output:\n%s", stdout)
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected no report file")
	}
}

func TestSearch_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.ini")

	if _, _, err := runSearch(t, "", "--config", cfg, "-n", "ObjA"); !errors.Is(err, aflerr.ErrInvalidArgument) {
		t.Errorf("missing default game: expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := runSearch(t, "", "botw", "--config", cfg, "-n", "ObjA"); !errors.Is(err, aflerr.ErrInvalidArgument) {
		t.Errorf("bad game: expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := runSearch(t, "", "3dw", "--config", cfg, "-n", "ObjA"); err == nil || !strings.Contains(err.Error(), "romfs path for game '3dw'") {
		t.Errorf("missing romfs: unexpected error %v", err)
	}
	if _, _, err := runSearch(t, "", "smo", "--config", cfg, "-r", dir, "-n", "ObjA"); !errors.Is(err, aflerr.ErrDirNotFound) {
		t.Errorf("missing StageData: expected ErrDirNotFound, got %v", err)
	}
}
