package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/aflgo/pkg/aflerr"
)

func TestPath_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	got, err := Path()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "afl-utils", "config.ini"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestLoad_Missing(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "none.ini"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.DefaultGame() != "" || c.RomfsPath("smo") != "" {
		t.Error("expected empty settings for a missing file")
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afl-utils", "config.ini")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetRomfs("smo", "/games/smo/romfs"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDefaultGame("3dw"); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.RomfsPath("smo"); got != "/games/smo/romfs" {
		t.Errorf("RomfsPath = %q", got)
	}
	if got := reloaded.DefaultGame(); got != "3dw" {
		t.Errorf("DefaultGame = %q", got)
	}
}

func TestSetInvalidGame(t *testing.T) {
	c, _ := Load(filepath.Join(t.TempDir(), "config.ini"))
	if err := c.SetRomfs("botw", "/x"); !errors.Is(err, aflerr.ErrInvalidArgument) {
		t.Errorf("SetRomfs: expected ErrInvalidArgument, got %v", err)
	}
	if err := c.SetDefaultGame("botw"); !errors.Is(err, aflerr.ErrInvalidArgument) {
		t.Errorf("SetDefaultGame: expected ErrInvalidArgument, got %v", err)
	}
}

func TestSearchSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	content := strings.Join([]string{
		"[search]",
		"continue_on_error = true",
		"cache_dir = /tmp/afl-cache",
		"cache_codec = zstd",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Search{ContinueOnError: true, CacheDir: "/tmp/afl-cache", CacheCodec: "zstd"}
	if got := c.Search(); got != want {
		t.Errorf("Search() = %+v, want %+v", got, want)
	}
}

func TestEnsureDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afl-utils", "config.ini")
	created, err := EnsureDefault(path)
	if err != nil || !created {
		t.Fatalf("EnsureDefault = %v, %v", created, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	created, err = EnsureDefault(path)
	if err != nil || created {
		t.Errorf("second EnsureDefault = %v, %v", created, err)
	}
}
