package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/config"
)

func TestRomfsAndDefault(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "afl-utils", "config.ini")
	romfs := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := run("afl-config", []string{"--config", cfgPath, "romfs", "3dw", romfs}, &stdout, &stderr); err != nil {
		t.Fatalf("romfs failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "creating config file") || !strings.Contains(stdout.String(), "setting ROMFS path to "+romfs) {
		t.Errorf("unexpected output:\n%s", stdout.String())
	}
	if err := run("afl-config", []string{"--config", cfgPath, "default", "3dw"}, &stdout, &stderr); err != nil {
		t.Fatalf("default failed: %v", err)
	}

	c, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if c.RomfsPath("3dw") != romfs || c.DefaultGame() != "3dw" {
		t.Errorf("saved config has romfs %q and default %q", c.RomfsPath("3dw"), c.DefaultGame())
	}
}

func TestErrors(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.ini")
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no subcommand", nil, aflerr.ErrInvalidArgument},
		{"unknown subcommand", []string{"theme", "dark"}, aflerr.ErrInvalidArgument},
		{"bad game", []string{"romfs", "botw", t.TempDir()}, aflerr.ErrInvalidArgument},
		{"missing dir", []string{"romfs", "smo", filepath.Join(t.TempDir(), "nope")}, aflerr.ErrDirNotFound},
		{"missing path", []string{"romfs", "smo"}, aflerr.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"--config", cfgPath}, tt.args...)
			if err := run("afl-config", args, &stdout, &stderr); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
