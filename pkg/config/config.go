// Package config reads and writes the afl-utils INI settings file.
//
// Layout:
//
//	[default]
//	game = smo
//
//	[romfs]
//	smo = /path/to/smo/romfs
//	3dw = /path/to/3dw/romfs
//
//	[search]
//	continue_on_error = false
//	cache_dir = /path/to/cache
//	cache_codec = lz4
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/user/aflgo/pkg/aflerr"
)

const (
	appDir   = "afl-utils"
	fileName = "config.ini"
)

// Games lists the game identifiers accepted in [romfs] and [default].
var Games = []string{"smo", "3dw"}

// ValidGame reports whether game is one of Games.
func ValidGame(game string) bool {
	for _, g := range Games {
		if g == game {
			return true
		}
	}
	return false
}

// Path returns the settings file location: $XDG_CONFIG_HOME/afl-utils/config.ini
// when XDG_CONFIG_HOME is set, otherwise under os.UserConfigDir.
func Path() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDir, fileName), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, appDir, fileName), nil
}

// Config is a loaded settings file.
type Config struct {
	path string
	file *ini.File
}

// Load reads the settings file at path. A missing file yields an empty
// Config that Save will create.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &Config{path: path, file: ini.Empty()}, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config %s: %v", aflerr.ErrFormat, path, err)
	}
	return &Config{path: path, file: f}, nil
}

// LoadDefault loads the settings file at Path.
func LoadDefault() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// EnsureDefault creates an empty settings file at path when none exists.
// It reports whether a file was created.
func EnsureDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, aflerr.IO("stat", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, aflerr.IO("create directory", filepath.Dir(path), err)
	}
	if err := ini.Empty().SaveTo(path); err != nil {
		return false, aflerr.IO("write", path, err)
	}
	return true, nil
}

// Path returns the file the Config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the Config back to its file, creating parent directories.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return aflerr.IO("create directory", filepath.Dir(c.path), err)
	}
	if err := c.file.SaveTo(c.path); err != nil {
		return aflerr.IO("write", c.path, err)
	}
	return nil
}

// RomfsPath returns the romfs directory configured for game, or "".
func (c *Config) RomfsPath(game string) string {
	return c.file.Section("romfs").Key(game).String()
}

// SetRomfs records the romfs directory for game.
func (c *Config) SetRomfs(game, path string) error {
	if !ValidGame(game) {
		return fmt.Errorf("%w: invalid game name %q", aflerr.ErrInvalidArgument, game)
	}
	c.file.Section("romfs").Key(game).SetValue(path)
	return nil
}

// DefaultGame returns the game used when none is given on the command line.
func (c *Config) DefaultGame() string {
	return c.file.Section("default").Key("game").String()
}

// SetDefaultGame records the default game.
func (c *Config) SetDefaultGame(game string) error {
	if !ValidGame(game) {
		return fmt.Errorf("%w: invalid game name %q", aflerr.ErrInvalidArgument, game)
	}
	c.file.Section("default").Key("game").SetValue(game)
	return nil
}

// Search holds the [search] settings.
type Search struct {
	ContinueOnError bool
	CacheDir        string
	CacheCodec      string
}

// Search returns the [search] section; absent keys take zero values.
func (c *Config) Search() Search {
	s := c.file.Section("search")
	return Search{
		ContinueOnError: s.Key("continue_on_error").MustBool(false),
		CacheDir:        s.Key("cache_dir").String(),
		CacheCodec:      s.Key("cache_codec").String(),
	}
}
