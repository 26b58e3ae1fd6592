// afl-config edits the afl-utils settings file.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/config"
)

func main() {
	if err := run(filepath.Base(os.Args[0]), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer, programName string) {
	fmt.Fprintf(w, "usage: %s romfs <game> <romfs path>   set ROMFS path of a game\n", programName)
	fmt.Fprintf(w, "       %s default <game>            set the game used when none is given\n", programName)
	fmt.Fprintf(w, "\ngame is one of \"smo\" or \"3dw\"\n")
}

func run(programName string, args []string, stdout, stderr io.Writer) error {
	var configPath string
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "settings file to edit")
	flagSet.Usage = func() { printUsage(stderr, programName) }
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", aflerr.ErrInvalidArgument, err)
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, programName)
		return fmt.Errorf("%w: missing subcommand", aflerr.ErrInvalidArgument)
	}

	if configPath == "" {
		var err error
		if configPath, err = config.Path(); err != nil {
			return err
		}
	}
	created, err := config.EnsureDefault(configPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(stdout, "creating config file... (%s)\n", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	switch rest[0] {
	case "romfs":
		if len(rest) != 3 {
			printUsage(stderr, programName)
			return fmt.Errorf("%w: romfs takes a game and a path", aflerr.ErrInvalidArgument)
		}
		game, path := rest[1], rest[2]
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			return fmt.Errorf("%w: %s", aflerr.ErrDirNotFound, path)
		}
		if err := cfg.SetRomfs(game, path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "setting ROMFS path to %s\n", path)
	case "default":
		if len(rest) != 2 {
			printUsage(stderr, programName)
			return fmt.Errorf("%w: default takes a game", aflerr.ErrInvalidArgument)
		}
		if err := cfg.SetDefaultGame(rest[1]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "setting default game to %s\n", rest[1])
	default:
		printUsage(stderr, programName)
		return fmt.Errorf("%w: unrecognized subcommand %q", aflerr.ErrInvalidArgument, rest[0])
	}
	return cfg.Save()
}
