// afl-search finds object placements by name across every stage of a game's
// romfs and writes a text report.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/config"
	"github.com/user/aflgo/pkg/search"
	"github.com/user/aflgo/pkg/stagecache"
)

func main() {
	if err := run(filepath.Base(os.Args[0]), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	romfs           string
	name            string
	key             string
	output          string
	verbose         bool
	noLinks         bool
	ignoreCase      bool
	continueOnError bool
	cacheDir        string
	cacheCodec      string
	configPath      string
}

func run(programName string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.romfs, "romfs", "r", "", "path to game's romfs")
	flagSet.StringVarP(&opts.name, "name", "n", "", "name of object to search for")
	flagSet.StringVarP(&opts.key, "key", "k", "", "item field to include in each result")
	flagSet.StringVarP(&opts.output, "output", "o", "results.txt", "path to output file")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "print more detailed output")
	flagSet.BoolVar(&opts.noLinks, "no-links", false, "do not search objects reached through Links")
	flagSet.BoolVar(&opts.ignoreCase, "ignore-case", false, "match the name case-insensitively")
	flagSet.BoolVar(&opts.continueOnError, "continue-on-error", false, "skip stages that fail to load")
	flagSet.StringVar(&opts.cacheDir, "cache-dir", "", "cache decompressed stages in this directory")
	flagSet.StringVar(&opts.cacheCodec, "cache-codec", "", "cache compression: none, lz4 or zstd")
	flagSet.StringVar(&opts.configPath, "config", "", "settings file (default: afl-utils/config.ini in the user config directory)")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [game] [options]\n\ngame is one of \"smo\" or \"3dw\"\n\noptions:\n", programName)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", aflerr.ErrInvalidArgument, err)
	}
	if flagSet.NArg() > 1 {
		flagSet.Usage()
		return fmt.Errorf("%w: unexpected argument %q", aflerr.ErrInvalidArgument, flagSet.Arg(1))
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(opts.configPath, stdout)
	if err != nil {
		return err
	}

	game := flagSet.Arg(0)
	if game == "" {
		game = cfg.DefaultGame()
	}
	if game == "" {
		return fmt.Errorf("%w: default game not set in config", aflerr.ErrInvalidArgument)
	}
	schema, err := search.SchemaFor(game)
	if err != nil {
		return err
	}

	if opts.romfs == "" {
		opts.romfs = cfg.RomfsPath(game)
	}
	if opts.romfs == "" {
		return fmt.Errorf("%w: romfs path for game '%s' not set in config", aflerr.ErrInvalidArgument, game)
	}

	settings := cfg.Search()
	if !flagSet.Changed("continue-on-error") {
		opts.continueOnError = settings.ContinueOnError
	}
	if opts.cacheDir == "" {
		opts.cacheDir = settings.CacheDir
	}
	if opts.cacheCodec == "" {
		opts.cacheCodec = settings.CacheCodec
	}

	in := bufio.NewReader(stdin)
	if opts.name == "" {
		if opts.name, err = prompt(in, stdout, "object name: "); err != nil {
			return err
		}
		if !flagSet.Changed("key") {
			if opts.key, err = prompt(in, stdout, "query key?: "); err != nil {
				return err
			}
		}
	}
	if opts.name == "" {
		return fmt.Errorf("%w: no object name given", aflerr.ErrInvalidArgument)
	}

	searchOpts := search.Options{
		Logger:          logger,
		ContinueOnError: opts.continueOnError,
		Verbose:         opts.verbose,
	}
	if opts.cacheDir != "" {
		codec, err := stagecache.ParseCodec(opts.cacheCodec)
		if err != nil {
			return err
		}
		cache, err := stagecache.Open(opts.cacheDir, codec)
		if err != nil {
			return err
		}
		cache.Logger = logger
		searchOpts.Cache = cache
	}

	query := search.Query{
		Name:       opts.name,
		Recurse:    !opts.noLinks,
		Key:        opts.key,
		IgnoreCase: opts.ignoreCase,
	}
	engine := search.New(schema, query, searchOpts)
	if err := engine.SearchAllStages(opts.romfs); err != nil {
		return err
	}
	for _, failure := range engine.Failures() {
		fmt.Fprintf(stderr, "warning: %v\n", failure)
	}

	n, err := engine.SaveResults(opts.output)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(stdout, "found no matches")
		return nil
	}
	fmt.Fprintf(stdout, "found %d matches\n", n)
	fmt.Fprintf(stdout, "saved results to %s\n", opts.output)
	return nil
}

// loadConfig reads the settings file, creating an empty one on first use.
func loadConfig(path string, stdout io.Writer) (*config.Config, error) {
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return nil, err
		}
	}
	created, err := config.EnsureDefault(path)
	if err != nil {
		return nil, err
	}
	if created {
		fmt.Fprintf(stdout, "creating config file... (%s)\n", path)
	}
	return config.Load(path)
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
