// afl-utils converts between the packed stage formats and plain files:
// Yaz0 streams, SARC archives, Yaz0-compressed SARC (szs) and BYML
// documents.
package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/byml"
	"github.com/user/aflgo/pkg/sarc"
	"github.com/user/aflgo/pkg/yaz0"
)

// szsAlignment is the Yaz0 alignment written for compressed archives.
const szsAlignment = 0xC

func main() {
	if err := run(filepath.Base(os.Args[0]), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	name   string
	stdout io.Writer
	stderr io.Writer
}

func run(programName string, args []string, stdout, stderr io.Writer) error {
	a := &app{name: programName, stdout: stdout, stderr: stderr}
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		a.printUsage()
		if len(args) == 0 {
			return fmt.Errorf("%w: missing command", aflerr.ErrInvalidArgument)
		}
		return nil
	}
	switch args[0] {
	case "yaz0":
		return a.yaz0(args[1:])
	case "sarc":
		return a.archive(args[1:], "sarc", false)
	case "szs":
		return a.archive(args[1:], "szs", true)
	case "byml":
		return a.byml(args[1:])
	default:
		a.printUsage()
		return fmt.Errorf("%w: unrecognized command %q", aflerr.ErrInvalidArgument, args[0])
	}
}

func (a *app) printUsage() {
	fmt.Fprintf(a.stderr, "usage: %s <command> <action> [arguments]\n\n", a.name)
	fmt.Fprintf(a.stderr, "commands:\n")
	for _, lines := range [][]string{yaz0Usage, archiveUsage("sarc"), archiveUsage("szs"), bymlUsage} {
		for _, line := range lines {
			fmt.Fprintf(a.stderr, "  %s %s\n", a.name, line)
		}
	}
}

func (a *app) usage(lines []string, format string, args ...any) error {
	for i, line := range lines {
		prefix := "usage:"
		if i > 0 {
			prefix = "      "
		}
		fmt.Fprintf(a.stderr, "%s %s %s\n", prefix, a.name, line)
	}
	return fmt.Errorf("%w: "+format, append([]any{aflerr.ErrInvalidArgument}, args...)...)
}

// action matches the long or short spelling of a subcommand action.
func action(arg, long string) bool {
	return arg == long || arg == long[:1]
}

var yaz0Usage = []string{
	"yaz0 r|read <compressed file> <decompressed file>",
	"yaz0 w|write <decompressed file> <compressed file> [alignment]",
}

func (a *app) yaz0(args []string) error {
	if len(args) == 0 {
		return a.usage(yaz0Usage, "missing action")
	}
	switch {
	case action(args[0], "read"):
		if len(args) < 3 {
			return a.usage(yaz0Usage[:1], "missing file arguments")
		}
		src, err := readFile(args[1])
		if err != nil {
			return err
		}
		data, err := yaz0.Decompress(src)
		if err != nil {
			return fmt.Errorf("failed to decompress %s: %w", args[1], err)
		}
		return writeFile(args[2], data)
	case action(args[0], "write"):
		if len(args) < 3 {
			return a.usage(yaz0Usage[1:], "missing file arguments")
		}
		alignment := uint32(yaz0.DefaultAlignment)
		if len(args) > 3 {
			n, err := strconv.ParseUint(args[3], 0, 32)
			if err != nil {
				return fmt.Errorf("%w: invalid alignment %q", aflerr.ErrInvalidArgument, args[3])
			}
			alignment = uint32(n)
		}
		src, err := readFile(args[1])
		if err != nil {
			return err
		}
		return writeFile(args[2], yaz0.Compress(src, alignment))
	default:
		return a.usage(yaz0Usage, "unrecognized option %q", args[0])
	}
}

func archiveUsage(command string) []string {
	return []string{
		command + " r|read <archive> <output dir>",
		command + " w|write <input dir> <output archive>",
		command + " l|list <archive>",
	}
}

// archive handles both sarc and szs; compressed selects the Yaz0 wrapping.
func (a *app) archive(args []string, command string, compressed bool) error {
	lines := archiveUsage(command)
	if len(args) == 0 {
		return a.usage(lines, "missing action")
	}
	switch {
	case action(args[0], "read"):
		if len(args) < 3 {
			return a.usage(lines[:1], "missing arguments")
		}
		archive, err := openArchive(args[1], compressed)
		if err != nil {
			return err
		}
		return archive.ExtractAll(args[2])
	case action(args[0], "write"):
		if len(args) < 3 {
			return a.usage(lines[1:2], "missing arguments")
		}
		w, err := sarc.WriterFromDir(args[1], binary.LittleEndian)
		if err != nil {
			return err
		}
		data, err := w.Bytes()
		if err != nil {
			return err
		}
		if compressed {
			data = yaz0.Compress(data, szsAlignment)
		}
		return writeFile(args[2], data)
	case action(args[0], "list"):
		if len(args) < 2 {
			return a.usage(lines[2:], "missing archive")
		}
		archive, err := openArchive(args[1], compressed)
		if err != nil {
			return err
		}
		for _, name := range archive.Names() {
			fmt.Fprintln(a.stdout, name)
		}
		return nil
	default:
		return a.usage(lines, "unrecognized option %q", args[0])
	}
}

func openArchive(path string, compressed bool) (*sarc.Archive, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if compressed {
		if data, err = yaz0.Decompress(data); err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
	}
	archive, err := sarc.Open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	return archive, nil
}

var bymlUsage = []string{
	"byml r|read <byml file> [output.yml]",
	"byml w|write <input.yml|input.json> <byml file> [--le] [--version N]",
}

func (a *app) byml(args []string) error {
	if len(args) == 0 {
		return a.usage(bymlUsage, "missing action")
	}
	switch {
	case action(args[0], "read"):
		if len(args) < 2 {
			return a.usage(bymlUsage[:1], "missing byml file")
		}
		data, err := readFile(args[1])
		if err != nil {
			return err
		}
		root, err := byml.Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[1], err)
		}
		tree, err := root.Decode()
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", args[1], err)
		}
		out, err := byml.ToYAML(tree)
		if err != nil {
			return err
		}
		if len(args) > 2 {
			return writeFile(args[2], out)
		}
		_, err = a.stdout.Write(out)
		return err
	case action(args[0], "write"):
		return a.bymlWrite(args[1:])
	default:
		return a.usage(bymlUsage, "unrecognized option %q", args[0])
	}
}

func (a *app) bymlWrite(args []string) error {
	flagSet := pflag.NewFlagSet(a.name+" byml write", pflag.ContinueOnError)
	flagSet.SetOutput(a.stderr)
	littleEndian := flagSet.Bool("le", false, "write a little-endian document")
	version := flagSet.Uint16("version", byml.DefaultVersion, "format version (1-7)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", aflerr.ErrInvalidArgument, err)
	}
	rest := flagSet.Args()
	if len(rest) < 2 {
		return a.usage(bymlUsage[1:], "missing file arguments")
	}

	src, err := readFile(rest[0])
	if err != nil {
		return err
	}
	var tree byml.Value
	if strings.EqualFold(filepath.Ext(rest[0]), ".json") {
		tree, err = byml.FromJSON(src)
	} else {
		tree, err = byml.FromYAML(src)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rest[0], err)
	}

	var order binary.ByteOrder = binary.BigEndian
	if *littleEndian {
		order = binary.LittleEndian
	}
	w := byml.NewWriter()
	w.Version = *version
	w.AddValue("", tree)
	return w.Save(rest[1], order)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, aflerr.IO("read", path, err)
	}
	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return aflerr.IO("write", path, err)
	}
	return nil
}
