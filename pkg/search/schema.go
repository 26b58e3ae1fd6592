package search

import (
	"fmt"
	"strings"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/byml"
	"github.com/user/aflgo/pkg/sarc"
)

// MaxScenarios is the number of scenario slots a Result can flag.
const MaxScenarios = 15

// Schema describes how one game lays out its stage files.
type Schema interface {
	// Name is the game identifier used on the command line and in config.
	Name() string
	// StageName maps a StageData file name to a stage name; ok is false for
	// files that are not stages.
	StageName(fileName string) (name string, ok bool)
	// Payloads lists the BYML entries to search inside a stage archive.
	Payloads(fileName string, archive *sarc.Archive) []string
	// Scenarios returns the scenario containers of a parsed payload.
	Scenarios(root byml.Reader) ([]byml.Reader, error)
	// MultiScenario reports whether scenario numbers are meaningful in
	// reports.
	MultiScenario() bool
}

// SchemaFor returns the schema for a game identifier ("smo" or "3dw").
func SchemaFor(game string) (Schema, error) {
	switch game {
	case "smo":
		return multiScenario{}, nil
	case "3dw":
		return singleScenario{}, nil
	default:
		return nil, fmt.Errorf("%w: invalid game name %q (expected \"smo\" or \"3dw\")", aflerr.ErrInvalidArgument, game)
	}
}

func fileStem(fileName string) string {
	return strings.TrimSuffix(fileName, ".szs")
}

// multiScenario is the "smo" layout: StageData/<stage>Map.szs holds
// <stage>Map.byml whose root array has one hash per scenario.
type multiScenario struct{}

func (multiScenario) Name() string        { return "smo" }
func (multiScenario) MultiScenario() bool { return true }

// StageName keeps the Map suffix: reports name smo stages by file stem.
func (multiScenario) StageName(fileName string) (string, bool) {
	if name, ok := strings.CutSuffix(fileName, "Map.szs"); !ok || name == "" {
		return "", false
	}
	return fileStem(fileName), true
}

func (multiScenario) Payloads(fileName string, _ *sarc.Archive) []string {
	return []string{fileStem(fileName) + ".byml"}
}

func (multiScenario) Scenarios(root byml.Reader) ([]byml.Reader, error) {
	if root.Type() != byml.TypeArray {
		return nil, aflerr.Formatf("scenario list is %s, expected Array", root.Type())
	}
	if root.Len() > MaxScenarios {
		return nil, aflerr.Formatf("stage has %d scenarios, at most %d supported", root.Len(), MaxScenarios)
	}
	scenarios := make([]byml.Reader, root.Len())
	for i := range scenarios {
		scenario, err := root.ContainerAt(i)
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i+1, err)
		}
		scenarios[i] = scenario
	}
	return scenarios, nil
}

// singleScenario is the "3dw" layout: StageData/<stage>.szs holds up to
// three payloads whose roots are each a single scenario.
type singleScenario struct{}

var singleScenarioAspects = []string{"Map", "Design", "Sound"}

func (singleScenario) Name() string        { return "3dw" }
func (singleScenario) MultiScenario() bool { return false }

func (singleScenario) StageName(fileName string) (string, bool) {
	name, ok := strings.CutSuffix(fileName, ".szs")
	return name, ok && name != ""
}

func (singleScenario) Payloads(fileName string, archive *sarc.Archive) []string {
	stem := fileStem(fileName)
	var names []string
	for _, aspect := range singleScenarioAspects {
		name := stem + aspect + ".byml"
		if archive.Contains(name) {
			names = append(names, name)
		}
	}
	return names
}

func (singleScenario) Scenarios(root byml.Reader) ([]byml.Reader, error) {
	return []byml.Reader{root}, nil
}
