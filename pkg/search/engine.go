// Package search walks the stage archives of a romfs dump looking for
// object placements by name, optionally following Links into the objects
// an item is built from.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/cases"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/byml"
	"github.com/user/aflgo/pkg/sarc"
	"github.com/user/aflgo/pkg/stagecache"
	"github.com/user/aflgo/pkg/yaz0"
)

// StageDir is the romfs subdirectory holding stage archives.
const StageDir = "StageData"

// DefaultMaxLinkDepth bounds Links recursion when Options.MaxLinkDepth is
// zero.
const DefaultMaxLinkDepth = 64

// Item lists that never hold placements.
var skippedLists = map[string]bool{"FilePath": true, "Objs": true}

// Query selects the objects to report.
type Query struct {
	// Name is matched against UnitConfigName, ParameterConfigName and
	// ModelName.
	Name string
	// Recurse follows Links into linked items.
	Recurse bool
	// Key, when set, names an extra item field copied into each Result.
	Key string
	// IgnoreCase matches Name by Unicode case folding.
	IgnoreCase bool
}

// Phase is the engine's position in a run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEnumeratingStages
	PhaseLoadingStage
	PhaseScanningScenario
	PhaseScanningItem
	PhaseFollowingLinks
	PhaseDeduplicating
	PhaseReporting
	PhaseDone
)

var phaseNames = [...]string{
	"idle", "enumerating stages", "loading stage", "scanning scenario",
	"scanning item", "following links", "deduplicating", "reporting", "done",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Options tune an Engine. The zero value is fail-fast, uncached and logs to
// slog.Default().
type Options struct {
	Logger *slog.Logger
	// Cache, when set, stores decompressed stage archives.
	Cache *stagecache.Cache
	// ContinueOnError logs and skips stages that fail instead of aborting
	// the run. The failures are available from Failures.
	ContinueOnError bool
	// MaxLinkDepth caps Links recursion; deeper chains are reported as
	// cycles.
	MaxLinkDepth int
	// Verbose logs every stage whose string table contains the query.
	Verbose bool
}

// StageError ties a failure to the stage file that caused it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Engine runs one Query over a romfs. It is not safe for concurrent use.
type Engine struct {
	schema Schema
	query  Query
	opts   Options
	logger *slog.Logger
	fold   cases.Caser
	needle string

	phase    Phase
	results  []Result
	failures []error

	stage    string
	scenario int
	itemList string
}

// New returns an idle engine.
func New(schema Schema, query Query, opts Options) *Engine {
	e := &Engine{schema: schema, query: query, opts: opts, logger: opts.Logger}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.opts.MaxLinkDepth <= 0 {
		e.opts.MaxLinkDepth = DefaultMaxLinkDepth
	}
	e.needle = query.Name
	if query.IgnoreCase {
		e.fold = cases.Fold()
		e.needle = e.fold.String(query.Name)
	}
	return e
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase { return e.phase }

// Results returns the matches found so far, before deduplication.
func (e *Engine) Results() []Result { return e.results }

// Failures returns the stage errors skipped under ContinueOnError.
func (e *Engine) Failures() []error { return e.failures }

func (e *Engine) setPhase(p Phase, args ...any) {
	if e.phase == p {
		return
	}
	e.phase = p
	// Item-level transitions are too frequent to log.
	if p == PhaseScanningItem || p == PhaseFollowingLinks {
		return
	}
	if e.logger.Enabled(context.Background(), slog.LevelDebug) {
		e.logger.Debug("search phase", append([]any{"phase", p.String()}, args...)...)
	}
}

func (e *Engine) matches(s string) bool {
	if s == "" {
		return false
	}
	if e.query.IgnoreCase {
		return e.fold.String(s) == e.needle
	}
	return s == e.needle
}

// SearchAllStages searches every stage file under romfs/StageData in
// lexicographic order.
func (e *Engine) SearchAllStages(romfs string) error {
	e.setPhase(PhaseEnumeratingStages, "romfs", romfs)
	dir := filepath.Join(romfs, StageDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", aflerr.ErrDirNotFound, dir)
		}
		return aflerr.IO("list", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := e.schema.StageName(entry.Name()); ok {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	e.logger.Debug("found stage files", "count", len(files), "dir", dir)

	for _, name := range files {
		err := e.SearchStage(filepath.Join(dir, name))
		if err == nil {
			continue
		}
		if !e.opts.ContinueOnError {
			return err
		}
		e.logger.Warn("skipping stage", "file", name, "error", err)
		e.failures = append(e.failures, err)
	}
	return nil
}

// SearchStage searches one stage archive.
func (e *Engine) SearchStage(path string) error {
	fileName := filepath.Base(path)
	stage, ok := e.schema.StageName(fileName)
	if !ok {
		return fmt.Errorf("%w: %s is not a %s stage file", aflerr.ErrInvalidArgument, fileName, e.schema.Name())
	}
	e.stage = stage
	e.setPhase(PhaseLoadingStage, "stage", stage)

	if err := e.searchStageFile(path, fileName); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

func (e *Engine) searchStageFile(path, fileName string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return aflerr.IO("read", path, err)
	}
	var data []byte
	if e.opts.Cache != nil {
		data, err = e.opts.Cache.Load(raw, yaz0.Decompress)
	} else {
		data, err = yaz0.Decompress(raw)
	}
	if err != nil {
		return fmt.Errorf("failed to decompress %s: %w", fileName, err)
	}

	archive, err := sarc.Open(data)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", fileName, err)
	}
	for _, name := range e.schema.Payloads(fileName, archive) {
		payload, err := archive.FileData(name)
		if err != nil {
			return err
		}
		if err := e.SearchPayload(payload); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// SearchPayload searches one parsed stage document. Documents whose string
// table lacks the query name are skipped without walking the tree.
func (e *Engine) SearchPayload(data []byte) error {
	root, err := byml.Parse(data)
	if err != nil {
		return err
	}
	var found bool
	if e.query.IgnoreCase {
		found = root.HasStringValueFunc(e.matches)
	} else {
		found = root.HasStringValue(e.query.Name)
	}
	if !found {
		return nil
	}
	if e.opts.Verbose {
		e.logger.Info("found string", "stage", e.stage)
	}

	scenarios, err := e.schema.Scenarios(root)
	if err != nil {
		return err
	}
	for i, scenario := range scenarios {
		e.scenario = i
		if err := e.searchScenario(scenario); err != nil {
			if e.schema.MultiScenario() {
				return fmt.Errorf("scenario %d: %w", i+1, err)
			}
			return err
		}
	}
	return nil
}

func (e *Engine) searchScenario(scenario byml.Reader) error {
	e.setPhase(PhaseScanningScenario, "stage", e.stage, "scenario", e.scenario+1)
	for i := 0; i < scenario.Len(); i++ {
		listName, err := scenario.KeyAt(i)
		if err != nil {
			return err
		}
		if skippedLists[listName] {
			continue
		}
		e.itemList = listName
		items, err := scenario.ContainerAt(i)
		if err != nil {
			return fmt.Errorf("list %s: %w", listName, err)
		}
		for j := 0; j < items.Len(); j++ {
			item, err := items.ContainerAt(j)
			if err != nil {
				return fmt.Errorf("list %s item %d: %w", listName, j, err)
			}
			if err := e.searchItem(item, "", 0, map[int]bool{}); err != nil {
				return fmt.Errorf("list %s item %d: %w", listName, j, err)
			}
		}
	}
	return nil
}

// searchItem matches one item and, when the query recurses, its Links.
// ancestors holds the offsets of the items on the current Links path.
func (e *Engine) searchItem(item byml.Reader, baseName string, level int, ancestors map[int]bool) error {
	if level > e.opts.MaxLinkDepth {
		return fmt.Errorf("%w: Links nested deeper than %d", aflerr.ErrCycleDetected, e.opts.MaxLinkDepth)
	}
	if ancestors[item.Offset()] {
		return fmt.Errorf("%w: item at %#x links back to itself", aflerr.ErrCycleDetected, item.Offset())
	}
	if level == 0 {
		e.setPhase(PhaseScanningItem)
	} else {
		e.setPhase(PhaseFollowingLinks)
	}

	unitConfigName, err := item.StringByKey("UnitConfigName")
	if err != nil {
		return err
	}
	if level == 0 {
		baseName = unitConfigName
	}
	unitConfig, err := item.ContainerByKey("UnitConfig")
	if err != nil {
		return err
	}
	paramConfigName, err := unitConfig.StringByKey("ParameterConfigName")
	if err != nil {
		return fmt.Errorf("UnitConfig: %w", err)
	}
	modelName, _ := item.TryStringByKey("ModelName")

	if e.matches(unitConfigName) || e.matches(paramConfigName) || e.matches(modelName) {
		return e.record(item, baseName, level, unitConfigName, modelName, paramConfigName)
	}

	if !e.query.Recurse {
		return nil
	}
	links, ok := item.TryContainerByKey("Links")
	if !ok {
		return nil
	}
	ancestors[item.Offset()] = true
	defer delete(ancestors, item.Offset())
	for g := 0; g < links.Len(); g++ {
		group, err := links.ContainerAt(g)
		if err != nil {
			return fmt.Errorf("Links group %d: %w", g, err)
		}
		for l := 0; l < group.Len(); l++ {
			linked, err := group.ContainerAt(l)
			if err != nil {
				return fmt.Errorf("Links group %d item %d: %w", g, l, err)
			}
			if err := e.searchItem(linked, baseName, level+1, ancestors); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) record(item byml.Reader, baseName string, level int, unitConfigName, modelName, paramConfigName string) error {
	id, err := item.StringByKey("Id")
	if err != nil {
		return err
	}
	r := Result{
		Stage:               e.stage,
		Scenario:            e.scenario,
		ItemList:            e.itemList,
		UnitConfigName:      unitConfigName,
		ModelName:           modelName,
		ParameterConfigName: paramConfigName,
		Id:                  id,
		Translate:           readVector(item, "Translate"),
		Rotate:              readVector(item, "Rotate"),
		Scale:               readVector(item, "Scale"),
		QueryValue:          byml.Null{},
	}
	r.Scenarios[e.scenario] = true
	if level > 0 {
		r.BaseName = baseName
	}
	if e.query.Key != "" {
		if v, err := item.ScalarByKey(e.query.Key); err == nil {
			r.QueryValue = v
		}
	}
	e.results = append(e.results, r)
	return nil
}

// Finish deduplicates the results gathered so far.
func (e *Engine) Finish() []Result {
	e.setPhase(PhaseDeduplicating, "results", len(e.results))
	return Deduplicate(e.results)
}
