package search

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/user/aflgo/pkg/aflerr"
	"github.com/user/aflgo/pkg/byml"
)

// WriteReport renders deduplicated results: a query header, then one block
// per stage in alphabetical order with results in discovery order.
func WriteReport(w io.Writer, schema Schema, q Query, results []Result) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "query:\n")
	fmt.Fprintf(bw, "\tname: %s\n", q.Name)
	fmt.Fprintf(bw, "\tsearch links?: %t\n", q.Recurse)
	fmt.Fprintf(bw, "\t# matches: %d\n", len(results))
	if q.Key != "" {
		fmt.Fprintf(bw, "\tquery key: %s\n", q.Key)
	}
	fmt.Fprintf(bw, "\n")

	byStage := make(map[string][]*Result)
	var stages []string
	for i := range results {
		r := &results[i]
		if _, ok := byStage[r.Stage]; !ok {
			stages = append(stages, r.Stage)
		}
		byStage[r.Stage] = append(byStage[r.Stage], r)
	}
	sort.Strings(stages)

	for _, stage := range stages {
		fmt.Fprintf(bw, "%s:\n", stage)
		for _, r := range byStage[stage] {
			writeResult(bw, schema, q, r)
		}
	}
	return bw.Flush()
}

func writeResult(w io.Writer, schema Schema, q Query, r *Result) {
	fmt.Fprintf(w, "\tUnitConfigName: %s\n", r.UnitConfigName)
	if r.ModelName != "" && r.ModelName != r.UnitConfigName {
		fmt.Fprintf(w, "\tModelName: %s\n", r.ModelName)
	}
	if r.ParameterConfigName != "" && r.ParameterConfigName != r.UnitConfigName {
		fmt.Fprintf(w, "\tParameterConfigName: %s\n", r.ParameterConfigName)
	}
	if r.BaseName != "" {
		fmt.Fprintf(w, "\tbase object UnitConfigName: %s\n", r.BaseName)
	}
	fmt.Fprintf(w, "\tTranslate: %s\n", r.Translate)
	fmt.Fprintf(w, "\tId: %s\n", r.Id)
	if q.Key != "" {
		value := r.QueryValue
		if value == nil {
			value = byml.Null{}
		}
		fmt.Fprintf(w, "\t%s: %s\n", q.Key, byml.FormatScalar(value))
	}
	fmt.Fprintf(w, "\titem list: %s\n", r.ItemList)
	if schema.MultiScenario() {
		var numbers []string
		for i, set := range r.Scenarios {
			if set {
				numbers = append(numbers, strconv.Itoa(i+1))
			}
		}
		fmt.Fprintf(w, "\tscenarios: %s\n", strings.Join(numbers, " "))
	}
	fmt.Fprintf(w, "\n")
}

// SaveResults deduplicates the engine's results and writes the report to
// path. It returns the number of reported results; when there are none no
// file is written.
func (e *Engine) SaveResults(path string) (int, error) {
	results := e.Finish()
	if len(results) == 0 {
		e.setPhase(PhaseDone)
		return 0, nil
	}
	e.setPhase(PhaseReporting, "path", path, "results", len(results))

	f, err := os.Create(path)
	if err != nil {
		return 0, aflerr.IO("create", path, err)
	}
	if err := WriteReport(f, e.schema, e.query, results); err != nil {
		f.Close()
		return 0, aflerr.IO("write", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, aflerr.IO("close", path, err)
	}
	e.setPhase(PhaseDone)
	return len(results), nil
}
