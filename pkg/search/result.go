package search

import (
	"encoding/binary"
	"math"

	"github.com/rryqszq4/go-murmurhash"

	"github.com/user/aflgo/pkg/byml"
)

// Result is one matched placement. Scenarios accumulates the scenarios in
// which an identical placement was found.
type Result struct {
	Stage     string
	Scenario  int // zero-based index of the scenario that produced it
	Scenarios [MaxScenarios]bool
	ItemList  string
	BaseName  string // top-level UnitConfigName when matched through Links

	UnitConfigName      string
	ModelName           string
	ParameterConfigName string
	Id                  string
	Translate           Vector3f
	Rotate              Vector3f
	Scale               Vector3f

	// QueryValue is the item's value under Query.Key; Null when the key is
	// absent or holds a container.
	QueryValue byml.Value
}

// dedupKey holds the fields that decide whether two Results are the same
// placement. Scenario, ItemList, BaseName and QueryValue do not take part.
type dedupKey struct {
	stage               string
	unitConfigName      string
	modelName           string
	parameterConfigName string
	id                  string
	translate           Vector3f
	rotate              Vector3f
	scale               Vector3f
}

func (r *Result) key() dedupKey {
	return dedupKey{
		stage:               r.Stage,
		unitConfigName:      r.UnitConfigName,
		modelName:           r.ModelName,
		parameterConfigName: r.ParameterConfigName,
		id:                  r.Id,
		translate:           r.Translate,
		rotate:              r.Rotate,
		scale:               r.Scale,
	}
}

const fingerprintSeed = 0x9747b28c

// fingerprint hashes a dedup key. Strings are length-prefixed so adjacent
// fields cannot run together.
func (k dedupKey) fingerprint() uint64 {
	buf := make([]byte, 0, 128)
	for _, s := range []string{k.stage, k.unitConfigName, k.modelName, k.parameterConfigName, k.id} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	for _, v := range []Vector3f{k.translate, k.rotate, k.scale} {
		for _, f := range []float32{v.X, v.Y, v.Z} {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return murmurhash.MurmurHash64A(buf, fingerprintSeed)
}

// Deduplicate merges Results with equal dedup keys, keeping the first one
// found and OR-ing the scenario flags of later ones into it. Discovery
// order is preserved.
func Deduplicate(results []Result) []Result {
	buckets := make(map[uint64][]int, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		k := r.key()
		fp := k.fingerprint()
		merged := false
		for _, i := range buckets[fp] {
			if out[i].key() == k {
				for s, set := range r.Scenarios {
					out[i].Scenarios[s] = out[i].Scenarios[s] || set
				}
				merged = true
				break
			}
		}
		if !merged {
			buckets[fp] = append(buckets[fp], len(out))
			out = append(out, r)
		}
	}
	return out
}
