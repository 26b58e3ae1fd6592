package search

import (
	"fmt"

	"github.com/user/aflgo/pkg/byml"
)

// Vector3f is a placement vector read from an X/Y/Z hash.
type Vector3f struct {
	X, Y, Z float32
}

func (v Vector3f) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

// readVector reads item[key].{X,Y,Z}. A missing container or axis reads as
// zero.
func readVector(item byml.Reader, key string) Vector3f {
	var v Vector3f
	vec, ok := item.TryContainerByKey(key)
	if !ok {
		return v
	}
	v.X, _ = vec.TryF32ByKey("X")
	v.Y, _ = vec.TryF32ByKey("Y")
	v.Z, _ = vec.TryF32ByKey("Z")
	return v
}
