package posefactor

import (
	"fmt"
	"sort"

	"go.viam.com/rdk/spatialmath"
)

// Key is an opaque identifier for a variable in the external solver's graph.
type Key uint64

// KeyFormatter renders a Key for human-readable factor printing.
type KeyFormatter func(Key) string

// DefaultKeyFormatter renders keys as "k<number>".
func DefaultKeyFormatter(k Key) string {
	return fmt.Sprintf("k%d", uint64(k))
}

// Values holds the current pose estimate for each variable key. The external
// solver owns and updates it between iterations; factors only read from it
// during evaluation. Point-valued variables are stored as poses with identity
// rotation.
type Values struct {
	poses map[Key]spatialmath.Pose
}

// NewValues creates an empty value container.
func NewValues() *Values {
	return &Values{poses: make(map[Key]spatialmath.Pose)}
}

// Set inserts or replaces the estimate for a key.
func (v *Values) Set(k Key, pose spatialmath.Pose) {
	v.poses[k] = pose
}

// Pose returns the current estimate for a key, or ErrUnknownKey if absent.
func (v *Values) Pose(k Key) (spatialmath.Pose, error) {
	pose, ok := v.poses[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, DefaultKeyFormatter(k))
	}
	return pose, nil
}

// Has reports whether an estimate exists for the key.
func (v *Values) Has(k Key) bool {
	_, ok := v.poses[k]
	return ok
}

// Len returns the number of stored estimates.
func (v *Values) Len() int {
	return len(v.poses)
}

// Keys returns all keys in ascending order.
func (v *Values) Keys() []Key {
	keys := make([]Key, 0, len(v.poses))
	for k := range v.poses {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
