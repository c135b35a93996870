package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Metadata is a hierarchical map of (map | list | scalar) values, keyed by
// dotted paths such as "scope.project.id" or "scope.turn.id". It is
// schema-validated only at process boundaries (hooks, HTTP); internally it
// is treated as an opaque tree with deep get/set helpers.
type Metadata map[string]interface{}

// Get performs a deep lookup of a dotted key path, returning the value and
// whether it was present. Intermediate segments must be maps; anything
// else is treated as a miss rather than a panic.
func (m Metadata) Get(path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(m)
	for _, seg := range segments {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = asMap[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString is a convenience wrapper over Get for string-valued paths.
func (m Metadata) GetString(path string) (string, bool) {
	v, ok := m.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set performs a deep write of a dotted key path, creating intermediate
// maps as needed. Set never replaces a non-map intermediate value without
// overwriting it outright -- callers that rely on partial paths matching
// existing scalars get last-write-wins semantics, same as MergeDeep below.
func (m Metadata) Set(path string, value interface{}) {
	segments := strings.Split(path, ".")
	cur := map[string]interface{}(m)
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[seg] = next
		}
		cur = next
	}
}

// MergeDeep deep-merges enrichments into m: nested maps recurse, scalars
// and arrays are replaced wholesale. Nothing in the module calls it: C9
// "before" hooks write into the event's Metadata directly.
func MergeDeep(base Metadata, enrichments Metadata) Metadata {
	if base == nil {
		base = Metadata{}
	}
	for k, v := range enrichments {
		bv, exists := base[k]
		if !exists {
			base[k] = v
			continue
		}
		bMap, bIsMap := bv.(map[string]interface{})
		vMap, vIsMap := v.(map[string]interface{})
		if bIsMap && vIsMap {
			base[k] = map[string]interface{}(MergeDeep(Metadata(bMap), Metadata(vMap)))
			continue
		}
		// Scalar or array: overwrite wholesale.
		base[k] = v
	}
	return base
}

// Clone returns a deep copy of m suitable for mutation without aliasing
// the original map (maps and slices are reference types in Go).
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// validMetadataKeyRe matches the dotted-path keys Set/Get accept: a
// leading letter or underscore, then alphanumerics, underscores, dots.
var validMetadataKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidateMetadataKey checks a metadata key is safe to use as a dotted
// path, called only at the hook/HTTP boundary -- internal code treats
// Metadata as opaque and never re-validates keys it already holds.
func ValidateMetadataKey(key string) error {
	if !validMetadataKeyRe.MatchString(key) {
		return fmt.Errorf("invalid metadata key %q: must match [a-zA-Z_][a-zA-Z0-9_.]*", key)
	}
	return nil
}

func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, vv := range tv {
			out[k] = cloneValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, vv := range tv {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}
