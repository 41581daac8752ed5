package state

import (
	"encoding/json"
	"strings"

	"github.com/iancoleman/orderedmap"
)

// EntityData is a single keyed record inside a replicated collection.
type EntityData = map[string]any

// Document is the authoritative state shared between host and clients.
// It is a nested, keyed tree: collections are ordered maps or arrays,
// leaves are entity records or primitives. Only the host mutates it;
// clients receive full copies.
type Document struct {
	root *orderedmap.OrderedMap
}

// New returns an empty document.
func New() *Document {
	return &Document{root: orderedmap.New()}
}

// Get resolves a dot-separated path. The second return reports whether
// the full path exists.
func (d *Document) Get(path string) (any, bool) {
	if d == nil || d.root == nil || path == "" {
		return nil, false
	}
	var current any = d.root
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(*orderedmap.OrderedMap)
		if !ok {
			return nil, false
		}
		value, ok := node.Get(part)
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

// Set writes a value at a dot-separated path, creating intermediate
// ordered maps as needed. Setting through a non-map intermediate
// replaces it.
func (d *Document) Set(path string, value any) {
	if d == nil || path == "" {
		return
	}
	if d.root == nil {
		d.root = orderedmap.New()
	}
	parts := strings.Split(path, ".")
	node := d.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := node.Get(part)
		child, isMap := next.(*orderedmap.OrderedMap)
		if !ok || !isMap {
			child = orderedmap.New()
			node.Set(part, child)
		}
		node = child
	}
	node.Set(parts[len(parts)-1], value)
}

// Delete removes the value at a dot-separated path. It reports whether
// anything was removed.
func (d *Document) Delete(path string) bool {
	if d == nil || d.root == nil || path == "" {
		return false
	}
	parts := strings.Split(path, ".")
	node := d.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := node.Get(part)
		if !ok {
			return false
		}
		child, isMap := next.(*orderedmap.OrderedMap)
		if !isMap {
			return false
		}
		node = child
	}
	last := parts[len(parts)-1]
	if _, ok := node.Get(last); !ok {
		return false
	}
	node.Delete(last)
	return true
}

// Clone returns a deep copy. Snapshot deliveries hand out clones so a
// later host mutation can never alias data a client already holds.
func (d *Document) Clone() *Document {
	if d == nil || d.root == nil {
		return New()
	}
	return &Document{root: cloneOrderedMap(d.root)}
}

// MarshalJSON renders the document preserving collection order.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || d.root == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.root)
}

// UnmarshalJSON rebuilds the document from a full-snapshot payload.
func (d *Document) UnmarshalJSON(data []byte) error {
	root := orderedmap.New()
	if err := json.Unmarshal(data, root); err != nil {
		return err
	}
	d.root = normalizeOrderedMap(root)
	return nil
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case *orderedmap.OrderedMap:
		return cloneOrderedMap(v)
	case orderedmap.OrderedMap:
		return cloneOrderedMap(&v)
	case map[string]any:
		copied := make(map[string]any, len(v))
		for key, item := range v {
			copied[key] = cloneValue(item)
		}
		return copied
	case []any:
		copied := make([]any, len(v))
		for i, item := range v {
			copied[i] = cloneValue(item)
		}
		return copied
	default:
		return v
	}
}

func cloneOrderedMap(src *orderedmap.OrderedMap) *orderedmap.OrderedMap {
	dst := orderedmap.New()
	for _, key := range src.Keys() {
		value, _ := src.Get(key)
		dst.Set(key, cloneValue(value))
	}
	return dst
}

// normalizeOrderedMap rewrites nested orderedmap values decoded by
// value into pointers so Get/Set walk a single representation.
func normalizeOrderedMap(src *orderedmap.OrderedMap) *orderedmap.OrderedMap {
	for _, key := range src.Keys() {
		value, _ := src.Get(key)
		src.Set(key, normalizeValue(value))
	}
	return src
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case orderedmap.OrderedMap:
		return normalizeOrderedMap(&v)
	case *orderedmap.OrderedMap:
		return normalizeOrderedMap(v)
	case []any:
		for i, item := range v {
			v[i] = normalizeValue(item)
		}
		return v
	default:
		return v
	}
}

// CloneData deep-copies a single entity record.
func CloneData(data EntityData) EntityData {
	if data == nil {
		return nil
	}
	copied := make(EntityData, len(data))
	for key, value := range data {
		copied[key] = cloneValue(value)
	}
	return copied
}

// Number reads a numeric field from an entity record. JSON decoding
// produces float64, but host-local records may hold ints.
func Number(data EntityData, field string) (float64, bool) {
	value, ok := data[field]
	if !ok {
		return 0, false
	}
	return asNumber(value)
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Bool reads a boolean field from an entity record.
func Bool(data EntityData, field string) bool {
	value, ok := data[field]
	if !ok {
		return false
	}
	b, ok := value.(bool)
	return ok && b
}

// Text reads a string field from an entity record.
func Text(data EntityData, field string) (string, bool) {
	value, ok := data[field]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}
