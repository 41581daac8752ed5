package state

import "github.com/iancoleman/orderedmap"

// Field reads one field from a collection record regardless of whether
// the record is stored as a plain map or an ordered map.
func Field(record any, field string) (any, bool) {
	switch rec := record.(type) {
	case map[string]any:
		value, ok := rec[field]
		return value, ok
	case *orderedmap.OrderedMap:
		return rec.Get(field)
	case orderedmap.OrderedMap:
		return rec.Get(field)
	default:
		return nil, false
	}
}

// SetField writes one field into a collection record in place. It
// reports whether the record shape supported the write.
func SetField(record any, field string, value any) bool {
	switch rec := record.(type) {
	case map[string]any:
		rec[field] = value
		return true
	case *orderedmap.OrderedMap:
		rec.Set(field, value)
		return true
	default:
		return false
	}
}

// FieldNumber reads a numeric record field through Field.
func FieldNumber(record any, field string) (float64, bool) {
	value, ok := Field(record, field)
	if !ok {
		return 0, false
	}
	return asNumber(value)
}

// Records iterates a collection's raw records without copying, so
// callers holding the authoritative document can mutate them in place.
func Records(collection any, visit func(record any)) {
	switch c := collection.(type) {
	case []any:
		for _, record := range c {
			visit(record)
		}
	case map[string]any:
		for _, record := range c {
			visit(record)
		}
	case *orderedmap.OrderedMap:
		for _, key := range c.Keys() {
			record, _ := c.Get(key)
			visit(record)
		}
	}
}
