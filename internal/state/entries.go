package state

import (
	"fmt"

	"github.com/iancoleman/orderedmap"
)

// DefaultKeyField names the record field used to derive keys from
// array-shaped collections when no override is configured.
const DefaultKeyField = "id"

// Entry is one normalized (key, data) pair from a replicated collection.
type Entry struct {
	Key  string
	Data EntityData
}

// Entries normalizes a collection value into (key, data) pairs. Ordered
// maps and plain maps key by the map's own key; arrays derive the key
// from keyField (DefaultKeyField when empty). Records that are not
// keyed maps, and array records missing the key field, are skipped.
// Colliding keys are last-write-wins in iteration order.
func Entries(collection any, keyField string) []Entry {
	if keyField == "" {
		keyField = DefaultKeyField
	}
	switch c := collection.(type) {
	case *orderedmap.OrderedMap:
		entries := make([]Entry, 0, len(c.Keys()))
		for _, key := range c.Keys() {
			value, _ := c.Get(key)
			if data, ok := asEntityData(value); ok {
				entries = append(entries, Entry{Key: key, Data: data})
			}
		}
		return entries
	case map[string]any:
		entries := make([]Entry, 0, len(c))
		for key, value := range c {
			if data, ok := asEntityData(value); ok {
				entries = append(entries, Entry{Key: key, Data: data})
			}
		}
		return entries
	case []any:
		entries := make([]Entry, 0, len(c))
		for _, value := range c {
			data, ok := asEntityData(value)
			if !ok {
				continue
			}
			key, ok := deriveKey(data, keyField)
			if !ok {
				continue
			}
			entries = append(entries, Entry{Key: key, Data: data})
		}
		return entries
	default:
		return nil
	}
}

func asEntityData(value any) (EntityData, bool) {
	switch v := value.(type) {
	case EntityData:
		return v, true
	case *orderedmap.OrderedMap:
		data := make(EntityData, len(v.Keys()))
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			data[key] = item
		}
		return data, true
	case orderedmap.OrderedMap:
		return asEntityData(&v)
	default:
		return nil, false
	}
}

func deriveKey(data EntityData, keyField string) (string, bool) {
	value, ok := data[keyField]
	if !ok {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, v != ""
	case float64:
		return fmt.Sprintf("%v", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	default:
		return "", false
	}
}
