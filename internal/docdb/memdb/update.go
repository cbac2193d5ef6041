package memdb

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// applyUpdate applies $set, $unset, $inc and (on insert) $setOnInsert to doc.
// A document without operators replaces doc while keeping its _id.
func applyUpdate(doc bson.M, update bson.M, inserting bool) (bson.M, error) {
	if _, isOps := operatorDoc(update); !isOps {
		replacement := copyDoc(update)
		if id, ok := doc["_id"]; ok {
			replacement["_id"] = id
		}
		return replacement, nil
	}

	for op, arg := range update {
		fields, ok := arg.(bson.M)
		if !ok {
			return nil, fmt.Errorf("memdb: %s expects a document, got %T", op, arg)
		}
		switch op {
		case "$set":
			for path, v := range fields {
				setPath(doc, path, copyValue(v))
			}
		case "$setOnInsert":
			if !inserting {
				continue
			}
			for path, v := range fields {
				setPath(doc, path, copyValue(v))
			}
		case "$unset":
			for path := range fields {
				unsetPath(doc, path)
			}
		case "$inc":
			for path, v := range fields {
				delta, ok := toFloat(v)
				if !ok {
					return nil, fmt.Errorf("memdb: $inc on %s expects a number", path)
				}
				current, _ := lookup(doc, path)
				base, _ := toFloat(current)
				setPath(doc, path, incremented(current, v, base+delta))
			}
		default:
			return nil, fmt.Errorf("memdb: unsupported update operator %s", op)
		}
	}
	return doc, nil
}

// incremented keeps integer fields integral.
func incremented(current, delta any, sum float64) any {
	_, curFloat := current.(float64)
	_, deltaFloat := delta.(float64)
	if curFloat || deltaFloat {
		return sum
	}
	return int64(sum)
}

func setPath(doc bson.M, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(bson.M)
		if !ok {
			if plain, isPlain := current[part].(map[string]any); isPlain {
				next = plain
			} else {
				next = bson.M{}
			}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(bson.M)
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return copyDoc(t)
	case map[string]any:
		return map[string]any(copyDoc(t))
	case bson.D:
		out := make(bson.D, len(t))
		for i, e := range t {
			out[i] = bson.E{Key: e.Key, Value: copyValue(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float32:
		return append([]float32(nil), t...)
	}
	return v
}
