package storage

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/blueberrycongee/convostore/pkg/types"
)

// String reads a string field.
func String(rec bson.M, key string) string {
	s, _ := rec[key].(string)
	return s
}

// Time reads a timestamp field stored as time.Time or a driver DateTime.
func Time(rec bson.M, key string) time.Time {
	switch t := rec[key].(type) {
	case time.Time:
		return t.UTC()
	case primitive.DateTime:
		return t.Time().UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// Int64 reads an integral field of any numeric representation.
func Int64(rec bson.M, key string) int64 {
	switch n := rec[key].(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// Float64 reads a numeric field.
func Float64(rec bson.M, key string) float64 {
	switch n := rec[key].(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Map reads a document field as a plain map.
func Map(rec bson.M, key string) map[string]any {
	return ToMap(rec[key])
}

// ToMap converts nested document representations to map[string]any.
func ToMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case bson.M:
		return map[string]any(m)
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out
	}
	return nil
}

// Slice reads an array field.
func Slice(rec bson.M, key string) []any {
	switch l := rec[key].(type) {
	case []any:
		return l
	case bson.A:
		return l
	}
	return nil
}

// DateRangeFilter adds bounds on field to filter.
func DateRangeFilter(filter bson.M, field string, r *types.DateRange) bson.M {
	if r == nil || (r.Start == nil && r.End == nil) {
		return filter
	}
	bounds := bson.M{}
	if r.Start != nil {
		bounds["$gte"] = r.Start.UTC()
	}
	if r.End != nil {
		bounds["$lte"] = r.End.UTC()
	}
	filter[field] = bounds
	return filter
}

// Page normalizes page arguments and returns the document offset.
func Page(page, perPage, defaultPerPage int) (int, int, int64) {
	if page < 0 {
		page = 0
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return page, perPage, int64(page) * int64(perPage)
}
