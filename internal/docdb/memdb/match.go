package memdb

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	regexMu    sync.Mutex
	regexCache = map[string]*regexp.Regexp{}
)

// matches evaluates the supported subset of the MongoDB query language:
// equality, $eq $ne $gt $gte $lt $lte $in $nin $exists $regex, $and, $or and
// dotted paths into embedded documents.
func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		switch key {
		case "$and", "$or":
			clauses, err := toFilters(cond)
			if err != nil {
				return false, err
			}
			ok, err := matchLogical(doc, key, clauses)
			if err != nil || !ok {
				return false, err
			}
			continue
		}

		value, present := lookup(doc, key)
		ok, err := matchCondition(value, present, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc bson.M, op string, clauses []bson.M) (bool, error) {
	for _, clause := range clauses {
		ok, err := matches(doc, clause)
		if err != nil {
			return false, err
		}
		if op == "$or" && ok {
			return true, nil
		}
		if op == "$and" && !ok {
			return false, nil
		}
	}
	return op == "$and", nil
}

func matchCondition(value any, present bool, cond any) (bool, error) {
	ops, isOps := operatorDoc(cond)
	if !isOps {
		return equalsValue(value, present, cond), nil
	}

	for op, arg := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = equalsValue(value, present, arg)
		case "$ne":
			ok = !equalsValue(value, present, arg)
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false, nil
			}
			c, comparable := compare(value, arg)
			if !comparable {
				return false, nil
			}
			switch op {
			case "$gt":
				ok = c > 0
			case "$gte":
				ok = c >= 0
			case "$lt":
				ok = c < 0
			case "$lte":
				ok = c <= 0
			}
		case "$in", "$nin":
			list, err := toList(arg)
			if err != nil {
				return false, err
			}
			found := false
			for _, candidate := range list {
				if equalsValue(value, present, candidate) {
					found = true
					break
				}
			}
			ok = found == (op == "$in")
		case "$exists":
			want, _ := arg.(bool)
			ok = present == want
		case "$regex":
			pattern, _ := arg.(string)
			if p, isRegex := arg.(primitive.Regex); isRegex {
				pattern = p.Pattern
			}
			s, isString := value.(string)
			if !isString {
				return false, nil
			}
			re, err := compileRegex(pattern)
			if err != nil {
				return false, err
			}
			ok = re.MatchString(s)
		case "$options":
			ok = true
		default:
			return false, fmt.Errorf("memdb: unsupported query operator %s", op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// equalsValue implements equality including "array contains" semantics.
func equalsValue(value any, present bool, want any) bool {
	if want == nil {
		return !present || value == nil
	}
	if !present {
		return false
	}
	if list, err := toList(value); err == nil {
		if _, wantList := want.(bson.A); !wantList {
			for _, item := range list {
				if c, ok := compare(item, want); ok && c == 0 {
					return true
				}
			}
			return false
		}
	}
	c, ok := compare(value, want)
	return ok && c == 0
}

// compare orders two scalar values of compatible kinds.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case primitive.ObjectID:
		bv, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Hex(), bv.Hex()), true
	case nil:
		if b == nil {
			return 0, true
		}
		return -1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

func toList(v any) ([]any, error) {
	switch l := v.(type) {
	case bson.A:
		return l, nil
	case []any:
		return l, nil
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("memdb: expected array, got %T", v)
}

func toFilters(v any) ([]bson.M, error) {
	switch l := v.(type) {
	case []bson.M:
		return l, nil
	case bson.A, []any:
		list, _ := toList(l)
		out := make([]bson.M, 0, len(list))
		for _, item := range list {
			m, ok := item.(bson.M)
			if !ok {
				return nil, fmt.Errorf("memdb: expected document in logical clause, got %T", item)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("memdb: expected array of documents, got %T", v)
}

// operatorDoc reports whether cond is an operator document like {"$gt": 1}.
func operatorDoc(cond any) (bson.M, bool) {
	m, ok := cond.(bson.M)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// lookup resolves a dotted path inside a document.
func lookup(doc bson.M, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(bson.M)
		if !ok {
			if plain, isPlain := current.(map[string]any); isPlain {
				m = plain
			} else {
				return nil, false
			}
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexMu.Lock()
	defer regexMu.Unlock()

	if re, ok := regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("memdb: invalid $regex: %w", err)
	}
	regexCache[pattern] = re
	return re, nil
}
