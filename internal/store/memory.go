package store

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryCollection is an in-process Collection used by unit tests and when no
// database is configured. It understands the subset of the query language the
// API issues: equality, $eq, $regex/$options on filters and $set/$inc on
// updates. Each call is atomic; nothing spans calls.
type MemoryCollection struct {
	name string
	mu   sync.RWMutex
	docs []bson.M // insertion order
}

func NewMemoryCollection(name string) *MemoryCollection {
	return &MemoryCollection{name: name}
}

func (m *MemoryCollection) Name() string { return m.name }

func (m *MemoryCollection) Find(_ context.Context, filter bson.M, o *FindOptions) ([]bson.M, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []bson.M{}
	for _, d := range m.docs {
		ok, err := matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cloneDoc(d))
		}
	}
	if o != nil {
		if len(o.Sort) > 0 {
			sortDocs(out, o.Sort)
		}
		if o.Limit > 0 && int64(len(out)) > o.Limit {
			out = out[:o.Limit]
		}
	}
	return out, nil
}

func (m *MemoryCollection) FindOne(_ context.Context, filter bson.M) (bson.M, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, err := m.indexOf(filter)
	if err != nil || i < 0 {
		return nil, err
	}
	return cloneDoc(m.docs[i]), nil
}

// InsertOne assigns an ObjectID when the document carries no _id. The id is
// also written back to doc, as the database drivers do.
func (m *MemoryCollection) InsertOne(_ context.Context, doc bson.M) (*InsertOneResult, error) {
	if doc == nil {
		doc = bson.M{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := doc[IDField]
	if !ok {
		id = primitive.NewObjectID()
		doc[IDField] = id
	} else if i, _ := m.indexOf(bson.M{IDField: id}); i >= 0 {
		return nil, fmt.Errorf("duplicate key: %s %v", IDField, id)
	}
	m.docs = append(m.docs, cloneDoc(doc))
	return &InsertOneResult{Acknowledged: true, InsertedID: id}, nil
}

func (m *MemoryCollection) UpdateOne(_ context.Context, filter, update bson.M) (*UpdateResult, error) {
	if err := validateUpdate(update); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.indexOf(filter)
	if err != nil {
		return nil, err
	}
	res := &UpdateResult{Acknowledged: true}
	if i < 0 {
		return res, nil
	}
	res.MatchedCount = 1
	updated := cloneDoc(m.docs[i])
	if err := applyUpdate(updated, update); err != nil {
		return nil, err
	}
	if !reflect.DeepEqual(updated, m.docs[i]) {
		res.ModifiedCount = 1
		m.docs[i] = updated
	}
	return res, nil
}

func (m *MemoryCollection) DeleteOne(_ context.Context, filter bson.M) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.indexOf(filter)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{Acknowledged: true}
	if i >= 0 {
		m.docs = append(m.docs[:i], m.docs[i+1:]...)
		res.DeletedCount = 1
	}
	return res, nil
}

// indexOf returns the position of the first match or -1. Callers hold mu.
func (m *MemoryCollection) indexOf(filter bson.M) (int, error) {
	for i, d := range m.docs {
		ok, err := matches(d, filter)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

func matches(doc, filter bson.M) (bool, error) {
	for field, cond := range filter {
		if strings.HasPrefix(field, "$") {
			return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, field)
		}
		val, present := doc[field]
		ops, isOps := operatorDoc(cond)
		if !isOps {
			if !matchEq(val, present, cond) {
				return false, nil
			}
			continue
		}
		ok, err := matchOps(val, present, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// operatorDoc reports whether cond is an operator expression like {$regex: ...}.
func operatorDoc(cond interface{}) (map[string]interface{}, bool) {
	var mm map[string]interface{}
	switch v := cond.(type) {
	case bson.M:
		mm = v
	case map[string]interface{}:
		mm = v
	default:
		return nil, false
	}
	if len(mm) == 0 {
		return nil, false
	}
	for k := range mm {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return mm, true
}

func matchEq(val interface{}, present bool, want interface{}) bool {
	if want == nil {
		return !present || val == nil
	}
	if !present {
		return false
	}
	return compareValues(val, want) == 0 && typeRank(val) == typeRank(want)
}

func matchOps(val interface{}, present bool, ops map[string]interface{}) (bool, error) {
	for op, arg := range ops {
		switch op {
		case "$eq":
			if !matchEq(val, present, arg) {
				return false, nil
			}
		case "$regex":
			re, err := compileRegex(arg, ops["$options"])
			if err != nil {
				return false, err
			}
			s, ok := val.(string)
			if !ok || !re.MatchString(s) {
				return false, nil
			}
		case "$options":
			if _, ok := ops["$regex"]; !ok {
				return false, fmt.Errorf("%w: $options without $regex", ErrUnsupportedOperator)
			}
		default:
			return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
		}
	}
	return true, nil
}

func compileRegex(pattern, options interface{}) (*regexp.Regexp, error) {
	var expr, flags string
	switch p := pattern.(type) {
	case string:
		expr = p
	case primitive.Regex:
		expr, flags = p.Pattern, p.Options
	default:
		return nil, fmt.Errorf("%w: $regex needs a string", ErrUnsupportedOperator)
	}
	if o, ok := options.(string); ok {
		flags += o
	}
	var prefix string
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix += string(f)
		default:
			return nil, fmt.Errorf("%w: regex option %q", ErrUnsupportedOperator, f)
		}
	}
	if prefix != "" {
		expr = "(?" + prefix + ")" + expr
	}
	return regexp.Compile(expr)
}

func validateUpdate(update bson.M) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: update document is empty", ErrInvalidUpdate)
	}
	for op, arg := range update {
		if op != "$set" && op != "$inc" {
			return fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
		}
		fields, ok := asMap(arg)
		if !ok || len(fields) == 0 {
			return fmt.Errorf("%w: '%s' is empty", ErrInvalidUpdate, op)
		}
		if _, ok := fields[IDField]; ok {
			return fmt.Errorf("%w: field '%s' is immutable", ErrInvalidUpdate, IDField)
		}
		if op == "$inc" {
			for f, v := range fields {
				if _, ok := toFloat(v); !ok {
					return fmt.Errorf("%w: cannot increment with non-numeric argument for %s", ErrInvalidUpdate, f)
				}
			}
		}
	}
	return nil
}

func applyUpdate(doc, update bson.M) error {
	if set, ok := asMap(update["$set"]); ok {
		for f, v := range set {
			doc[f] = cloneValue(v)
		}
	}
	if inc, ok := asMap(update["$inc"]); ok {
		for f, delta := range inc {
			cur, present := doc[f]
			if !present || cur == nil {
				doc[f] = delta
				continue
			}
			sum, err := addNumbers(cur, delta)
			if err != nil {
				return fmt.Errorf("%w: field %s: %v", ErrInvalidUpdate, f, err)
			}
			doc[f] = sum
		}
	}
	return nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case map[string]interface{}:
		return t, true
	}
	return nil, false
}

// addNumbers keeps integer arithmetic integral and widens to float64 otherwise.
func addNumbers(a, b interface{}) (interface{}, error) {
	ai, aInt := toInt(a)
	bi, bInt := toInt(b)
	if aInt && bInt {
		return ai + bi, nil
	}
	af, ok := toFloat(a)
	if !ok {
		return nil, fmt.Errorf("cannot apply $inc to a value of non-numeric type %T", a)
	}
	bf, _ := toFloat(b)
	return af + bf, nil
}

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// typeRank follows the database's cross-type sort order.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string:
		return 3
	case bson.M, map[string]interface{}:
		return 4
	case bson.A, []interface{}:
		return 5
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time, primitive.DateTime:
		return 9
	}
	return 6
}

func compareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case 2:
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 7:
		ao, bo := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return strings.Compare(ao.Hex(), bo.Hex())
	case 8:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case 9:
		return toTime(a).Compare(toTime(b))
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toTime(v interface{}) time.Time {
	if dt, ok := v.(primitive.DateTime); ok {
		return dt.Time()
	}
	return v.(time.Time)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// sortDocs orders docs by the given keys; 1 ascending, -1 descending.
// Ties keep insertion order.
func sortDocs(docs []bson.M, keys bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(docs[i][k.Key], docs[j][k.Key])
			if c == 0 {
				continue
			}
			if dir, ok := toInt(k.Value); ok && dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func cloneDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return cloneDoc(t)
	case map[string]interface{}:
		return map[string]interface{}(cloneDoc(t))
	case bson.A:
		out := make(bson.A, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	}
	return v
}
