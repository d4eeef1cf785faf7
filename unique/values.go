package unique

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Values maps dotted field paths to the values a write submitted. Nested
// sub-documents are recorded both as a whole and field by field, so
// `profile` and `profile.handle` are both present.
type Values map[string]any

// Lookup returns the value recorded for path.
func (v Values) Lookup(path string) (any, bool) {
	if v == nil {
		return nil, false
	}
	val, ok := v[path]
	return val, ok
}

// Merge layers value sets; later sets win on conflicting paths.
func Merge(sets ...Values) Values {
	out := Values{}
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// FromDocument flattens an insert or replacement document. bson.D, bson.M
// and map[string]any are walked directly so values keep their Go types;
// anything else goes through the bson codec first.
func FromDocument(doc any) (Values, error) {
	out := Values{}
	if doc == nil {
		return out, nil
	}
	d, err := asDocument(doc)
	if err != nil {
		return nil, err
	}
	flattenD("", d, out)
	return out, nil
}

// FromUpdate extracts the values an update assigns. Operator documents
// contribute their $set and $setOnInsert fields; a document without
// operators is treated as a replacement. Aggregation pipeline updates
// yield no values.
func FromUpdate(update any) (Values, error) {
	out := Values{}
	if update == nil || isSequence(update) {
		return out, nil
	}
	d, err := asDocument(update)
	if err != nil {
		return nil, err
	}
	if len(d) == 0 {
		return out, nil
	}
	if !strings.HasPrefix(d[0].Key, "$") {
		flattenD("", d, out)
		return out, nil
	}
	for _, e := range d {
		if e.Key != "$set" && e.Key != "$setOnInsert" {
			continue
		}
		fields, err := asDocument(e.Value)
		if err != nil {
			return nil, fmt.Errorf("unique: %s: %w", e.Key, err)
		}
		flattenD("", fields, out)
	}
	return out, nil
}

// FromFilter extracts equality conditions from a query filter. Upserts
// copy these into the inserted document, and for compound indexes they
// supply the fields an update leaves untouched.
func FromFilter(filter any) Values {
	out := Values{}
	if filter == nil {
		return out
	}
	d, err := asDocument(filter)
	if err != nil {
		return out
	}
	for _, e := range d {
		if strings.HasPrefix(e.Key, "$") {
			continue
		}
		if ops, ok := operatorDocument(e.Value); ok {
			for _, op := range ops {
				if op.Key == "$eq" {
					out[e.Key] = op.Value
				}
			}
			continue
		}
		out[e.Key] = e.Value
	}
	return out
}

// FromUpdateWrite combines the equality conditions of filter with the
// values update assigns. A filter path the update modifies by any other
// operator ($inc, $unset, $rename, ...) no longer holds the matched value
// and is dropped, together with its parents and descendants. Pipeline and
// unreadable updates keep no filter values at all.
func FromUpdateWrite(filter, update any) Values {
	assigned, err := FromUpdate(update)
	if err != nil {
		return Values{}
	}
	if update != nil && !isSequence(update) && !isOperatorUpdate(update) {
		return FromReplaceWrite(filter, update)
	}
	touched, ok := touchedPaths(update)
	if !ok {
		return assigned
	}
	kept := Values{}
	for path, v := range FromFilter(filter) {
		if !overlapsAny(path, touched) {
			kept[path] = v
		}
	}
	return Merge(kept, assigned)
}

// FromReplaceWrite returns the values of a replacement document. Only the
// filter's _id carries over, as it does on an upsert.
func FromReplaceWrite(filter, replacement any) Values {
	doc, _ := FromDocument(replacement)
	kept := Values{}
	if id, ok := FromFilter(filter)["_id"]; ok {
		kept["_id"] = id
	}
	return Merge(kept, doc)
}

// FromWriteModel extracts values from a bulk write model.
func FromWriteModel(m mongo.WriteModel) Values {
	switch op := m.(type) {
	case *mongo.InsertOneModel:
		v, _ := FromDocument(op.Document)
		return v
	case *mongo.ReplaceOneModel:
		return FromReplaceWrite(op.Filter, op.Replacement)
	case *mongo.UpdateOneModel:
		return FromUpdateWrite(op.Filter, op.Update)
	case *mongo.UpdateManyModel:
		return FromUpdateWrite(op.Filter, op.Update)
	default:
		return nil
	}
}

func isOperatorUpdate(update any) bool {
	d, err := asDocument(update)
	if err != nil || len(d) == 0 {
		return true
	}
	return strings.HasPrefix(d[0].Key, "$")
}

// touchedPaths lists every field path an operator update writes. The
// second result is false when the paths cannot be known.
func touchedPaths(update any) ([]string, bool) {
	if update == nil {
		return nil, true
	}
	if isSequence(update) {
		return nil, false
	}
	d, err := asDocument(update)
	if err != nil {
		return nil, false
	}
	var paths []string
	for _, e := range d {
		fields, err := asDocument(e.Value)
		if err != nil {
			return nil, false
		}
		for _, f := range fields {
			paths = append(paths, fieldPath(f.Key))
			if e.Key == "$rename" {
				if to, ok := f.Value.(string); ok {
					paths = append(paths, fieldPath(to))
				}
			}
		}
	}
	return paths, true
}

// fieldPath cuts a path at its first positional segment ("$", "$[]",
// "$[elem]"), since the array as a whole is what changes.
func fieldPath(key string) string {
	parts := strings.Split(key, ".")
	for i, p := range parts {
		if strings.HasPrefix(p, "$") {
			return strings.Join(parts[:i], ".")
		}
	}
	return key
}

func overlapsAny(path string, touched []string) bool {
	for _, t := range touched {
		if t == "" || path == t ||
			strings.HasPrefix(path, t+".") || strings.HasPrefix(t, path+".") {
			return true
		}
	}
	return false
}

func asDocument(v any) (bson.D, error) {
	switch d := v.(type) {
	case bson.D:
		return d, nil
	case bson.M:
		return mapToD(d), nil
	case map[string]any:
		return mapToD(d), nil
	case bson.Raw:
		var out bson.D
		if err := bson.Unmarshal(d, &out); err != nil {
			return nil, fmt.Errorf("unique: decode document: %w", err)
		}
		return out, nil
	}

	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unique: marshal document: %w", err)
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unique: decode document: %w", err)
	}
	return out, nil
}

func mapToD(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

func operatorDocument(v any) (bson.D, bool) {
	var d bson.D
	switch t := v.(type) {
	case bson.D:
		d = t
	case bson.M:
		d = mapToD(t)
	case map[string]any:
		d = mapToD(t)
	default:
		return nil, false
	}
	if len(d) == 0 || !strings.HasPrefix(d[0].Key, "$") {
		return nil, false
	}
	return d, true
}

func isSequence(v any) bool {
	switch v.(type) {
	case bson.D, bson.Raw:
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func flattenD(prefix string, d bson.D, out Values) {
	for _, e := range d {
		flattenValue(joinPath(prefix, e.Key), e.Value, out)
	}
}

func flattenValue(path string, v any, out Values) {
	out[path] = v
	switch nested := v.(type) {
	case bson.D:
		flattenD(path, nested, out)
	case bson.M:
		flattenD(path, mapToD(nested), out)
	case map[string]any:
		flattenD(path, mapToD(nested), out)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
