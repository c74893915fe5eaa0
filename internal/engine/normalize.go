package engine

import (
	"maps"
	"reflect"

	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/pkg/schema"
)

// ResultRecord is the normalized output of one node.
type ResultRecord = map[string]any

// Results maps node names to their records for one evaluation pass.
type Results map[string]ResultRecord

// Normalizer turns raw operation return values into ResultRecords.
//
// Maps with string keys (including operations.Outputs) keep their fields.
// Every other value, nil included, is wrapped under the canonical key.
// Records never alias the returned map; nested values are shared.
type Normalizer struct {
	key string
}

// NewNormalizer returns a Normalizer wrapping under key ("result" when empty).
func NewNormalizer(key string) Normalizer {
	if key == "" {
		key = schema.DefaultOutputKey
	}
	return Normalizer{key: key}
}

// Key returns the canonical field name.
func (n Normalizer) Key() string {
	if n.key == "" {
		return schema.DefaultOutputKey
	}
	return n.key
}

// Normalize converts v to a ResultRecord.
func (n Normalizer) Normalize(v any) ResultRecord {
	// Mappings are copied so no two records share one map.
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return ResultRecord{}
		}
		return maps.Clone(m)
	case operations.Outputs:
		if m == nil {
			return ResultRecord{}
		}
		return maps.Clone(ResultRecord(m))
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		rec := make(ResultRecord, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			rec[iter.Key().String()] = iter.Value().Interface()
		}
		return rec
	}

	return ResultRecord{n.Key(): v}
}
