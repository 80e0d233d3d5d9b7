package cryptoutil

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// marshalJSON is encoding/json.Marshal with a pre-check that rejects
// NaN/Inf floats, which JSON has no representation for and which
// json.Marshal itself would otherwise refuse with a less useful error
// buried inside a *json.UnsupportedValueError.
func marshalJSON(v any) ([]byte, error) {
	if hasNaNOrInf(reflect.ValueOf(v)) {
		return nil, fmt.Errorf("value contains NaN or Infinity, not representable in canonical JSON")
	}
	return json.Marshal(v)
}

func hasNaNOrInf(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		return math.IsNaN(f) || math.IsInf(f, 0)
	case reflect.Map:
		for _, key := range v.MapKeys() {
			if hasNaNOrInf(v.MapIndex(key)) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if hasNaNOrInf(v.Index(i)) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if hasNaNOrInf(v.Field(i)) {
				return true
			}
		}
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			return hasNaNOrInf(v.Elem())
		}
	}
	return false
}
