package store

import (
	"encoding/json"
	"fmt"
)

// MapConverter is implemented by row types with explicit column mapping.
type MapConverter interface {
	ToMap() map[string]any
	FromMap(m map[string]any) bool
}

// FromMap builds a *T from a row map, returning the zero pointer for nil or
// unparsable maps.
func FromMap[T any, PT interface {
	*T
	MapConverter
}](m map[string]any) PT {
	if len(m) == 0 {
		return nil
	}
	rtn := PT(new(T))
	if !rtn.FromMap(m) {
		return nil
	}
	return rtn
}

// GetMapGen runs query and maps the first row into *T (nil when no row).
func GetMapGen[T any, PT interface {
	*T
	MapConverter
}](tx *TxWrap, query string, args ...any) PT {
	return FromMap[T, PT](tx.GetMap(query, args...))
}

// SelectMapsGen runs query and maps every row into *T.
func SelectMapsGen[T any, PT interface {
	*T
	MapConverter
}](tx *TxWrap, query string, args ...any) []PT {
	var rtn []PT
	for _, m := range tx.SelectMaps(query, args...) {
		val := FromMap[T, PT](m)
		if val != nil {
			rtn = append(rtn, val)
		}
	}
	return rtn
}

// QuickSetStr reads a string column out of a row map.
func QuickSetStr(strVal *string, m map[string]any, name string) {
	v, ok := m[name]
	if !ok || v == nil {
		return
	}
	switch tv := v.(type) {
	case string:
		*strVal = tv
	case []byte:
		*strVal = string(tv)
	}
}

func QuickSetInt64(ival *int64, m map[string]any, name string) {
	v, ok := m[name]
	if !ok || v == nil {
		return
	}
	switch tv := v.(type) {
	case int64:
		*ival = tv
	case int:
		*ival = int64(tv)
	case float64:
		*ival = int64(tv)
	}
}

func QuickSetInt(ival *int, m map[string]any, name string) {
	var v64 int64
	QuickSetInt64(&v64, m, name)
	*ival = int(v64)
}

func QuickSetBool(bval *bool, m map[string]any, name string) {
	v, ok := m[name]
	if !ok || v == nil {
		return
	}
	switch tv := v.(type) {
	case bool:
		*bval = tv
	case int64:
		*bval = tv != 0
	case int:
		*bval = tv != 0
	}
}

func QuickSetBytes(bval *[]byte, m map[string]any, name string) {
	v, ok := m[name]
	if !ok || v == nil {
		return
	}
	if tv, ok := v.([]byte); ok {
		cp := make([]byte, len(tv))
		copy(cp, tv)
		*bval = cp
	}
}

// QuickSetJson unmarshals a JSON column into ptr; empty columns are left
// untouched.
func QuickSetJson(ptr any, m map[string]any, name string) {
	barr := getJsonBytes(m, name)
	if len(barr) == 0 {
		return
	}
	_ = json.Unmarshal(barr, ptr)
}

// QuickSetNullableJson is QuickSetJson for pointer-typed fields: an empty
// or JSON-null column leaves the pointer nil.
func QuickSetNullableJson[T any](ptr **T, m map[string]any, name string) {
	barr := getJsonBytes(m, name)
	if len(barr) == 0 || string(barr) == "null" {
		return
	}
	val := new(T)
	if err := json.Unmarshal(barr, val); err == nil {
		*ptr = val
	}
}

func QuickSetJsonArr[T any](ptr *[]T, m map[string]any, name string) {
	barr := getJsonBytes(m, name)
	if len(barr) == 0 {
		return
	}
	var rtn []T
	if err := json.Unmarshal(barr, &rtn); err == nil {
		*ptr = rtn
	}
}

func getJsonBytes(m map[string]any, name string) []byte {
	v, ok := m[name]
	if !ok || v == nil {
		return nil
	}
	switch tv := v.(type) {
	case string:
		return []byte(tv)
	case []byte:
		return tv
	}
	return nil
}

// QuickJson marshals v for storage in a JSON column. nil maps/slices store
// as "{}" / "[]"-free empty string to keep columns compact.
func QuickJson(v any) string {
	if v == nil {
		return ""
	}
	barr, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(barr)
}

// QuickNullableJson is QuickJson but preserves SQL NULL for nil pointers.
func QuickNullableJson(v any) any {
	if v == nil {
		return nil
	}
	return QuickJson(v)
}

func QuickJsonArr[T any](vals []T) string {
	if vals == nil {
		return ""
	}
	barr, err := json.Marshal(vals)
	if err != nil {
		return ""
	}
	return string(barr)
}

// FmtUniqueName produces the first name matching fmtStr (with an integer
// slot) that does not collide with strs, starting from startIdx. A fmtStr
// without a %d slot is returned as-is after a collision check.
func FmtUniqueName(name string, defaultFmtStr string, startIdx int, strs []string) string {
	var fmtStr string
	if name != "" {
		if !nameCollides(name, strs) {
			return name
		}
		fmtStr = name + "-%d"
		startIdx = 2
	} else {
		fmtStr = defaultFmtStr
	}
	if startIdx < 1 {
		startIdx = 1
	}
	for i := startIdx; i < startIdx+1000; i++ {
		candidate := fmt.Sprintf(fmtStr, i)
		if !nameCollides(candidate, strs) {
			return candidate
		}
	}
	return fmt.Sprintf(fmtStr, startIdx+1000)
}

func nameCollides(name string, strs []string) bool {
	for _, s := range strs {
		if s == name {
			return true
		}
	}
	return false
}
