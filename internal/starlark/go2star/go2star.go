// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package go2star converts Go values to [starlark.Value].
package go2star

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// To converts a Go value to a Starlark value.
//
// It supports the following Go types:
//
//   - nil and nil pointers: converted to [starlark.None]
//   - bool: converted to [starlark.Bool]
//   - string: converted to [starlark.String]
//   - signed and unsigned integers: converted to [starlark.Int]
//   - float32, float64: converted to [starlark.Float] or [starlark.Int] (if the value can be represented as an integer without loss of precision)
//   - [time.Time]: converted to [starlarktime.Time]
//   - slice: converted to [starlark.List] (elements are recursively converted)
//   - map: converted to [starlark.Dict] (keys and values are recursively converted)
//   - struct: converted to a struct whose attributes are the exported fields,
//     named after the "starlark" or "json" tag. Fields tagged "-" are skipped.
//   - pointer: the pointed-to value is converted
//
// If the Go value cannot be converted, an error is returned.
func To(val any) (starlark.Value, error) {
	if val == nil {
		return starlark.None, nil
	}
	return to(reflect.ValueOf(val))
}

func to(rv reflect.Value) (starlark.Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return to(rv.Elem())
	case reflect.Bool:
		return starlark.Bool(rv.Bool()), nil
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return starlark.MakeUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		fl := rv.Float()
		if canBeInt(fl) {
			return starlark.MakeInt64(int64(fl)), nil
		}
		return starlark.Float(fl), nil
	case reflect.Slice, reflect.Array:
		list := make([]starlark.Value, 0, rv.Len())
		for i := range rv.Len() {
			conv, err := to(rv.Index(i))
			if err != nil {
				return nil, err
			}
			list = append(list, conv)
		}
		return starlark.NewList(list), nil
	case reflect.Map:
		return mapToDict(rv)
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			return starlarktime.Time(t), nil
		}
		return structToStruct(rv)
	default:
		return nil, fmt.Errorf("unsupported Go type: %s", rv.Type())
	}
}

func structToStruct(val reflect.Value) (starlark.Value, error) {
	fields := make(starlark.StringDict, val.NumField())
	structType := val.Type()

	for i := range val.NumField() {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}

		name, ok := field.Tag.Lookup("starlark")
		if !ok {
			name, ok = field.Tag.Lookup("json")
		}
		name, _, _ = strings.Cut(name, ",")
		if name == "-" {
			continue
		}
		if !ok || name == "" {
			name = field.Name
		}

		// Embedded structs are flattened.
		if field.Anonymous && indirect(field.Type).Kind() == reflect.Struct && !ok {
			embedded, err := to(val.Field(i))
			if err != nil {
				return nil, err
			}
			if s, isStruct := embedded.(*starlarkstruct.Struct); isStruct {
				s.ToStringDict(fields)
				continue
			}
		}

		fieldVal, err := to(val.Field(i))
		if err != nil {
			return nil, fmt.Errorf("converting field %s: %w", name, err)
		}
		fields[name] = fieldVal
	}

	return starlarkstruct.FromStringDict(starlarkstruct.Default, fields), nil
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// canBeInt reports if the float can be converted to int without losing
// precision.
func canBeInt(f float64) bool {
	if f < math.MinInt64 || f > math.MaxInt64 {
		return false
	}
	return f == math.Trunc(f)
}

func mapToDict(rv reflect.Value) (starlark.Value, error) {
	dict := starlark.NewDict(rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := to(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("converting map key: %w", err)
		}

		val, err := to(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("converting map value: %w", err)
		}

		if err := dict.SetKey(key, val); err != nil {
			return nil, fmt.Errorf("setting key-value in Starlark dict: %w", err)
		}
	}

	return dict, nil
}
