// Package jsonwrapper contains a JSON unmarshaler.
package jsonwrapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// differences with respect to the standard package:
// - unknown fields are rejected
// - existing slices are emptied before being filled, instead of being reused
// - slices cannot be set to null

func fieldKey(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	return strings.Split(tag, ",")[0]
}

func resetSlices(v reflect.Value, raw any, path string) error {
	switch v.Kind() {
	case reflect.Slice:
		if raw == nil {
			if path == "" {
				return fmt.Errorf("cannot set slice to nil")
			}
			return fmt.Errorf("cannot set slice '%s' to nil", path)
		}

		if !v.IsNil() {
			v.Set(reflect.Zero(v.Type()))
		}

	case reflect.Struct:
		rawMap, ok := raw.(map[string]any)
		if !ok {
			return nil
		}

		for i := 0; i < v.NumField(); i++ {
			key := fieldKey(v.Type().Field(i))
			if key == "" {
				continue
			}

			rawVal, ok := rawMap[key]
			if !ok {
				continue
			}

			subPath := key
			if path != "" {
				subPath = path + "." + key
			}

			err := resetSlices(v.Field(i), rawVal, subPath)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Unmarshal decodes JSON.
func Unmarshal(buf []byte, dest any) error {
	var raw any
	err := json.Unmarshal(buf, &raw)
	if err != nil {
		return err
	}

	err = resetSlices(reflect.ValueOf(dest).Elem(), raw, "")
	if err != nil {
		return err
	}

	d := json.NewDecoder(bytes.NewReader(buf))
	d.DisallowUnknownFields()
	return d.Decode(dest)
}

// Decode decodes JSON from a reader.
func Decode(r io.Reader, dest any) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return Unmarshal(buf, dest)
}
