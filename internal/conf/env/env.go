// Package env contains a function to load configuration from environment variables.
package env

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Unmarshaler can be implemented to override the unmarshaling process.
type Unmarshaler interface {
	UnmarshalEnv(prefix string, v string) error
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true":
		return true, nil

	case "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid value '%s'", v)
}

func loadScalar(v reflect.Value, ev string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(ev)

	case reflect.Int, reflect.Int32, reflect.Int64:
		iv, err := strconv.ParseInt(ev, 10, 32)
		if err != nil {
			return err
		}
		v.SetInt(iv)

	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		uv, err := strconv.ParseUint(ev, 10, 32)
		if err != nil {
			return err
		}
		v.SetUint(uv)

	case reflect.Float64:
		fv, err := strconv.ParseFloat(ev, 64)
		if err != nil {
			return err
		}
		v.SetFloat(fv)

	case reflect.Bool:
		bv, err := parseBool(ev)
		if err != nil {
			return err
		}
		v.SetBool(bv)

	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported type: %v", v.Type())
		}
		if ev == "" {
			v.Set(reflect.MakeSlice(v.Type(), 0, 0))
		} else {
			v.Set(reflect.ValueOf(strings.Split(ev, ",")).Convert(v.Type()))
		}

	default:
		return fmt.Errorf("unsupported type: %v", v.Type())
	}

	return nil
}

func load(env map[string]string, prefix string, v reflect.Value) error {
	if u, ok := v.Addr().Interface().(Unmarshaler); ok {
		if ev, ok2 := env[prefix]; ok2 {
			err := u.UnmarshalEnv(prefix, ev)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
		}
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		if _, ok := env[prefix]; !ok {
			return nil
		}
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return load(env, prefix, v.Elem())

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			tag := v.Type().Field(i).Tag.Get("json")
			if tag == "" || tag == "-" {
				continue
			}

			key := strings.ToUpper(strings.Split(tag, ",")[0])

			err := load(env, prefix+"_"+key, v.Field(i))
			if err != nil {
				return err
			}
		}
		return nil
	}

	ev, ok := env[prefix]
	if !ok {
		return nil
	}

	err := loadScalar(v, ev)
	if err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}

	return nil
}

func loadWithEnv(env map[string]string, prefix string, dest any) error {
	return load(env, prefix, reflect.ValueOf(dest).Elem())
}

func envToMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		tmp := strings.SplitN(kv, "=", 2)
		env[tmp[0]] = tmp[1]
	}
	return env
}

// Load loads the content of environment variables that start with prefix into dest.
// Variable names are built by joining prefix and upper-case JSON keys with underscores.
func Load(prefix string, dest any) error {
	return loadWithEnv(envToMap(), prefix, dest)
}
