// Package yamlwrapper contains a YAML unmarshaler.
package yamlwrapper

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/bluenviron/hwdecode/internal/conf/jsonwrapper"
)

// differences with respect to the standard package:
// - duplicate keys are rejected
// - all differences of jsonwrapper are inherited

func stringKeys(i any) (any, error) {
	switch x := i.(type) {
	case map[any]any:
		ret := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string keys are not supported (%v)", k)
			}

			var err error
			ret[ks], err = stringKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return ret, nil

	case []any:
		ret := make([]any, len(x))
		for j, v := range x {
			var err error
			ret[j], err = stringKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return ret, nil
	}

	return i, nil
}

// Unmarshal decodes YAML.
func Unmarshal(buf []byte, dest any) error {
	var temp any
	err := yaml.UnmarshalStrict(buf, &temp)
	if err != nil {
		return err
	}

	// JSON requires string keys
	temp, err = stringKeys(temp)
	if err != nil {
		return err
	}

	buf, err = json.Marshal(temp)
	if err != nil {
		return err
	}

	return jsonwrapper.Unmarshal(buf, dest)
}
