package utils

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// AttributeMap is a convenience wrapper for pulling typed values out of a backend's free-form
// attributes.
type AttributeMap map[string]interface{}

// Has returns whether or not the given name is in the map.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// Int returns the integer value for name, or def if it is absent. Numeric strings and floats are
// accepted since attributes usually come from JSON or YAML.
func (am AttributeMap) Int(name string, def int) (int, error) {
	if x, has := am[name]; has {
		v, err := cast.ToIntE(x)
		if err != nil {
			return 0, errors.Wrapf(err, "attribute %q", name)
		}
		return v, nil
	}
	return def, nil
}

// Uint64 returns the uint64 value for name, or def if it is absent. Hex strings such as
// "0xfe000000" are accepted.
func (am AttributeMap) Uint64(name string, def uint64) (uint64, error) {
	if x, has := am[name]; has {
		v, err := cast.ToUint64E(x)
		if err != nil {
			return 0, errors.Wrapf(err, "attribute %q", name)
		}
		return v, nil
	}
	return def, nil
}

// DecodeAttributes decodes attributes into a native config type. Keys are matched against json
// struct tags. Keys that do not map to any field are an error so typos in a config file do not go
// unnoticed.
func DecodeAttributes[T any](attributes AttributeMap) (T, error) {
	var out T
	var forResult interface{}

	toT := reflect.TypeOf(out)
	if toT == nil {
		return out, errors.New("cannot decode attributes into an interface")
	}
	if toT.Kind() == reflect.Ptr {
		var err error
		out, err = AssertType[T](reflect.New(toT.Elem()).Interface())
		if err != nil {
			return out, errors.Wrap(err, "failed to allocate config type")
		}
		forResult = out
	} else {
		forResult = &out
	}
	if len(attributes) == 0 {
		return out, nil
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           forResult,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return out, err
	}
	if len(md.Unused) != 0 {
		return out, errors.Errorf("unknown attributes %v", md.Unused)
	}
	return out, nil
}
