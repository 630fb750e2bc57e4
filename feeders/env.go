package feeders

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// EnvFeeder overrides `env`-tagged struct fields from environment
// variables named PREFIX_TAG. Nested structs carrying an env tag extend
// the prefix, e.g. MODKERNEL_HEALTH_CHECK_INTERVAL. Empty variables are
// ignored.
type EnvFeeder struct {
	Prefix string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// NewEnvFeeder creates an EnvFeeder reading variables with the given prefix.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed reads environment variables and populates the provided structure
func (f EnvFeeder) Feed(target any) error {
	if f.Prefix == "" {
		return ErrEmptyPrefix
	}
	if !isStructPointer(target) {
		return wrapStructureError(target)
	}
	lookup := f.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return fillStruct(reflect.ValueOf(target).Elem(), strings.ToUpper(f.Prefix), lookup)
}

func fillStruct(rv reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	rt := rv.Type()
	for i := range rv.NumField() {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, tagged := sf.Tag.Lookup("env")
		if tag == "-" {
			continue
		}

		switch {
		case field.Kind() == reflect.Struct && sf.Type != reflect.TypeOf(time.Time{}):
			nested := prefix
			if tagged {
				nested = prefix + "_" + strings.ToUpper(tag)
			}
			if err := fillStruct(field, nested, lookup); err != nil {
				return err
			}
		case field.Kind() == reflect.Pointer && field.Type().Elem().Kind() == reflect.Struct:
			if field.IsNil() {
				continue
			}
			nested := prefix
			if tagged {
				nested = prefix + "_" + strings.ToUpper(tag)
			}
			if err := fillStruct(field.Elem(), nested, lookup); err != nil {
				return err
			}
		case tagged:
			name := prefix + "_" + strings.ToUpper(tag)
			value, ok := lookup(name)
			if !ok || value == "" {
				continue
			}
			if err := setFieldValue(field, name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue converts and sets a field value
func setFieldValue(field reflect.Value, envName, value string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return wrapConversionError(envName, value, field.Type(), err)
		}
		field.SetInt(int64(d))
		return nil
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(out)
		return nil
	}

	converted, err := cast.FromType(value, field.Type())
	if err != nil {
		return wrapConversionError(envName, value, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}

func isStructPointer(target any) bool {
	t := reflect.TypeOf(target)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct
}
