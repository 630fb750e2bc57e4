package feeders

import (
	"errors"
	"fmt"
	"reflect"
)

// Static errors for feeders
var (
	ErrInvalidStructure     = errors.New("expected pointer to struct")
	ErrEmptyPrefix          = errors.New("env prefix cannot be empty")
	ErrUnsupportedExtension = errors.New("unsupported config file extension")
	ErrFieldCannotBeSet     = errors.New("field cannot be set")
	ErrTypeConversion       = errors.New("type conversion error")
)

func wrapStructureError(got any) error {
	return fmt.Errorf("%w, got %T", ErrInvalidStructure, got)
}

func wrapConversionError(envName, value string, t reflect.Type, err error) error {
	return fmt.Errorf("%w: %s=%q to %v: %w", ErrTypeConversion, envName, value, t, err)
}
