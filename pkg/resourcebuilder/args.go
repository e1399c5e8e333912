package resourcebuilder

import (
	"fmt"
	"reflect"
	"time"
)

// PropertiesFromArgs converts a flat list of alternating names and values
// into Properties. Later occurrences of a name overwrite earlier ones.
//
// A single Properties or map[string]interface{} argument is taken as an
// already-built property set and copied.
func PropertiesFromArgs(args ...interface{}) (Properties, error) {
	if len(args) == 1 {
		switch m := args[0].(type) {
		case Properties:
			return validated(m)
		case map[string]interface{}:
			return validated(Properties(m))
		}
	}
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of property arguments (%d)", ErrInvalidArgument, len(args))
	}

	props := make(Properties, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		name, err := propertyName(args[i])
		if err != nil {
			return nil, err
		}
		if err := ValidateValue(args[i+1]); err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		props[name] = args[i+1]
	}
	return props, nil
}

func validated(m Properties) (Properties, error) {
	for name, v := range m {
		if name == "" {
			return nil, fmt.Errorf("%w: empty property name", ErrInvalidArgument)
		}
		if err := ValidateValue(v); err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
	}
	return m.Copy(), nil
}

func propertyName(key interface{}) (string, error) {
	var name string
	switch k := key.(type) {
	case string:
		name = k
	case fmt.Stringer:
		name = k.String()
	default:
		return "", fmt.Errorf("%w: property name must be a string, got %T", ErrInvalidArgument, key)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty property name", ErrInvalidArgument)
	}
	return name, nil
}

// ValidateValue reports whether v can be stored as a property value: a
// string, bool, number, time.Time or Binary, a slice of scalars sharing one
// value type, or nil. Binaries are single-valued only.
func ValidateValue(v interface{}) error {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case string, bool, time.Time, Binary, []byte:
		return nil
	}
	rt := reflect.TypeOf(v)
	if scalarKind(rt) {
		return nil
	}
	if rt.Kind() != reflect.Slice {
		return fmt.Errorf("%w: unsupported property value type %T", ErrInvalidArgument, v)
	}

	et := rt.Elem()
	anyElem := et.Kind() == reflect.Interface
	if !anyElem && !scalarKind(et) && et != timeType {
		return fmt.Errorf("%w: unsupported property value type %T", ErrInvalidArgument, v)
	}
	rv := reflect.ValueOf(v)
	tag := ""
	for i := 0; i < rv.Len(); i++ {
		e := rv.Index(i).Interface()
		if anyElem {
			switch e.(type) {
			case Binary, []byte:
				return fmt.Errorf("%w: binary values cannot be multi-valued", ErrInvalidArgument)
			}
			if e == nil || IsMultiValue(e) {
				return fmt.Errorf("%w: unsupported multi-value element %T", ErrInvalidArgument, e)
			}
			if err := ValidateValue(e); err != nil {
				return err
			}
		}
		t := valueTag(e)
		if tag == "" {
			tag = t
		} else if tag != t {
			return fmt.Errorf("%w: mixed multi-value types %s and %s", ErrInvalidArgument, tag, t)
		}
	}
	return nil
}

// IsMultiValue reports whether v is an array property value.
func IsMultiValue(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	return reflect.TypeOf(v).Kind() == reflect.Slice
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	binaryType = reflect.TypeOf(Binary{})
)

func scalarKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
