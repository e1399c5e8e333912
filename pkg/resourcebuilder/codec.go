package resourcebuilder

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Encoded value type tags
const (
	valueString = "string"
	valueBool   = "bool"
	valueLong   = "long"
	valueDouble = "double"
	valueDate   = "date"
	valueBinary = "binary"
)

type encodedValue struct {
	Type  string          `json:"t"`
	Multi bool            `json:"m,omitempty"`
	Value json.RawMessage `json:"v"`
}

type encodedBinary struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// EncodeProperties serializes properties to JSON with explicit value types so
// that integers, dates and binaries survive a round trip. Staged binaries
// must be persisted before encoding.
func EncodeProperties(props Properties) ([]byte, error) {
	out := make(map[string]encodedValue, len(props))
	for name, v := range props {
		if v == nil {
			continue
		}
		ev, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		out[name] = ev
	}
	return json.Marshal(out)
}

// DecodeProperties is the inverse of EncodeProperties. Integers decode as
// int64 and floating point numbers as float64.
func DecodeProperties(data []byte) (Properties, error) {
	props := Properties{}
	if len(data) == 0 {
		return props, nil
	}
	var in map[string]encodedValue
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	for name, ev := range in {
		v, err := decodeValue(ev)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		props[name] = v
	}
	return props, nil
}

func encodeValue(v interface{}) (encodedValue, error) {
	if IsMultiValue(v) {
		rv := reflect.ValueOf(v)
		raws := make([]json.RawMessage, 0, rv.Len())
		elemType := ""
		for i := 0; i < rv.Len(); i++ {
			ev, err := encodeValue(rv.Index(i).Interface())
			if err != nil {
				return encodedValue{}, err
			}
			if elemType == "" {
				elemType = ev.Type
			} else if elemType != ev.Type {
				return encodedValue{}, fmt.Errorf("%w: mixed multi-value types %s and %s", ErrInvalidArgument, elemType, ev.Type)
			}
			raws = append(raws, ev.Value)
		}
		if elemType == "" {
			elemType = multiValueTag(reflect.TypeOf(v).Elem())
		}
		raw, err := json.Marshal(raws)
		if err != nil {
			return encodedValue{}, err
		}
		return encodedValue{Type: elemType, Multi: true, Value: raw}, nil
	}

	var tag string
	var payload interface{}
	switch t := v.(type) {
	case string:
		tag, payload = valueString, t
	case bool:
		tag, payload = valueBool, t
	case time.Time:
		tag, payload = valueDate, t.Format(time.RFC3339Nano)
	case Binary:
		if t.Staged() {
			return encodedValue{}, fmt.Errorf("%w: binary payload not persisted", ErrIllegalState)
		}
		tag, payload = valueBinary, encodedBinary{Key: t.Key, Size: t.Size}
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.String:
			tag, payload = valueString, rv.String()
		case reflect.Bool:
			tag, payload = valueBool, rv.Bool()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			tag, payload = valueLong, rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if u := rv.Uint(); u <= math.MaxInt64 {
				tag, payload = valueLong, int64(u)
			} else {
				tag, payload = valueDouble, float64(u)
			}
		case reflect.Float32, reflect.Float64:
			tag, payload = valueDouble, rv.Float()
		default:
			return encodedValue{}, fmt.Errorf("%w: unsupported property value type %T", ErrInvalidArgument, v)
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return encodedValue{}, err
	}
	return encodedValue{Type: tag, Value: raw}, nil
}

// valueTag returns the stored value type of a scalar property value.
func valueTag(v interface{}) string {
	switch v.(type) {
	case string:
		return valueString
	case bool:
		return valueBool
	case time.Time:
		return valueDate
	case Binary:
		return valueBinary
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return valueDouble
		}
	}
	return multiValueTag(rv.Type())
}

func multiValueTag(t reflect.Type) string {
	switch {
	case t == timeType:
		return valueDate
	case t == binaryType:
		return valueBinary
	}
	switch t.Kind() {
	case reflect.Bool:
		return valueBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return valueLong
	case reflect.Float32, reflect.Float64:
		return valueDouble
	}
	return valueString
}

func decodeValue(ev encodedValue) (interface{}, error) {
	if !ev.Multi {
		return decodeScalar(ev.Type, ev.Value)
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(ev.Value, &raws); err != nil {
		return nil, err
	}
	switch ev.Type {
	case valueString:
		return decodeSlice[string](ev.Type, raws)
	case valueBool:
		return decodeSlice[bool](ev.Type, raws)
	case valueLong:
		return decodeSlice[int64](ev.Type, raws)
	case valueDouble:
		return decodeSlice[float64](ev.Type, raws)
	case valueDate:
		return decodeSlice[time.Time](ev.Type, raws)
	case valueBinary:
		return decodeSlice[Binary](ev.Type, raws)
	}
	return nil, fmt.Errorf("unknown value type %q", ev.Type)
}

func decodeSlice[T any](tag string, raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := decodeScalar(tag, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v.(T))
	}
	return out, nil
}

func decodeScalar(tag string, raw json.RawMessage) (interface{}, error) {
	switch tag {
	case valueString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case valueBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case valueLong:
		var n int64
		err := json.Unmarshal(raw, &n)
		return n, err
	case valueDouble:
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case valueDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case valueBinary:
		var b encodedBinary
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return Binary{Key: b.Key, Size: b.Size}, nil
	}
	return nil, fmt.Errorf("unknown value type %q", tag)
}
