package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/tendant/simple-deposit/pkg/deposit"
)

var errType = errors.New("unexpected json type")

// String reads key as a string. Strings are unescaped, numbers and booleans
// are returned as their literal text, null and absent keys are absent.
// Objects and arrays are an invalid model.
func String(data []byte, key string) (Optional[string], error) {
	value, dataType, err := lookup(data, key)
	if err != nil {
		return None[string](), invalid(key, string(value), err)
	}
	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return None[string](), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return None[string](), invalid(key, string(value), err)
		}
		return Some(s), nil
	case jsonparser.Number, jsonparser.Boolean:
		return Some(string(value)), nil
	default:
		return None[string](), invalid(key, string(value), fmt.Errorf("%w: %s", errType, dataType))
	}
}

// Bool reads key as a boolean. JSON booleans and the strings "true"/"false"
// (any case) are accepted; null and absent keys are absent. Anything else is
// an invalid model.
func Bool(data []byte, key string) (Optional[bool], error) {
	value, dataType, err := lookup(data, key)
	if err != nil {
		return None[bool](), invalid(key, string(value), err)
	}
	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return None[bool](), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return None[bool](), invalid(key, string(value), err)
		}
		return Some(b), nil
	case jsonparser.String:
		switch strings.ToLower(strings.TrimSpace(string(value))) {
		case "true":
			return Some(true), nil
		case "false":
			return Some(false), nil
		}
	}
	return None[bool](), invalid(key, string(value), fmt.Errorf("%w: %s", errType, dataType))
}

// Object reads key as a nested object. Values of any other type are absent.
func Object(data []byte, key string) (Optional[[]byte], error) {
	value, dataType, err := lookup(data, key)
	if err != nil {
		return None[[]byte](), invalid(key, string(value), err)
	}
	if dataType != jsonparser.Object {
		return None[[]byte](), nil
	}
	return Some(value), nil
}

// Array reads key as an array and returns its raw elements with their types.
// Values of any other type are absent.
func Array(data []byte, key string) (Optional[[]Element], error) {
	value, dataType, err := lookup(data, key)
	if err != nil {
		return None[[]Element](), invalid(key, string(value), err)
	}
	if dataType != jsonparser.Array {
		return None[[]Element](), nil
	}
	elems, err := elements(value)
	if err != nil {
		return None[[]Element](), invalid(key, string(value), err)
	}
	return Some(elems), nil
}

// StrictObject is Object for keys whose value must be an object when given:
// null and absent keys are absent, any other type is an invalid model.
func StrictObject(data []byte, key string) (Optional[[]byte], error) {
	value, dataType, err := lookup(data, key)
	if err != nil {
		return None[[]byte](), invalid(key, string(value), err)
	}
	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return None[[]byte](), nil
	case jsonparser.Object:
		return Some(value), nil
	}
	return None[[]byte](), invalid(key, string(value), fmt.Errorf("%w: %s, expected object", errType, dataType))
}

// StrictArray is Array for keys whose value must be an array when given.
func StrictArray(data []byte, key string) (Optional[[]Element], error) {
	value, dataType, err := lookup(data, key)
	if err != nil {
		return None[[]Element](), invalid(key, string(value), err)
	}
	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return None[[]Element](), nil
	case jsonparser.Array:
		elems, err := elements(value)
		if err != nil {
			return None[[]Element](), invalid(key, string(value), err)
		}
		return Some(elems), nil
	}
	return None[[]Element](), invalid(key, string(value), fmt.Errorf("%w: %s, expected array", errType, dataType))
}

// Element is one raw value of a JSON array.
type Element struct {
	Value []byte
	Type  jsonparser.ValueType
}

// Text returns the element as a string using the String coercion rules.
func (e Element) Text() (string, bool) {
	switch e.Type {
	case jsonparser.String:
		s, err := jsonparser.ParseString(e.Value)
		if err != nil {
			return "", false
		}
		return s, true
	case jsonparser.Number, jsonparser.Boolean:
		return string(e.Value), true
	default:
		return "", false
	}
}

func elements(array []byte) ([]Element, error) {
	var out []Element
	var cbErr error
	_, err := jsonparser.ArrayEach(array, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil {
			cbErr = err
			return
		}
		out = append(out, Element{Value: value, Type: dataType})
	})
	if err != nil {
		return nil, err
	}
	return out, cbErr
}

func lookup(data []byte, key string) ([]byte, jsonparser.ValueType, error) {
	value, dataType, _, err := jsonparser.Get(data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, jsonparser.NotExist, nil
	}
	return value, dataType, err
}

func invalid(field, value string, err error) error {
	return &deposit.InvalidModelError{Field: field, Value: value, Err: err}
}
