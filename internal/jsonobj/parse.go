package jsonobj

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrInvalidJSON = errors.New("invalid json")
	ErrNotObject   = errors.New("json value is not an object")
)

// Parse decodes a JSON object, keeping key order.
// Integers decode to int64, other numbers to float64.
func Parse(data []byte) (*Object, error) {
	return parse(data, false)
}

// ParseCaseInsensitive is Parse with case-insensitive keys at the top level.
func ParseCaseInsensitive(data []byte) (*Object, error) {
	return parse(data, true)
}

func parse(data []byte, caseInsensitive bool) (*Object, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, ErrNotObject
	}
	o := New()
	o.caseInsensitive = caseInsensitive
	if err := fill(o, res); err != nil {
		return nil, err
	}
	return o, nil
}

func fill(o *Object, res gjson.Result) error {
	var err error
	res.ForEach(func(k, v gjson.Result) bool {
		var val any
		if val, err = decodeValue(v); err != nil {
			return false
		}
		err = o.Set(k.String(), val)
		return err == nil
	})
	return err
}

func decodeValue(v gjson.Result) (any, error) {
	switch v.Type {
	case gjson.Null:
		return nil, nil
	case gjson.False:
		return false, nil
	case gjson.True:
		return true, nil
	case gjson.String:
		return v.String(), nil
	case gjson.Number:
		return decodeNumber(v.Raw)
	case gjson.JSON:
		if v.IsObject() {
			child := New()
			if err := fill(child, v); err != nil {
				return nil, err
			}
			return child, nil
		}
		if v.IsArray() {
			items := v.Array()
			out := make([]any, 0, len(items))
			for _, item := range items {
				val, err := decodeValue(item)
				if err != nil {
					return nil, err
				}
				out = append(out, val)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidJSON, v.Raw)
}

func decodeNumber(raw string) (any, error) {
	if !strings.ContainsAny(raw, ".eE") {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number %s", ErrInvalidJSON, raw)
	}
	return f, nil
}
