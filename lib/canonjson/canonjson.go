// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package canonjson implements the canonical JSON form that object ids
// are computed over.
//
// Canonical JSON has object keys sorted bytewise at every level, no
// insignificant whitespace, UTF-8 text written raw (only the characters
// JSON requires are escaped), and numbers in their shortest round-trip
// form with no trailing zeros (3.0 renders as 3). The same logical value
// always produces identical bytes.
//
// The encoder accepts the normalized value set produced by the
// serializer: nil, bool, string, the Go integer and float kinds,
// json.Number, []any, and map[string]any. Anything else is an error;
// callers normalize first.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf8"
)

// Marshal returns the canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	buf := make([]byte, 0, 256)
	return appendValue(buf, v)
}

// MarshalObject is Marshal for the common case of a record map.
func MarshalObject(object map[string]any) ([]byte, error) {
	buf := make([]byte, 0, 256)
	return appendObject(buf, object)
}

// UnsupportedTypeError is returned when Marshal meets a value outside the
// normalized set.
type UnsupportedTypeError struct {
	Value any
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("canonjson: unsupported type %T", e.Value)
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch value := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		return strconv.AppendBool(buf, value), nil
	case string:
		return appendString(buf, value), nil
	case int:
		return strconv.AppendInt(buf, int64(value), 10), nil
	case int8:
		return strconv.AppendInt(buf, int64(value), 10), nil
	case int16:
		return strconv.AppendInt(buf, int64(value), 10), nil
	case int32:
		return strconv.AppendInt(buf, int64(value), 10), nil
	case int64:
		return strconv.AppendInt(buf, value, 10), nil
	case uint:
		return strconv.AppendUint(buf, uint64(value), 10), nil
	case uint8:
		return strconv.AppendUint(buf, uint64(value), 10), nil
	case uint16:
		return strconv.AppendUint(buf, uint64(value), 10), nil
	case uint32:
		return strconv.AppendUint(buf, uint64(value), 10), nil
	case uint64:
		return strconv.AppendUint(buf, value, 10), nil
	case float32:
		return appendFloat(buf, float64(value), 32)
	case float64:
		return appendFloat(buf, value, 64)
	case json.Number:
		return appendNumber(buf, value)
	case []any:
		return appendArray(buf, value)
	case map[string]any:
		return appendObject(buf, value)
	default:
		return nil, &UnsupportedTypeError{Value: v}
	}
}

// appendFloat writes f in the shortest form that round-trips, switching
// to exponent notation outside [1e-6, 1e21) the same way ECMAScript's
// Number#toString does. Servers and other SDKs parse these with
// JavaScript and Python, so the rendering must match theirs.
func appendFloat(buf []byte, f float64, bits int) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canonjson: unsupported float value %v", f)
	}
	if f == 0 {
		// Collapse negative zero.
		return append(buf, '0'), nil
	}

	format := byte('f')
	abs := math.Abs(f)
	if bits == 64 && (abs < 1e-6 || abs >= 1e21) ||
		bits == 32 && (float32(abs) < 1e-6 || float32(abs) >= 1e21) {
		format = 'e'
	}
	buf = strconv.AppendFloat(buf, f, format, -1, bits)
	if format == 'e' {
		// Clean up e-09 to e-9.
		n := len(buf)
		if n >= 4 && buf[n-4] == 'e' && buf[n-3] == '-' && buf[n-2] == '0' {
			buf[n-2] = buf[n-1]
			buf = buf[:n-1]
		}
	}
	return buf, nil
}

// appendNumber re-renders a json.Number so that "1.50" and "1.5" have
// one canonical spelling.
func appendNumber(buf []byte, number json.Number) ([]byte, error) {
	if integer, err := number.Int64(); err == nil {
		return strconv.AppendInt(buf, integer, 10), nil
	}
	f, err := number.Float64()
	if err != nil {
		return nil, fmt.Errorf("canonjson: invalid number %q: %w", number, err)
	}
	return appendFloat(buf, f, 64)
}

// appendString writes s as a JSON string. Only quote, backslash, and
// control characters are escaped; other runes are written as raw UTF-8.
// Invalid UTF-8 is replaced with U+FFFD.
func appendString(buf []byte, s string) []byte {
	const hex = "0123456789abcdef"
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"':
				buf = append(buf, '\\', '"')
			case c == '\\':
				buf = append(buf, '\\', '\\')
			case c == '\n':
				buf = append(buf, '\\', 'n')
			case c == '\r':
				buf = append(buf, '\\', 'r')
			case c == '\t':
				buf = append(buf, '\\', 't')
			case c == '\b':
				buf = append(buf, '\\', 'b')
			case c == '\f':
				buf = append(buf, '\\', 'f')
			case c < 0x20:
				buf = append(buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
			default:
				buf = append(buf, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = utf8.AppendRune(buf, utf8.RuneError)
		} else {
			buf = append(buf, s[i:i+size]...)
		}
		i += size
	}
	return append(buf, '"')
}

func appendArray(buf []byte, values []any) ([]byte, error) {
	buf = append(buf, '[')
	for i, value := range values {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = appendValue(buf, value)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, ']'), nil
}

func appendObject(buf []byte, object map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	buf = append(buf, '{')
	for i, key := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendString(buf, key)
		buf = append(buf, ':')
		var err error
		buf, err = appendValue(buf, object[key])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
	}
	return append(buf, '}'), nil
}

// Unmarshal decodes JSON into the normalized value set. Numbers become
// int64 when they are integral and fit, float64 otherwise. Objects
// become map[string]any and arrays []any.
func Unmarshal(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("canonjson: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("canonjson: trailing data after JSON value")
	}
	return normalizeNumbers(value), nil
}

// UnmarshalObject decodes a JSON object. It fails if data holds any
// other JSON type.
func UnmarshalObject(data []byte) (map[string]any, error) {
	value, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("canonjson: expected JSON object, got %T", value)
	}
	return object, nil
}

// Number converts a json.Number to int64 when it is integral and in
// range, else float64.
func Number(number json.Number) any {
	if integer, err := number.Int64(); err == nil {
		return integer
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return number.String()
}

func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		return Number(typed)
	case []any:
		for i, element := range typed {
			typed[i] = normalizeNumbers(element)
		}
		return typed
	case map[string]any:
		for key, element := range typed {
			typed[key] = normalizeNumbers(element)
		}
		return typed
	default:
		return value
	}
}
