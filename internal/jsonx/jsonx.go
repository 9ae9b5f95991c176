// Package jsonx reads fields out of daemon JSON output. Every accessor
// names its default so the missing-field policy is visible at the call site.
package jsonx

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedResponse is returned when output is not JSON or lacks a
// required field.
var ErrMalformedResponse = errors.New("malformed response")

// Parse validates out and returns its root.
func Parse(out string) (gjson.Result, error) {
	if !gjson.Valid(out) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	return gjson.Parse(out), nil
}

// String returns the field at path, or def when absent or null.
func String(doc gjson.Result, path, def string) string {
	v := doc.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	return v.String()
}

// Int returns the field at path, or def when absent or null. Numeric
// strings ("2000") are accepted; lnd encodes 64-bit values that way.
func Int(doc gjson.Result, path string, def int64) int64 {
	v := doc.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	return v.Int()
}

// Float returns the field at path, or def when absent or null.
func Float(doc gjson.Result, path string, def float64) float64 {
	v := doc.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	return v.Float()
}

// Bool returns the field at path, or def when absent or null.
func Bool(doc gjson.Result, path string, def bool) bool {
	v := doc.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	return v.Bool()
}

// RequireInt returns the field at path or ErrMalformedResponse.
func RequireInt(doc gjson.Result, path string) (int64, error) {
	v := doc.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedResponse, path)
	}
	return v.Int(), nil
}

// RequireString returns the field at path or ErrMalformedResponse.
func RequireString(doc gjson.Result, path string) (string, error) {
	v := doc.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return "", fmt.Errorf("%w: missing %q", ErrMalformedResponse, path)
	}
	return v.String(), nil
}

// Array returns the array at path; an empty path means the document root.
func Array(doc gjson.Result, path string) ([]gjson.Result, error) {
	v := doc
	if path != "" {
		v = doc.Get(path)
	}
	if !v.IsArray() {
		return nil, fmt.Errorf("%w: %q is not an array", ErrMalformedResponse, path)
	}
	return v.Array(), nil
}

// FirstInt returns the first present field among paths, or def.
func FirstInt(doc gjson.Result, def int64, paths ...string) int64 {
	for _, p := range paths {
		v := doc.Get(p)
		if v.Exists() && v.Type != gjson.Null {
			return v.Int()
		}
	}
	return def
}
