// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package flatten

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	// TypeKey holds the type tag of every envelope.
	TypeKey = "__type__"
	// ContentKey holds the payload of envelopes that wrap a single value.
	ContentKey = "content"
)

// Envelope is the flat form of a tagged value. Record handlers inline their
// fields next to TypeKey; wrapper handlers put one value under ContentKey.
type Envelope = map[string]any

// NewEnvelope starts an envelope tagged with tag.
func NewEnvelope(tag string) Envelope {
	return Envelope{TypeKey: tag}
}

// Wrap builds a content-style envelope.
func Wrap(tag string, content any) Envelope {
	return Envelope{TypeKey: tag, ContentKey: content}
}

// IsEnvelope reports whether v is an envelope tagged with tag.
func IsEnvelope(v any, tag string) bool {
	e, ok := v.(map[string]any)
	if !ok {
		return false
	}
	t, ok := e[TypeKey].(string)
	return ok && t == tag
}

// TagOf returns the type tag of v, or "" when v is not an envelope.
func TagOf(v any) string {
	if e, ok := v.(map[string]any); ok {
		t, _ := e[TypeKey].(string)
		return t
	}
	return ""
}

// Tagged supplies Tag and CanDecode for handlers whose envelopes carry a
// fixed tag.
type Tagged struct {
	Name string
}

func (t Tagged) Tag() string { return t.Name }

func (t Tagged) CanDecode(v any) bool { return IsEnvelope(v, t.Name) }

// Field returns e[key] or ErrMalformed when it is absent.
func Field(e any, key string) (any, error) {
	m, ok := e.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an envelope", ErrMalformed, e)
	}
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing %q", ErrMalformed, TagOf(e), key)
	}
	return v, nil
}

// Content returns the ContentKey field of e.
func Content(e any) (any, error) {
	return Field(e, ContentKey)
}

// StringField returns a string field of e.
func StringField(e any, key string) (string, error) {
	v, err := Field(e, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s: %q is %T, want string", ErrMalformed, TagOf(e), key, v)
	}
	return s, nil
}

// ListField returns a list field of e.
func ListField(e any, key string) ([]any, error) {
	v, err := Field(e, key)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %q is %T, want list", ErrMalformed, TagOf(e), key, v)
	}
	return l, nil
}

// ToInt converts a flat or native number to int. Floats truncate toward
// zero.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("%w: %d overflows int", ErrMalformed, n)
		}
		return int(n), nil
	case float32:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, n)
		}
		return int(f), nil
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrMalformed, v)
}

// ToFloat converts a flat or native number to float64.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, n)
		}
		return f, nil
	}
	i, err := ToInt(v)
	return float64(i), err
}

// ToBool converts a flat boolean.
func ToBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %T is not a bool", ErrMalformed, v)
	}
	return b, nil
}
