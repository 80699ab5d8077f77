// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package flatten

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	TagNone      = "flatrpc.None"
	TagUUID      = "flatrpc.UUID"
	TagBinary    = "flatrpc.Binary"
	TagException = "flatrpc.Exception"

	typedNoneKey = "typedNoneType"
	nullType     = "null"
)

// TypedNone is an absent value that still records the type it stands in for.
type TypedNone struct {
	Type string
}

// None encodes nil, nil pointers and TypedNone.
type None struct{}

func (None) Tag() string { return TagNone }

func (None) CanEncode(v any) bool {
	if v == nil {
		return true
	}
	if _, ok := v.(TypedNone); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// CanDecode also accepts a bare nil so a JSON null decodes to nil.
func (None) CanDecode(v any) bool {
	return v == nil || IsEnvelope(v, TagNone)
}

func (None) Encode(v any, _ Flattener) (any, error) {
	e := NewEnvelope(TagNone)
	if tn, ok := v.(TypedNone); ok {
		e[typedNoneKey] = tn.Type
	} else {
		e[typedNoneKey] = nullType
	}
	return e, nil
}

func (None) Decode(v any, _ Flattener) (any, error) {
	if v == nil {
		return nil, nil
	}
	t, err := StringField(v, typedNoneKey)
	if err != nil {
		return nil, err
	}
	if t == nullType {
		return nil, nil
	}
	return TypedNone{Type: t}, nil
}

// UUID wraps github.com/google/uuid values in their string form.
type UUID struct{}

func (UUID) Tag() string { return TagUUID }

func (UUID) CanEncode(v any) bool {
	_, ok := v.(uuid.UUID)
	return ok
}

func (UUID) CanDecode(v any) bool { return IsEnvelope(v, TagUUID) }

func (UUID) Encode(v any, _ Flattener) (any, error) {
	return Wrap(TagUUID, v.(uuid.UUID).String()), nil
}

func (UUID) Decode(v any, _ Flattener) (any, error) {
	s, err := StringField(v, ContentKey)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return id, nil
}

// Binary carries []byte as base64 so it cannot be confused with a string.
type Binary struct{}

func (Binary) Tag() string { return TagBinary }

func (Binary) CanEncode(v any) bool {
	_, ok := v.([]byte)
	return ok
}

func (Binary) CanDecode(v any) bool { return IsEnvelope(v, TagBinary) }

func (Binary) Encode(v any, _ Flattener) (any, error) {
	return Wrap(TagBinary, base64.StdEncoding.EncodeToString(v.([]byte))), nil
}

func (Binary) Decode(v any, _ Flattener) (any, error) {
	s, err := StringField(v, ContentKey)
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return b, nil
}

// Exception carries any error as its message. It decodes to
// *RemoteException.
type Exception struct{}

func (Exception) Tag() string { return TagException }

func (Exception) CanEncode(v any) bool {
	_, ok := v.(error)
	return ok
}

func (Exception) CanDecode(v any) bool { return IsEnvelope(v, TagException) }

func (Exception) Encode(v any, _ Flattener) (any, error) {
	return Wrap(TagException, v.(error).Error()), nil
}

func (Exception) Decode(v any, _ Flattener) (any, error) {
	s, err := StringField(v, ContentKey)
	if err != nil {
		return nil, err
	}
	return &RemoteException{Message: s}, nil
}

// PassThrough leaves strings, bools and numbers as they are. Floats are
// rewritten as json.Number text that always has a fraction or exponent, so
// after a JSON round trip integers come back as int and floats as float64.
// Every integer kind decodes to int (uint64 above MaxInt stays uint64) and
// float32 widens to float64. Non-finite floats cannot travel inline.
type PassThrough struct{}

func (PassThrough) Tag() string { return "" }

func (PassThrough) CanEncode(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func (p PassThrough) CanDecode(v any) bool { return p.CanEncode(v) }

func (PassThrough) Encode(v any, _ Flattener) (any, error) {
	switch n := v.(type) {
	case float64:
		return formatFloat(n)
	case float32:
		return formatFloat(float64(n))
	}
	return v, nil
}

func (PassThrough) Decode(v any, _ Flattener) (any, error) {
	switch n := v.(type) {
	case string, bool, int, float64:
		return v, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return parseNumber(n)
	case uint:
		return narrowUint(uint64(n)), nil
	case uint64:
		return narrowUint(n), nil
	}
	return ToInt(v)
}

func formatFloat(f float64) (json.Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite float %v", ErrUnencodable, f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s), nil
}

func parseNumber(n json.Number) (any, error) {
	s := string(n)
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrMalformed, s)
		}
		return f, nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i), nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number %q", ErrMalformed, s)
	}
	return u, nil
}

func narrowUint(u uint64) any {
	if u <= math.MaxInt {
		return int(u)
	}
	return u
}
