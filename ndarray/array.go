// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ndarray holds the bulk numeric array type that travels out-of-band
// and the on-disk formats used to store it.
package ndarray

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// DType is a NumPy array-protocol type string.
type DType string

const (
	Float64 DType = "<f8"
	Float32 DType = "<f4"
	Int64   DType = "<i8"
	Int32   DType = "<i4"
	Int16   DType = "<i2"
	Int8    DType = "|i1"
	Uint8   DType = "|u1"
	Bool    DType = "|b1"
)

var ErrUnsupportedType = errors.New("ndarray: unsupported element type")

// Array is a dense, C-ordered, n-dimensional array. Data is one of
// []float64, []float32, []int64, []int32, []int16, []int8, []uint8 or []bool
// and holds exactly Size() elements.
type Array struct {
	Shape []int
	Data  any
}

// New validates data against shape and returns the array.
func New(shape []int, data any) (*Array, error) {
	a := &Array{Shape: append([]int(nil), shape...), Data: data}
	if _, err := dtypeOf(data); err != nil {
		return nil, err
	}
	if n := dataLen(data); n != a.Size() {
		return nil, fmt.Errorf("ndarray: shape %v needs %d elements, got %d", shape, a.Size(), n)
	}
	return a, nil
}

// FromFloat64 builds a one-dimensional float64 array.
func FromFloat64(v ...float64) *Array {
	return &Array{Shape: []int{len(v)}, Data: v}
}

// Size is the number of elements implied by Shape.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// DType reports the element type. It panics on an unsupported Data type,
// which New rules out.
func (a *Array) DType() DType {
	dt, err := dtypeOf(a.Data)
	if err != nil {
		panic(err)
	}
	return dt
}

// Equal compares shape and element bits, so NaN payloads compare equal to
// themselves.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	da, erra := dtypeOf(a.Data)
	db, errb := dtypeOf(b.Data)
	if erra != nil || errb != nil || da != db {
		return false
	}
	var ba, bb bytes.Buffer
	if binary.Write(&ba, binary.LittleEndian, a.Data) != nil {
		return false
	}
	if binary.Write(&bb, binary.LittleEndian, b.Data) != nil {
		return false
	}
	return bytes.Equal(ba.Bytes(), bb.Bytes())
}

func (a *Array) String() string {
	dt, _ := dtypeOf(a.Data)
	return fmt.Sprintf("ndarray(%s, shape=%v)", dt, a.Shape)
}

func dtypeOf(data any) (DType, error) {
	switch data.(type) {
	case []float64:
		return Float64, nil
	case []float32:
		return Float32, nil
	case []int64:
		return Int64, nil
	case []int32:
		return Int32, nil
	case []int16:
		return Int16, nil
	case []int8:
		return Int8, nil
	case []uint8:
		return Uint8, nil
	case []bool:
		return Bool, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedType, data)
}

func dataLen(data any) int {
	switch d := data.(type) {
	case []float64:
		return len(d)
	case []float32:
		return len(d)
	case []int64:
		return len(d)
	case []int32:
		return len(d)
	case []int16:
		return len(d)
	case []int8:
		return len(d)
	case []uint8:
		return len(d)
	case []bool:
		return len(d)
	}
	return -1
}

// makeData allocates n elements for a descr kind character and item size.
func makeData(kind byte, size, n int) (any, error) {
	switch {
	case kind == 'f' && size == 8:
		return make([]float64, n), nil
	case kind == 'f' && size == 4:
		return make([]float32, n), nil
	case kind == 'i' && size == 8:
		return make([]int64, n), nil
	case kind == 'i' && size == 4:
		return make([]int32, n), nil
	case kind == 'i' && size == 2:
		return make([]int16, n), nil
	case kind == 'i' && size == 1:
		return make([]int8, n), nil
	case kind == 'u' && size == 1:
		return make([]uint8, n), nil
	case kind == 'b' && size == 1:
		return make([]bool, n), nil
	}
	return nil, fmt.Errorf("%w: kind %q size %d", ErrUnsupportedType, kind, size)
}
