// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package catalog

import "github.com/luxfi/flatrpc/flatten"

const (
	TagROIBase            = "flatrpc.catalog.ROIBase"
	TagRectangularROI     = "flatrpc.catalog.RectangularROI"
	TagSectorROI          = "flatrpc.catalog.SectorROI"
	TagLinearROI          = "flatrpc.catalog.LinearROI"
	TagCircularROI        = "flatrpc.catalog.CircularROI"
	TagRectangularROIList = "flatrpc.catalog.RectangularROIList"
	TagSectorROIList      = "flatrpc.catalog.SectorROIList"
	TagLinearROIList      = "flatrpc.catalog.LinearROIList"
)

// ROIBase is a named region anchored at a start point.
type ROIBase struct {
	Name  string
	Point []float64
	Plot  bool
}

type RectangularROI struct {
	ROIBase
	Lengths              []float64
	Angle                float64
	ClippingCompensation bool
}

type SectorROI struct {
	ROIBase
	Radii           []float64
	Angles          []float64
	Symmetry        int
	CombineSymmetry bool
	DPP             float64
}

type LinearROI struct {
	ROIBase
	Length    float64
	Angle     float64
	CrossHair bool
}

type CircularROI struct {
	ROIBase
	Radius float64
}

type (
	RectangularROIList []*RectangularROI
	SectorROIList      []*SectorROI
	LinearROIList      []*LinearROI
)

func baseFields[T any](base func(*T) *ROIBase) []Field[T] {
	return []Field[T]{
		{
			Key: "name",
			Get: func(t *T) any { return base(t).Name },
			Set: func(t *T, v any) (err error) { base(t).Name, err = asString(v); return },
		},
		{
			Key: "spt",
			Get: func(t *T) any { return orNil(base(t).Point) },
			Set: func(t *T, v any) (err error) { base(t).Point, err = asFloats(v); return },
		},
		{
			Key: "plot",
			Get: func(t *T) any { return base(t).Plot },
			Set: func(t *T, v any) (err error) { base(t).Plot, err = flatten.ToBool(v); return },
		},
	}
}

func floatField[T any](key string, p func(*T) *float64) Field[T] {
	return Field[T]{
		Key: key,
		Get: func(t *T) any { return *p(t) },
		Set: func(t *T, v any) (err error) { *p(t), err = flatten.ToFloat(v); return },
	}
}

func floatsField[T any](key string, p func(*T) *[]float64) Field[T] {
	return Field[T]{
		Key: key,
		Get: func(t *T) any { return orNil(*p(t)) },
		Set: func(t *T, v any) (err error) { *p(t), err = asFloats(v); return },
	}
}

func boolField[T any](key string, p func(*T) *bool) Field[T] {
	return Field[T]{
		Key: key,
		Get: func(t *T) any { return *p(t) },
		Set: func(t *T, v any) (err error) { *p(t), err = flatten.ToBool(v); return },
	}
}

func intField[T any](key string, p func(*T) *int) Field[T] {
	return Field[T]{
		Key: key,
		Get: func(t *T) any { return *p(t) },
		Set: func(t *T, v any) (err error) { *p(t), err = flatten.ToInt(v); return },
	}
}

func roiHandlers() []flatten.Handler {
	base := NewRecord(TagROIBase, baseFields(func(r *ROIBase) *ROIBase { return r })...)

	rect := NewRecord(TagRectangularROI, append(
		baseFields(func(r *RectangularROI) *ROIBase { return &r.ROIBase }),
		floatsField("len", func(r *RectangularROI) *[]float64 { return &r.Lengths }),
		floatField("ang", func(r *RectangularROI) *float64 { return &r.Angle }),
		boolField("clippingCompensation", func(r *RectangularROI) *bool { return &r.ClippingCompensation }),
	)...)

	sector := NewRecord(TagSectorROI, append(
		baseFields(func(r *SectorROI) *ROIBase { return &r.ROIBase }),
		floatsField("rad", func(r *SectorROI) *[]float64 { return &r.Radii }),
		floatsField("ang", func(r *SectorROI) *[]float64 { return &r.Angles }),
		intField("symmetry", func(r *SectorROI) *int { return &r.Symmetry }),
		boolField("combineSymmetry", func(r *SectorROI) *bool { return &r.CombineSymmetry }),
		floatField("dpp", func(r *SectorROI) *float64 { return &r.DPP }),
	)...)

	linear := NewRecord(TagLinearROI, append(
		baseFields(func(r *LinearROI) *ROIBase { return &r.ROIBase }),
		floatField("len", func(r *LinearROI) *float64 { return &r.Length }),
		floatField("ang", func(r *LinearROI) *float64 { return &r.Angle }),
		boolField("crossHair", func(r *LinearROI) *bool { return &r.CrossHair }),
	)...)

	circular := NewRecord(TagCircularROI, append(
		baseFields(func(r *CircularROI) *ROIBase { return &r.ROIBase }),
		floatField("rad", func(r *CircularROI) *float64 { return &r.Radius }),
	)...)

	return []flatten.Handler{
		NewList[RectangularROIList](TagRectangularROIList),
		NewList[SectorROIList](TagSectorROIList),
		NewList[LinearROIList](TagLinearROIList),
		rect,
		sector,
		linear,
		circular,
		base,
	}
}
