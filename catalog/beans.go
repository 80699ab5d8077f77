// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package catalog

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/luxfi/flatrpc/flatten"
	"github.com/luxfi/flatrpc/ndarray"
)

const (
	TagPlotMode                   = "flatrpc.catalog.PlotMode"
	TagGuiParameter               = "flatrpc.catalog.GuiParameter"
	TagGuiBean                    = "flatrpc.catalog.GuiBean"
	TagAxisMapBean                = "flatrpc.catalog.AxisMapBean"
	TagDataSetWithAxisInformation = "flatrpc.catalog.DataSetWithAxisInformation"
	TagDataBean                   = "flatrpc.catalog.DataBean"
)

// PlotMode selects how a plot view renders its data.
type PlotMode string

const (
	PlotOneD       PlotMode = "ONED"
	PlotOneDThreeD PlotMode = "ONED_THREED"
	PlotTwoD       PlotMode = "TWOD"
	PlotSurf2D     PlotMode = "SURF2D"
	PlotScatter2D  PlotMode = "SCATTER2D"
	PlotScatter3D  PlotMode = "SCATTER3D"
	PlotMulti2D    PlotMode = "MULTI2D"
	PlotEmpty      PlotMode = "EMPTY"
)

var PlotModes = []PlotMode{
	PlotOneD, PlotOneDThreeD, PlotTwoD, PlotSurf2D,
	PlotScatter2D, PlotScatter3D, PlotMulti2D, PlotEmpty,
}

// GuiParameter names one entry of a GuiBean.
type GuiParameter string

const (
	ParamPlotMode          GuiParameter = "PLOTMODE"
	ParamPlotID            GuiParameter = "PLOTID"
	ParamTitle             GuiParameter = "TITLE"
	ParamROIData           GuiParameter = "ROIDATA"
	ParamROIDataList       GuiParameter = "ROIDATALIST"
	ParamFilename          GuiParameter = "FILENAME"
	ParamFileList          GuiParameter = "FILELIST"
	ParamFileOperation     GuiParameter = "FILEOPERATION"
	ParamDisplayFileOnView GuiParameter = "DISPLAYFILEONVIEW"
	ParamImageGridSize     GuiParameter = "IMAGEGRIDSIZE"
	ParamImageGridXPos     GuiParameter = "IMAGEGRIDXPOS"
	ParamImageGridYPos     GuiParameter = "IMAGEGRIDYPOS"
	ParamMetadata          GuiParameter = "METADATA"
	ParamQuiet             GuiParameter = "QUIET"
	ParamPlotOperation     GuiParameter = "PLOTOPERATION"
	ParamAxisOperation     GuiParameter = "AXIS_OPERATION"
)

var GuiParameters = []GuiParameter{
	ParamPlotMode, ParamPlotID, ParamTitle, ParamROIData, ParamROIDataList,
	ParamFilename, ParamFileList, ParamFileOperation, ParamDisplayFileOnView,
	ParamImageGridSize, ParamImageGridXPos, ParamImageGridYPos, ParamMetadata,
	ParamQuiet, ParamPlotOperation, ParamAxisOperation,
}

// GuiBean is the parameter map exchanged with plot views.
type GuiBean map[GuiParameter]any

// AxisMapBean maps the dimensions of a dataset onto named axes.
type AxisMapBean struct {
	AxisID  []string
	MapMode int
}

type DataSetWithAxisInformation struct {
	Data    *ndarray.Array
	AxisMap *AxisMapBean
}

// DataBean carries the datasets of one plot update with their shared axes.
type DataBean struct {
	Data     []*DataSetWithAxisInformation
	AxisData map[string]*ndarray.Array
}

// guiBeanHandler inlines the bean's entries next to the type tag, keyed by
// parameter name.
type guiBeanHandler struct {
	flatten.Tagged
	params *Enum[GuiParameter]
	modes  *Enum[PlotMode]
}

func (h *guiBeanHandler) CanEncode(v any) bool {
	_, ok := v.(GuiBean)
	return ok
}

func (h *guiBeanHandler) Encode(v any, root flatten.Flattener) (any, error) {
	bean := v.(GuiBean)
	e := flatten.NewEnvelope(h.Name)
	for k, val := range bean {
		enc, err := root.Encode(val)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", h.Name, k, err)
		}
		e[string(k)] = enc
	}
	return e, nil
}

func (h *guiBeanHandler) Decode(v any, root flatten.Flattener) (any, error) {
	e := v.(map[string]any)
	keys := make([]string, 0, len(e))
	for k := range e {
		if k != flatten.TypeKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	bean := make(GuiBean, len(keys))
	for _, k := range keys {
		param, err := h.params.Parse(k)
		if err != nil {
			return nil, err
		}
		val, err := root.Decode(e[k])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", h.Name, k, err)
		}
		if val, err = h.coerce(param, val); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", h.Name, k, err)
		}
		bean[param] = val
	}
	return bean, nil
}

// coerce restores the types of parameters that peers may send as plain
// strings.
func (h *guiBeanHandler) coerce(param GuiParameter, val any) (any, error) {
	s, ok := val.(string)
	if !ok {
		return val, nil
	}
	switch param {
	case ParamPlotID:
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", flatten.ErrMalformed, err)
		}
		return id, nil
	case ParamPlotMode:
		return h.modes.Parse(s)
	}
	return val, nil
}

func beanHandlers() []flatten.Handler {
	modes := NewEnum(TagPlotMode, PlotModes...)
	params := NewEnum(TagGuiParameter, GuiParameters...)

	axisMap := NewRecord(TagAxisMapBean,
		Field[AxisMapBean]{
			Key: "axisID",
			Get: func(b *AxisMapBean) any { return orNil(b.AxisID) },
			Set: func(b *AxisMapBean, v any) (err error) { b.AxisID, err = asStrings(v); return },
		},
		intField("mapMode", func(b *AxisMapBean) *int { return &b.MapMode }),
	)

	withAxis := NewRecord(TagDataSetWithAxisInformation,
		Field[DataSetWithAxisInformation]{
			Key: "data",
			Get: func(d *DataSetWithAxisInformation) any { return d.Data },
			Set: func(d *DataSetWithAxisInformation, v any) (err error) {
				d.Data, err = asArray(v)
				return
			},
		},
		Field[DataSetWithAxisInformation]{
			Key: "axisMap",
			Get: func(d *DataSetWithAxisInformation) any { return d.AxisMap },
			Set: func(d *DataSetWithAxisInformation, v any) error {
				if v == nil {
					d.AxisMap = nil
					return nil
				}
				b, ok := v.(*AxisMapBean)
				if !ok {
					return fmt.Errorf("%w: %T is not an axis map", flatten.ErrMalformed, v)
				}
				d.AxisMap = b
				return nil
			},
		},
	)

	dataBean := NewRecord(TagDataBean,
		Field[DataBean]{
			Key: "data",
			Get: func(d *DataBean) any { return d.Data },
			Set: func(d *DataBean, v any) error {
				if v == nil {
					d.Data = nil
					return nil
				}
				in, ok := v.([]any)
				if !ok {
					return fmt.Errorf("%w: %T is not a list", flatten.ErrMalformed, v)
				}
				d.Data = make([]*DataSetWithAxisInformation, len(in))
				for i, item := range in {
					ds, ok := item.(*DataSetWithAxisInformation)
					if !ok {
						return fmt.Errorf("%w: data[%d] is %T", flatten.ErrMalformed, i, item)
					}
					d.Data[i] = ds
				}
				return nil
			},
		},
		Field[DataBean]{
			Key: "axisData",
			Get: func(d *DataBean) any { return d.AxisData },
			Set: func(d *DataBean, v any) error {
				if v == nil {
					d.AxisData = nil
					return nil
				}
				in, ok := v.(map[string]any)
				if !ok {
					return fmt.Errorf("%w: %T is not a string keyed map", flatten.ErrMalformed, v)
				}
				d.AxisData = make(map[string]*ndarray.Array, len(in))
				for k, item := range in {
					a, err := asArray(item)
					if err != nil {
						return fmt.Errorf("axisData[%q]: %w", k, err)
					}
					d.AxisData[k] = a
				}
				return nil
			},
		},
	)

	return []flatten.Handler{
		&guiBeanHandler{Tagged: flatten.Tagged{Name: TagGuiBean}, params: params, modes: modes},
		dataBean,
		withAxis,
		axisMap,
		modes,
		params,
	}
}

func asArray(v any) (*ndarray.Array, error) {
	switch a := v.(type) {
	case nil:
		return nil, nil
	case *ndarray.Array:
		return a, nil
	}
	return nil, fmt.Errorf("%w: %T is not an array", flatten.ErrMalformed, v)
}
