// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package flatten

import (
	"fmt"

	"github.com/luxfi/flatrpc/ndarray"
	"github.com/luxfi/flatrpc/oob"
)

const (
	TagDataset = "flatrpc.Dataset"

	FilenameKey   = "filename"
	DeleteFileKey = "deletefile"
	IndexKey      = "index"
	NameKey       = "name"
)

// Dataset sends *ndarray.Array by reference: the array is written to a temp
// file and the envelope carries its path with DeleteFileKey set. An oob.Ref
// encodes as is, so a caller can point at a file it keeps, or at one entry of
// a multi-array file by index or name. Decoding always loads the array, and
// deletes the file when the envelope asks for it unless the store was built
// with oob.WithConfinedDeletes.
type Dataset struct {
	Tagged
	store *oob.Store
}

func NewDataset(store *oob.Store) *Dataset {
	if store == nil {
		store = oob.New()
	}
	return &Dataset{Tagged: Tagged{Name: TagDataset}, store: store}
}

func (d *Dataset) CanEncode(v any) bool {
	switch a := v.(type) {
	case *ndarray.Array:
		return a != nil
	case oob.Ref, *oob.Ref:
		return true
	}
	return false
}

func (d *Dataset) Encode(v any, _ Flattener) (any, error) {
	var ref oob.Ref
	switch a := v.(type) {
	case *ndarray.Array:
		var err error
		if ref, err = d.store.Put(a); err != nil {
			return nil, err
		}
	case oob.Ref:
		ref = a
	case *oob.Ref:
		ref = *a
	}

	e := NewEnvelope(TagDataset)
	e[FilenameKey] = ref.Filename
	if ref.DeleteAfterLoad {
		e[DeleteFileKey] = true
	}
	if ref.Index != nil {
		e[IndexKey] = *ref.Index
	}
	if ref.Name != "" {
		e[NameKey] = ref.Name
	}
	return e, nil
}

func (d *Dataset) Decode(v any, _ Flattener) (any, error) {
	e := v.(map[string]any)
	filename, err := StringField(e, FilenameKey)
	if err != nil {
		return nil, err
	}
	ref := oob.Ref{Filename: filename}
	if raw, ok := e[DeleteFileKey]; ok {
		if ref.DeleteAfterLoad, err = ToBool(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", DeleteFileKey, err)
		}
	}
	if raw, ok := e[IndexKey]; ok && raw != nil {
		index, err := ToInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", IndexKey, err)
		}
		ref.Index = &index
	}
	if raw, ok := e[NameKey]; ok && raw != nil {
		if ref.Name, err = StringField(e, NameKey); err != nil {
			return nil, err
		}
	}
	return d.store.Get(ref)
}
