// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"
	"encoding/json"
)

// JSONCodec encodes request and response bodies. Decoding keeps numbers as
// json.Number so flattened ints and floats stay distinct.
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

var wire = JSONCodec{}

// request is the body of one call. Args are already flattened.
type request struct {
	Procedure string `json:"procedure"`
	Args      []any  `json:"args"`
}

// response is the body of one reply: a flattened result when OK, otherwise
// a failure code and description.
type response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

func failure(code, msg string) response {
	return response{Code: code, Error: msg}
}
