// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package catalog holds flatten handlers for the plotting domain types:
// regions of interest, plot beans and their enums.
package catalog

import "github.com/luxfi/flatrpc/flatten"

// Handlers returns every catalog handler, most specific first.
func Handlers() []flatten.Handler {
	return append(beanHandlers(), roiHandlers()...)
}

// Register adds the catalog handlers to reg ahead of its existing ones,
// keeping the order of Handlers.
func Register(reg *flatten.Registry) {
	hs := Handlers()
	for i := len(hs) - 1; i >= 0; i-- {
		reg.Add(hs[i])
	}
}
