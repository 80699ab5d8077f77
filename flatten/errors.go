// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package flatten

import (
	"errors"
	"fmt"
)

var (
	ErrUnencodable  = errors.New("flatten: no handler can encode value")
	ErrUnrecognized = errors.New("flatten: no handler recognizes envelope")
	ErrMalformed    = errors.New("flatten: malformed envelope")
)

const maxDescribe = 120

// describe renders v for error messages, cut to a readable length.
func describe(v any) string {
	s := fmt.Sprintf("%T(%v)", v, v)
	if len(s) > maxDescribe {
		s = s[:maxDescribe] + "..."
	}
	return s
}

// RemoteException is the decoded form of an error value that crossed the
// wire. Only the message survives.
type RemoteException struct {
	Message string
}

func (e *RemoteException) Error() string { return e.Message }
