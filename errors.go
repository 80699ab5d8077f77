// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProcedure   = errors.New("rpc: unknown procedure")
	ErrDuplicateProcedure = errors.New("rpc: procedure already registered")
	ErrConnectionTimeout  = errors.New("rpc: connection timeout")
	ErrTransport          = errors.New("rpc: transport failure")
	ErrClosed             = errors.New("rpc: closed")
	ErrUnknownTransport   = errors.New("rpc: unknown transport")
	ErrNoMethod           = errors.New("rpc: no matching method")
)

// Failure codes carried by a failed response.
const (
	CodeUnknownProcedure = "unknown_procedure"
	CodeProcedureFailed  = "procedure_failed"
	CodeBadRequest       = "bad_request"
)

// RemoteError is a failure reported by the server for one call. The
// connection that carried it is still usable.
type RemoteError struct {
	Procedure string
	Code      string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s failed remotely (%s): %s", e.Procedure, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if e.Code == CodeUnknownProcedure {
		return ErrUnknownProcedure
	}
	return nil
}
