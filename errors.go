// Copyright 2025 The Flower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flower

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes handler failures. Callers branch on the kind,
// never on the concrete error type of whatever library failed.
type ErrorKind int

const (
	// ErrorOther covers library-internal failures (TLS handshakes,
	// QUIC connects) that are intentionally opaque to callers.
	ErrorOther ErrorKind = iota

	// ErrorIO covers socket and file read/write failures.
	ErrorIO

	// ErrorInvalidInput covers malformed certificates and keys, empty
	// DNS results, missing expected upstream streams, and invalid SNI.
	ErrorInvalidInput

	// ErrorProtocol covers negotiation and handshake semantic
	// failures, and the drop handler's sentinel.
	ErrorProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorIO:
		return "io"
	case ErrorInvalidInput:
		return "invalid input"
	case ErrorProtocol:
		return "protocol"
	default:
		return "other"
	}
}

// HandlerError is the error surface shared by all proxy handlers: a
// kind from the taxonomy above plus an optional message and wrapped
// cause. It supports errors.Is/errors.As through Unwrap.
type HandlerError struct {
	kind ErrorKind
	msg  string
	err  error
}

// Err wraps err with the given kind, preserving it as the cause.
func Err(kind ErrorKind, err error) error {
	return &HandlerError{kind: kind, err: err}
}

// Errf builds a HandlerError of the given kind with a formatted
// message. The %w verb wraps a cause, like fmt.Errorf.
func Errf(kind ErrorKind, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &HandlerError{kind: kind, msg: err.Error(), err: errors.Unwrap(err)}
}

func (e *HandlerError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.kind.String()
}

func (e *HandlerError) Unwrap() error { return e.err }

// Kind returns the error's category.
func (e *HandlerError) Kind() ErrorKind { return e.kind }

// ErrKind extracts the kind from err. Errors that did not come from a
// handler are ErrorOther.
func ErrKind(err error) ErrorKind {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.kind
	}
	return ErrorOther
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && ErrKind(err) == kind
}
