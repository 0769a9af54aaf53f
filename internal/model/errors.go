// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the engine's error taxonomy. Callers
// should switch on Kind rather than matching error strings.
type Kind int

// Error kinds the engine can report.
const (
	KindUnknownCollection Kind = iota
	KindMissingRequiredField
	KindTypeMismatch
	KindNotFound
	KindAlreadyExists
	KindVersionMismatch
	KindMalformed
	KindUnsupportedFormat
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnknownCollection:
		return "UnknownCollection"
	case KindMissingRequiredField:
		return "MissingRequiredField"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindVersionMismatch:
		return "VersionMismatch"
	case KindMalformed:
		return "Malformed"
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the engine's single error type. It carries a Kind plus
// whatever structured detail that Kind needs (a field name, the
// expected/actual version, etc.), mirroring the way
// types.LeaseBusyError attaches structured detail to a single error
// shape instead of inventing one Go type per case.
type Error struct {
	Kind    Kind
	Field   string
	Want    uint64
	Got     uint64
	Version uint32
	cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingRequiredField:
		return fmt.Sprintf("%s: field %q is required", e.Kind, e.Field)
	case KindTypeMismatch:
		return fmt.Sprintf("%s: field %q", e.Kind, e.Field)
	case KindVersionMismatch:
		return fmt.Sprintf("%s: expected version %d, got %d", e.Kind, e.Want, e.Got)
	case KindUnsupportedFormat:
		return fmt.Sprintf("%s: format version %d", e.Kind, e.Version)
	default:
		if e.cause != nil {
			return fmt.Sprintf("%s: %s", e.Kind, e.cause)
		}
		return e.Kind.String()
	}
}

// Unwrap exposes the underlying cause, if any, so errors.Is/As chain
// through an *Error the way they chain through errors.WithStack.
func (e *Error) Unwrap() error { return e.cause }

// As reports whether err (or something it wraps) is an *Error of the
// given Kind, returning it if so.
func As(err error, kind Kind) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == kind {
		return e, true
	}
	return nil, false
}

// NewError constructs a bare *Error of the given kind.
func NewError(kind Kind) *Error { return &Error{Kind: kind} }

// ErrUnknownCollection reports that an operation or query named a
// collection absent from the schema.
func ErrUnknownCollection() *Error { return NewError(KindUnknownCollection) }

// ErrMissingRequiredField reports a required field missing (or null)
// from a payload.
func ErrMissingRequiredField(field string) *Error {
	return &Error{Kind: KindMissingRequiredField, Field: field}
}

// ErrTypeMismatch reports a payload value whose JSON kind does not
// match the declared field type.
func ErrTypeMismatch(field string) *Error {
	return &Error{Kind: KindTypeMismatch, Field: field}
}

// ErrNotFound reports that the target record does not exist and no
// resurrection path applies.
func ErrNotFound() *Error { return NewError(KindNotFound) }

// ErrAlreadyExists reports that a local Create targeted a live
// record.
func ErrAlreadyExists() *Error { return NewError(KindAlreadyExists) }

// ErrVersionMismatch reports that a local Update/Delete's base_version
// did not match the record's current version.
func ErrVersionMismatch(want, got uint64) *Error {
	return &Error{Kind: KindVersionMismatch, Want: want, Got: got}
}

// ErrMalformed reports that an operation could not be decoded.
func ErrMalformed(cause error) *Error {
	return &Error{Kind: KindMalformed, cause: cause}
}

// ErrUnsupportedFormat reports a snapshot import with an unrecognized
// format_version.
func ErrUnsupportedFormat(version uint32) *Error {
	return &Error{Kind: KindUnsupportedFormat, Version: version}
}

// ErrInternal wraps an invariant violation caught defensively; it is
// always fatal to the call in progress.
func ErrInternal(cause error) *Error {
	return &Error{Kind: KindInternal, cause: errors.WithStack(cause)}
}
