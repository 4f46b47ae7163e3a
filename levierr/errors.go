/*
Copyright 2013 The Camlistore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Copyright 2013 The Camlistore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package levierr defines the error-kind taxonomy shared by every LeviDB
// component, so callers can branch on what went wrong without depending on
// any one package's internal error values.
package levierr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Kinds are not types: every LeviDB failure is
// reported as an *Error carrying one of these.
type Kind int

const (
	// Other is the zero value; it should not appear on an Error returned
	// from this module.
	Other Kind = iota

	// NotFound reports a missing DB directory or a required file absent on
	// open.
	NotFound

	// InvalidArgument reports error_if_exists against an existing DB, a
	// too-new format/db version, or a nested compaction attempt.
	InvalidArgument

	// IOError reports any OS-level read/write/rename/mmap failure.
	IOError

	// Corruption reports a CRC mismatch, a log framing dependency
	// violation, a bad free-list or tree-node checksum, or an impossible
	// length field.
	Corruption

	// NotSupported is reserved for future use.
	NotSupported
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case IOError:
		return "IOError"
	case Corruption:
		return "Corruption"
	case NotSupported:
		return "NotSupported"
	default:
		return "Other"
	}
}

// Error is the typed error every public LeviDB method returns. Context is the
// component/operation ("shard: put", "index: alloc_node"); Detail is the
// specific complaint. Either may be empty.
type Error struct {
	Kind    Kind
	Context string
	Detail  string
	Err     error // wrapped cause, if any; may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Context != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Context, e.Detail)
	case e.Context != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and "context: detail" fragments.
func New(kind Kind, context, detail string) *Error {
	return &Error{Kind: kind, Context: context, Detail: detail}
}

// Wrap builds an *Error around an existing cause, preserving it for
// errors.Unwrap/errors.Is chains.
func Wrap(kind Kind, context string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Context: context, Detail: err.Error(), Err: err}
}

// Is reports whether err (or anything it wraps) is a LeviDB *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// NotFoundf builds a NotFound error.
func NotFoundf(context, format string, args ...interface{}) *Error {
	return New(NotFound, context, fmt.Sprintf(format, args...))
}

// InvalidArgumentf builds an InvalidArgument error.
func InvalidArgumentf(context, format string, args ...interface{}) *Error {
	return New(InvalidArgument, context, fmt.Sprintf(format, args...))
}

// IOErrorf builds an IOError error.
func IOErrorf(context, format string, args ...interface{}) *Error {
	return New(IOError, context, fmt.Sprintf(format, args...))
}

// Corruptionf builds a Corruption error.
func Corruptionf(context, format string, args ...interface{}) *Error {
	return New(Corruption, context, fmt.Sprintf(format, args...))
}
