// Copyright 2021 The gVisor Authors.
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

// Package errors holds the standardized error definition for the memory
// manager.
package errors

import "fmt"

// Code identifies an error kind. Codes are stable and never reused.
type Code uint32

// Error represents a memory manager failure with a descriptive message.
type Error struct {
	code    Code
	name    string
	message string
}

// New creates a new *Error.
func New(code Code, name, message string) *Error {
	return &Error{
		code:    code,
		name:    name,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the underlying Code value.
func (e *Error) Code() Code { return e.code }

// Name returns the symbolic name of the error kind, e.g. "NotRunning".
func (e *Error) Name() string { return e.name }

// String implements fmt.Stringer.
func (e *Error) String() string {
	return fmt.Sprintf("%s (%d): %s", e.name, e.code, e.message)
}
