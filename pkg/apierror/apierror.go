/*
Copyright 2021 The Crossplane Authors.

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

// Package apierror defines the error taxonomy shared by every emulated API
// and renders errors in the Google JSON error envelope that client SDKs
// dispatch on.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Reasons carried in the error envelope. SDKs switch on these strings, so
// they must match what the real APIs produce.
const (
	ReasonInvalid         = "invalid"
	ReasonNotFound        = "notFound"
	ReasonConflict        = "conflict"
	ReasonConditionNotMet = "conditionNotMet"
	ReasonInternal        = "internalError"
	ReasonUnsupported     = "unsupported"
)

// Error is a typed API error. Services return it (possibly wrapped); the HTTP
// layer renders it as the provider-compatible envelope.
type Error struct {
	Code    int
	Reason  string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("googleapi: Error %d: %s, %s", e.Code, e.Message, e.Reason)
}

// Invalid returns a 400 error for malformed input, bad names, traversal
// attempts and illegal state transitions.
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Code: http.StatusBadRequest, Reason: ReasonInvalid, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a 404 error for an absent target resource.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: http.StatusNotFound, Reason: ReasonNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a 409 error for duplicate creation and non-empty deletes.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: http.StatusConflict, Reason: ReasonConflict, Message: fmt.Sprintf(format, args...)}
}

// ConditionNotMet returns a 412 error for a failed if-match precondition.
func ConditionNotMet(format string, args ...interface{}) *Error {
	return &Error{Code: http.StatusPreconditionFailed, Reason: ReasonConditionNotMet, Message: fmt.Sprintf(format, args...)}
}

// Internal returns a 500 error for I/O and runtime failures.
func Internal(format string, args ...interface{}) *Error {
	return &Error{Code: http.StatusInternalServerError, Reason: ReasonInternal, Message: fmt.Sprintf(format, args...)}
}

// Unsupported returns a 501 error for features the emulator does not
// implement.
func Unsupported(format string, args ...interface{}) *Error {
	return &Error{Code: http.StatusNotImplemented, Reason: ReasonUnsupported, Message: fmt.Sprintf(format, args...)}
}

// FromError extracts the typed API error from err, unwrapping as needed. Any
// other error is normalized to an internal error so handlers never leak an
// unshaped response.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	ae := &Error{}
	if errors.As(err, &ae) {
		return ae
	}
	return Internal("%s", err.Error())
}

// IsNotFound tells whether err is, or wraps, a 404 API error.
func IsNotFound(err error) bool {
	ae := &Error{}
	return errors.As(err, &ae) && ae.Code == http.StatusNotFound
}

// IsConflict tells whether err is, or wraps, a 409 API error.
func IsConflict(err error) bool {
	ae := &Error{}
	return errors.As(err, &ae) && ae.Code == http.StatusConflict
}

// IsConditionNotMet tells whether err is, or wraps, a 412 API error.
func IsConditionNotMet(err error) bool {
	ae := &Error{}
	return errors.As(err, &ae) && ae.Code == http.StatusPreconditionFailed
}

type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Errors  []item `json:"errors"`
}

type item struct {
	Message string `json:"message"`
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
}

// Write renders err as the JSON error envelope on w. The envelope is the
// fixed provider shape: {error: {code, message, errors: [{message, domain,
// reason}]}} with domain always "global".
func Write(w http.ResponseWriter, err error) {
	ae := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(ae.Code)
	env := envelope{Error: body{
		Code:    ae.Code,
		Message: ae.Message,
		Errors:  []item{{Message: ae.Message, Domain: "global", Reason: ae.Reason}},
	}}
	_ = json.NewEncoder(w).Encode(env)
}
