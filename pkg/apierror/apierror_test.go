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

package apierror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

var errBoom = errors.New("boom")

func TestFromError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want *Error
	}{
		"Nil": {
			err:  nil,
			want: nil,
		},
		"Typed": {
			err:  NotFound("bucket %q not found", "b1"),
			want: &Error{Code: 404, Reason: ReasonNotFound, Message: `bucket "b1" not found`},
		},
		"Wrapped": {
			err:  errors.Wrap(Conflict("bucket %q already exists", "b1"), "cannot create bucket"),
			want: &Error{Code: 409, Reason: ReasonConflict, Message: `bucket "b1" already exists`},
		},
		"DoublyWrapped": {
			err:  errors.Wrap(errors.Wrap(ConditionNotMet("generation mismatch"), "upload"), "handler"),
			want: &Error{Code: 412, Reason: ReasonConditionNotMet, Message: "generation mismatch"},
		},
		"Untyped": {
			err:  errBoom,
			want: &Error{Code: 500, Reason: ReasonInternal, Message: "boom"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := FromError(tc.err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("FromError(...): -want, +got:\n%s", diff)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	wrapped := errors.Wrap(NotFound("gone"), "cannot get object")

	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through errors.Wrap")
	}
	if IsNotFound(errBoom) {
		t.Error("IsNotFound should be false for untyped errors")
	}
	if !IsConflict(Conflict("dup")) {
		t.Error("IsConflict(Conflict(...)) should be true")
	}
	if !IsConditionNotMet(ConditionNotMet("etag")) {
		t.Error("IsConditionNotMet(ConditionNotMet(...)) should be true")
	}
}

func TestWrite(t *testing.T) {
	cases := map[string]struct {
		err      error
		wantCode int
		wantBody envelope
	}{
		"Invalid": {
			err:      Invalid("invalid bucket name"),
			wantCode: http.StatusBadRequest,
			wantBody: envelope{Error: body{
				Code:    400,
				Message: "invalid bucket name",
				Errors:  []item{{Message: "invalid bucket name", Domain: "global", Reason: "invalid"}},
			}},
		},
		"UntypedBecomesInternal": {
			err:      errBoom,
			wantCode: http.StatusInternalServerError,
			wantBody: envelope{Error: body{
				Code:    500,
				Message: "boom",
				Errors:  []item{{Message: "boom", Domain: "global", Reason: "internalError"}},
			}},
		},
		"Unsupported": {
			err:      Unsupported("gRPC is not supported"),
			wantCode: http.StatusNotImplemented,
			wantBody: envelope{Error: body{
				Code:    501,
				Message: "gRPC is not supported",
				Errors:  []item{{Message: "gRPC is not supported", Domain: "global", Reason: "unsupported"}},
			}},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Write(rec, tc.err)

			if rec.Code != tc.wantCode {
				t.Errorf("Write(...) status = %d, want %d", rec.Code, tc.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=UTF-8" {
				t.Errorf("Write(...) Content-Type = %q", ct)
			}
			got := envelope{}
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if diff := cmp.Diff(tc.wantBody, got); diff != "" {
				t.Errorf("Write(...): -want, +got:\n%s", diff)
			}
		})
	}
}
