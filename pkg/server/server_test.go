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

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	storageapi "google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/compute"
	"github.com/crossplane-contrib/gcp-emulator/pkg/iam"
	"github.com/crossplane-contrib/gcp-emulator/pkg/runtime"
	"github.com/crossplane-contrib/gcp-emulator/pkg/storage"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/vpc"
)

type testEnv struct {
	ts   *httptest.Server
	st   *store.Store
	rt   *runtime.Fake
	stg  *storage.Service
	cmp  *compute.Service
	root string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	entry := logrus.NewEntry(log)

	st, err := store.New(entry, "")
	if err != nil {
		t.Fatalf("store.New(...): %v", err)
	}
	root := t.TempDir()
	stg := storage.New(st, entry, root, "test-secret")
	rt := runtime.NewFake()
	cmp := compute.New(st, rt, entry, "test-image")
	srv := New(st, stg, cmp, vpc.New(st, entry), iam.New(st, entry), entry)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, st: st, rt: rt, stg: stg, cmp: cmp, root: root}
}

func registerProject(t *testing.T, env *testEnv, id string) {
	t.Helper()
	res, err := http.Post(env.ts.URL+"/internal/projects", "application/json",
		strings.NewReader(fmt.Sprintf(`{"id": %q}`, id)))
	if err != nil {
		t.Fatalf("POST /internal/projects: %v", err)
	}
	defer res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusOK {
		t.Fatalf("POST /internal/projects: status %d", res.StatusCode)
	}
}

// errorEnvelope mirrors the wire shape of rendered API errors.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, res *http.Response) errorEnvelope {
	t.Helper()
	defer res.Body.Close() // nolint:errcheck
	env := errorEnvelope{}
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return env
}

func TestUnknownEndpointEnvelope(t *testing.T) {
	env := newTestEnv(t)

	res, err := http.Get(env.ts.URL + "/storage/v1/teapots")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	body := decodeEnvelope(t, res)
	if body.Error.Code != http.StatusNotFound {
		t.Errorf("envelope code: got %d, want %d", body.Error.Code, http.StatusNotFound)
	}
	if len(body.Error.Errors) != 1 || body.Error.Errors[0].Reason != "notFound" {
		t.Errorf("envelope errors: got %+v, want one notFound item", body.Error.Errors)
	}
	if body.Error.Errors[0].Domain != "global" {
		t.Errorf("envelope domain: got %q, want global", body.Error.Errors[0].Domain)
	}
}

func TestMethodNotAllowedEnvelope(t *testing.T) {
	env := newTestEnv(t)

	res, err := http.Post(env.ts.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /metrics: %v", err)
	}
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want %d", res.StatusCode, http.StatusMethodNotAllowed)
	}
	body := decodeEnvelope(t, res)
	if len(body.Error.Errors) != 1 || body.Error.Errors[0].Reason != "invalid" {
		t.Errorf("envelope errors: got %+v, want one invalid item", body.Error.Errors)
	}
}

func TestGRPCProbeUnsupported(t *testing.T) {
	env := newTestEnv(t)

	res, err := http.Post(env.ts.URL+"/google.storage.v2.Storage/ReadObject", "application/grpc", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if res.StatusCode != http.StatusNotImplemented {
		t.Errorf("status: got %d, want %d", res.StatusCode, http.StatusNotImplemented)
	}
	body := decodeEnvelope(t, res)
	if !strings.Contains(body.Error.Message, "JSON API") {
		t.Errorf("message: got %q, want a pointer at the JSON API", body.Error.Message)
	}
}

func TestMetricsExposed(t *testing.T) {
	env := newTestEnv(t)

	// The counter only shows up once a request has been served and counted.
	res, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	res.Body.Close() // nolint:errcheck

	res, err = http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics: status %d", res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if !strings.Contains(string(data), "gcp_emulator_http_requests_total") {
		t.Error("metrics output is missing gcp_emulator_http_requests_total")
	}
}

func TestRawMediaPathKeepsSlashes(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.stg.CreateBucket("demo", &storageapi.Bucket{Name: "pics"}); err != nil {
		t.Fatalf("CreateBucket(...): %v", err)
	}
	if _, err := env.stg.InsertObject(storage.InsertRequest{
		Bucket: "pics", Name: "family/trip.jpg", ContentType: "image/jpeg",
		Media: strings.NewReader("jpeg bytes"),
	}); err != nil {
		t.Fatalf("InsertObject(...): %v", err)
	}

	res, err := http.Get(env.ts.URL + "/pics/family/trip.jpg")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", res.StatusCode, http.StatusOK)
	}
	data, _ := io.ReadAll(res.Body) // nolint:errcheck
	if string(data) != "jpeg bytes" {
		t.Errorf("body: got %q, want %q", data, "jpeg bytes")
	}
	if got := res.Header.Get("X-Goog-Generation"); got != "1" {
		t.Errorf("X-Goog-Generation: got %q, want 1", got)
	}
	if got := res.Header.Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type: got %q, want image/jpeg", got)
	}
}

func TestRawMediaPathRange(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.stg.CreateBucket("demo", &storageapi.Bucket{Name: "data"}); err != nil {
		t.Fatalf("CreateBucket(...): %v", err)
	}
	if _, err := env.stg.InsertObject(storage.InsertRequest{
		Bucket: "data", Name: "alphabet.txt",
		Media: strings.NewReader("abcdefghijklmnopqrstuvwxyz"),
	}); err != nil {
		t.Fatalf("InsertObject(...): %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/data/alphabet.txt", nil) // nolint:errcheck
	req.Header.Set("Range", "bytes=2-5")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusPartialContent {
		t.Fatalf("status: got %d, want %d", res.StatusCode, http.StatusPartialContent)
	}
	if got, want := res.Header.Get("Content-Range"), "bytes 2-5/26"; got != want {
		t.Errorf("Content-Range: got %q, want %q", got, want)
	}
	data, _ := io.ReadAll(res.Body) // nolint:errcheck
	if string(data) != "cdef" {
		t.Errorf("body: got %q, want %q", data, "cdef")
	}
}

func TestSignedURLDownload(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.stg.CreateBucket("demo", &storageapi.Bucket{Name: "signed"}); err != nil {
		t.Fatalf("CreateBucket(...): %v", err)
	}
	if _, err := env.stg.InsertObject(storage.InsertRequest{
		Bucket: "signed", Name: "report.txt", ContentType: "text/plain",
		Media: strings.NewReader("quarterly numbers"),
	}); err != nil {
		t.Fatalf("InsertObject(...): %v", err)
	}

	q := env.stg.SignURL("GET", "/signed/report.txt", time.Now().Add(time.Hour))
	res, err := http.Get(env.ts.URL + "/signed/report.txt?" + q.Encode())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", res.StatusCode, http.StatusOK)
	}
	data, _ := io.ReadAll(res.Body) // nolint:errcheck
	if string(data) != "quarterly numbers" {
		t.Errorf("body: got %q, want %q", data, "quarterly numbers")
	}

	q.Set(storage.ParamSignature, "tampered")
	res, err = http.Get(env.ts.URL + "/signed/report.txt?" + q.Encode())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("tampered signature status: got %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSignedURLExpired(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.stg.CreateBucket("demo", &storageapi.Bucket{Name: "signed"}); err != nil {
		t.Fatalf("CreateBucket(...): %v", err)
	}
	if _, err := env.stg.InsertObject(storage.InsertRequest{
		Bucket: "signed", Name: "stale.txt", Media: strings.NewReader("old"),
	}); err != nil {
		t.Fatalf("InsertObject(...): %v", err)
	}

	q := env.stg.SignURL("GET", "/signed/stale.txt", time.Now().Add(-time.Hour))
	res, err := http.Get(env.ts.URL + "/signed/stale.txt?" + q.Encode())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("expired URL status: got %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSignedURLUpload(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.stg.CreateBucket("demo", &storageapi.Bucket{Name: "signed"}); err != nil {
		t.Fatalf("CreateBucket(...): %v", err)
	}

	q := env.stg.SignURL("PUT", "/signed/upload.bin", time.Now().Add(time.Hour))
	req, _ := http.NewRequest(http.MethodPut, env.ts.URL+"/signed/upload.bin?"+q.Encode(), // nolint:errcheck
		strings.NewReader("fresh content"))
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	defer res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", res.StatusCode, http.StatusOK)
	}
	obj := &storageapi.Object{}
	if err := json.NewDecoder(res.Body).Decode(obj); err != nil {
		t.Fatalf("decoding object: %v", err)
	}
	if obj.Name != "upload.bin" || obj.Size != uint64(len("fresh content")) {
		t.Errorf("object: got %s/%d bytes, want upload.bin/%d bytes", obj.Name, obj.Size, len("fresh content"))
	}
}

func TestUnsignedUploadOnMediaPathRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.stg.CreateBucket("demo", &storageapi.Bucket{Name: "signed"}); err != nil {
		t.Fatalf("CreateBucket(...): %v", err)
	}

	req, _ := http.NewRequest(http.MethodPut, env.ts.URL+"/signed/sneaky.bin", strings.NewReader("x")) // nolint:errcheck
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}
