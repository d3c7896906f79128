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

// Package server exposes the emulated APIs over HTTP. One router carries
// the storage, compute and IAM surfaces plus the admin and metrics
// endpoints. Handlers strip transport details, delegate to the domain
// services and render failures as the provider error envelope, so client
// SDKs pointed at the listen address behave as if they were talking to the
// real endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/compute"
	"github.com/crossplane-contrib/gcp-emulator/pkg/iam"
	"github.com/crossplane-contrib/gcp-emulator/pkg/storage"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/vpc"
)

// requestTimeout bounds every request context. Uploads stream within it,
// which is ample for a local emulator.
const requestTimeout = 60 * time.Second

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gcp_emulator",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Requests served, by API surface, method and status code.",
}, []string{"api", "method", "code"})

// Server routes emulator traffic to the domain services.
type Server struct {
	store   *store.Store
	storage *storage.Service
	compute *compute.Service
	vpc     *vpc.Service
	iam     *iam.Service
	log     *logrus.Entry
	now     func() time.Time
}

// New returns a Server over the shared store and services.
func New(st *store.Store, objects *storage.Service, instances *compute.Service, networks *vpc.Service, accounts *iam.Service, log *logrus.Entry) *Server {
	return &Server{store: st, storage: objects, compute: instances, vpc: networks, iam: accounts, log: log, now: time.Now}
}

// Handler builds the full route table. API prefixes match first; the bare
// /{bucket}/{object} media path is registered last so the prefixes keep
// priority over it.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	// Object names stay percent-encoded during matching; handlers decode
	// the path variables themselves.
	r.UseEncodedPath()

	s.storageRoutes(r.PathPrefix("/storage/v1").Subrouter())
	s.uploadRoutes(r)
	s.computeRoutes(r.PathPrefix("/compute/v1").Subrouter())
	s.iamRoutes(r.PathPrefix("/v1").Subrouter())
	s.adminRoutes(r.PathPrefix("/internal").Subrouter())

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/google.").HandlerFunc(grpcProbe)
	r.HandleFunc("/{bucket}/{object:.+}", s.rawObject).
		Methods(http.MethodGet, http.MethodHead, http.MethodPut)

	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	return s.instrument(r)
}

// instrument wraps the router with the request deadline, the request
// counter and debug logging.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		httpRequests.WithLabelValues(apiLabel(r.URL.Path), r.Method, strconv.Itoa(rec.code)).Inc()
		s.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"code":   rec.code,
		}).Debug("request served")
	})
}

// statusRecorder captures the status code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// apiLabel maps a request path to the coarse API surface label used on the
// request counter.
func apiLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/storage/"):
		return "storage"
	case strings.HasPrefix(path, "/upload/"):
		return "upload"
	case strings.HasPrefix(path, "/compute/"):
		return "compute"
	case strings.HasPrefix(path, "/v1/"):
		return "iam"
	case strings.HasPrefix(path, "/internal/"):
		return "admin"
	case path == "/metrics":
		return "metrics"
	default:
		return "media"
	}
}

// grpcProbe answers clients probing for a gRPC surface the emulator does
// not carry.
func grpcProbe(w http.ResponseWriter, _ *http.Request) {
	apierror.Write(w, apierror.Unsupported("gRPC transport is not supported; use the JSON API"))
}

func notFound(w http.ResponseWriter, r *http.Request) {
	apierror.Write(w, apierror.NotFound("unknown endpoint %s", r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierror.Write(w, &apierror.Error{
		Code:    http.StatusMethodNotAllowed,
		Reason:  apierror.ReasonInvalid,
		Message: fmt.Sprintf("method %s is not allowed on %s", r.Method, r.URL.Path),
	})
}

// writeJSON renders v with the canonical JSON content type.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched so optional bodies decode to their zero value.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apierror.Invalid("cannot decode request body: %s", err)
}

// pathVar returns one decoded mux path variable.
func pathVar(r *http.Request, name string) (string, error) {
	v, err := url.PathUnescape(mux.Vars(r)[name])
	if err != nil {
		return "", apierror.Invalid("invalid %s in path: %s", name, err)
	}
	return v, nil
}
