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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	storageapi "google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/storage"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

func (s *Server) storageRoutes(r *mux.Router) {
	r.HandleFunc("/b", s.listBuckets).Methods(http.MethodGet)
	r.HandleFunc("/b", s.createBucket).Methods(http.MethodPost)
	r.HandleFunc("/b/{bucket}", s.getBucket).Methods(http.MethodGet)
	r.HandleFunc("/b/{bucket}", s.patchBucket).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/b/{bucket}", s.deleteBucket).Methods(http.MethodDelete)

	r.HandleFunc("/b/{bucket}/lifecycle", s.getBucketLifecycle).Methods(http.MethodGet)
	r.HandleFunc("/b/{bucket}/lifecycle", s.setBucketLifecycle).Methods(http.MethodPut)
	r.HandleFunc("/b/{bucket}/cors", s.getBucketCORS).Methods(http.MethodGet)
	r.HandleFunc("/b/{bucket}/cors", s.setBucketCORS).Methods(http.MethodPut)

	r.HandleFunc("/b/{bucket}/iam", s.getBucketPolicy).Methods(http.MethodGet)
	r.HandleFunc("/b/{bucket}/iam", s.setBucketPolicy).Methods(http.MethodPut)
	r.HandleFunc("/b/{bucket}/iam/testPermissions", s.testBucketPermissions).Methods(http.MethodGet)

	r.HandleFunc("/b/{bucket}/notificationConfigs", s.listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/b/{bucket}/notificationConfigs", s.createNotification).Methods(http.MethodPost)
	r.HandleFunc("/b/{bucket}/notificationConfigs/{id}", s.getNotification).Methods(http.MethodGet)
	r.HandleFunc("/b/{bucket}/notificationConfigs/{id}", s.deleteNotification).Methods(http.MethodDelete)

	r.HandleFunc("/b/{bucket}/o", s.listObjects).Methods(http.MethodGet)
	r.HandleFunc("/b/{srcBucket}/o/{srcObject}/copyTo/b/{dstBucket}/o/{dstObject}", s.copyObject).Methods(http.MethodPost)
	r.HandleFunc("/b/{srcBucket}/o/{srcObject}/rewriteTo/b/{dstBucket}/o/{dstObject}", s.rewriteObject).Methods(http.MethodPost)
	r.HandleFunc("/b/{bucket}/o/{object}", s.getObject).Methods(http.MethodGet)
	r.HandleFunc("/b/{bucket}/o/{object}", s.patchObject).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/b/{bucket}/o/{object}", s.deleteObject).Methods(http.MethodDelete)
}

func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		apierror.Write(w, apierror.Invalid("the project parameter is required"))
		return
	}
	out, err := s.storage.ListBuckets(project)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createBucket(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		apierror.Write(w, apierror.Invalid("the project parameter is required"))
		return
	}
	b := &storageapi.Bucket{}
	if err := decodeJSON(r, b); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.CreateBucket(project, b)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.GetBucket(bucket)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) patchBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	patch := &storageapi.Bucket{}
	if err := decodeJSON(r, patch); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.PatchBucket(bucket, patch)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if err := s.storage.DeleteBucket(bucket); err != nil {
		apierror.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getBucketLifecycle(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.GetBucket(bucket)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if out.Lifecycle == nil {
		out.Lifecycle = &storageapi.BucketLifecycle{}
	}
	writeJSON(w, http.StatusOK, out.Lifecycle)
}

// PUT on a bucket sub-resource replaces the whole document; an empty body
// clears it.
func (s *Server) setBucketLifecycle(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	lc := &storageapi.BucketLifecycle{}
	if err := decodeJSON(r, lc); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.PatchBucket(bucket, &storageapi.Bucket{Lifecycle: lc})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if out.Lifecycle == nil {
		out.Lifecycle = &storageapi.BucketLifecycle{}
	}
	writeJSON(w, http.StatusOK, out.Lifecycle)
}

func (s *Server) getBucketCORS(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.GetBucket(bucket)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if out.Cors == nil {
		out.Cors = []*storageapi.BucketCors{}
	}
	writeJSON(w, http.StatusOK, out.Cors)
}

func (s *Server) setBucketCORS(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	cors := []*storageapi.BucketCors{}
	if err := decodeJSON(r, &cors); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.PatchBucket(bucket, &storageapi.Bucket{Cors: cors})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if out.Cors == nil {
		out.Cors = []*storageapi.BucketCors{}
	}
	writeJSON(w, http.StatusOK, out.Cors)
}

func (s *Server) getBucketPolicy(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.GetBucketPolicy(bucket)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) setBucketPolicy(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	p := &storageapi.Policy{}
	if err := decodeJSON(r, p); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.SetBucketPolicy(bucket, p)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) testBucketPermissions(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	granted, err := s.storage.TestBucketPermissions(bucket, r.URL.Query()["permissions"])
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &storageapi.TestIamPermissionsResponse{
		Kind:        "storage#testIamPermissionsResponse",
		Permissions: granted,
	})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.ListNotifications(bucket)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createNotification(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	n := &storageapi.Notification{}
	if err := decodeJSON(r, n); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.CreateNotification(bucket, n)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getNotification(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	id, err := pathVar(r, "id")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.GetNotification(bucket, id)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	id, err := pathVar(r, "id")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if err := s.storage.DeleteNotification(bucket, id); err != nil {
		apierror.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	q := r.URL.Query()
	var maxResults int64
	if v := q.Get("maxResults"); v != "" {
		maxResults, err = strconv.ParseInt(v, 10, 64)
		if err != nil || maxResults < 0 {
			apierror.Write(w, apierror.Invalid("invalid maxResults %q", v))
			return
		}
	}
	out, err := s.storage.ListObjects(bucket, storage.ListQuery{
		Prefix:     q.Get("prefix"),
		Delimiter:  q.Get("delimiter"),
		PageToken:  q.Get("pageToken"),
		MaxResults: maxResults,
		Versions:   q.Get("versions") == "true",
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	bucket, name, err := objectVars(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	generation, err := generationParam(r.URL.Query(), "generation")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if r.URL.Query().Get("alt") == "media" {
		s.serveContent(w, r, bucket, name, generation)
		return
	}
	out, err := s.storage.GetObject(bucket, name, generation)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) patchObject(w http.ResponseWriter, r *http.Request) {
	bucket, name, err := objectVars(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	pre, err := preconditionsParam(r.URL.Query())
	if err != nil {
		apierror.Write(w, err)
		return
	}
	patch := &storageapi.Object{}
	if err := decodeJSON(r, patch); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.PatchObject(bucket, name, patch, pre)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	bucket, name, err := objectVars(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	q := r.URL.Query()
	generation, err := generationParam(q, "generation")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	pre, err := preconditionsParam(q)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if err := s.storage.DeleteObject(bucket, name, generation, pre); err != nil {
		apierror.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) copyObject(w http.ResponseWriter, r *http.Request) {
	src, dst, generation, pre, body, err := copyParams(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.CopyObject(src[0], src[1], generation, dst[0], dst[1], body, pre)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) rewriteObject(w http.ResponseWriter, r *http.Request) {
	src, dst, generation, pre, body, err := copyParams(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.storage.RewriteObject(src[0], src[1], generation, dst[0], dst[1], body, pre)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// copyParams collects the shared inputs of the copyTo and rewriteTo
// routes: source and destination pairs, the pinned source generation, the
// destination preconditions and the optional destination metadata body.
func copyParams(r *http.Request) (src, dst [2]string, generation int64, pre storage.Preconditions, body *storageapi.Object, err error) {
	for i, name := range []string{"srcBucket", "srcObject"} {
		if src[i], err = pathVar(r, name); err != nil {
			return src, dst, 0, pre, nil, err
		}
	}
	for i, name := range []string{"dstBucket", "dstObject"} {
		if dst[i], err = pathVar(r, name); err != nil {
			return src, dst, 0, pre, nil, err
		}
	}
	q := r.URL.Query()
	if generation, err = generationParam(q, "sourceGeneration"); err != nil {
		return src, dst, 0, pre, nil, err
	}
	if pre, err = preconditionsParam(q); err != nil {
		return src, dst, 0, pre, nil, err
	}
	body = &storageapi.Object{}
	if err = decodeJSON(r, body); err != nil {
		return src, dst, 0, pre, nil, err
	}
	return src, dst, generation, pre, body, nil
}

// serveContent streams one object version with the metadata headers SDK
// readers parse. A single satisfiable bytes range is honored with a 206;
// anything else gets the full content.
func (s *Server) serveContent(w http.ResponseWriter, r *http.Request, bucket, name string, generation int64) {
	rec, body, err := s.storage.Content(bucket, name, generation)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	defer body.Close() // nolint:errcheck

	h := w.Header()
	h.Set("Content-Type", rec.ContentType)
	if rec.CacheControl != "" {
		h.Set("Cache-Control", rec.CacheControl)
	}
	h.Set("X-Goog-Hash", storage.HashHeader(rec))
	h.Set("X-Goog-Generation", strconv.FormatInt(rec.Generation, 10))
	h.Set("X-Goog-Metageneration", strconv.FormatInt(rec.Metageneration, 10))
	h.Set("Last-Modified", rec.UpdatedAt.UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")

	if r.Method == http.MethodHead {
		h.Set("Content-Length", strconv.FormatInt(rec.Size, 10))
		return
	}

	start, length, ranged := parseRange(r.Header.Get("Range"), rec.Size)
	seeker, seekable := body.(io.ReadSeeker)
	if !ranged || !seekable {
		h.Set("Content-Length", strconv.FormatInt(rec.Size, 10))
		if _, err := io.Copy(w, body); err != nil {
			s.log.WithError(err).Debug("download interrupted")
		}
		return
	}

	if _, err := seeker.Seek(start, io.SeekStart); err != nil {
		apierror.Write(w, apierror.Internal("cannot seek object content: %s", err))
		return
	}
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+length-1, rec.Size))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, seeker, length); err != nil {
		s.log.WithError(err).Debug("download interrupted")
	}
}

// parseRange interprets a single bytes range against size, the only form
// SDK readers send. ok reports a satisfiable range; malformed or
// unsatisfiable headers are ignored per RFC 7233 and the caller serves the
// full content.
func parseRange(header string, size int64) (start, length int64, ok bool) {
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, false
	}
	first, last := strings.TrimSpace(spec[:dash]), strings.TrimSpace(spec[dash+1:])

	if first == "" {
		// Suffix form: the final n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, n, true
	}

	begin, err := strconv.ParseInt(first, 10, 64)
	if err != nil || begin < 0 || begin >= size {
		return 0, 0, false
	}
	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < begin {
			return 0, 0, false
		}
		if e < end {
			end = e
		}
	}
	return begin, end - begin + 1, true
}

// objectVars returns the decoded bucket and object path variables.
func objectVars(r *http.Request) (bucket, object string, err error) {
	if bucket, err = pathVar(r, "bucket"); err != nil {
		return "", "", err
	}
	object, err = pathVar(r, "object")
	return bucket, object, err
}

// generationParam parses an optional generation query parameter; zero
// selects the live latest version.
func generationParam(q url.Values, param string) (int64, error) {
	v := q.Get(param)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, apierror.Invalid("invalid %s %q", param, v)
	}
	return n, nil
}

// preconditionsParam collects the generation and metageneration match
// parameters shared by the object mutation routes.
func preconditionsParam(q url.Values) (storage.Preconditions, error) {
	out := storage.Preconditions{}
	for param, dst := range map[string]**int64{
		"ifGenerationMatch":        &out.IfGenerationMatch,
		"ifGenerationNotMatch":     &out.IfGenerationNotMatch,
		"ifMetagenerationMatch":    &out.IfMetagenerationMatch,
		"ifMetagenerationNotMatch": &out.IfMetagenerationNotMatch,
	} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := validation.Precondition(param, v)
		if err != nil {
			return storage.Preconditions{}, err
		}
		*dst = &n
	}
	return out, nil
}
