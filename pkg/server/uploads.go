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
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	storageapi "google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/storage"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

// statusResumeIncomplete is how the resumable protocol reports a partial
// upload. The code collides with RFC 7238's permanent redirect; clients
// following the protocol never treat it as one.
const statusResumeIncomplete = 308

func (s *Server) uploadRoutes(r *mux.Router) {
	r.HandleFunc("/upload/storage/v1/b/{bucket}/o", s.insertObject).Methods(http.MethodPost)
	// SDKs deliver chunks with POST, the documented protocol says PUT.
	r.HandleFunc("/upload/resumable/{id}", s.resumableChunk).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/upload/resumable/{id}", s.abortUpload).Methods(http.MethodDelete)
}

func (s *Server) insertObject(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathVar(r, "bucket")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	pre, err := preconditionsParam(r.URL.Query())
	if err != nil {
		apierror.Write(w, err)
		return
	}

	switch uploadType := r.URL.Query().Get("uploadType"); uploadType {
	case "media":
		s.insertMedia(w, r, bucket, pre)
	case "multipart":
		s.insertMultipart(w, r, bucket, pre)
	case "resumable":
		s.startResumable(w, r, bucket, pre)
	default:
		apierror.Write(w, apierror.Invalid("unsupported uploadType %q", uploadType))
	}
}

// insertMedia handles a bare media upload: the name rides in the query and
// the body is the content.
func (s *Server) insertMedia(w http.ResponseWriter, r *http.Request, bucket string, pre storage.Preconditions) {
	out, err := s.storage.InsertObject(storage.InsertRequest{
		Bucket:        bucket,
		Name:          r.URL.Query().Get("name"),
		ContentType:   r.Header.Get("Content-Type"),
		Preconditions: pre,
		Media:         r.Body,
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// insertMultipart handles a multipart/related upload: part one is the
// object metadata as JSON, part two the media.
func (s *Server) insertMultipart(w http.ResponseWriter, r *http.Request, bucket string, pre storage.Preconditions) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		apierror.Write(w, apierror.Invalid("multipart upload requires a multipart/related body"))
		return
	}
	parts := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := parts.NextPart()
	if err != nil {
		apierror.Write(w, apierror.Invalid("multipart upload is missing its metadata part"))
		return
	}
	meta := &storageapi.Object{}
	if err := json.NewDecoder(metaPart).Decode(meta); err != nil {
		apierror.Write(w, apierror.Invalid("cannot decode object metadata: %s", err))
		return
	}
	mediaPart, err := parts.NextPart()
	if err != nil {
		apierror.Write(w, apierror.Invalid("multipart upload is missing its media part"))
		return
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = mediaPart.Header.Get("Content-Type")
	}
	out, err := s.storage.InsertObject(storage.InsertRequest{
		Bucket:        bucket,
		Name:          uploadName(r, meta),
		ContentType:   contentType,
		CacheControl:  meta.CacheControl,
		Metadata:      meta.Metadata,
		Preconditions: pre,
		Media:         mediaPart,
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// startResumable opens an upload session and hands its URL back in the
// Location header.
func (s *Server) startResumable(w http.ResponseWriter, r *http.Request, bucket string, pre storage.Preconditions) {
	meta := &storageapi.Object{}
	if err := decodeJSON(r, meta); err != nil {
		apierror.Write(w, err)
		return
	}
	contentType := r.Header.Get("X-Upload-Content-Type")
	if meta.ContentType != "" {
		contentType = meta.ContentType
	}
	total := int64(-1)
	if v := r.Header.Get("X-Upload-Content-Length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			apierror.Write(w, apierror.Invalid("invalid X-Upload-Content-Length %q", v))
			return
		}
		total = n
	}

	id, err := s.storage.StartResumableUpload(bucket, uploadName(r, meta), contentType, meta.Metadata, total, pre)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	w.Header().Set("Location", uploadLocation(r, id))
	w.WriteHeader(http.StatusOK)
}

// uploadName resolves the object name of an upload: the name query
// parameter wins over the metadata body.
func uploadName(r *http.Request, meta *storageapi.Object) string {
	if name := r.URL.Query().Get("name"); name != "" {
		return name
	}
	return meta.Name
}

// uploadLocation builds the absolute session URL handed to the client.
func uploadLocation(r *http.Request, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/upload/resumable/%s", scheme, r.Host, id)
}

func (s *Server) resumableChunk(w http.ResponseWriter, r *http.Request) {
	id, err := pathVar(r, "id")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	cr, err := validation.ParseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		apierror.Write(w, err)
		return
	}
	res, err := s.storage.ResumableChunk(id, cr, r.Body)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if res.Object != nil {
		writeJSON(w, http.StatusOK, res.Object)
		return
	}
	// No Range header means no bytes have landed yet.
	if res.Offset > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", res.Offset-1))
	}
	// Go clients refuse a literal 308 and ask for the incomplete signal
	// as a header on a 200 instead.
	if r.Header.Get("X-GUploader-No-308") == "yes" {
		w.Header().Set("X-Http-Status-Code-Override", "308")
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(statusResumeIncomplete)
}

func (s *Server) abortUpload(w http.ResponseWriter, r *http.Request) {
	id, err := pathVar(r, "id")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if err := s.storage.AbortResumableUpload(id); err != nil {
		apierror.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rawObject serves the bare /{bucket}/{object} path: unauthenticated SDK
// reads in emulator mode, plus signed GET downloads and signed PUT
// uploads. Verification runs over the decoded path, the form SignURL
// signs.
func (s *Server) rawObject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	signed := q.Get(storage.ParamSignature) != "" || q.Get(storage.ParamAlgorithm) != ""
	if signed {
		if err := s.storage.VerifySignedURL(r.Method, r.URL.Path, q); err != nil {
			apierror.Write(w, err)
			return
		}
	}

	bucket, name, err := objectVars(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	if r.Method == http.MethodPut {
		if !signed {
			apierror.Write(w, apierror.Invalid("uploads on the media path require a signed URL"))
			return
		}
		out, err := s.storage.InsertObject(storage.InsertRequest{
			Bucket:      bucket,
			Name:        name,
			ContentType: r.Header.Get("Content-Type"),
			Media:       r.Body,
		})
		if err != nil {
			apierror.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	generation, err := generationParam(q, "generation")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.serveContent(w, r, bucket, name, generation)
}
