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

package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
)

// SignedURLAlgorithm is the only signing algorithm signed URLs may carry.
const SignedURLAlgorithm = "GOOG4-HMAC-SHA256"

// Signed URL query parameters.
const (
	ParamAlgorithm = "X-Goog-Algorithm"
	ParamExpires   = "X-Goog-Expires"
	ParamTimestamp = "X-Goog-Timestamp"
	ParamSignature = "X-Goog-Signature"
)

// SignURL produces the query parameters of a signed URL for method on path,
// expiring at expires. Verification is the emulator's job; the generator
// exists for harnesses and tests.
func (s *Service) SignURL(method, path string, expires time.Time) url.Values {
	ts := expires.Unix()
	v := url.Values{}
	v.Set(ParamAlgorithm, SignedURLAlgorithm)
	v.Set(ParamExpires, strconv.FormatInt(ts-s.now().Unix(), 10))
	v.Set(ParamTimestamp, strconv.FormatInt(ts, 10))
	v.Set(ParamSignature, s.signature(method, path, ts))
	return v
}

// VerifySignedURL checks the method, expiry and signature of a signed
// request. The timestamp parameter is the absolute expiry; a request at
// exactly the timestamp is still valid. X-Goog-Expires rides along for
// compatibility and is not re-validated.
func (s *Service) VerifySignedURL(method, path string, q url.Values) error {
	if method != "GET" && method != "PUT" {
		return apierror.Invalid("method %s cannot be signed", method)
	}
	if alg := q.Get(ParamAlgorithm); alg != SignedURLAlgorithm {
		return apierror.Invalid("unsupported signing algorithm %q", alg)
	}
	ts, err := strconv.ParseInt(q.Get(ParamTimestamp), 10, 64)
	if err != nil {
		return apierror.Invalid("invalid %s %q", ParamTimestamp, q.Get(ParamTimestamp))
	}
	if s.now().Unix() > ts {
		return apierror.Invalid("signed URL expired at %d", ts)
	}
	want := s.signature(method, path, ts)
	if !hmac.Equal([]byte(want), []byte(q.Get(ParamSignature))) {
		return apierror.Invalid("signed URL signature mismatch")
	}
	return nil
}

// signature is unpadded base64url of HMAC-SHA256 over
// "<METHOD>\n<PATH>\n<TIMESTAMP>".
func (s *Service) signature(method, path string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	fmt.Fprintf(mac, "%s\n%s\n%d", method, path, ts)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
