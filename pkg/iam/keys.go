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

package iam

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/url"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	iam "google.golang.org/api/iam/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

const (
	errGenerateKey = "cannot generate private key"
	errEncodeKey   = "cannot encode private key"

	// keyValidityYears is how long generated keys report being valid for.
	keyValidityYears = 10

	algRSA2048 = "KEY_ALG_RSA_2048"
	algRSA1024 = "KEY_ALG_RSA_1024"
)

// credentialsFile is the JSON document clients download as a service
// account key. The shape matches what the provider hands out, so SDK
// credential loaders accept it unchanged.
type credentialsFile struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
}

// CreateKey mints a fresh RSA key pair for the account and returns it as a
// credentials file. The private material is handed out exactly once here;
// later gets and lists return metadata only.
func (s *Service) CreateKey(project, ref string, req *iam.CreateServiceAccountKeyRequest) (*iam.ServiceAccountKey, error) {
	alg := algRSA2048
	if req != nil && req.KeyAlgorithm != "" {
		alg = req.KeyAlgorithm
	}
	bits := 2048
	switch alg {
	case algRSA2048:
	case algRSA1024:
		bits = 1024
	default:
		return nil, apierror.Invalid("unsupported key algorithm %q", alg)
	}

	var rec *store.ServiceAccountKey
	err := s.store.Update(func(st *store.State) error {
		acct, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		now := s.now()
		keyID := newKeyID()
		data, err := generateCredentials(project, acct, keyID, bits)
		if err != nil {
			return err
		}
		rec = &store.ServiceAccountKey{
			ID:                  keyID,
			ServiceAccountEmail: acct.Email,
			Algorithm:           alg,
			PrivateKeyData:      data,
			ValidAfter:          now,
			ValidBefore:         now.AddDate(keyValidityYears, 0, 0),
			CreatedAt:           now,
		}
		st.ServiceAccountKeys[keyID] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := GenerateKey(project, rec)
	out.PrivateKeyData = rec.PrivateKeyData
	out.PrivateKeyType = "TYPE_GOOGLE_CREDENTIALS_FILE"
	return out, nil
}

// GetKey returns key metadata. Private material never leaves the creation
// response.
func (s *Service) GetKey(project, ref, keyRef string) (*iam.ServiceAccountKey, error) {
	keyID, err := ParseKeyID(keyRef)
	if err != nil {
		return nil, err
	}
	var rec *store.ServiceAccountKey
	err = s.store.View(func(st *store.State) error {
		acct, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		k, ok := st.ServiceAccountKeys[keyID]
		if !ok || k.ServiceAccountEmail != acct.Email {
			return apierror.NotFound("service account key %s not found", keyID)
		}
		rec = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GenerateKey(project, rec), nil
}

// ListKeys lists the account's keys sorted by creation time.
func (s *Service) ListKeys(project, ref string) (*iam.ListServiceAccountKeysResponse, error) {
	out := &iam.ListServiceAccountKeysResponse{}
	err := s.store.View(func(st *store.State) error {
		acct, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		for _, rec := range st.KeysOf(acct.Email) {
			out.Keys = append(out.Keys, GenerateKey(project, rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteKey removes a key.
func (s *Service) DeleteKey(project, ref, keyRef string) error {
	keyID, err := ParseKeyID(keyRef)
	if err != nil {
		return err
	}
	return s.store.Update(func(st *store.State) error {
		acct, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		k, ok := st.ServiceAccountKeys[keyID]
		if !ok || k.ServiceAccountEmail != acct.Email {
			return apierror.NotFound("service account key %s not found", keyID)
		}
		delete(st.ServiceAccountKeys, keyID)
		return nil
	})
}

// ParseKeyID extracts the key id from either a bare id or a full relative
// resource name.
func ParseKeyID(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", apierror.Invalid("invalid key reference %q", ref)
	}
	return path.Base(u.Path), nil
}

// newKeyID mints a 40-character hex id matching the provider's key id
// shape.
func newKeyID() string {
	sum := sha1.Sum([]byte(uuid.New().String())) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// generateCredentials builds the base64 credentials file for a fresh RSA
// key pair.
func generateCredentials(project string, acct *store.ServiceAccount, keyID string, bits int) (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", errors.Wrap(err, errGenerateKey)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", errors.Wrap(err, errEncodeKey)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	creds := credentialsFile{
		Type:                    "service_account",
		ProjectID:               project,
		PrivateKeyID:            keyID,
		PrivateKey:              string(pemKey),
		ClientEmail:             acct.Email,
		ClientID:                acct.UniqueID,
		AuthURI:                 "https://accounts.google.com/o/oauth2/auth",
		TokenURI:                "https://oauth2.googleapis.com/token",
		AuthProviderX509CertURL: "https://www.googleapis.com/oauth2/v1/certs",
		ClientX509CertURL:       "https://www.googleapis.com/robot/v1/metadata/x509/" + url.QueryEscape(acct.Email),
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", errors.Wrap(err, errEncodeKey)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// GenerateKey produces the wire metadata of a key record, without private
// material.
func GenerateKey(project string, rec *store.ServiceAccountKey) *iam.ServiceAccountKey {
	return &iam.ServiceAccountKey{
		Name:            KeyRRN(project, rec.ServiceAccountEmail, rec.ID),
		KeyAlgorithm:    rec.Algorithm,
		KeyOrigin:       "GOOGLE_PROVIDED",
		KeyType:         "USER_MANAGED",
		ValidAfterTime:  gcp.FormatTime(rec.ValidAfter),
		ValidBeforeTime: gcp.FormatTime(rec.ValidBefore),
	}
}
