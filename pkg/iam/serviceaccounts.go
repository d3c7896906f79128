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
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	iam "google.golang.org/api/iam/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

const emailDomain = ".iam.gserviceaccount.com"

// AccountEmail forms the service account email the provider would assign.
func AccountEmail(project, accountID string) string {
	return accountID + "@" + project + emailDomain
}

// CreateServiceAccount registers a new service account under the project.
// The email is derived from the account id and must not exist yet.
func (s *Service) CreateServiceAccount(project string, req *iam.CreateServiceAccountRequest) (*iam.ServiceAccount, error) {
	if req == nil || req.AccountId == "" {
		return nil, apierror.Invalid("accountId is required")
	}
	if err := validation.ServiceAccountID(req.AccountId); err != nil {
		return nil, err
	}

	email := AccountEmail(project, req.AccountId)
	rec := &store.ServiceAccount{
		Email:    email,
		Project:  project,
		UniqueID: s.uniqueID(),
	}
	if req.ServiceAccount != nil {
		rec.DisplayName = req.ServiceAccount.DisplayName
		rec.Description = req.ServiceAccount.Description
	}

	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		if _, ok := st.ServiceAccounts[email]; ok {
			return apierror.Conflict("service account %s already exists", email)
		}
		rec.CreatedAt = s.now()
		st.ServiceAccounts[email] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"project": project, "email": email}).Info("created service account")
	return GenerateServiceAccount(rec), nil
}

// GetServiceAccount resolves an account by email or by unique id.
func (s *Service) GetServiceAccount(project, ref string) (*iam.ServiceAccount, error) {
	var rec *store.ServiceAccount
	err := s.store.View(func(st *store.State) error {
		var err error
		rec, err = resolveAccount(st, project, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return GenerateServiceAccount(rec), nil
}

// ListServiceAccounts lists the project's accounts sorted by email.
func (s *Service) ListServiceAccounts(project string) (*iam.ListServiceAccountsResponse, error) {
	out := &iam.ListServiceAccountsResponse{}
	err := s.store.View(func(st *store.State) error {
		for _, rec := range st.ServiceAccountsOf(project) {
			out.Accounts = append(out.Accounts, GenerateServiceAccount(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateServiceAccount applies the mutable fields, display name and
// description. Everything else on a service account is fixed at creation.
func (s *Service) UpdateServiceAccount(project, ref string, sa *iam.ServiceAccount) (*iam.ServiceAccount, error) {
	var rec *store.ServiceAccount
	err := s.store.Update(func(st *store.State) error {
		var err error
		rec, err = resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		rec.DisplayName = sa.DisplayName
		rec.Description = sa.Description
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GenerateServiceAccount(rec), nil
}

// SetServiceAccountDisabled flips the disabled flag. Disabled accounts stay
// listable and keep their keys; the emulator enforces nothing either way.
func (s *Service) SetServiceAccountDisabled(project, ref string, disabled bool) error {
	return s.store.Update(func(st *store.State) error {
		rec, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		rec.Disabled = disabled
		return nil
	})
}

// DeleteServiceAccount removes the account together with its keys and its
// stored policy.
func (s *Service) DeleteServiceAccount(project, ref string) error {
	err := s.store.Update(func(st *store.State) error {
		rec, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		for id, k := range st.ServiceAccountKeys {
			if k.ServiceAccountEmail == rec.Email {
				delete(st.ServiceAccountKeys, id)
			}
		}
		delete(st.Policies, gcp.ServiceAccountRRN(project, rec.Email))
		delete(st.ServiceAccounts, rec.Email)
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"project": project, "email": ref}).Info("deleted service account")
	return nil
}

// resolveAccount looks an account up by email, or by unique id when the
// reference carries no @.
func resolveAccount(st *store.State, project, ref string) (*store.ServiceAccount, error) {
	if strings.Contains(ref, "@") {
		rec, ok := st.ServiceAccounts[ref]
		if !ok || rec.Project != project {
			return nil, apierror.NotFound("service account %s not found", ref)
		}
		return rec, nil
	}
	for _, rec := range st.ServiceAccounts {
		if rec.Project == project && rec.UniqueID == ref {
			return rec, nil
		}
	}
	return nil, apierror.NotFound("service account %s not found", ref)
}

// GenerateServiceAccount produces the wire representation of an account
// record.
func GenerateServiceAccount(rec *store.ServiceAccount) *iam.ServiceAccount {
	return &iam.ServiceAccount{
		Name:           gcp.ServiceAccountRRN(rec.Project, rec.Email),
		ProjectId:      rec.Project,
		UniqueId:       rec.UniqueID,
		Email:          rec.Email,
		DisplayName:    rec.DisplayName,
		Description:    rec.Description,
		Disabled:       rec.Disabled,
		Oauth2ClientId: rec.UniqueID,
	}
}

// KeyRRN forms the relative resource name of a service account key.
func KeyRRN(project, email, keyID string) string {
	return fmt.Sprintf("%s/keys/%s", gcp.ServiceAccountRRN(project, email), keyID)
}
