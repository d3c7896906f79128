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
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	iamapi "google.golang.org/api/iam/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
)

func (s *Server) iamRoutes(r *mux.Router) {
	r.HandleFunc("/projects/{project}/serviceAccounts", s.createServiceAccount).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/serviceAccounts", s.listServiceAccounts).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/serviceAccounts/{account}/keys", s.createKey).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/serviceAccounts/{account}/keys", s.listKeys).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/serviceAccounts/{account}/keys/{key}", s.getKey).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/serviceAccounts/{account}/keys/{key}", s.deleteKey).Methods(http.MethodDelete)
	// The account variable swallows :verb suffixes; serviceAccountByRef
	// splits them off, mux cannot match inside a segment.
	r.HandleFunc("/projects/{project}/serviceAccounts/{account}", s.serviceAccountByRef).
		Methods(http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPost)
}

func (s *Server) createServiceAccount(w http.ResponseWriter, r *http.Request) {
	req := &iamapi.CreateServiceAccountRequest{}
	if err := decodeJSON(r, req); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.iam.CreateServiceAccount(mux.Vars(r)["project"], req)
	respond(w, out, err)
}

func (s *Server) listServiceAccounts(w http.ResponseWriter, r *http.Request) {
	out, err := s.iam.ListServiceAccounts(mux.Vars(r)["project"])
	respond(w, out, err)
}

// serviceAccountByRef handles every route of the form
// projects/{project}/serviceAccounts/{ref}[:verb]: plain reads, updates
// and deletes plus the colon verbs the real API exposes.
func (s *Server) serviceAccountByRef(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	ref, err := pathVar(r, "account")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	ref, verb := splitVerb(ref)

	if verb == "" {
		switch r.Method {
		case http.MethodGet:
			out, err := s.iam.GetServiceAccount(project, ref)
			respond(w, out, err)
		case http.MethodPut:
			sa := &iamapi.ServiceAccount{}
			if err := decodeJSON(r, sa); err != nil {
				apierror.Write(w, err)
				return
			}
			out, err := s.iam.UpdateServiceAccount(project, ref, sa)
			respond(w, out, err)
		case http.MethodDelete:
			if err := s.iam.DeleteServiceAccount(project, ref); err != nil {
				apierror.Write(w, err)
				return
			}
			writeJSON(w, http.StatusOK, &iamapi.Empty{})
		default:
			methodNotAllowed(w, r)
		}
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	switch verb {
	case "getIamPolicy":
		out, err := s.iam.GetServiceAccountPolicy(project, ref)
		respond(w, out, err)
	case "setIamPolicy":
		req := &iamapi.SetIamPolicyRequest{}
		if err := decodeJSON(r, req); err != nil {
			apierror.Write(w, err)
			return
		}
		out, err := s.iam.SetServiceAccountPolicy(project, ref, req)
		respond(w, out, err)
	case "testIamPermissions":
		req := &iamapi.TestIamPermissionsRequest{}
		if err := decodeJSON(r, req); err != nil {
			apierror.Write(w, err)
			return
		}
		out, err := s.iam.TestServiceAccountPermissions(project, ref, req)
		respond(w, out, err)
	case "disable", "enable":
		if err := s.iam.SetServiceAccountDisabled(project, ref, verb == "disable"); err != nil {
			apierror.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &iamapi.Empty{})
	default:
		apierror.Write(w, apierror.NotFound("unknown verb %q", verb))
	}
}

// splitVerb separates a trailing :verb from a resource reference.
func splitVerb(ref string) (string, string) {
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref, err := pathVar(r, "account")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	req := &iamapi.CreateServiceAccountKeyRequest{}
	if err := decodeJSON(r, req); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.iam.CreateKey(vars["project"], ref, req)
	respond(w, out, err)
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref, err := pathVar(r, "account")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.iam.ListKeys(vars["project"], ref)
	respond(w, out, err)
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref, err := pathVar(r, "account")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.iam.GetKey(vars["project"], ref, vars["key"])
	respond(w, out, err)
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref, err := pathVar(r, "account")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if err := s.iam.DeleteKey(vars["project"], ref, vars["key"]); err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &iamapi.Empty{})
}
