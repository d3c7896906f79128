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
	"sort"

	"github.com/gorilla/mux"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

const errProjectNotFound = "project %q not found"

// adminProject is the wire form of a project on the admin surface.
type adminProject struct {
	ID              string `json:"id"`
	NumericID       uint64 `json:"numericId"`
	DisplayName     string `json:"displayName"`
	CreatedAt       string `json:"createdAt"`
	Buckets         int    `json:"buckets"`
	Instances       int    `json:"instances"`
	ServiceAccounts int    `json:"serviceAccounts"`
}

type adminProjectList struct {
	Projects []adminProject `json:"projects"`
}

type adminCreateProject struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func (s *Server) adminRoutes(r *mux.Router) {
	r.HandleFunc("/projects", s.listProjects).Methods(http.MethodGet)
	r.HandleFunc("/projects", s.createProject).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}", s.getProject).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}", s.deleteProject).Methods(http.MethodDelete)
}

func generateAdminProject(st *store.State, p *store.Project) adminProject {
	out := adminProject{
		ID:          p.ID,
		NumericID:   p.NumericID,
		DisplayName: p.DisplayName,
		CreatedAt:   gcp.FormatTime(p.CreatedAt),
	}
	for _, b := range st.Buckets {
		if b.Project == p.ID {
			out.Buckets++
		}
	}
	for _, i := range st.Instances {
		if i.Project == p.ID {
			out.Instances++
		}
	}
	for _, sa := range st.ServiceAccounts {
		if sa.Project == p.ID {
			out.ServiceAccounts++
		}
	}
	return out
}

func (s *Server) listProjects(w http.ResponseWriter, _ *http.Request) {
	out := adminProjectList{Projects: []adminProject{}}
	err := s.store.View(func(st *store.State) error {
		for _, p := range st.Projects {
			out.Projects = append(out.Projects, generateAdminProject(st, p))
		}
		return nil
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i].ID < out.Projects[j].ID })
	writeJSON(w, http.StatusOK, out)
}

// createProject registers a project. Registration is idempotent; a display
// name in the request is applied either way.
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	req := &adminCreateProject{}
	if err := decodeJSON(r, req); err != nil {
		apierror.Write(w, err)
		return
	}
	if err := validation.ResourceName("project", req.ID); err != nil {
		apierror.Write(w, err)
		return
	}
	var out adminProject
	err := s.store.Update(func(st *store.State) error {
		p := st.EnsureProject(req.ID, s.now())
		if req.DisplayName != "" {
			p.DisplayName = req.DisplayName
		}
		out = generateAdminProject(st, p)
		return nil
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.log.WithField("project", req.ID).Info("project registered")
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["project"]
	var out adminProject
	err := s.store.View(func(st *store.State) error {
		p, ok := st.Projects[id]
		if !ok {
			return apierror.NotFound(errProjectNotFound, id)
		}
		out = generateAdminProject(st, p)
		return nil
	})
	respond(w, out, err)
}

// deleteProject removes a project and everything it owns: instance
// containers, bucket content, then every row. Containers and files go
// first; their references vanish with the rows.
func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["project"]
	err := s.store.View(func(st *store.State) error {
		if _, ok := st.Projects[id]; !ok {
			return apierror.NotFound(errProjectNotFound, id)
		}
		return nil
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}

	s.compute.PurgeProjectContainers(r.Context(), id)
	if err := s.storage.PurgeProjectContent(id); err != nil {
		apierror.Write(w, err)
		return
	}
	err = s.store.Update(func(st *store.State) error {
		st.DeleteProject(id)
		return nil
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.log.WithField("project", id).Info("project deleted")
	w.WriteHeader(http.StatusNoContent)
}
