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
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	computeapi "google.golang.org/api/compute/v1"
	iamapi "google.golang.org/api/iam/v1"
	storageapi "google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/storage"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

func TestAdminProjectRegistry(t *testing.T) {
	env := newTestEnv(t)

	res, err := http.Post(env.ts.URL+"/internal/projects", "application/json",
		strings.NewReader(`{"id": "demo", "displayName": "Demo project"}`))
	if err != nil {
		t.Fatalf("POST /internal/projects: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", res.StatusCode, http.StatusOK)
	}
	created := adminProject{}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decoding project: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if created.ID != "demo" || created.DisplayName != "Demo project" || created.NumericID == 0 {
		t.Errorf("project: got %+v", created)
	}

	// Registering the same id again keeps the record.
	res, err = http.Post(env.ts.URL+"/internal/projects", "application/json",
		strings.NewReader(`{"id": "demo"}`))
	if err != nil {
		t.Fatalf("POST /internal/projects: %v", err)
	}
	again := adminProject{}
	if err := json.NewDecoder(res.Body).Decode(&again); err != nil {
		t.Fatalf("decoding project: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if again.NumericID != created.NumericID || again.DisplayName != "Demo project" {
		t.Errorf("re-registration: got %+v, want the original record", again)
	}

	res, err = http.Post(env.ts.URL+"/internal/projects", "application/json",
		strings.NewReader(`{"id": "Bad_Project"}`))
	if err != nil {
		t.Fatalf("POST /internal/projects: %v", err)
	}
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid id status: got %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	body := decodeEnvelope(t, res)
	if len(body.Error.Errors) != 1 || body.Error.Errors[0].Reason != "invalid" {
		t.Errorf("envelope: got %+v, want one invalid item", body.Error.Errors)
	}

	res, err = http.Get(env.ts.URL + "/internal/projects")
	if err != nil {
		t.Fatalf("GET /internal/projects: %v", err)
	}
	list := adminProjectList{}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if len(list.Projects) != 1 || list.Projects[0].ID != "demo" {
		t.Errorf("list: got %+v, want just demo", list.Projects)
	}

	res, err = http.Get(env.ts.URL + "/internal/projects/ghost")
	if err != nil {
		t.Fatalf("GET /internal/projects/ghost: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown project status: got %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestAdminProjectCascade(t *testing.T) {
	env := newTestEnv(t)
	registerProject(t, env, "demo")

	if _, err := env.stg.CreateBucket("demo", &storageapi.Bucket{Name: "cascade"}); err != nil {
		t.Fatalf("CreateBucket(...): %v", err)
	}
	if _, err := env.stg.InsertObject(storage.InsertRequest{
		Bucket: "cascade", Name: "doomed.txt", Media: strings.NewReader("bye"),
	}); err != nil {
		t.Fatalf("InsertObject(...): %v", err)
	}
	if _, err := env.cmp.CreateInstance(context.Background(), "demo", "us-central1-a", &computeapi.Instance{
		Name: "doomed", MachineType: "e2-small",
	}); err != nil {
		t.Fatalf("CreateInstance(...): %v", err)
	}
	accounts := iamClient(t, env).Projects.ServiceAccounts
	if _, err := accounts.Create("projects/demo", &iamapi.CreateServiceAccountRequest{AccountId: "doomed"}).Do(); err != nil {
		t.Fatalf("ServiceAccounts.Create(...): %v", err)
	}

	res, err := http.Get(env.ts.URL + "/internal/projects/demo")
	if err != nil {
		t.Fatalf("GET /internal/projects/demo: %v", err)
	}
	detail := adminProject{}
	if err := json.NewDecoder(res.Body).Decode(&detail); err != nil {
		t.Fatalf("decoding project: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if detail.Buckets != 1 || detail.Instances != 1 || detail.ServiceAccounts != 1 {
		t.Errorf("counts: got %+v, want 1/1/1", detail)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/internal/projects/demo", nil) // nolint:errcheck
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /internal/projects/demo: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	if env.rt.Len() != 0 {
		t.Errorf("containers: got %d, want 0", env.rt.Len())
	}
	if _, err := os.Stat(filepath.Join(env.root, "demo__cascade")); !os.IsNotExist(err) {
		t.Errorf("bucket content should be gone, stat err = %v", err)
	}
	err = env.st.View(func(st *store.State) error {
		if len(st.Projects) != 0 || len(st.Buckets) != 0 || len(st.Instances) != 0 || len(st.ServiceAccounts) != 0 {
			t.Errorf("rows left behind: %d projects, %d buckets, %d instances, %d accounts",
				len(st.Projects), len(st.Buckets), len(st.Instances), len(st.ServiceAccounts))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View(...): %v", err)
	}

	req, _ = http.NewRequest(http.MethodDelete, env.ts.URL+"/internal/projects/demo", nil) // nolint:errcheck
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /internal/projects/demo: %v", err)
	}
	res.Body.Close() // nolint:errcheck
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status: got %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
