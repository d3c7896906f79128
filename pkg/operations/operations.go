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

// Package operations manages compute#operation records. Every mutating
// compute and networking call creates one inside its own transaction; since
// all mutations complete synchronously, records are born DONE with full
// progress and an end time.
package operations

import (
	"time"

	"github.com/google/uuid"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// Operation types shared by the compute and networking services.
const (
	TypeInsert = "insert"
	TypeDelete = "delete"
	TypeStart  = "start"
	TypeStop   = "stop"
	TypeReset  = "reset"
	TypePatch  = "patch"
	TypeUpdate = "update"
)

// Scope locates an operation. A zero Scope is global; otherwise exactly one
// of Region or Zone is set.
type Scope struct {
	Region string
	Zone   string
}

// Global returns the global scope.
func Global() Scope { return Scope{} }

// Regional returns a region scope.
func Regional(region string) Scope { return Scope{Region: region} }

// Zonal returns a zone scope.
func Zonal(zone string) Scope { return Scope{Zone: zone} }

// Key is the scope segment used in store keys and URLs: the zone, the
// region, or the literal "global".
func (s Scope) Key() string {
	switch {
	case s.Zone != "":
		return s.Zone
	case s.Region != "":
		return s.Region
	default:
		return "global"
	}
}

// Done builds a completed operation record for a mutation on target.
func Done(now time.Time, project, opType string, scope Scope, targetLink, targetName string) *store.Operation {
	id := uuid.NewString()
	return &store.Operation{
		ID:         id,
		Name:       "operation-" + id,
		Type:       opType,
		Project:    project,
		Region:     scope.Region,
		Zone:       scope.Zone,
		TargetLink: targetLink,
		TargetName: targetName,
		Status:     "DONE",
		Progress:   100,
		InsertTime: now,
		StartTime:  now,
		EndTime:    now,
	}
}

// Insert records op in st. Callers invoke it inside the same transaction
// that applies the mutation, so the operation is retrievable the moment the
// mutating call returns.
func Insert(st *store.State, op *store.Operation) {
	st.Operations[store.OperationKey(op.Project, scopeOf(op).Key(), op.Name)] = op
}

// Get returns the stored operation by scope and name.
func Get(st *store.State, project string, scope Scope, name string) (*store.Operation, error) {
	op, ok := st.Operations[store.OperationKey(project, scope.Key(), name)]
	if !ok {
		return nil, apierror.NotFound("operation %q not found", name)
	}
	return op, nil
}

// List returns a project's operations in one scope, oldest first.
func List(st *store.State, project string, scope Scope) []*store.Operation {
	return st.OperationsOf(project, scope.Key())
}

func scopeOf(op *store.Operation) Scope {
	return Scope{Region: op.Region, Zone: op.Zone}
}
