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

package operations

import (
	"fmt"

	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// GenerateOperation produces the wire representation of a stored operation.
// The wire id fields are numeric, so they are derived from the internal uuid
// and the target name.
func GenerateOperation(op *store.Operation) *compute.Operation {
	out := &compute.Operation{
		Kind:          "compute#operation",
		Id:            gcp.NumericID(op.ID),
		Name:          op.Name,
		OperationType: op.Type,
		TargetLink:    op.TargetLink,
		Status:        op.Status,
		Progress:      op.Progress,
		User:          op.User,
		InsertTime:    gcp.FormatTime(op.InsertTime),
		StartTime:     gcp.FormatTime(op.StartTime),
		SelfLink:      SelfLink(op),
	}
	if op.TargetName != "" {
		out.TargetId = gcp.NumericID(op.TargetName)
	}
	if !op.EndTime.IsZero() {
		out.EndTime = gcp.FormatTime(op.EndTime)
	}
	if op.Zone != "" {
		out.Zone = gcp.ZoneSelfLink(op.Project, op.Zone)
	}
	if op.Region != "" {
		out.Region = gcp.RegionSelfLink(op.Project, op.Region)
	}
	if op.Error != "" {
		out.HttpErrorStatusCode = 500
		out.Error = &compute.OperationError{
			Errors: []*compute.OperationErrorErrors{{Message: op.Error}},
		}
	}
	return out
}

// GenerateOperationList produces the wire list envelope for ops.
func GenerateOperationList(ops []*store.Operation) *compute.OperationList {
	items := make([]*compute.Operation, 0, len(ops))
	for _, op := range ops {
		items = append(items, GenerateOperation(op))
	}
	return &compute.OperationList{
		Kind:  "compute#operationList",
		Id:    "projects/operations",
		Items: items,
	}
}

// SelfLink returns the absolute URL the operation is retrievable at.
func SelfLink(op *store.Operation) string {
	switch {
	case op.Zone != "":
		return fmt.Sprintf("%s/projects/%s/zones/%s/operations/%s", gcp.ComputeAPIBase, op.Project, op.Zone, op.Name)
	case op.Region != "":
		return fmt.Sprintf("%s/projects/%s/regions/%s/operations/%s", gcp.ComputeAPIBase, op.Project, op.Region, op.Name)
	default:
		return fmt.Sprintf("%s/projects/%s/global/operations/%s", gcp.ComputeAPIBase, op.Project, op.Name)
	}
}
