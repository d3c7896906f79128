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

// Package gcp contains helpers shared by every emulated Google Cloud API:
// pointer conversions, resource URL construction and the timestamp format
// the JSON APIs use on the wire.
package gcp

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"strings"
	"time"
)

// ComputeAPIBase and StorageAPIBase are the hosts used to build selfLink
// values. Clients treat self links as opaque, so the emulator advertises the
// canonical Google hosts regardless of the address it listens on.
const (
	ComputeAPIBase = "https://www.googleapis.com/compute/v1"
	StorageAPIBase = "https://www.googleapis.com/storage/v1"
	IAMAPIBase     = "https://iam.googleapis.com/v1"
)

// timeFormat is RFC 3339 with millisecond precision and an explicit Z,
// matching what the Google JSON APIs emit.
const timeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t the way the Google JSON APIs do.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// ParseTime parses a timestamp previously produced by FormatTime. It also
// accepts plain RFC 3339 so externally supplied values round-trip.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// NumericID derives a stable uint64 from a resource identifier. Several
// compute API fields carry numeric ids on the wire; the emulator keys its
// records by name and derives the numeric form on demand.
func NumericID(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s)) // nolint:errcheck
	return h.Sum64()
}

// StringValue converts the supplied string pointer to a string, returning the
// empty string if the pointer is nil.
func StringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Int64Value converts the supplied int64 pointer to an int64, returning zero
// if the pointer is nil.
func Int64Value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// BoolValue converts the supplied bool pointer to a bool, returning false if
// the pointer is nil.
func BoolValue(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}

// StringPtr converts the supplied string to a pointer to that string.
func StringPtr(p string) *string { return &p }

// Int64Ptr converts the supplied int64 to a pointer to that int64.
func Int64Ptr(p int64) *int64 { return &p }

// BoolPtr converts the supplied bool to a pointer to that bool.
func BoolPtr(p bool) *bool { return &p }

// LateInitializeString implements late initialization for string type.
func LateInitializeString(s string, from string) string {
	if s != "" || from == "" {
		return s
	}
	return from
}

// LateInitializeInt64 implements late initialization for int64 type.
func LateInitializeInt64(i int64, from int64) int64 {
	if i != 0 || from == 0 {
		return i
	}
	return from
}

// ZoneSelfLink returns the fully qualified URL of a zone.
func ZoneSelfLink(project, zone string) string {
	return fmt.Sprintf("%s/projects/%s/zones/%s", ComputeAPIBase, project, zone)
}

// RegionSelfLink returns the fully qualified URL of a region.
func RegionSelfLink(project, region string) string {
	return fmt.Sprintf("%s/projects/%s/regions/%s", ComputeAPIBase, project, region)
}

// GlobalSelfLink returns the fully qualified URL of a global compute
// resource, e.g. GlobalSelfLink(p, "networks", "default").
func GlobalSelfLink(project, collection, name string) string {
	return fmt.Sprintf("%s/projects/%s/global/%s/%s", ComputeAPIBase, project, collection, name)
}

// ZonalSelfLink returns the fully qualified URL of a zonal compute resource.
func ZonalSelfLink(project, zone, collection, name string) string {
	return fmt.Sprintf("%s/projects/%s/zones/%s/%s/%s", ComputeAPIBase, project, zone, collection, name)
}

// RegionalSelfLink returns the fully qualified URL of a regional compute
// resource.
func RegionalSelfLink(project, region, collection, name string) string {
	return fmt.Sprintf("%s/projects/%s/regions/%s/%s/%s", ComputeAPIBase, project, region, collection, name)
}

// BucketSelfLink returns the fully qualified URL of a bucket.
func BucketSelfLink(bucket string) string {
	return fmt.Sprintf("%s/b/%s", StorageAPIBase, bucket)
}

// ObjectSelfLink returns the fully qualified URL of an object.
func ObjectSelfLink(bucket, object string) string {
	return fmt.Sprintf("%s/b/%s/o/%s", StorageAPIBase, bucket, url.PathEscape(object))
}

// ServiceAccountRRN returns the relative resource name of a service account,
// e.g. projects/my-proj/serviceAccounts/sa@my-proj.iam.gserviceaccount.com.
func ServiceAccountRRN(project, email string) string {
	return fmt.Sprintf("projects/%s/serviceAccounts/%s", project, email)
}

// ResourceName extracts the final path element of a resource URL or relative
// resource name. Full URLs, partial URLs and bare names all resolve to the
// bare name.
func ResourceName(s string) string {
	if s == "" {
		return ""
	}
	if u, err := url.Parse(s); err == nil {
		return path.Base(u.Path)
	}
	return path.Base(s)
}

// ZoneToRegion derives the region from a zone name by trimming the zone
// suffix, e.g. us-central1-a becomes us-central1. An empty or malformed zone
// yields the empty string.
func ZoneToRegion(zone string) string {
	i := strings.LastIndex(zone, "-")
	if i <= 0 {
		return ""
	}
	return zone[:i]
}

// EqualURL compares two resource URLs ignoring the scheme-and-host prefix, so
// a partial URL, a full URL and a bare name referring to the same resource
// compare equal.
func EqualURL(a, b string) bool {
	if a == b {
		return true
	}
	return trimURLPrefix(a) == trimURLPrefix(b)
}

func trimURLPrefix(s string) string {
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = strings.TrimPrefix(u.Path, "/")
		s = strings.TrimPrefix(s, "compute/v1/")
		return s
	}
	return strings.TrimPrefix(s, "/")
}
