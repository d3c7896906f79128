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

// Package validation holds the pure validators shared by all emulated APIs:
// resource naming rules, CIDR checks, precondition parameters and the
// Content-Range header grammar used by resumable uploads.
package validation

import (
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
)

var (
	bucketNameRE     = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*[a-z0-9]$`)
	resourceNameRE   = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)
	zoneRE           = regexp.MustCompile(`^[a-z]+(-[a-z]+[0-9]+)+-[a-z]$`)
	accountIDRE      = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
	driveLetterRE    = regexp.MustCompile(`^[A-Za-z]:`)
	portRE           = regexp.MustCompile(`^[0-9]+$`)
	contentRangeRE   = regexp.MustCompile(`^bytes (\*|[0-9]+-[0-9]+)/([0-9]+|\*)$`)
	maxObjectNameLen = 1024
)

// BucketName validates a bucket name: 3-63 characters of lowercase
// alphanumerics, dashes and dots, neither starting nor ending with a dash or
// dot.
func BucketName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return apierror.Invalid("invalid bucket name %q: must be 3-63 characters", name)
	}
	if !bucketNameRE.MatchString(name) {
		return apierror.Invalid("invalid bucket name %q", name)
	}
	return nil
}

// ObjectName validates an object name. Slashes are ordinary name characters;
// anything that could traverse outside the bucket's storage directory is
// rejected before any path is built.
func ObjectName(name string) error {
	switch {
	case name == "" || len(name) > maxObjectNameLen:
		return apierror.Invalid("invalid object name: must be 1-%d characters", maxObjectNameLen)
	case strings.HasPrefix(name, "/"):
		return apierror.Invalid("invalid object name %q: must not be absolute", name)
	case strings.Contains(name, "\\"):
		return apierror.Invalid("invalid object name %q: backslash is not allowed", name)
	case driveLetterRE.MatchString(name):
		return apierror.Invalid("invalid object name %q: drive letters are not allowed", name)
	case hasDotDotSegment(name):
		return apierror.Invalid("invalid object name %q: path traversal is not allowed", name)
	}
	return nil
}

func hasDotDotSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ResourceName validates an instance, network, subnetwork, route, router,
// address or firewall name: 1-63 characters matching
// [a-z]([a-z0-9-]*[a-z0-9])?.
func ResourceName(kind, name string) error {
	if len(name) < 1 || len(name) > 63 || !resourceNameRE.MatchString(name) {
		return apierror.Invalid("invalid %s name %q: must match [a-z]([a-z0-9-]*[a-z0-9])?", kind, name)
	}
	return nil
}

// Zone validates a zone name of the form <region>-<letter>, e.g.
// us-central1-a.
func Zone(zone string) error {
	if !zoneRE.MatchString(zone) {
		return apierror.Invalid("invalid zone %q", zone)
	}
	return nil
}

// ServiceAccountID validates the accountId used to form a service account
// email: 6-30 characters matching [a-z][a-z0-9-]{4,28}[a-z0-9].
func ServiceAccountID(id string) error {
	if !accountIDRE.MatchString(id) {
		return apierror.Invalid("invalid service account id %q: must match [a-z][a-z0-9-]{4,28}[a-z0-9]", id)
	}
	return nil
}

// SubnetCIDR validates an IPv4 CIDR with prefix length 8-29, the range
// accepted for subnetworks.
func SubnetCIDR(cidr string) error {
	return cidrInRange(cidr, 8, 29)
}

// FirewallCIDR validates an IPv4 CIDR with any prefix length 0-32. Firewall
// source and destination ranges accept the full range, unlike subnets.
func FirewallCIDR(cidr string) error {
	return cidrInRange(cidr, 0, 32)
}

func cidrInRange(cidr string, min, max int) error {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return apierror.Invalid("invalid CIDR %q", cidr)
	}
	if ip.To4() == nil {
		return apierror.Invalid("invalid CIDR %q: must be IPv4", cidr)
	}
	ones, _ := ipNet.Mask.Size()
	if ones < min || ones > max {
		return apierror.Invalid("invalid CIDR %q: prefix length must be between /%d and /%d", cidr, min, max)
	}
	return nil
}

// Priority validates a firewall rule priority.
func Priority(p int64) error {
	if p < 0 || p > 65535 {
		return apierror.Invalid("invalid priority %d: must be between 0 and 65535", p)
	}
	return nil
}

// Direction validates a firewall rule direction.
func Direction(d string) error {
	if d != "INGRESS" && d != "EGRESS" {
		return apierror.Invalid("invalid direction %q: must be INGRESS or EGRESS", d)
	}
	return nil
}

// Protocol validates a firewall rule IP protocol.
func Protocol(p string) error {
	switch strings.ToLower(p) {
	case "tcp", "udp", "icmp", "all":
		return nil
	}
	return apierror.Invalid("invalid IPProtocol %q: must be tcp, udp, icmp or all", p)
}

// Ports validates a firewall rule port list: integer strings in 0-65535.
func Ports(ports []string) error {
	for _, p := range ports {
		if !portRE.MatchString(p) {
			return apierror.Invalid("invalid port %q: must be an integer", p)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 65535 {
			return apierror.Invalid("invalid port %q: must be between 0 and 65535", p)
		}
	}
	return nil
}

// Precondition parses a generation or metageneration precondition query
// parameter, requiring a non-negative integer.
func Precondition(param, value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, apierror.Invalid("invalid %s %q: must be a non-negative integer", param, value)
	}
	return n, nil
}

// ContentRange is a parsed Content-Range request header.
type ContentRange struct {
	// Start and End are the inclusive byte range carried by the request, or
	// -1 for a status probe of the form bytes */<total>.
	Start int64
	End   int64
	// Total is the declared object size, or -1 for bytes <s>-<e>/*.
	Total int64
}

// StatusProbe tells whether the header was a bytes */<total> status query.
func (c ContentRange) StatusProbe() bool { return c.Start == -1 }

// ParseContentRange parses a Content-Range header of the form
// "bytes <start>-<end>/<total|*>" or "bytes */<total>".
func ParseContentRange(header string) (ContentRange, error) {
	m := contentRangeRE.FindStringSubmatch(header)
	if m == nil {
		return ContentRange{}, apierror.Invalid("invalid Content-Range header %q", header)
	}

	cr := ContentRange{Start: -1, End: -1, Total: -1}
	if m[2] != "*" {
		total, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return ContentRange{}, apierror.Invalid("invalid Content-Range total in %q", header)
		}
		cr.Total = total
	}
	if m[1] == "*" {
		if cr.Total == -1 {
			return ContentRange{}, apierror.Invalid("invalid Content-Range header %q: bytes */* is not allowed", header)
		}
		return cr, nil
	}

	dash := strings.Index(m[1], "-")
	start, err := strconv.ParseInt(m[1][:dash], 10, 64)
	if err != nil {
		return ContentRange{}, apierror.Invalid("invalid Content-Range start in %q", header)
	}
	end, err := strconv.ParseInt(m[1][dash+1:], 10, 64)
	if err != nil {
		return ContentRange{}, apierror.Invalid("invalid Content-Range end in %q", header)
	}
	if end < start {
		return ContentRange{}, apierror.Invalid("invalid Content-Range header %q: end before start", header)
	}
	if cr.Total != -1 && end >= cr.Total {
		return ContentRange{}, apierror.Invalid("invalid Content-Range header %q: end beyond declared total", header)
	}
	cr.Start, cr.End = start, end
	return cr, nil
}
