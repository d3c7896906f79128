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

package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
)

// InstanceStatus is the lifecycle state of an emulated VM instance.
type InstanceStatus string

// Instance lifecycle states. TERMINATED is the resting state of a stopped
// instance; there is no STOPPED.
const (
	StatusProvisioning InstanceStatus = "PROVISIONING"
	StatusStaging      InstanceStatus = "STAGING"
	StatusRunning      InstanceStatus = "RUNNING"
	StatusStopping     InstanceStatus = "STOPPING"
	StatusTerminated   InstanceStatus = "TERMINATED"
)

// Object change event types delivered to bucket webhooks.
const (
	EventFinalize       = "OBJECT_FINALIZE"
	EventDelete         = "OBJECT_DELETE"
	EventMetadataUpdate = "OBJECT_METADATA_UPDATE"
)

// Project is the top-level tenant scope. Projects are immutable once
// created.
type Project struct {
	ID          string
	NumericID   uint64
	DisplayName string
	CreatedAt   time.Time
}

// CORSRule is one entry of a bucket's CORS configuration.
type CORSRule struct {
	Origins         []string
	Methods         []string
	ResponseHeaders []string
	MaxAgeSeconds   int64
}

// LifecycleRule is one age-based rule of a bucket's lifecycle configuration.
// Action is Delete or Archive.
type LifecycleRule struct {
	Action       string
	StorageClass string
	AgeDays      int64
}

// Lifecycle rule actions.
const (
	LifecycleActionDelete  = "Delete"
	LifecycleActionArchive = "Archive"
)

// NotificationConfig is a webhook subscription on a bucket.
type NotificationConfig struct {
	ID               string
	WebhookURL       string
	ObjectNamePrefix string
	EventTypes       []string
	PayloadFormat    string
	CreatedAt        time.Time
}

// Bucket is a project-scoped container of objects. (Project, Name) is
// unique; the same name may exist in different projects.
type Bucket struct {
	Name              string
	Project           string
	Location          string
	StorageClass      string
	VersioningEnabled bool
	Metageneration    int64
	Labels            map[string]string
	CORS              []CORSRule
	LifecycleRules    []LifecycleRule
	Notifications     map[string]*NotificationConfig
	NextNotification  int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Object is one content state of a named object. The Objects table holds the
// latest-pointer row per (bucket, name); the Versions table holds every
// generation, latest included.
type Object struct {
	Bucket         string
	Project        string
	Name           string
	Generation     int64
	Metageneration int64
	Size           int64
	ContentType    string
	CacheControl   string
	StorageClass   string
	// MD5 and CRC32C are lowercase hex digests of the content. Wire encoding
	// happens at response shaping.
	MD5       string
	CRC32C    string
	FilePath  string
	IsLatest  bool
	Deleted   bool
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ResumableSession tracks a chunked upload in progress.
type ResumableSession struct {
	ID          string
	Project     string
	Bucket      string
	ObjectName  string
	ContentType string
	// TotalSize is the declared object size, or -1 while unknown.
	TotalSize int64
	Offset    int64
	TempPath  string
	Metadata  map[string]string
	// Preconditions captured at initiation, evaluated at finalize.
	IfGenerationMatch        *int64
	IfGenerationNotMatch     *int64
	IfMetagenerationMatch    *int64
	IfMetagenerationNotMatch *int64
	CreatedAt                time.Time
}

// NetworkInterface is an instance's attachment to a network.
type NetworkInterface struct {
	Name       string
	Network    string
	Subnetwork string
	NetworkIP  string
	NatIP      string
}

// Disk is the stored shape of an instance disk declaration. Disks are
// metadata only.
type Disk struct {
	DeviceName  string
	SourceImage string
	SizeGB      int64
	Boot        bool
}

// Instance is an emulated VM backed by a runtime container.
type Instance struct {
	Name              string
	Project           string
	Zone              string
	MachineType       string
	Status            InstanceStatus
	ContainerID       string
	InternalIP        string
	ExternalIP        string
	Tags              []string
	Labels            map[string]string
	Metadata          map[string]string
	NetworkInterfaces []NetworkInterface
	Disks             []Disk
	ServiceAccounts   []string
	CreatedAt         time.Time
	LastStartAt       *time.Time
	LastStopAt        *time.Time
}

// IPAllocation is a project's IP pool state. Counters only grow; addresses
// are never reused, released or not.
type IPAllocation struct {
	Project string
	// InternalNext is the next internal counter value, starting at 1.
	InternalNext int64
	// ExternalNext is the next final octet of 203.0.113.0/24, starting at 10.
	ExternalNext      int64
	AllocatedInternal []string
	AllocatedExternal []string
}

// FirewallAllowed is one protocol/ports entry of a firewall rule.
type FirewallAllowed struct {
	Protocol string
	Ports    []string
}

// FirewallRule is firewall metadata. No packets are filtered.
type FirewallRule struct {
	Name              string
	Project           string
	Network           string
	Description       string
	Direction         string
	Priority          int64
	Action            string
	Rules             []FirewallAllowed
	SourceRanges      []string
	DestinationRanges []string
	TargetTags        []string
	CreatedAt         time.Time
}

// Network is VPC network metadata.
type Network struct {
	Name                  string
	Project               string
	Description           string
	AutoCreateSubnetworks bool
	RoutingMode           string
	CreatedAt             time.Time
}

// Subnetwork is regional subnet metadata.
type Subnetwork struct {
	Name                  string
	Project               string
	Region                string
	Network               string
	CIDR                  string
	PrivateIPGoogleAccess bool
	Description           string
	CreatedAt             time.Time
}

// Route is route metadata.
type Route struct {
	Name           string
	Project        string
	Network        string
	DestRange      string
	Priority       int64
	NextHopGateway string
	NextHopIP      string
	Tags           []string
	Description    string
	CreatedAt      time.Time
}

// Router is cloud router metadata.
type Router struct {
	Name        string
	Project     string
	Region      string
	Network     string
	ASN         int64
	Description string
	CreatedAt   time.Time
}

// Address is a reserved external or internal address record.
type Address struct {
	Name        string
	Project     string
	Region      string
	Address     string
	AddressType string
	Status      string
	Users       []string
	Description string
	CreatedAt   time.Time
}

// ServiceAccount is an identity record. No authorization decisions are made
// from it.
type ServiceAccount struct {
	Email       string
	Project     string
	UniqueID    string
	DisplayName string
	Description string
	Disabled    bool
	CreatedAt   time.Time
}

// ServiceAccountKey holds generated key material for a service account.
type ServiceAccountKey struct {
	ID                  string
	ServiceAccountEmail string
	Algorithm           string
	// PrivateKeyData is the base64 of the JSON credentials document handed
	// to the client at creation time.
	PrivateKeyData string
	ValidAfter     time.Time
	ValidBefore    time.Time
	CreatedAt      time.Time
}

// PolicyBinding binds a role to a set of members.
type PolicyBinding struct {
	Role    string
	Members []string
}

// Policy is a stored IAM policy document. Stored and echoed, never
// evaluated.
type Policy struct {
	Resource string
	Etag     string
	Version  int64
	Bindings []PolicyBinding
}

// Operation is a long-running-operation record. All current mutations
// complete synchronously, so stored operations are always DONE.
type Operation struct {
	// ID is the internal uuid. The wire id is derived numerically from it.
	ID         string
	Name       string
	Type       string
	Project    string
	Region     string
	Zone       string
	TargetLink string
	TargetName string
	Status     string
	Progress   int64
	Error      string
	User       string
	InsertTime time.Time
	StartTime  time.Time
	EndTime    time.Time
}

// State is the full metadata state of the emulator. All access goes through
// Store transactions; State itself does no locking.
type State struct {
	Projects           map[string]*Project
	Buckets            map[string]*Bucket
	Objects            map[string]map[string]*Object
	Versions           map[string]map[string][]*Object
	Sessions           map[string]*ResumableSession
	Instances          map[string]*Instance
	Allocations        map[string]*IPAllocation
	Firewalls          map[string]*FirewallRule
	Networks           map[string]*Network
	Subnetworks        map[string]*Subnetwork
	Routes             map[string]*Route
	Routers            map[string]*Router
	Addresses          map[string]*Address
	ServiceAccounts    map[string]*ServiceAccount
	ServiceAccountKeys map[string]*ServiceAccountKey
	Policies           map[string]*Policy
	Operations         map[string]*Operation
}

// NewState returns an empty State with all tables initialized.
func NewState() *State {
	return &State{
		Projects:           map[string]*Project{},
		Buckets:            map[string]*Bucket{},
		Objects:            map[string]map[string]*Object{},
		Versions:           map[string]map[string][]*Object{},
		Sessions:           map[string]*ResumableSession{},
		Instances:          map[string]*Instance{},
		Allocations:        map[string]*IPAllocation{},
		Firewalls:          map[string]*FirewallRule{},
		Networks:           map[string]*Network{},
		Subnetworks:        map[string]*Subnetwork{},
		Routes:             map[string]*Route{},
		Routers:            map[string]*Router{},
		Addresses:          map[string]*Address{},
		ServiceAccounts:    map[string]*ServiceAccount{},
		ServiceAccountKeys: map[string]*ServiceAccountKey{},
		Policies:           map[string]*Policy{},
		Operations:         map[string]*Operation{},
	}
}

// init fills nil tables after a snapshot load so old snapshots stay
// readable.
func (s *State) init() {
	n := NewState()
	if s.Projects == nil {
		s.Projects = n.Projects
	}
	if s.Buckets == nil {
		s.Buckets = n.Buckets
	}
	if s.Objects == nil {
		s.Objects = n.Objects
	}
	if s.Versions == nil {
		s.Versions = n.Versions
	}
	if s.Sessions == nil {
		s.Sessions = n.Sessions
	}
	if s.Instances == nil {
		s.Instances = n.Instances
	}
	if s.Allocations == nil {
		s.Allocations = n.Allocations
	}
	if s.Firewalls == nil {
		s.Firewalls = n.Firewalls
	}
	if s.Networks == nil {
		s.Networks = n.Networks
	}
	if s.Subnetworks == nil {
		s.Subnetworks = n.Subnetworks
	}
	if s.Routes == nil {
		s.Routes = n.Routes
	}
	if s.Routers == nil {
		s.Routers = n.Routers
	}
	if s.Addresses == nil {
		s.Addresses = n.Addresses
	}
	if s.ServiceAccounts == nil {
		s.ServiceAccounts = n.ServiceAccounts
	}
	if s.ServiceAccountKeys == nil {
		s.ServiceAccountKeys = n.ServiceAccountKeys
	}
	if s.Policies == nil {
		s.Policies = n.Policies
	}
	if s.Operations == nil {
		s.Operations = n.Operations
	}
}

// EnsureProject returns the project with the given id, creating it together
// with its default network and IP allocation on first reference. Projects are
// auto-vivified so any SDK call against a fresh emulator just works.
func (s *State) EnsureProject(id string, now time.Time) *Project {
	if p, ok := s.Projects[id]; ok {
		return p
	}
	p := &Project{ID: id, NumericID: gcp.NumericID(id), DisplayName: id, CreatedAt: now}
	s.Projects[id] = p

	if _, ok := s.Networks[ScopedKey(id, "default")]; !ok {
		s.Networks[ScopedKey(id, "default")] = &Network{
			Name:                  "default",
			Project:               id,
			Description:           "Default network for the project",
			AutoCreateSubnetworks: true,
			RoutingMode:           "REGIONAL",
			CreatedAt:             now,
		}
	}
	if _, ok := s.Allocations[id]; !ok {
		s.Allocations[id] = &IPAllocation{Project: id, InternalNext: 1, ExternalNext: 10}
	}
	return p
}

// BucketKey builds the Buckets table key. Bucket names cannot contain
// slashes, so the join is unambiguous.
func BucketKey(project, name string) string {
	return project + "/" + name
}

// ScopedKey builds the table key of a global project-scoped resource.
func ScopedKey(project, name string) string {
	return project + "/" + name
}

// RegionalKey builds the table key of a regional resource.
func RegionalKey(project, region, name string) string {
	return project + "/" + region + "/" + name
}

// InstanceKey builds the Instances table key.
func InstanceKey(project, zone, name string) string {
	return project + "/" + zone + "/" + name
}

// OperationKey builds the Operations table key. scope is "global", a region
// or a zone.
func OperationKey(project, scope, name string) string {
	return project + "/" + scope + "/" + name
}

// FindBucket resolves a bucket by name alone, as the storage API paths carry
// no project. When the same name exists in several projects the
// lexicographically first project wins, which keeps resolution
// deterministic.
func (s *State) FindBucket(name string) *Bucket {
	var found *Bucket
	for _, b := range s.Buckets {
		if b.Name != name {
			continue
		}
		if found == nil || b.Project < found.Project {
			found = b
		}
	}
	return found
}

// BucketsOf lists a project's buckets sorted by name.
func (s *State) BucketsOf(project string) []*Bucket {
	out := []*Bucket{}
	for _, b := range s.Buckets {
		if b.Project == project {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LiveObjects lists a bucket's latest non-deleted object rows sorted by
// name.
func (s *State) LiveObjects(bucketKey string) []*Object {
	out := []*Object{}
	for _, o := range s.Objects[bucketKey] {
		if !o.Deleted {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InstancesOf lists instances of a project, optionally restricted to one
// zone, sorted by (zone, name).
func (s *State) InstancesOf(project, zone string) []*Instance {
	out := []*Instance{}
	for _, i := range s.Instances {
		if i.Project != project {
			continue
		}
		if zone != "" && i.Zone != zone {
			continue
		}
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Zone != out[j].Zone {
			return out[i].Zone < out[j].Zone
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FirewallsOf lists a project's firewall rules sorted by name.
func (s *State) FirewallsOf(project string) []*FirewallRule {
	out := []*FirewallRule{}
	for _, f := range s.Firewalls {
		if f.Project == project {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NetworksOf lists a project's networks sorted by name.
func (s *State) NetworksOf(project string) []*Network {
	out := []*Network{}
	for _, n := range s.Networks {
		if n.Project == project {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SubnetworksOf lists a project's subnetworks in a region sorted by name.
func (s *State) SubnetworksOf(project, region string) []*Subnetwork {
	out := []*Subnetwork{}
	for _, sn := range s.Subnetworks {
		if sn.Project == project && sn.Region == region {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RoutesOf lists a project's routes sorted by name.
func (s *State) RoutesOf(project string) []*Route {
	out := []*Route{}
	for _, r := range s.Routes {
		if r.Project == project {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RoutersOf lists a project's routers in a region sorted by name.
func (s *State) RoutersOf(project, region string) []*Router {
	out := []*Router{}
	for _, r := range s.Routers {
		if r.Project == project && r.Region == region {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddressesOf lists a project's addresses in a region sorted by name.
func (s *State) AddressesOf(project, region string) []*Address {
	out := []*Address{}
	for _, a := range s.Addresses {
		if a.Project == project && a.Region == region {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServiceAccountsOf lists a project's service accounts sorted by email.
func (s *State) ServiceAccountsOf(project string) []*ServiceAccount {
	out := []*ServiceAccount{}
	for _, sa := range s.ServiceAccounts {
		if sa.Project == project {
			out = append(out, sa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// KeysOf lists a service account's keys sorted by creation time then id.
func (s *State) KeysOf(email string) []*ServiceAccountKey {
	out := []*ServiceAccountKey{}
	for _, k := range s.ServiceAccountKeys {
		if k.ServiceAccountEmail == email {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OperationsOf lists a project's operations in one scope sorted by insert
// time then name.
func (s *State) OperationsOf(project, scope string) []*Operation {
	prefix := project + "/" + scope + "/"
	out := []*Operation{}
	for k, op := range s.Operations {
		if strings.HasPrefix(k, prefix) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InsertTime.Equal(out[j].InsertTime) {
			return out[i].InsertTime.Before(out[j].InsertTime)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// DeleteProject removes a project and everything it owns: buckets with their
// objects and versions, instances, allocations, firewalls, networks,
// subnetworks, routes, routers, addresses, service accounts with their keys,
// sessions and operations. Filesystem and container cleanup belong to the
// calling service.
func (s *State) DeleteProject(id string) {
	for key, b := range s.Buckets {
		if b.Project != id {
			continue
		}
		delete(s.Objects, key)
		delete(s.Versions, key)
		delete(s.Policies, fmt.Sprintf("projects/%s/buckets/%s", id, b.Name))
		delete(s.Buckets, key)
	}
	for key, i := range s.Instances {
		if i.Project == id {
			delete(s.Instances, key)
		}
	}
	for key, f := range s.Firewalls {
		if f.Project == id {
			delete(s.Firewalls, key)
		}
	}
	for key, n := range s.Networks {
		if n.Project == id {
			delete(s.Networks, key)
		}
	}
	for key, sn := range s.Subnetworks {
		if sn.Project == id {
			delete(s.Subnetworks, key)
		}
	}
	for key, r := range s.Routes {
		if r.Project == id {
			delete(s.Routes, key)
		}
	}
	for key, r := range s.Routers {
		if r.Project == id {
			delete(s.Routers, key)
		}
	}
	for key, a := range s.Addresses {
		if a.Project == id {
			delete(s.Addresses, key)
		}
	}
	for email, sa := range s.ServiceAccounts {
		if sa.Project != id {
			continue
		}
		for kid, k := range s.ServiceAccountKeys {
			if k.ServiceAccountEmail == email {
				delete(s.ServiceAccountKeys, kid)
			}
		}
		delete(s.Policies, fmt.Sprintf("projects/%s/serviceAccounts/%s", id, email))
		delete(s.ServiceAccounts, email)
	}
	for sid, sess := range s.Sessions {
		if sess.Project == id {
			delete(s.Sessions, sid)
		}
	}
	for key, op := range s.Operations {
		if op.Project == id {
			delete(s.Operations, key)
		}
	}
	delete(s.Allocations, id)
	delete(s.Projects, id)
}
