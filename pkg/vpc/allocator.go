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

package vpc

import (
	"fmt"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// Internal addresses come from 10.0.0.0/16 onward; external addresses from
// 203.0.113.0/24 (TEST-NET-3). Counters never move backward and addresses
// are never reused, so concurrent creates committed in either order always
// see distinct results.

// AllocateInternal hands out the next internal address for a project,
// skipping the network and broadcast octets of each /24. Callers run it
// inside a store transaction; the counter advance commits atomically with
// the caller's mutation.
func AllocateInternal(a *store.IPAllocation) string {
	for {
		c := a.InternalNext
		a.InternalNext++
		last := c % 256
		if last == 0 || last == 255 {
			continue
		}
		ip := fmt.Sprintf("10.%d.%d.%d", c/65536, (c/256)%256, last)
		a.AllocatedInternal = append(a.AllocatedInternal, ip)
		return ip
	}
}

// AllocateExternal hands out the next external address for a project. The
// /24 holds addresses .10 through .254; past that the pool is exhausted.
func AllocateExternal(a *store.IPAllocation) (string, error) {
	if a.ExternalNext > 254 {
		return "", apierror.Internal("external IP pool exhausted for project %q", a.Project)
	}
	ip := fmt.Sprintf("203.0.113.%d", a.ExternalNext)
	a.ExternalNext++
	a.AllocatedExternal = append(a.AllocatedExternal, ip)
	return ip, nil
}

// ReleaseInternal removes ip from the project's used set. The counter is
// untouched, so the address is never handed out again.
func ReleaseInternal(a *store.IPAllocation, ip string) {
	for i, used := range a.AllocatedInternal {
		if used == ip {
			a.AllocatedInternal = append(a.AllocatedInternal[:i], a.AllocatedInternal[i+1:]...)
			return
		}
	}
}
