// Package registry holds the authoritative set of hosts discovered on
// every attached interface.
package registry

import (
	"net"
	"sort"
	"sync"
)

// Status is the lifecycle state of a Host.
type Status int

const (
	// NotExist is the sentinel returned by Get when the requested IP
	// is not present in the registry. It is never stored.
	NotExist Status = iota
	Normal
	Cut
)

func (s Status) String() string {
	switch s {
	case Normal:
		return "Normal"
	case Cut:
		return "Cut"
	default:
		return "Target Not Found"
	}
}

// Host is a single known endpoint on the LAN. Identity is IP: two
// Host values are equal iff their IPs match.
type Host struct {
	IP     net.IP
	MAC    net.HardwareAddr
	Status Status
}

// Registry is the process-wide, IP-keyed set of hosts. It grows
// monotonically: scans add hosts but never evict them. Status is
// mutated in place under lock.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Host
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{m: make(map[string]*Host)}
}

// Merge adds any host in found that isn't already present, keyed by
// IP. Hosts already known keep their current MAC/status untouched
// (the spec requires monotonic growth, not refresh-on-rescan).
func (r *Registry) Merge(found []Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range found {
		key := h.IP.String()
		if _, ok := r.m[key]; ok {
			continue
		}
		cp := h
		cp.Status = Normal
		r.m[key] = &cp
	}
}

// Get returns the host known for ip, or a NotExist sentinel if
// absent.
func (r *Registry) Get(ip net.IP) Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.m[ip.String()]; ok {
		return *h
	}
	return Host{IP: ip, Status: NotExist}
}

// SetStatus mutates the status of the host identified by ip, if
// present. Returns false if the host is unknown.
func (r *Registry) SetStatus(ip net.IP, s Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.m[ip.String()]
	if !ok {
		return false
	}
	h.Status = s
	return true
}

// Snapshot returns every known host, ordered by IP string for stable
// output.
func (r *Registry) Snapshot() []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Host, 0, len(r.m))
	for _, h := range r.m {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP.String() < out[j].IP.String() })
	return out
}

// CutHosts returns every host currently in the Cut state.
func (r *Registry) CutHosts() []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Host
	for _, h := range r.m {
		if h.Status == Cut {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP.String() < out[j].IP.String() })
	return out
}

// Victims returns every host other than target that shares subnet's
// same-subnet predicate with target, i.e. the candidate victim set
// for an attack session.
func (r *Registry) Victims(target Host, sameSubnet func(net.IP) bool) []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Host
	for _, h := range r.m {
		if h.IP.Equal(target.IP) {
			continue
		}
		if sameSubnet(h.IP) {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP.String() < out[j].IP.String() })
	return out
}
