// Package iface enumerates the host's IPv4-capable network interfaces
// and answers subnet-membership questions for them.
package iface

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoInterface is returned by ByIP when no attached interface owns
// the requested address's subnet.
var ErrNoInterface = errors.New("no interface owns that subnet")

// Interface is a snapshot of one IPv4-capable, non-loopback,
// operationally-up network interface.
type Interface struct {
	Name    string
	IP      net.IP
	Netmask net.IPMask
	MAC     net.HardwareAddr
}

// SameSubnet reports whether ip shares this interface's subnet and is
// not the interface's own address.
func (i Interface) SameSubnet(ip net.IP) bool {
	ip4 := ip.To4()
	self := i.IP.To4()
	if ip4 == nil || self == nil {
		return false
	}
	if ip4.Equal(self) {
		return false
	}
	return ip4.Mask(i.Netmask).Equal(self.Mask(i.Netmask))
}

// Broadcast returns the subnet's broadcast address.
func (i Interface) Broadcast() net.IP {
	ip4 := i.IP.To4()
	bc := make(net.IP, 4)
	for n := range bc {
		bc[n] = ip4[n] | ^i.Netmask[n]
	}
	return bc
}

// Lister enumerates the interfaces available to query. It exists so
// tests can substitute a fixed interface set instead of interrogating
// the real host.
type Lister interface {
	List() ([]Interface, error)
}

// SystemLister lists interfaces using the standard library's view of
// the running host.
type SystemLister struct{}

// List enumerates all IPv4-capable, non-loopback interfaces that are
// currently up.
func (SystemLister) List() (out []Interface, err error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate interfaces: %w", err)
	}
	for _, i := range ifs {
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			n, ok := a.(*net.IPNet)
			if !ok || n.IP.IsLoopback() {
				continue
			}
			ip4 := n.IP.To4()
			if ip4 == nil {
				continue
			}
			out = append(out, Interface{
				Name:    i.Name,
				IP:      ip4,
				Netmask: n.Mask[len(n.Mask)-4:],
				MAC:     i.HardwareAddr,
			})
			break
		}
	}
	return out, nil
}

// ByIP returns the interface from ifs whose subnet contains ip.
func ByIP(ifs []Interface, ip net.IP) (Interface, error) {
	for _, i := range ifs {
		if i.IP.Equal(ip.To4()) || i.SameSubnet(ip) {
			return i, nil
		}
	}
	return Interface{}, fmt.Errorf("%w: %s", ErrNoInterface, ip)
}
