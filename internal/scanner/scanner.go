// Package scanner sweeps a subnet with ARP who-has probes and
// collects responders.
package scanner

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/blackfin-labs/arpcut/internal/iface"
	"github.com/blackfin-labs/arpcut/internal/linklayer"
	"github.com/blackfin-labs/arpcut/internal/registry"
	"go.uber.org/zap"
)

// Window is the bounded time the scanner waits for replies after
// broadcasting probes on an interface.
const Window = time.Second

// Scan sweeps i's subnet: for every address hostAddrs yields (neither
// the network, broadcast, nor i's own address), it sends one ARP who-has
// request, then listens for Window and returns every distinct
// responder observed, first reply wins on duplicate IPs.
func Scan(ctx context.Context, i iface.Interface, sender linklayer.Sender, receiver linklayer.Receiver, log *zap.Logger) ([]registry.Host, error) {
	targets := hostAddrs(i)

	for _, a := range targets {
		f := linklayer.Frame{
			Op:     linklayer.Request,
			SrcMAC: i.MAC,
			SrcIP:  i.IP,
			DstIP:  a,
		}
		if err := sender.Send(ctx, i.Name, f); err != nil {
			log.Debug("arp probe failed, skipping", zap.String("targetIp", a.String()), zap.Error(err))
			continue
		}
	}

	replies, err := receiver.Recv(ctx, i.Name, Window)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(replies))
	var out []registry.Host
	for _, rep := range replies {
		key := rep.IP.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, registry.Host{IP: rep.IP, MAC: rep.MAC, Status: registry.Normal})
	}
	return out, nil
}

// hostAddrs enumerates every usable host address in i's subnet,
// excluding the network address, the broadcast address and i's own
// IP. A subnet wider than /16 is only enumerated over its first 65536
// addresses; a /32 yields no addresses.
func hostAddrs(i iface.Interface) []net.IP {
	ip4 := i.IP.To4()
	mask := i.Netmask
	network := binary.BigEndian.Uint32(ip4.Mask(mask))
	ones, bits := mask.Size()
	hostBits := bits - ones
	if hostBits <= 0 {
		return nil
	}
	if hostBits > 16 {
		// Cap the sweep of masks shorter than /16 at 16 host bits.
		hostBits = 16
	}
	count := uint32(1) << uint(hostBits)
	broadcast := binary.BigEndian.Uint32(i.Broadcast().To4())
	self := binary.BigEndian.Uint32(ip4)

	out := make([]net.IP, 0, count)
	for n := uint32(0); n < count; n++ {
		addr := network + n
		if addr == broadcast || addr == self || addr == network {
			continue
		}
		b := make(net.IP, 4)
		binary.BigEndian.PutUint32(b, addr)
		out = append(out, b)
	}
	return out
}
