// Package linklayer crafts and exchanges raw Ethernet/ARP frames. It
// is the only part of the system that touches the wire.
package linklayer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

// Op identifies the ARP opcode of a forged or genuine frame.
type Op uint16

const (
	Request Op = Op(layers.ARPRequest)
	Reply   Op = Op(layers.ARPReply)
)

// ErrIO wraps raw-socket send/receive failures. Scanning code treats
// it as "no response" and moves on; flows log it and try again on the
// next tick.
var ErrIO = errors.New("link layer io error")

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
var zeroMAC = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// Frame describes one ARP packet to emit at the Ethernet layer.
type Frame struct {
	Op      Op
	SrcMAC  net.HardwareAddr
	SrcIP   net.IP
	DstMAC  net.HardwareAddr
	DstIP   net.IP
}

// Reply is a (sender IP, sender MAC) pair observed on the wire.
type Reply struct {
	IP  net.IP
	MAC net.HardwareAddr
}

// Sender emits ARP frames on a named interface.
type Sender interface {
	Send(ctx context.Context, ifaceName string, f Frame) error
}

// Receiver listens for ARP replies on a named interface for up to
// timeout, returning whatever was observed before the window closed.
type Receiver interface {
	Recv(ctx context.Context, ifaceName string, timeout time.Duration) ([]Reply, error)
}

// PcapLink implements Sender and Receiver using libpcap raw sockets,
// one handle per interface, opened lazily and kept for process
// lifetime.
type PcapLink struct {
	log     *zap.Logger
	mu      sync.Mutex
	handles map[string]*pcap.Handle
}

// NewPcapLink constructs a PcapLink. log must not be nil.
func NewPcapLink(log *zap.Logger) *PcapLink {
	return &PcapLink{log: log, handles: make(map[string]*pcap.Handle)}
}

// handle returns the cached pcap handle for ifaceName, opening one on
// first use. Scans run one goroutine per interface (controller.go), so
// concurrent calls for distinct interface names are expected.
func (p *PcapLink) handle(ifaceName string) (*pcap.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[ifaceName]; ok {
		return h, nil
	}
	h, err := pcap.OpenLive(ifaceName, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrIO, ifaceName, err)
	}
	p.handles[ifaceName] = h
	return h, nil
}

// Close releases every handle opened by the link layer. Call during
// process shutdown.
func (p *PcapLink) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, h := range p.handles {
		h.Close()
		delete(p.handles, name)
	}
}

// Send serializes f and writes it to the wire on ifaceName.
func (p *PcapLink) Send(ctx context.Context, ifaceName string, f Frame) error {
	handle, err := p.handle(ifaceName)
	if err != nil {
		return err
	}

	dstMAC := f.DstMAC
	if dstMAC == nil {
		if f.Op == Reply {
			return errors.New("sending arp replies requires a destination hardware address")
		}
		dstMAC = broadcastMAC
	}

	targetHw := f.DstMAC
	if f.Op == Request {
		targetHw = zeroMAC
	}

	eth := layers.Ethernet{
		SrcMAC:       f.SrcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         uint16(f.Op),
		SourceHwAddress:   f.SrcMAC,
		SourceProtAddress: f.SrcIP.To4(),
		DstHwAddress:      targetHw,
		DstProtAddress:    f.DstIP.To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return fmt.Errorf("failed to build arp frame: %w", err)
	}

	logFields := []zap.Field{
		zap.String("iface", ifaceName),
		zap.String("srcIp", f.SrcIP.String()), zap.String("srcMac", f.SrcMAC.String()),
		zap.String("dstIp", f.DstIP.String()), zap.String("dstMac", dstMAC.String()),
	}
	if f.Op == Reply {
		logFields = append(logFields, zap.String("op", "reply"))
	} else {
		logFields = append(logFields, zap.String("op", "request"))
	}

	if err := handle.WritePacketData(buf.Bytes()); err != nil {
		p.log.Error("failed to write arp frame", append(logFields, zap.Error(err))...)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	p.log.Debug("sent arp frame", logFields...)
	return nil
}

// Recv listens on ifaceName for up to timeout and returns every ARP
// reply observed in that window.
func (p *PcapLink) Recv(ctx context.Context, ifaceName string, timeout time.Duration) ([]Reply, error) {
	handle, err := p.handle(ifaceName)
	if err != nil {
		return nil, err
	}
	if err := handle.SetBPFFilter("arp"); err != nil {
		p.log.Warn("failed to set bpf filter", zap.Error(err))
	}

	deadline := time.Now().Add(timeout)
	src := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := src.Packets()

	var out []Reply
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(remaining):
			return out, nil
		case pkt, ok := <-packets:
			if !ok {
				return out, nil
			}
			arpL := pkt.Layer(layers.LayerTypeARP)
			if arpL == nil {
				continue
			}
			arp := arpL.(*layers.ARP)
			if arp.Operation != uint16(layers.ARPReply) {
				continue
			}
			out = append(out, Reply{
				IP:  net.IP(arp.SourceProtAddress),
				MAC: net.HardwareAddr(arp.SourceHwAddress),
			})
		}
	}
}
