// Package controller is the façade that serializes scan, cut,
// recover, query, and teardown operations over the host registry and
// the ARP session manager.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blackfin-labs/arpcut/internal/iface"
	"github.com/blackfin-labs/arpcut/internal/linklayer"
	"github.com/blackfin-labs/arpcut/internal/registry"
	"github.com/blackfin-labs/arpcut/internal/scanner"
	"github.com/blackfin-labs/arpcut/internal/session"
	"go.uber.org/zap"
)

// ActionStatus is the result of a toggle Action call.
type ActionStatus int

const (
	TargetNotFound ActionStatus = iota
	CutSuccess
	RecoverSuccess
)

// ErrNoInterface is returned when the target IP is not in any
// attached subnet.
var ErrNoInterface = iface.ErrNoInterface

// Config bundles the tunables a Controller is constructed with.
type Config struct {
	// AttackInterval is the cadence of each flow's forged-reply
	// emission.
	AttackInterval time.Duration
	// ScanInterval is the minimum wall time between successive scan
	// sweeps.
	ScanInterval time.Duration
}

// Controller is the single façade serializing scan, cut, recover,
// query, and teardown calls. A single mutex guards the host registry,
// the session manager's sessions/fake-MAC maps, and the interface
// cache; it is never held across a flow's hot-path send, only across
// the (fast) bookkeeping calls into registry and session.Manager.
type Controller struct {
	mu sync.Mutex

	log      *zap.Logger
	lister   iface.Lister
	sender   linklayer.Sender
	receiver linklayer.Receiver

	registry *registry.Registry
	sessions *session.Manager

	scanInterval time.Duration
	lastScan     time.Time
	ifaces       []iface.Interface

	atkValue int
	defValue int
}

// New constructs a Controller. link supplies both Sender and Receiver
// (the production PcapLink implements both); lister enumerates
// attached interfaces.
func New(cfg Config, lister iface.Lister, link interface {
	linklayer.Sender
	linklayer.Receiver
}, log *zap.Logger) *Controller {
	return &Controller{
		log:          log,
		lister:       lister,
		sender:       link,
		receiver:     link,
		registry:     registry.New(),
		sessions:     session.NewManager(link, cfg.AttackInterval, log),
		scanInterval: cfg.ScanInterval,
		atkValue:     1,
	}
}

// interfaces returns the cached interface inventory, populating it on
// first use. Interfaces are assumed not to change during the process
// lifetime.
func (c *Controller) interfaces() ([]iface.Interface, error) {
	if c.ifaces != nil {
		return c.ifaces, nil
	}
	ifs, err := c.lister.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	c.ifaces = ifs
	return ifs, nil
}

// ScanTargets sweeps every attached interface's subnet and merges
// discovered hosts into the registry, unless called again before
// ScanInterval has elapsed since the last sweep.
func (c *Controller) ScanTargets(ctx context.Context) error {
	c.mu.Lock()
	if time.Since(c.lastScan) < c.scanInterval {
		c.mu.Unlock()
		return nil
	}
	ifs, err := c.interfaces()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.lastScan = time.Now()
	c.mu.Unlock()

	var wg sync.WaitGroup
	var found sync.Mutex
	var allHosts []registry.Host
	for _, it := range ifs {
		wg.Add(1)
		go func(it iface.Interface) {
			defer wg.Done()
			hosts, err := scanner.Scan(ctx, it, c.sender, c.receiver, c.log)
			if err != nil {
				c.log.Error("scan failed on interface, continuing with others",
					zap.String("iface", it.Name), zap.Error(err))
				return
			}
			found.Lock()
			allHosts = append(allHosts, hosts...)
			found.Unlock()
		}(it)
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Merge(allHosts)
	c.extendCutSessions(ifs)
	return nil
}

// extendCutSessions gives every currently-cut target's session a flow
// for any victim the scan just discovered. Re-entering Attack on a
// target already under attack is idempotent: existing flows are
// untouched, only new victims gain one.
func (c *Controller) extendCutSessions(ifs []iface.Interface) {
	for _, h := range c.registry.CutHosts() {
		it, err := iface.ByIP(ifs, h.IP)
		if err != nil {
			c.log.Warn("cut host no longer maps to an attached interface", zap.String("ip", h.IP.String()))
			continue
		}
		victims := c.registry.Victims(h, it.SameSubnet)
		if err := c.sessions.Attack(it, h, victims); err != nil {
			c.log.Error("failed to extend attack session with newly discovered victims",
				zap.String("target", h.IP.String()), zap.Error(err))
		}
	}
}

// GetTargets returns a snapshot of every known host.
func (c *Controller) GetTargets() []registry.Host {
	return c.registry.Snapshot()
}

// GetHost looks up ip in the registry, returning a NotExist host if
// absent.
func (c *Controller) GetHost(ip net.IP) registry.Host {
	return c.registry.Get(ip)
}

// Action toggles the cut state of ip: NORMAL becomes CUT (attack
// every current same-subnet host) and CUT becomes NORMAL (recover).
// Unknown IPs return TargetNotFound. A failure to resolve the owning
// interface during an attack attempt leaves the registry and session
// state exactly as it was.
func (c *Controller) Action(ip net.IP) (ActionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	host := c.registry.Get(ip)
	if host.Status == registry.NotExist {
		return TargetNotFound, nil
	}

	if host.Status == registry.Cut {
		c.sessions.Recover(ip)
		c.registry.SetStatus(ip, registry.Normal)
		return RecoverSuccess, nil
	}

	ifs, err := c.interfaces()
	if err != nil {
		return 0, err
	}
	it, err := iface.ByIP(ifs, ip)
	if err != nil {
		return 0, err
	}

	victims := c.registry.Victims(host, it.SameSubnet)
	if err := c.sessions.Attack(it, host, victims); err != nil {
		return 0, fmt.Errorf("failed to start attack session: %w", err)
	}
	c.registry.SetStatus(ip, registry.Cut)
	return CutSuccess, nil
}

// RecoverAll recovers every currently-cut host. It attempts every
// target even if an earlier recovery in the loop fails to find its
// session (which cannot itself error — Manager.Recover is a no-op on
// a missing session).
func (c *Controller) RecoverAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.registry.CutHosts() {
		c.sessions.Recover(h.IP)
		c.registry.SetStatus(h.IP, registry.Normal)
	}
}

// Shutdown recovers every cut host before the process exits. No
// target may be left poisoned when the process goes away.
func (c *Controller) Shutdown() {
	c.RecoverAll()
}

func (c *Controller) GetAtk() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atkValue
}

func (c *Controller) SetAtk(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.atkValue = v
}

func (c *Controller) GetDef() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defValue
}

func (c *Controller) SetDef(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defValue = v
}

// ErrMalformedRequest is returned when a request body cannot be
// parsed into the expected shape.
var ErrMalformedRequest = errors.New("malformed request")
