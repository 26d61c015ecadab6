// Package tracker runs the UDP protocol engine: the single socket every
// game client talks to, the opcode dispatch, the info pollers and the match
// reaper.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"dxx-tracker/internal/aggregate"
	"dxx-tracker/internal/protocol"
	"dxx-tracker/internal/registry"
)

const (
	// PollInterval is how often confirmed and pending matches are probed
	// for lite and full info.
	PollInterval = 5 * time.Second
	readTimeout  = time.Second
	maxPacket    = 2048
)

// ackDelays staggers the register-ACK triplet; clients on lossy links only
// need one of the three to arrive.
var ackDelays = [...]time.Duration{0, 25 * time.Millisecond, 50 * time.Millisecond}

// packetWriter is the outbound half of the socket, split out so tests can
// capture what the engine sends.
type packetWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Notifier receives match state changes for the live read-out surfaces.
// All methods are called outside the registry lock.
type Notifier interface {
	MatchNew(m registry.Match)
	MatchUpdate(m registry.Match)
	MatchRemoved(key registry.Key)
	MatchEvent(key registry.Key, ev registry.Event)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) MatchNew(registry.Match) {}

func (NopNotifier) MatchUpdate(registry.Match) {}

func (NopNotifier) MatchRemoved(registry.Key) {}

func (NopNotifier) MatchEvent(registry.Key, registry.Event) {}

// MultiNotifier fans every notification out to each receiver in order.
type MultiNotifier []Notifier

func (mn MultiNotifier) MatchNew(m registry.Match) {
	for _, n := range mn {
		n.MatchNew(m)
	}
}

func (mn MultiNotifier) MatchUpdate(m registry.Match) {
	for _, n := range mn {
		n.MatchUpdate(m)
	}
}

func (mn MultiNotifier) MatchRemoved(key registry.Key) {
	for _, n := range mn {
		n.MatchRemoved(key)
	}
}

func (mn MultiNotifier) MatchEvent(key registry.Key, ev registry.Event) {
	for _, n := range mn {
		n.MatchEvent(key, ev)
	}
}

// Engine owns the tracker socket and drives the protocol.
type Engine struct {
	reg    *registry.Registry
	merger *aggregate.Merger
	notify Notifier
	log    *slog.Logger

	conn *net.UDPConn
	out  packetWriter
	now  func() time.Time

	// afterFunc is swappable so ACK timing is testable without sleeping.
	afterFunc func(d time.Duration, f func()) *time.Timer

	wg sync.WaitGroup
}

// New builds an engine around an already bound socket. notify may be nil.
func New(conn *net.UDPConn, reg *registry.Registry, merger *aggregate.Merger, notify Notifier, log *slog.Logger) *Engine {
	if notify == nil {
		notify = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		reg:       reg,
		merger:    merger,
		notify:    notify,
		log:       log,
		conn:      conn,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
	if conn != nil {
		e.out = conn
	}
	return e
}

// Listen binds the tracker socket on the given port.
func Listen(port int, reg *registry.Registry, merger *aggregate.Merger, notify Notifier, log *slog.Logger) (*Engine, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return New(conn, reg, merger, notify, log), nil
}

// Run blocks on the receive loop and the poll ticker until ctx is
// cancelled, then closes the socket and waits for in-flight work.
func (e *Engine) Run(ctx context.Context) error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()

	buf := make([]byte, maxPacket)
	for {
		if ctx.Err() != nil {
			break
		}
		e.conn.SetReadDeadline(e.now().Add(readTimeout))
		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			e.log.Warn("socket read failed", "error", err)
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		e.HandlePacket(src, pkt)
	}

	e.conn.Close()
	e.wg.Wait()
	return ctx.Err()
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollAll()
		}
	}
}

// pollAll issues the per-state probe to every live match: pending records
// get the lite probe until they confirm, confirmed records get the full
// probe to keep the player table fresh.
func (e *Engine) pollAll() {
	for _, m := range e.reg.All() {
		switch m.State {
		case registry.StatePending:
			e.probeLite(&m)
		case registry.StateConfirmed:
			e.probeFull(&m)
		}
	}
}

func gameAddr(m *registry.Match) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(m.HostIP), Port: int(m.GamePort)}
}

func (e *Engine) probeLite(m *registry.Match) {
	e.send(gameAddr(m), protocol.EncodeLiteInfoRequest(m.Version, m.Major, m.Minor, m.Micro))
}

// probeFull carries the learned netgame protocol; while it is still 0 the
// game answers with a version-deny that teaches the real value.
func (e *Engine) probeFull(m *registry.Match) {
	e.send(gameAddr(m), protocol.EncodeFullInfoRequest(m.Version, m.Major, m.Minor, m.Micro, m.NetgameProto))
}

func (e *Engine) send(addr *net.UDPAddr, pkt []byte) {
	if e.out == nil {
		return
	}
	if _, err := e.out.WriteToUDP(pkt, addr); err != nil {
		e.log.Warn("send failed", "addr", addr.String(), "error", err)
	}
}

// sendAckTriplet fires the three REGISTER-ACK datagrams back to the
// address the REGISTER came from.
func (e *Engine) sendAckTriplet(addr *net.UDPAddr) {
	for _, d := range ackDelays {
		if d == 0 {
			e.send(addr, protocol.EncodeRegisterAck())
			continue
		}
		dst := addr
		e.wg.Add(1)
		e.afterFunc(d, func() {
			defer e.wg.Done()
			e.send(dst, protocol.EncodeRegisterAck())
		})
	}
}

// ReapOnce expires matches idle past the threshold and returns them for
// archiving. Called from the cron job.
func (e *Engine) ReapOnce() []registry.Reaped {
	reaped := e.reg.ReapExpired(e.now())
	for i := range reaped {
		key := reaped[i].Match.Key
		e.merger.Forget(key)
		e.notify.MatchRemoved(key)
		e.log.Info("match expired",
			"match", string(key),
			"game", reaped[i].Match.GameID,
			"lastSeen", reaped[i].Match.LastSeen)
	}
	return reaped
}

// Registry exposes the live match index to the read-out surfaces.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Merger exposes the event dedupe gate, shared with the gamelog upload path.
func (e *Engine) Merger() *aggregate.Merger { return e.merger }
