// Package realtime is the per-connection side of seat locking: it tracks
// which connections watch which showtime, turns client events into lock
// manager calls and fans the results out to the room.
//
// Every mutation and the broadcasts it causes run on one goroutine, so all
// members of a room observe events in the order the gateway applied them.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iliyamo/movieflix-seatlock/internal/metrics"
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
)

const (
	commandBufferSize    = 256
	DefaultSweepInterval = 15 * time.Second
	lockFailedMessage    = "Seat already locked"
)

var (
	// ErrGatewayStopped is returned by calls made after Stop.
	ErrGatewayStopped = errors.New("realtime gateway stopped")
	// ErrDuplicateConnection is returned when a peer id is already registered.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrSeatNotHeld is the parent of NotHeldError.
	ErrSeatNotHeld = errors.New("seats not held by connection")
)

// NotHeldError lists the seats a connection tried to book without holding.
type NotHeldError struct {
	Seats []string
}

func (e *NotHeldError) Error() string {
	return fmt.Sprintf("%v: %v", ErrSeatNotHeld, e.Seats)
}

func (e *NotHeldError) Unwrap() error { return ErrSeatNotHeld }

// Peer is one realtime client as the gateway sees it. Send must not block;
// it returns false when the message could not be queued.
type Peer interface {
	ID() string
	Send(msg []byte) bool
	Close()
}

// Stats is a point-in-time view of the gateway.
type Stats struct {
	Connections int
	Rooms       int
	Locks       seatlock.Stats
}

// --- Command types ---

type gatewayCmd interface{ gatewayCmd() }

type cmdConnect struct {
	peer  Peer
	errCh chan error
}

type cmdMessage struct {
	connID string
	raw    []byte
	done   chan struct{}
}

type cmdDisconnect struct {
	connID string
	done   chan struct{}
}

type cmdVerify struct {
	room   string
	connID string
	seats  []string
	errCh  chan error
}

type cmdComplete struct {
	room   string
	connID string
	seats  []string
	done   chan struct{}
}

type cmdStats struct {
	replyCh chan Stats
}

type cmdStop struct{}

func (cmdConnect) gatewayCmd()    {}
func (cmdMessage) gatewayCmd()    {}
func (cmdDisconnect) gatewayCmd() {}
func (cmdVerify) gatewayCmd()     {}
func (cmdComplete) gatewayCmd()   {}
func (cmdStats) gatewayCmd()      {}
func (cmdStop) gatewayCmd()       {}

// member is a registered connection and the rooms it joined.
type member struct {
	peer  Peer
	rooms map[string]struct{}
}

// --- Gateway ---

// Gateway owns connection membership and drives a seatlock.Manager.
type Gateway struct {
	cmdCh         chan gatewayCmd
	done          chan struct{}
	manager       *seatlock.Manager
	clock         clockwork.Clock
	sweepInterval time.Duration

	members map[string]*member
	rooms   map[string]map[string]Peer
	evict   []string
}

// NewGateway starts a gateway over manager. A positive sweepInterval runs
// the expiry sweep on that period; zero disables it and leaves expired locks
// to be overwritten lazily by the next acquire.
func NewGateway(manager *seatlock.Manager, clock clockwork.Clock, sweepInterval time.Duration) *Gateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	g := &Gateway{
		cmdCh:         make(chan gatewayCmd, commandBufferSize),
		done:          make(chan struct{}),
		manager:       manager,
		clock:         clock,
		sweepInterval: sweepInterval,
		members:       make(map[string]*member),
		rooms:         make(map[string]map[string]Peer),
	}
	go g.run()
	return g
}

func (g *Gateway) run() {
	defer close(g.done)

	var sweep <-chan time.Time
	if g.sweepInterval > 0 {
		ticker := g.clock.NewTicker(g.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.Chan()
	}

	for {
		select {
		case <-sweep:
			g.handleSweep()
		case cmd := <-g.cmdCh:
			switch c := cmd.(type) {
			case cmdConnect:
				c.errCh <- g.handleConnect(c.peer)
			case cmdMessage:
				g.handleMessage(c.connID, c.raw)
				close(c.done)
			case cmdDisconnect:
				g.handleDisconnect(c.connID)
				close(c.done)
			case cmdVerify:
				c.errCh <- g.handleVerify(c.room, c.connID, c.seats)
			case cmdComplete:
				g.handleComplete(c.room, c.connID, c.seats)
				close(c.done)
			case cmdStats:
				c.replyCh <- Stats{Connections: len(g.members), Rooms: len(g.rooms), Locks: g.manager.Stats()}
			case cmdStop:
				g.handleStop()
				return
			}
		}
		g.drainEvictions()
	}
}

func (g *Gateway) handleConnect(p Peer) error {
	id := p.ID()
	if _, exists := g.members[id]; exists {
		return ErrDuplicateConnection
	}
	g.members[id] = &member{peer: p, rooms: make(map[string]struct{})}
	metrics.RealtimeConnections.Set(float64(len(g.members)))
	slog.Debug("Realtime client connected", "conn", id, "connections", len(g.members))
	g.sendTo(p, EventConnected, ConnectedPayload{ConnectionID: id})
	return nil
}

func (g *Gateway) handleMessage(connID string, raw []byte) {
	m, ok := g.members[connID]
	if !ok {
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.RealtimeEvents.WithLabelValues("unknown", "invalid").Inc()
		g.sendTo(m.peer, EventError, ErrorPayload{Message: "malformed message"})
		return
	}

	switch env.Event {
	case EventJoinShowtime:
		var st seatlock.Showtime
		if !g.decode(m, env, &st) {
			return
		}
		if err := st.Validate(); err != nil {
			g.reject(m, env.Event, err)
			return
		}
		g.join(m, st.Key())
	case EventRequestSeatLock, EventReleaseSeatLock:
		var req SeatRequest
		if !g.decode(m, env, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			g.reject(m, env.Event, err)
			return
		}
		if env.Event == EventRequestSeatLock {
			g.requestLock(m, req)
		} else {
			g.releaseLock(m, req)
		}
	default:
		metrics.RealtimeEvents.WithLabelValues("unknown", "invalid").Inc()
		g.sendTo(m.peer, EventError, ErrorPayload{Message: "unknown event: " + env.Event})
	}
}

func (g *Gateway) decode(m *member, env Envelope, v any) bool {
	if len(env.Data) == 0 {
		env.Data = []byte("{}")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		metrics.RealtimeEvents.WithLabelValues(env.Event, "invalid").Inc()
		g.sendTo(m.peer, EventError, ErrorPayload{Message: "malformed " + env.Event + " payload"})
		return false
	}
	return true
}

func (g *Gateway) reject(m *member, event string, err error) {
	metrics.RealtimeEvents.WithLabelValues(event, "invalid").Inc()
	slog.Info("Rejected realtime event", "conn", m.peer.ID(), "event", event, "error", err)
	g.sendTo(m.peer, EventError, ErrorPayload{Message: err.Error()})
}

func (g *Gateway) join(m *member, room string) {
	id := m.peer.ID()
	peers, ok := g.rooms[room]
	if !ok {
		peers = make(map[string]Peer)
		g.rooms[room] = peers
		metrics.RealtimeRooms.Set(float64(len(g.rooms)))
	}
	peers[id] = m.peer
	m.rooms[room] = struct{}{}
	metrics.RealtimeEvents.WithLabelValues(EventJoinShowtime, "ok").Inc()
	slog.Debug("Connection joined showtime", "conn", id, "room", room, "members", len(peers))

	g.sendTo(m.peer, EventInitialLocks, InitialLocksPayload{SeatIDs: g.manager.Snapshot(room)})
}

func (g *Gateway) requestLock(m *member, req SeatRequest) {
	id := m.peer.ID()
	room := req.Key()
	out, err := g.manager.Acquire(room, req.SeatID, id)
	if err != nil {
		g.reject(m, EventRequestSeatLock, err)
		return
	}
	metrics.RealtimeEvents.WithLabelValues(EventRequestSeatLock, out.String()).Inc()

	switch out {
	case seatlock.Acquired:
		slog.Debug("Seat locked", "conn", id, "room", room, "seat", req.SeatID)
		g.broadcast(room, id, EventSeatLocked, SeatPayload{SeatID: req.SeatID})
	case seatlock.Denied:
		slog.Debug("Seat lock denied", "conn", id, "room", room, "seat", req.SeatID)
		g.sendTo(m.peer, EventLockFailed, LockFailedPayload{SeatID: req.SeatID, Message: lockFailedMessage})
	case seatlock.AlreadyOwned:
		// idempotent repeat, expiry unchanged
	}
}

func (g *Gateway) releaseLock(m *member, req SeatRequest) {
	id := m.peer.ID()
	room := req.Key()
	out, err := g.manager.Release(room, req.SeatID, id)
	if err != nil {
		g.reject(m, EventReleaseSeatLock, err)
		return
	}
	metrics.RealtimeEvents.WithLabelValues(EventReleaseSeatLock, out.String()).Inc()

	switch out {
	case seatlock.Released:
		slog.Debug("Seat released", "conn", id, "room", room, "seat", req.SeatID)
		g.broadcast(room, id, EventSeatReleased, SeatPayload{SeatID: req.SeatID})
	case seatlock.NotOwner:
		slog.Debug("Release by non-owner ignored", "conn", id, "room", room, "seat", req.SeatID)
	}
}

// handleDisconnect frees the connection's locks, tells the remaining room
// members, then forgets the connection. Unknown ids are ignored, so a peer
// evicted earlier can disconnect again safely.
func (g *Gateway) handleDisconnect(connID string) {
	m, ok := g.members[connID]
	if !ok {
		return
	}

	for _, rs := range g.manager.ReleaseAllForConnection(connID) {
		g.broadcast(rs.Room, connID, EventSeatReleased, SeatPayload{SeatID: rs.SeatID})
	}

	for room := range m.rooms {
		g.leave(room, connID)
	}
	delete(g.members, connID)
	metrics.RealtimeConnections.Set(float64(len(g.members)))
	slog.Debug("Realtime client disconnected", "conn", connID, "connections", len(g.members))
}

func (g *Gateway) leave(room, connID string) {
	peers, ok := g.rooms[room]
	if !ok {
		return
	}
	delete(peers, connID)
	if len(peers) == 0 {
		delete(g.rooms, room)
		metrics.RealtimeRooms.Set(float64(len(g.rooms)))
	}
}

// handleSweep removes expired locks and tells every member of the room,
// including the former owner, that the seat is free again.
func (g *Gateway) handleSweep() {
	expired := g.manager.ExpireSweep(g.clock.Now())
	for _, rs := range expired {
		g.broadcast(rs.Room, "", EventSeatReleased, SeatPayload{SeatID: rs.SeatID})
	}
	if len(expired) > 0 {
		slog.Debug("Expired seat locks swept", "count", len(expired))
	}
}

func (g *Gateway) handleVerify(room, connID string, seats []string) error {
	var missing []string
	for _, seat := range seats {
		if !g.manager.HeldBy(room, seat, connID) {
			missing = append(missing, seat)
		}
	}
	if len(missing) > 0 {
		return &NotHeldError{Seats: missing}
	}
	return nil
}

// handleComplete runs after the booking is committed, so the sale is final.
// Any lock left on a booked seat is dropped whoever holds it: the booker's
// own lock may have expired and been taken over before the commit. The room
// learns the seats are gone and no release is ever broadcast for them.
func (g *Gateway) handleComplete(room, connID string, seats []string) {
	for _, seat := range seats {
		if l, ok := g.manager.Clear(room, seat); ok && l.Owner != connID {
			slog.Info("Dropped lock on booked seat", "room", room, "seat", seat, "conn", l.Owner, "booked_by", connID)
		}
		g.broadcast(room, connID, EventSeatBooked, SeatPayload{SeatID: seat})
	}
}

func (g *Gateway) handleStop() {
	for id, m := range g.members {
		m.peer.Close()
		delete(g.members, id)
	}
	for room := range g.rooms {
		delete(g.rooms, room)
	}
	metrics.RealtimeConnections.Set(0)
	metrics.RealtimeRooms.Set(0)
}

// broadcast sends to every member of room except the connection named by
// except. Peers whose buffer is full are closed and evicted after the
// current command.
func (g *Gateway) broadcast(room, except, event string, payload any) {
	peers, ok := g.rooms[room]
	if !ok {
		return
	}
	msg := encode(event, payload)
	if msg == nil {
		return
	}
	metrics.RealtimeBroadcasts.WithLabelValues(event).Inc()
	for id, p := range peers {
		if id == except {
			continue
		}
		if !p.Send(msg) {
			g.markSlow(p)
		}
	}
}

func (g *Gateway) sendTo(p Peer, event string, payload any) {
	msg := encode(event, payload)
	if msg == nil {
		return
	}
	if !p.Send(msg) {
		g.markSlow(p)
	}
}

func (g *Gateway) markSlow(p Peer) {
	if slices.Contains(g.evict, p.ID()) {
		return
	}
	slog.Warn("Disconnecting slow realtime client", "conn", p.ID())
	metrics.RealtimeSlowClientsEvicted.Inc()
	p.Close()
	g.evict = append(g.evict, p.ID())
}

func (g *Gateway) drainEvictions() {
	for len(g.evict) > 0 {
		id := g.evict[0]
		g.evict = g.evict[1:]
		g.handleDisconnect(id)
	}
}

// --- Public API ---

func (g *Gateway) submit(cmd gatewayCmd) error {
	select {
	case g.cmdCh <- cmd:
		return nil
	case <-g.done:
		return ErrGatewayStopped
	}
}

// await blocks until ch is signalled or the gateway exits.
func (g *Gateway) await(ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-g.done:
		return ErrGatewayStopped
	}
}

// Connect registers p and sends it its connection id.
func (g *Gateway) Connect(p Peer) error {
	errCh := make(chan error, 1)
	if err := g.submit(cmdConnect{peer: p, errCh: errCh}); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-g.done:
		return ErrGatewayStopped
	}
}

// Handle processes one inbound frame from connID and returns once it has
// been applied. Protocol errors are answered on the connection; the returned
// error only reports a stopped gateway.
func (g *Gateway) Handle(connID string, raw []byte) error {
	done := make(chan struct{})
	if err := g.submit(cmdMessage{connID: connID, raw: raw, done: done}); err != nil {
		return err
	}
	return g.await(done)
}

// Disconnect releases everything connID held and removes it from its rooms.
func (g *Gateway) Disconnect(connID string) {
	done := make(chan struct{})
	if err := g.submit(cmdDisconnect{connID: connID, done: done}); err != nil {
		return
	}
	_ = g.await(done)
}

// Snapshot returns the locked seats of a showtime without owner identities.
func (g *Gateway) Snapshot(st seatlock.Showtime) ([]string, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return g.manager.Snapshot(st.Key()), nil
}

// VerifyHolds returns a *NotHeldError unless connID holds a live lock on
// every seat of st.
func (g *Gateway) VerifyHolds(st seatlock.Showtime, connID string, seats []string) error {
	if err := st.Validate(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	if err := g.submit(cmdVerify{room: st.Key(), connID: connID, seats: seats, errCh: errCh}); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-g.done:
		return ErrGatewayStopped
	}
}

// CompleteBooking clears every lock on seats and broadcasts
// seat_booked_update for each of them to the room except connID.
func (g *Gateway) CompleteBooking(st seatlock.Showtime, connID string, seats []string) error {
	if err := st.Validate(); err != nil {
		return err
	}
	done := make(chan struct{})
	if err := g.submit(cmdComplete{room: st.Key(), connID: connID, seats: seats, done: done}); err != nil {
		return err
	}
	return g.await(done)
}

func (g *Gateway) Stats() Stats {
	replyCh := make(chan Stats, 1)
	if err := g.submit(cmdStats{replyCh: replyCh}); err != nil {
		return Stats{}
	}
	select {
	case s := <-replyCh:
		return s
	case <-g.done:
		return Stats{}
	}
}

// Stop closes every peer and ends the event loop. It blocks until the loop
// has exited and is safe to call more than once.
func (g *Gateway) Stop() {
	select {
	case g.cmdCh <- cmdStop{}:
	case <-g.done:
	}
	<-g.done
}
