package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/iliyamo/movieflix-seatlock/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	maxMessageSize    = 4096
	messageBufferSize = 16
)

// WSPeer adapts a websocket connection to Peer. Writes happen on a single
// goroutine fed by a bounded channel.
type WSPeer struct {
	id          string
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewWSPeer assigns a fresh connection id and starts the writer.
func NewWSPeer(connection *websocket.Conn, clock clockwork.Clock) *WSPeer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	p := &WSPeer{
		id:          uuid.NewString(),
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	p.configureReadSide()
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *WSPeer) ID() string { return p.id }

// Send queues msg without blocking. It returns false once the peer is closed
// or when the buffer is full.
func (p *WSPeer) Send(msg []byte) bool {
	select {
	case <-p.doneChannel:
		return false
	default:
	}
	select {
	case p.sendChannel <- msg:
		return true
	default:
		return false
	}
}

// Close stops the writer and closes the socket, which unblocks the read loop.
func (p *WSPeer) Close() {
	p.stopOnce.Do(func() {
		close(p.doneChannel)
		_ = p.connection.Close()
	})
}

// Wait blocks until the writer goroutine has exited.
func (p *WSPeer) Wait() { p.wg.Wait() }

func (p *WSPeer) run() {
	ticker := p.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.sendChannel:
			p.updateWriteDeadline()
			if err := p.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.Close()
				return
			}
		case <-ticker.Chan():
			p.updateWriteDeadline()
			if err := p.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.RealtimePingFailures.Inc()
				p.Close()
				return
			}
		case <-p.doneChannel:
			return
		}
	}
}

func (p *WSPeer) configureReadSide() {
	p.connection.SetReadLimit(maxMessageSize)
	p.updateReadDeadline()
	p.connection.SetPongHandler(func(string) error {
		p.updateReadDeadline()
		return nil
	})
}

func (p *WSPeer) updateWriteDeadline() {
	_ = p.connection.SetWriteDeadline(p.clock.Now().Add(writeDeadline))
}

func (p *WSPeer) updateReadDeadline() {
	_ = p.connection.SetReadDeadline(p.clock.Now().Add(pongDeadline))
}

// ServeOptions tunes the inbound side of a connection.
type ServeOptions struct {
	// EventRate is the sustained number of client events per second.
	EventRate float64
	// EventBurst is how many events may arrive back to back.
	EventBurst int
	Clock      clockwork.Clock
}

func (o ServeOptions) withDefaults() ServeOptions {
	if o.EventRate <= 0 {
		o.EventRate = 20
	}
	if o.EventBurst <= 0 {
		o.EventBurst = 40
	}
	return o
}

// Serve registers connection with g and pumps its frames into the gateway
// until the client goes away. It always disconnects the peer before
// returning, which releases every lock the connection held.
func Serve(g *Gateway, connection *websocket.Conn, opts ServeOptions) {
	opts = opts.withDefaults()
	peer := NewWSPeer(connection, opts.Clock)
	if err := g.Connect(peer); err != nil {
		slog.Warn("Failed to register realtime client", "error", err)
		peer.Close()
		peer.Wait()
		return
	}
	defer func() {
		g.Disconnect(peer.ID())
		peer.Close()
		peer.Wait()
	}()

	limiter := rate.NewLimiter(rate.Limit(opts.EventRate), opts.EventBurst)
	for {
		_, msg, err := connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Realtime read ended", "conn", peer.ID(), "error", err)
			}
			return
		}
		peer.updateReadDeadline()

		if !limiter.Allow() {
			metrics.RealtimeEvents.WithLabelValues("unknown", "rate_limited").Inc()
			peer.Send(encode(EventError, ErrorPayload{Message: "rate limit exceeded"}))
			continue
		}
		if err := g.Handle(peer.ID(), msg); err != nil {
			return
		}
	}
}
