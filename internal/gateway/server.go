// Package gateway exposes the moderation sidecar to game servers over
// WebSocket. A host connects to /ws, streams player events in, and receives
// verdicts and deliveries back on the same connection. The host population
// is small and trusted, so each connection gets its own reader goroutine.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/gameforge/chatguard/internal/admin"
	"github.com/gameforge/chatguard/internal/engine"
	"github.com/gameforge/chatguard/internal/messaging"
	"github.com/gameforge/chatguard/internal/metrics"
	"github.com/gameforge/chatguard/internal/profile"
	"github.com/gameforge/chatguard/internal/protocol"
)

// Config holds tunable parameters for the gateway server.
type Config struct {
	ListenAddr   string        // address to listen on, e.g. ":8080"
	WriteTimeout time.Duration // timeout for WebSocket write operations
	PingInterval time.Duration // interval between server-initiated pings
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// KickRecorder tracks spam kicks for auto-mute escalation, satisfied by the
// Redis mute store.
type KickRecorder interface {
	RecordKick(ctx context.Context, key, reason string) (bool, time.Duration, error)
}

// EventPublisher fans moderation outcomes out to observers; satisfied by the
// NATS client. A nil publisher disables fan-out.
type EventPublisher interface {
	PublishBroadcast(ev messaging.BroadcastEvent) error
	PublishModeration(ev messaging.ModerationEvent) error
}

// Conn is one attached host connection with a write mutex serializing
// outbound frames.
type Conn struct {
	ID      string
	netConn net.Conn
	writeMu sync.Mutex
}

// write sends a WebSocket text frame to the host.
func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.netConn, ws.OpText, data)
}

// ping sends a WebSocket ping control frame.
func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.netConn, ws.OpPing, nil)
}

// Gateway is the WebSocket server hosts attach to. It implements
// engine.BroadcastSink so delivered chat flows straight back out.
type Gateway struct {
	config Config
	roster *Roster

	engine *engine.Engine
	admin  *admin.Service
	kicks  KickRecorder
	events EventPublisher

	mu    sync.RWMutex
	conns map[string]*Conn

	httpServer *http.Server
	startedAt  time.Time
	done       chan struct{}
}

// New creates a gateway. The engine is attached afterwards with SetEngine
// because the engine needs the gateway as its broadcast sink. events may be
// nil to disable NATS fan-out.
func New(config Config, roster *Roster, adminSvc *admin.Service, kicks KickRecorder, events EventPublisher) *Gateway {
	return &Gateway{
		config: config,
		roster: roster,
		admin:  adminSvc,
		kicks:  kicks,
		events: events,
		conns:  make(map[string]*Conn),
		done:   make(chan struct{}),
	}
}

// SetEngine attaches the moderation engine. Must be called before Start.
func (g *Gateway) SetEngine(e *engine.Engine) {
	g.engine = e
}

// SetAdmin attaches the admin service. Must be called before Start when the
// service is not passed to New.
func (g *Gateway) SetAdmin(s *admin.Service) {
	g.admin = s
}

// Start begins accepting host connections and blocks until the listener
// fails or Shutdown is called.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleUpgrade)
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	g.httpServer = &http.Server{
		Addr:    g.config.ListenAddr,
		Handler: mux,
	}

	log.Printf("[gateway] listening on %s", g.config.ListenAddr)
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader and starts the per-connection loops.
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	c := &Conn{ID: uuid.New().String(), netConn: netConn}

	g.mu.Lock()
	g.conns[c.ID] = c
	total := len(g.conns)
	g.mu.Unlock()
	metrics.HostConnections.Inc()

	log.Printf("[gateway] host attached conn=%s remote=%s (total=%d)", c.ID, netConn.RemoteAddr(), total)

	go g.pingLoop(c)
	go g.readLoop(c)
}

// readLoop reads frames from one host connection until it dies.
func (g *Gateway) readLoop(c *Conn) {
	defer g.removeConn(c)

	for {
		data, err := wsutil.ReadClientText(c.netConn)
		if err != nil {
			select {
			case <-g.done:
			default:
				log.Printf("[gateway] read error conn=%s: %v", c.ID, err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		g.dispatch(c, data)
	}
}

// pingLoop keeps the connection alive with periodic ping control frames.
// Dead connections surface as read errors in readLoop.
func (g *Gateway) pingLoop(c *Conn) {
	if g.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// removeConn drops a connection from the registry and closes it.
func (g *Gateway) removeConn(c *Conn) {
	g.mu.Lock()
	_, ok := g.conns[c.ID]
	if ok {
		delete(g.conns, c.ID)
	}
	total := len(g.conns)
	g.mu.Unlock()

	if !ok {
		return
	}
	c.netConn.Close()
	metrics.HostConnections.Dec()
	log.Printf("[gateway] host detached conn=%s (total=%d)", c.ID, total)
}

// handleHealth reports liveness, attached hosts, and uptime as JSON.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.mu.RLock()
	hosts := len(g.conns)
	g.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status  string `json:"status"`
		Hosts   int    `json:"hosts"`
		Players int    `json:"players"`
		Uptime  string `json:"uptime"`
	}{
		Status:  "ok",
		Hosts:   hosts,
		Players: g.roster.Count(),
		Uptime:  time.Since(g.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// send marshals a sidecar message and writes it to one connection.
func (g *Gateway) send(c *Conn, msgType string, payload interface{}) {
	data, err := protocol.NewSidecarMessage(msgType, payload)
	if err != nil {
		log.Printf("[gateway] build %s: %v", msgType, err)
		return
	}
	if g.config.WriteTimeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	}
	if err := c.write(data); err != nil {
		log.Printf("[gateway] write %s conn=%s: %v", msgType, c.ID, err)
	}
	_ = c.netConn.SetWriteDeadline(time.Time{})
}

// sendAll writes a sidecar message to every attached host.
func (g *Gateway) sendAll(msgType string, payload interface{}) error {
	data, err := protocol.NewSidecarMessage(msgType, payload)
	if err != nil {
		return fmt.Errorf("gateway: build %s: %w", msgType, err)
	}

	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	// Individual write failures are left to the read loop to clean up.
	for _, c := range conns {
		_ = c.write(data)
	}
	return nil
}

// Broadcast implements engine.BroadcastSink: formatted chat lines go to
// every attached host and onto the NATS broadcast subject.
func (g *Gateway) Broadcast(_ context.Context, message string, color profile.Color) error {
	if g.events != nil {
		if err := g.events.PublishBroadcast(messaging.BroadcastEvent{
			Message: message,
			Color:   color.String(),
			Ts:      time.Now().Unix(),
		}); err != nil {
			log.Printf("[gateway] publish broadcast: %v", err)
		}
	}
	return g.sendAll(protocol.TypeBroadcast, protocol.BroadcastMsg{
		Message: message,
		Color:   color.String(),
	})
}

// Shutdown stops the listener and closes all attached connections.
func (g *Gateway) Shutdown() error {
	log.Printf("[gateway] shutting down...")
	close(g.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[gateway] http shutdown error: %v", err)
	}

	g.mu.Lock()
	for id, c := range g.conns {
		c.netConn.Close()
		delete(g.conns, id)
	}
	g.mu.Unlock()

	log.Printf("[gateway] stopped, all host connections closed")
	return nil
}
