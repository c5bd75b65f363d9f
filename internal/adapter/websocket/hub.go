// Package websocket pushes presence notifications and nearby-user snapshots
// to connected browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/metrics"
)

const commandTimeout = 5 * time.Second

var ErrHubStopped = errors.New("websocket hub stopped")

var (
	_ domain.Notifier       = (*Hub)(nil)
	_ domain.NearbyListener = (*Hub)(nil)
)

type notificationMessage struct {
	Type string `json:"type"`
	domain.Notification
}

type nearbyMessage struct {
	Type  string              `json:"type"`
	Users []domain.NearbyUser `json:"users"`
}

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	connection *websocket.Conn
}

type publishCmd struct {
	baseHubCmd
	data []byte
	// retain keeps data as the snapshot replayed to clients that join later.
	retain bool
}

type clientCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub fans messages out to every connected client. All state is owned by a
// single goroutine and mutated through commands.
type Hub struct {
	cmdCh      chan hubCmd
	clock      clockwork.Clock
	clients    map[*websocket.Conn]*clientWriter
	maxClients int
	snapshot   []byte
	done       chan struct{}
}

func NewHub(clock clockwork.Clock, maxClients int) *Hub {
	h := &Hub{
		cmdCh:      make(chan hubCmd, 256),
		clock:      clock,
		clients:    make(map[*websocket.Conn]*clientWriter),
		maxClients: maxClients,
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// Serve registers conn and reads from it until the client goes away. Reading
// is what processes pong and close frames.
func (h *Hub) Serve(conn *websocket.Conn) error {
	if err := h.Register(conn); err != nil {
		return err
	}
	defer h.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read failed", "error", err)
			}
			return nil
		}
	}
}

func (h *Hub) Register(conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	if !h.send(registerCmd{connection: conn, errorChannel: errCh}) {
		_ = conn.Close()
		return ErrHubStopped
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-h.done:
		_ = conn.Close()
		return ErrHubStopped
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.send(unregisterCmd{connection: conn})
}

// ClientCount returns the number of connected clients, or -1 when the hub
// does not answer in time.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	if !h.send(clientCountCmd{replyChannel: replyCh}) {
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-h.done:
		return 0
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

func (h *Hub) Notify(ctx context.Context, n domain.Notification) {
	data, err := json.Marshal(notificationMessage{Type: "notification", Notification: n})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal notification", "error", err)
		return
	}
	h.send(publishCmd{data: data})
}

func (h *Hub) NearbyUpdated(users []domain.NearbyUser) {
	if users == nil {
		users = []domain.NearbyUser{}
	}
	data, err := json.Marshal(nearbyMessage{Type: "nearby", Users: users})
	if err != nil {
		slog.Error("Failed to marshal nearby snapshot", "error", err)
		return
	}
	h.send(publishCmd{data: data, retain: true})
}

// Stop closes all client connections and waits for the hub goroutine.
func (h *Hub) Stop() {
	if !h.send(stopCmd{}) {
		return
	}
	<-h.done
}

func (h *Hub) send(cmd hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c.connection)
		case publishCmd:
			h.handlePublish(c)
		case clientCountCmd:
			c.replyChannel <- len(h.clients)
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if len(h.clients) >= h.maxClients {
		slog.Warn("Rejecting client: max clients reached", "max_clients", h.maxClients)
		_ = c.connection.Close()
		c.errorChannel <- fmt.Errorf("max clients (%d) reached", h.maxClients)
		return
	}

	cw := newClientWriter(c.connection, h.clock)
	h.clients[c.connection] = cw
	if h.snapshot != nil {
		cw.trySend(h.snapshot)
	}

	metrics.WebSocketConnectionsCurrent.Set(float64(len(h.clients)))
	slog.Debug("Client registered", "total_clients", len(h.clients))
	c.errorChannel <- nil
}

func (h *Hub) handleUnregister(conn *websocket.Conn) {
	cw, exists := h.clients[conn]
	if !exists {
		return
	}

	cw.stop()
	delete(h.clients, conn)
	metrics.WebSocketConnectionsCurrent.Set(float64(len(h.clients)))
	slog.Debug("Client unregistered", "remaining_clients", len(h.clients))
}

func (h *Hub) handlePublish(c publishCmd) {
	if c.retain {
		h.snapshot = c.data
	}

	var slow []*websocket.Conn
	for conn, cw := range h.clients {
		if !cw.trySend(c.data) {
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow client")
		metrics.WebSocketMessagesDropped.Inc()
		h.handleUnregister(conn)
	}
}

func (h *Hub) handleStop() {
	slog.Info("WebSocket hub shutting down", "clients", len(h.clients))
	for conn, cw := range h.clients {
		cw.stopGraceful("Server shutting down")
		delete(h.clients, conn)
	}
	metrics.WebSocketConnectionsCurrent.Set(0)
}
