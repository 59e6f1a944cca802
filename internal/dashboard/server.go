// Package dashboard provides a real-time WebSocket view of the synced tree.
//
// The server implements the controller's Renderer contract by broadcasting
// every rendered snapshot, plus entity lifecycle and stats messages, to all
// connected WebSocket clients. It also exposes /health and Prometheus
// /metrics endpoints.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Erikvl87/todosync/internal/controller"
	"github.com/Erikvl87/todosync/internal/metrics"
	"github.com/Erikvl87/todosync/internal/model"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeSnapshot carries a full rendered snapshot.
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeEnter indicates an entity entered the visible tree.
	MessageTypeEnter MessageType = "enter"

	// MessageTypeExit indicates an entity left the visible tree.
	MessageTypeExit MessageType = "exit"

	// MessageTypeTreeChange indicates a render pass completed.
	MessageTypeTreeChange MessageType = "tree_change"

	// MessageTypeStats carries store statistics.
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntityData identifies the entity a lifecycle message refers to.
type EntityData struct {
	EntityID string `json:"entity_id"`
}

// StatsData contains store statistics, attached to tree_change broadcasts.
type StatsData struct {
	Tasks    int `json:"tasks"`
	Sections int `json:"sections"`
}

// StatsFunc supplies current store counts for stats broadcasts.
type StatsFunc func() (tasks, sections int)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: ":8080").
	Addr string

	// Stats supplies store counts for tree_change broadcasts. Optional.
	Stats StatsFunc

	// Metrics exposes the engine registry on /metrics when non-nil.
	Metrics *metrics.Set

	// Logger for server activity.
	Logger *log.Logger
}

// Server broadcasts sync state to WebSocket clients and implements the
// controller's Renderer contract.
type Server struct {
	addr     string
	stats    StatsFunc
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// visible tracks ids present in the last broadcast snapshot, backing
	// FindElement.
	visible   map[string]bool
	visibleMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server. Call Start to begin listening.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:      cfg.Addr,
		stats:     cfg.Stats,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		visible:   make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if cfg.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start begins the HTTP server and the broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dashboard server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and closes all client connections.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Render implements controller.Renderer by broadcasting the snapshot.
func (s *Server) Render(snap *model.Snapshot) {
	visible := make(map[string]bool)
	for _, sec := range snap.Sections {
		visible[sec.Section.ID] = true
		markVisible(visible, sec.Tasks)
	}
	markVisible(visible, snap.Unsectioned)

	s.visibleMu.Lock()
	s.visible = visible
	s.visibleMu.Unlock()

	s.send(MessageTypeSnapshot, snap)
}

// FindElement implements controller.Renderer. The handle for a broadcast
// element is its entity id.
func (s *Server) FindElement(entityID string) controller.Handle {
	s.visibleMu.RLock()
	defer s.visibleMu.RUnlock()
	if s.visible[entityID] {
		return entityID
	}
	return nil
}

// OnAdd implements controller.Renderer.
func (s *Server) OnAdd(h controller.Handle, entityID string) {
	s.send(MessageTypeEnter, EntityData{EntityID: entityID})
}

// OnRemove implements controller.Renderer. Broadcast clients play their own
// transitions; the exit completes as soon as the message is queued.
func (s *Server) OnRemove(h controller.Handle, done func()) {
	if id, ok := h.(string); ok {
		s.send(MessageTypeExit, EntityData{EntityID: id})
	}
	done()
}

// OnTreeChange implements controller.Renderer.
func (s *Server) OnTreeChange() {
	s.send(MessageTypeTreeChange, nil)
	if s.stats != nil {
		tasks, sections := s.stats()
		s.send(MessageTypeStats, StatsData{Tasks: tasks, Sections: sections})
	}
}

// send marshals data and queues a broadcast, dropping the message when the
// channel is full.
func (s *Server) send(typ MessageType, data any) {
	msg := Message{Type: typ, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.logger.Error("failed to marshal broadcast", "type", typ, "err", err)
			return
		}
		msg.Data = raw
	}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message", "type", typ)
	}
}

// broadcastLoop fans queued messages out to all connected clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal message", "err", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info("dashboard client connected", "total", count)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects. Client
// messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("dashboard client disconnected", "total", count)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": count,
	})
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// markVisible records every task id in a snapshot subtree.
func markVisible(visible map[string]bool, nodes []*model.TaskNode) {
	stack := append([]*model.TaskNode(nil), nodes...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visible[node.ID] = true
		stack = append(stack, node.Children...)
	}
}
