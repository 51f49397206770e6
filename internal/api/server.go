// Package api provides the HTTP and WebSocket surface (component I):
// read-mostly projections of the Agent Loop, Event Bus and Version Store,
// plus the start/stop control endpoints. Grounded on the teacher's
// internal/api/server.go for its gorilla/mux router construction,
// cors.New(...).Handler(...) wrapping, json.NewDecoder/NewEncoder handler
// idiom, and http.Server with explicit Read/WriteTimeout and graceful
// Shutdown(ctx).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/internal/events"
	"github.com/hhlabs/trading-agent/pkg/types"
)

// AgentRuntime is the subset of *agent.Runtime the HTTP surface depends on.
// Declared as an interface (rather than importing internal/agent directly)
// so server_test.go can drive the surface against a small fake.
type AgentRuntime interface {
	Start(ctx context.Context) error
	Stop() error
	Status() types.AgentStatus
	Orders() ([]types.ClosedTrade, *types.Position)
	Simulations() []types.SimulationResult
	Versions() []types.AgentVersion
	Bus() *events.Bus
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*streamClient
	agent      AgentRuntime
	promReg    *prometheus.Registry
}

// streamClient is one connected /agent/events/stream websocket reader.
type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewServer constructs a Server wired to agent and ready to Start.
func NewServer(logger *zap.Logger, config *types.ServerConfig, agentRuntime AgentRuntime, promReg *prometheus.Registry) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		config:  config,
		router:  mux.NewRouter(),
		clients: make(map[string]*streamClient),
		agent:   agentRuntime,
		promReg: promReg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router so main can register additional
// routes before Start.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/agent/start", s.handleAgentStart).Methods(http.MethodPost)
	s.router.HandleFunc("/agent/stop", s.handleAgentStop).Methods(http.MethodPost)
	s.router.HandleFunc("/agent/status", s.handleAgentStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/orders", s.handleAgentOrders).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/versions", s.handleAgentVersions).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/simulations", s.handleAgentSimulations).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/events", s.handleAgentEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/events/latest", s.handleAgentEventsLatest).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/full-status", s.handleAgentFullStatus).Methods(http.MethodGet)
	s.router.HandleFunc(s.config.WebSocketPath, s.handleEventsStream)
}

// Start starts the HTTP server, wrapping the router in the cross-origin
// handler the polling UI needs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down, closing any open websocket streams.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "agent_id": s.config.Host})
}

func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Status())
}

func (s *Server) handleAgentOrders(w http.ResponseWriter, r *http.Request) {
	trades, open := s.agent.Orders()
	writeJSON(w, http.StatusOK, map[string]any{"closed": trades, "open": open})
}

func (s *Server) handleAgentVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"versions": s.agent.Versions()})
}

func (s *Server) handleAgentSimulations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"simulations": s.agent.Simulations()})
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	var typ *types.EventType
	if t := r.URL.Query().Get("type"); t != "" {
		et := types.EventType(t)
		typ = &et
	}
	events := s.agent.Bus().Get(limit, typ, nil)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "stats": s.agent.Bus().Stats()})
}

func (s *Server) handleAgentEventsLatest(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", 20)
	writeJSON(w, http.StatusOK, s.agent.Bus().Latest(count))
}

func (s *Server) handleAgentFullStatus(w http.ResponseWriter, r *http.Request) {
	trades, open := s.agent.Orders()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      s.agent.Status(),
		"orders":      map[string]any{"closed": trades, "open": open},
		"versions":    s.agent.Versions(),
		"simulations": s.agent.Simulations(),
		"events":      s.agent.Bus().Latest(50),
		"eventStats":  s.agent.Bus().Stats(),
	})
}

// handleEventsStream is a convenience websocket fan-out of the Event Bus;
// every fact it carries is also visible through GET /agent/events. Grounded
// on the teacher's Client{Send chan []byte} + writePump pattern.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{id: r.RemoteAddr, conn: conn, send: make(chan []byte, 64)}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	unsubscribe := s.agent.Bus().Subscribe(func(ev types.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case client.send <- payload:
		default: // slow consumer: drop rather than block the bus
		}
	})

	go s.writeStream(client)
	s.readStreamUntilClosed(client, unsubscribe)
}

func (s *Server) writeStream(c *streamClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readStreamUntilClosed(c *streamClient, unsubscribe int) {
	defer func() {
		s.agent.Bus().Unsubscribe(unsubscribe)
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
