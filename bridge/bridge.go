// Package bridge exposes the session manager across the process boundary: clients send
// method calls over a WebSocket and receive one reply per call plus every stream event.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/events"
	"github.com/srg/kbridge/internal/groutine"
	"github.com/srg/kbridge/internal/registry"
	"github.com/srg/kbridge/internal/session"
)

const (
	writeTimeout    = 5 * time.Second
	maxMessageBytes = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Session is the part of the session manager the bridge forwards to.
type Session interface {
	StartScan(ctx context.Context, prefix string) error
	StopScan(ctx context.Context) error
	Connect(ctx context.Context, id, secret string, timeout time.Duration) (*session.Result[string], error)
	Disconnect(ctx context.Context) error
	ScanWifiNetworks(ctx context.Context, id, proof string) (*session.Result[[]string], error)
	ProvisionWifi(ctx context.Context, id, proof, ssid, passphrase string) (*session.Result[bool], error)
	ChangeDeviceName(ctx context.Context, name string) (*session.Result[string], error)
	Devices(ctx context.Context) ([]registry.Peripheral, error)
	Subscribe() *events.Subscription
}

// Server serves the /ws endpoint and a /healthz probe.
type Server struct {
	session  Session
	logger   *logrus.Logger
	handlers map[string]method
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

func NewServer(s Session, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	srv := &Server{
		session: s,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// local tooling connects from arbitrary origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
	srv.handlers = srv.methods()
	return srv
}

// Handler returns the HTTP routes of the bridge.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	groutine.Go(ctx, "bridge-http", func(context.Context) {
		errCh <- httpSrv.ListenAndServe()
	})
	s.logger.WithField("addr", addr).Info("Bridge listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.closeClients()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.Clients()})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), conn, s.logger)
	s.register(c)
	defer s.unregister(c)

	c.serve(r.Context(), s)
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	c.log.WithField("remote", c.conn.RemoteAddr().String()).Info("Client connected")
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.log.Info("Client disconnected")
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "bridge shutting down")
	}
}
