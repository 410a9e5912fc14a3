package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server accepts WebSocket connections on the configured path and hands
// each one to the Hub.
type Server struct {
	cfg      config.RelayConfig
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader

	listener net.Listener
	http     *http.Server
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewServer creates a relay server with the given configuration.
//
// Precondition: cfg must be valid; logger must be non-nil. A nil journal
// disables journaling.
// Postcondition: Returns a Server ready to be started with ListenAndServe.
func NewServer(cfg config.RelayConfig, journal Journal, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    NewHub(cfg.MaxSeats, journal, logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			// Participants are headsets and headless clients, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe starts the listener and serves connections until Stop is
// called. This method blocks until the server is stopped.
//
// Precondition: The server must not already be running.
// Postcondition: The listener is closed when this method returns.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.listener = listener
	s.http = srv
	s.running = true
	s.mu.Unlock()

	s.logger.Info("relay listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
		zap.Int("max_seats", s.cfg.MaxSeats),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving relay: %w", err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.quit:
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Added before the hijack so Stop's Shutdown orders it ahead of Wait.
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	s.serveConn(conn, r.RemoteAddr)
}

// serveConn runs one connection's read loop on the calling goroutine and
// its write loop on another.
func (s *Server) serveConn(conn *websocket.Conn, remoteAddr string) {
	start := time.Now()
	p := newPeer(remoteAddr, s.cfg.SendBuffer)
	if !s.hub.attach(p) {
		_ = conn.Close()
		return
	}

	s.logger.Info("client connected",
		zap.String("conn_id", p.id.String()),
		zap.String("remote_addr", remoteAddr),
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, p)
	}()

	err := s.readLoop(conn, p)

	s.hub.detach(p)
	p.kick()
	<-writerDone

	fields := []zap.Field{
		zap.String("conn_id", p.id.String()),
		zap.String("remote_addr", remoteAddr),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		s.logger.Debug("connection ended", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("connection ended cleanly", fields...)
	}
}

// readLoop returns nil when the peer closed normally.
func (s *Server) readLoop(conn *websocket.Conn, p *peer) error {
	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		if kind != websocket.TextMessage {
			s.logger.Debug("dropping non-text frame",
				zap.String("conn_id", p.id.String()),
				zap.Int("kind", kind),
			)
			continue
		}
		s.hub.handle(p, data)
	}
}

// writeLoop drains the peer's queue, pings on an interval, and closes the
// connection once the peer is kicked.
func (s *Server) writeLoop(conn *websocket.Conn, p *peer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		return conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame := <-p.send:
			if err := write(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("write failed", zap.String("conn_id", p.id.String()), zap.Error(err))
				p.kick()
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				p.kick()
				return
			}
		case <-p.closed:
			for {
				select {
				case frame := <-p.send:
					if err := write(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = write(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// Stop closes the listener, disconnects every peer and waits for their
// goroutines to exit.
//
// Postcondition: All connections are closed.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	close(s.quit)
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	s.hub.closeAll()
	s.wg.Wait()

	s.logger.Info("relay stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
