// Package stream serves simulation frames to websocket clients as msgpack
// encoded binary messages.
package stream

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeusync/ballphys/internal/core/events/bus"
	"github.com/zeusync/ballphys/internal/core/observability/log"
)

var (
	ErrAlreadyRunning = errors.New("stream: server already running")
	ErrNotRunning     = errors.New("stream: server not running")
)

// Config is the listener setup. Every > 1 forwards only every n-th frame.
type Config struct {
	Address      string
	Path         string
	WriteTimeout time.Duration
	Every        int
}

type Server struct {
	config   Config
	logger   log.Log
	upgrader websocket.Upgrader

	clients   map[string]*Connection
	clientsMu sync.RWMutex

	running  atomic.Bool
	server   *http.Server
	listener net.Listener
	serveErr chan error

	broadcasts atomic.Uint64
	dropped    atomic.Uint64
}

func New(config Config, logger log.Log) *Server {
	if config.Path == "" {
		config.Path = "/frames"
	}
	if config.Every < 1 {
		config.Every = 1
	}
	return &Server{
		config: config,
		logger: log.OrNop(logger).With(log.String("component", "stream")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// frames are public read-only data
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*Connection),
	}
}

// Handler serves the frame stream on the configured path and a plain
// health check on /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleStream)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.running.Store(false)
		return errors.Wrapf(err, "failed to listen on %s", s.config.Address)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	go func() {
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("frame stream server failed", log.Error(err))
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	s.logger.Info("frame stream listening",
		log.String("address", ln.Addr().String()),
		log.String("path", s.config.Path))
	return nil
}

// Addr is the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every client and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	s.clientsMu.Lock()
	for id, c := range s.clients {
		_ = c.CloseWithReason("server shutdown")
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown frame stream")
	}
	if err := <-s.serveErr; err != nil {
		return errors.Wrap(err, "frame stream server failed")
	}
	s.logger.Info("frame stream stopped")
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast encodes v once and queues it for every client. It never waits on
// a socket: a client whose queue is full misses this frame, and a closed
// client is removed. Neither is an error for the caller.
func (s *Server) Broadcast(v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode frame")
	}

	s.clientsMu.RLock()
	targets := make([]*Connection, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range targets {
		switch err := c.Send(data); {
		case err == nil:
		case errors.Is(err, ErrSendQueueFull):
			s.dropped.Add(1)
		default:
			s.dropped.Add(1)
			s.remove(c)
		}
	}
	s.broadcasts.Add(1)
	return nil
}

// Broadcasts counts Broadcast calls that encoded successfully.
func (s *Server) Broadcasts() uint64 { return s.broadcasts.Load() }

// Dropped counts frames a client did not get, either because its queue was
// full or because it had gone away.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Attach forwards bus.TypeFrame events to the clients. The returned
// subscription detaches the stream when cancelled.
func (s *Server) Attach(b bus.EventBus) (bus.Subscription, error) {
	every := uint64(s.config.Every)
	return b.Subscribe(bus.TypeFrame, func(ev bus.Event) error {
		if ev.Frame%every != 0 || s.Clients() == 0 {
			return nil
		}
		return s.Broadcast(ev.Data)
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	c := newConnection(ws, s.config.WriteTimeout)
	s.clientsMu.Lock()
	s.clients[c.ID()] = c
	s.clientsMu.Unlock()

	s.logger.Info("frame client connected",
		log.String("client_id", c.ID()),
		log.String("remote", c.RemoteAddr().String()))

	go c.writePump(func(err error) {
		s.logger.Debug("dropping frame client", log.String("client_id", c.ID()), log.Error(err))
		s.remove(c)
	})

	c.discardReads()
	s.remove(c)
}

func (s *Server) remove(c *Connection) {
	s.clientsMu.Lock()
	_, ok := s.clients[c.ID()]
	delete(s.clients, c.ID())
	s.clientsMu.Unlock()

	_ = c.Close()
	if ok {
		s.logger.Info("frame client disconnected",
			log.String("client_id", c.ID()),
			log.Uint64("messages_sent", c.MessagesSent()))
	}
}
