// Package server is the whiteboard relay. It accepts participants over TCP
// and websocket, decodes their lines, and fans every valid command out to
// everyone else through a single Hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"whiteboard/discovery"
	"whiteboard/transport"
)

// Config is the relay's runtime configuration. An empty HTTPAddr disables
// the admin and websocket endpoint.
type Config struct {
	ListenAddr   string
	HTTPAddr     string
	SendBuffer   int
	MaxLineBytes int
	WriteTimeout time.Duration
	Advertise    bool
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

type Server struct {
	cfg    Config
	logger logrus.FieldLogger

	hub    *Hub
	bus    *EventBus
	roster *Roster

	listener   net.Listener
	httpLn     net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	advertiser *discovery.Advertiser

	stopHub context.CancelFunc
	wg      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg Config, logger logrus.FieldLogger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	bus := NewEventBus(logger)
	return &Server{
		cfg:    cfg,
		logger: logger,
		hub:    NewHub(bus, logger),
		bus:    bus,
		roster: NewRoster(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the board has no authentication, any origin may join
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start binds the listeners and begins accepting participants. Errors here
// are fatal: nothing is left running when Start fails.
func (s *Server) Start() (err error) {
	hubCtx, stopHub := context.WithCancel(context.Background())
	s.stopHub = stopHub
	defer func() {
		if err != nil {
			s.teardown()
		}
	}()

	if err := s.roster.Attach(hubCtx, s.bus); err != nil {
		return fmt.Errorf("attach roster: %w", err)
	}

	s.listener, err = net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	if s.cfg.HTTPAddr != "" {
		s.httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}
	}

	if s.cfg.Advertise {
		port := s.listener.Addr().(*net.TCPAddr).Port
		s.advertiser, err = discovery.Advertise(port, s.logger)
		if err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(hubCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	if s.httpLn != nil {
		s.httpServer = &http.Server{
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.WithError(err).Error("http server stopped")
			}
		}()
		s.logger.WithField("addr", s.httpLn.Addr().String()).Info("admin endpoint listening")
	}

	s.logger.WithField("addr", s.listener.Addr().String()).Info("relay listening")
	return nil
}

// Addr is the bound TCP address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// HTTPAddr is the bound admin address, or nil when it is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Roster() *Roster {
	return s.roster
}

// Shutdown stops accepting, closes every session, then withdraws the mDNS
// advertisement. It waits for the relay's goroutines or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down relay")
		s.shutdownErr = s.teardownContext(ctx)
	})
	return s.shutdownErr
}

func (s *Server) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.teardownContext(ctx)
}

func (s *Server) teardownContext(ctx context.Context) error {
	var errs []error

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	} else if s.httpLn != nil {
		_ = s.httpLn.Close()
	}

	if s.stopHub != nil {
		s.stopHub()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for relay goroutines: %w", ctx.Err()))
	}

	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}

	if s.advertiser != nil {
		if err := s.advertiser.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("stop mDNS: %w", err))
		}
	}
	return errors.Join(errs...)
}

// acceptLoop hands each new connection to its own session. Transient
// accept errors back off and retry; a closed listener ends the loop.
func (s *Server) acceptLoop() {
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.WithError(err).WithField("retry_in", backoff).Warn("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.accept(transport.NewLineConn(conn, s.connOptions()))
	}
}

// accept registers a session for conn and starts its pumps.
func (s *Server) accept(conn transport.Conn) {
	session := newSession(conn, s.hub, s.cfg.SendBuffer, s.logger)
	if err := s.hub.Register(session); err != nil {
		session.logger.WithError(err).Warn("rejecting connection")
		session.Close()
		return
	}
	session.start()
}

func (s *Server) connOptions() transport.Options {
	return transport.Options{
		MaxLineBytes: s.cfg.MaxLineBytes,
		WriteTimeout: s.cfg.WriteTimeout,
	}
}
