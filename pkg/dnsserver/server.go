package dnsserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/miekg/dns"

	"localdns/pkg/config"
	"localdns/pkg/logging"
)

// Server runs the DNS listeners (UDP and/or TCP) over one Handler.
type Server struct {
	cfg       *config.ServerConfig
	handler   *Handler
	logger    *logging.Logger
	udpServer *dns.Server
	tcpServer *dns.Server
	running   bool
	mu        sync.Mutex
}

// NewServer creates a DNS server for the given listener configuration.
func NewServer(cfg *config.ServerConfig, handler *Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start runs the enabled listeners and blocks until the context is
// canceled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true

	if s.cfg.UDPEnabled {
		s.udpServer = &dns.Server{
			Addr:    s.cfg.ListenAddress,
			Net:     "udp",
			Handler: s.handler,
		}
	}
	if s.cfg.TCPEnabled {
		s.tcpServer = &dns.Server{
			Addr:    s.cfg.ListenAddress,
			Net:     "tcp",
			Handler: s.handler,
		}
	}
	s.mu.Unlock()

	errChan := make(chan error, 2)

	if s.udpServer != nil {
		go func() {
			s.logger.Info("Starting UDP DNS listener", "address", s.cfg.ListenAddress)
			if err := s.udpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("UDP server failed: %w", err)
			}
		}()
	}
	if s.tcpServer != nil {
		go func() {
			s.logger.Info("Starting TCP DNS listener", "address", s.cfg.ListenAddress)
			if err := s.tcpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("TCP server failed: %w", err)
			}
		}()
	}

	s.logger.Info("DNS server started",
		"address", s.cfg.ListenAddress,
		"udp", s.cfg.UDPEnabled,
		"tcp", s.cfg.TCPEnabled,
	)

	select {
	case <-ctx.Done():
		s.logger.Info("DNS server shutting down")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.logger.Error("DNS server error", "error", err)
		return err
	}
}

// Shutdown stops the listeners. Safe to call when not running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var errs []error
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown: %w", err))
		}
	}

	s.running = false

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	s.logger.Info("DNS server shut down")
	return nil
}

// IsRunning reports whether the listeners are active.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
