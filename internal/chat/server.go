package chat

import (
	"context"
	"log/slog"
	"net"
	"sync"
)

// Server accepts TCP clients and runs the line protocol for each.
type Server struct {
	addr     string
	logger   *slog.Logger
	gw       *Gateway
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(addr string, gw *Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		logger: logger,
		gw:     gw,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("tcp gateway started", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, cancels running sessions and waits for them to
// leave the hub.
func (s *Server) Stop() {
	s.logger.Info("tcp gateway shutting down")

	if s.listener != nil {
		s.listener.Close()
	}
	s.cancel()
	s.wg.Wait()

	s.logger.Info("tcp gateway shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// listener closed: normal shutdown
			return
		}

		s.logger.Info("client connected", "addr", conn.RemoteAddr().String(), "transport", "tcp")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			// Unblock the session's read on shutdown.
			_ = conn.Close()
		case <-done:
		}
	}()
	s.gw.HandleLineSession(s.ctx, conn)
}
