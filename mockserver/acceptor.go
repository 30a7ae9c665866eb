package mockserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Error("accept error", slog.Any("error", err))
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			s.release()
			return
		}

		go func() {
			defer s.wg.Done()
			defer s.release()
			defer s.untrack(conn)

			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn) {
	c := newConnection(s, raw)
	c.logger.Debug("connection accepted")

	dispatcher, tlsConfig := s.currentDispatcher()
	err := c.serve(ctx, dispatcher, tlsConfig)

	switch {
	case err == nil, ctx.Err() != nil:
		c.logger.Debug("connection closed")
	case errors.Is(err, ErrNoScriptedResponse):
		// already reported by fail
	default:
		c.logger.Warn("connection failed", slog.Any("error", err))
	}
}

// track registers conn so Stop can close it. It fails once Stop has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, conn)
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
