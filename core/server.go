package core

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/0xef53/vsock-proxy/internal/netutil"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Server accepts connections on a listener and relays each of them
// to a fresh connection to the destination endpoint.
type Server struct {
	listener    net.Listener
	destination Endpoint

	maxConns int
	slots    *semaphore.Weighted

	active atomic.Int64
	total  atomic.Uint64
}

type Option func(*Server)

// WithMaxConns limits the number of simultaneously accepted connections.
// Zero or a negative value means no limit.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

func NewServer(listener net.Listener, destination Endpoint, opts ...Option) *Server {
	srv := Server{
		listener:    listener,
		destination: destination,
	}

	for _, opt := range opts {
		opt(&srv)
	}

	if srv.maxConns > 0 {
		srv.slots = semaphore.NewWeighted(int64(srv.maxConns))
	}

	return &srv
}

// ListenAndServe binds a listener on source and serves until ctx is done.
func ListenAndServe(ctx context.Context, source, destination Endpoint, opts ...Option) error {
	l, err := source.Listen()
	if err != nil {
		return err
	}

	return NewServer(l, destination, opts...).Serve(ctx)
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Active returns the number of connections currently being relayed.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// Total returns the number of connections accepted so far.
func (s *Server) Total() uint64 {
	return s.total.Load()
}

// Serve runs the accept loop. A failed accept or a failed dial
// only affects a single connection. Serve returns nil once ctx is done
// or the listener is closed. Connections that are already being relayed
// are not interrupted.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.listener.Close()
	})
	defer stop()

	log.WithFields(log.Fields{
		"source":      s.listener.Addr().String(),
		"destination": s.destination.String(),
	}).Info("Accepting connections")

	var tempDelay time.Duration

	for {
		// A slot is taken before Accept so that connections over the limit
		// stay in the listen backlog.
		if err := s.acquire(ctx); err != nil {
			return nil
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.release()

			if ctx.Err() != nil || netutil.IsClosedListenerError(err) {
				return nil
			}

			// Avoid spinning on persistent errors like EMFILE
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}

			log.Warnf("Failed to accept incoming connection: %s", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(tempDelay):
			}

			continue
		}

		tempDelay = 0

		s.total.Add(1)

		go func() {
			defer s.release()

			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) acquire(ctx context.Context) error {
	if s.slots == nil {
		return nil
	}

	return s.slots.Acquire(ctx, 1)
}

func (s *Server) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func (s *Server) handle(ctx context.Context, inbound net.Conn) {
	logger := log.WithFields(log.Fields{
		"conn":   uuid.New().String(),
		"remote": inbound.RemoteAddr().String(),
	})

	logger.Debug("Connection accepted")

	outbound, err := s.destination.Dial(ctx)
	if err != nil {
		inbound.Close()

		logger.Errorf("Failed to create destination connection: %s", err)

		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	stats, err := Pipe(inbound, outbound)

	logger = logger.WithFields(log.Fields{
		"sent":     stats.Sent,
		"received": stats.Received,
	})

	switch {
	case err == nil:
		logger.Debug("Connection closed")
	case netutil.IsExpectedCloseError(err):
		logger.Debugf("Connection closed: %s", err)
	default:
		logger.Warnf("Error during proxy operation: %s", err)
	}
}
