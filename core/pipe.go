package core

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/0xef53/vsock-proxy/internal/netutil"

	"golang.org/x/sync/errgroup"
)

// PipeStats holds the number of bytes relayed in each direction.
type PipeStats struct {
	Sent     int64 // inbound -> outbound
	Received int64 // outbound -> inbound
}

type closeWriter interface {
	CloseWrite() error
}

// Pipe relays bytes between inbound and outbound until both directions
// are finished or one of them fails.
//
// When a direction reaches EOF, the write half of the opposite connection
// is closed so the peer sees the half-close. The first I/O error aborts
// both directions. Both connections are closed when Pipe returns.
func Pipe(inbound, outbound net.Conn) (PipeStats, error) {
	p := pipe{inbound: inbound, outbound: outbound}

	return p.run()
}

type pipe struct {
	inbound  net.Conn
	outbound net.Conn

	// Set once the pipe itself starts closing connections.
	// Errors caused by that are not reported.
	closing   atomic.Bool
	closeOnce sync.Once
}

func (p *pipe) run() (PipeStats, error) {
	var stats PipeStats

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() (err error) {
		stats.Sent, err = p.relay(p.outbound, p.inbound, "inbound->outbound")
		return err
	})

	group.Go(func() (err error) {
		stats.Received, err = p.relay(p.inbound, p.outbound, "outbound->inbound")
		return err
	})

	// The group context is done either on the first error
	// or when both directions have returned.
	go func() {
		<-ctx.Done()
		p.close()
	}()

	err := group.Wait()

	p.close()

	return stats, err
}

func (p *pipe) relay(dst, src net.Conn, direction string) (int64, error) {
	n, err := io.Copy(dst, src)
	if err != nil {
		if p.closing.Load() {
			return n, nil
		}

		return n, &PipeError{Direction: direction, Err: err}
	}

	// src is at EOF: pass the half-close on.
	if cw, ok := dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil && !netutil.IsExpectedCloseError(err) && !p.closing.Load() {
			return n, &PipeError{Direction: direction, Err: err}
		}

		return n, nil
	}

	// No half-close available, the whole pipe has to go down.
	p.close()

	return n, nil
}

func (p *pipe) close() {
	p.closeOnce.Do(func() {
		p.closing.Store(true)

		p.inbound.Close()
		p.outbound.Close()
	})
}
