// Package dispatch accepts client connections and feeds them to a fixed
// pool of worker goroutines through a bounded queue.
package dispatch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/postbox/internal/logging"
	"github.com/dmitrijs2005/postbox/internal/protocol"
)

// Handler processes one decoded request. The reader is positioned right
// after the operation name; the handler reads its own fields from it and
// writes the reply to conn.
type Handler interface {
	HandleRequest(ctx context.Context, op string, conn net.Conn, r io.Reader)
}

type Dispatcher struct {
	address   string
	queueSize int
	workers   int
	handler   Handler
	logger    logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

func NewDispatcher(address string, queueSize int, workers int, h Handler, l logging.Logger) *Dispatcher {
	return &Dispatcher{
		address:   address,
		queueSize: queueSize,
		workers:   workers,
		handler:   h,
		logger:    l.With("module", "dispatch"),
	}
}

// Addr returns the bound listen address, or "" before Run has started
// listening. Useful when the configured address has port 0.
func (d *Dispatcher) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Run listens on the configured address and serves connections until ctx is
// cancelled. Accepted connections wait in a bounded queue; when all workers
// are busy and the queue is full, the acceptor blocks.
func (d *Dispatcher) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", d.address)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.listener = listen
	d.mu.Unlock()

	queue := make(chan net.Conn, d.queueSize)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range queue {
				d.serve(ctx, conn)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		d.logger.Info(ctx, "Stopping dispatcher...")
		listen.Close()
	}()

	d.logger.Info(ctx, "Starting dispatcher",
		"address", listen.Addr().String(), "workers", d.workers, "queue", d.queueSize)

	for {
		conn, err := listen.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			d.logger.Error(ctx, "accept failed", "err", err)
			continue
		}
		select {
		case queue <- conn:
		case <-ctx.Done():
			conn.Close()
		}
	}

	close(queue)
	wg.Wait()
	return nil
}

// serve decodes the operation name from one connection and hands it to the
// handler. A connection carries a single request.
func (d *Dispatcher) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := d.logger.With("conn", uuid.NewString())
	log.Debug(ctx, "connection accepted", "remote", conn.RemoteAddr().String())

	r := bufio.NewReader(conn)
	op, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		log.Debug(ctx, "connection closed before an operation arrived", "err", err)
		return
	}

	d.handler.HandleRequest(ctx, op, conn, r)
}
