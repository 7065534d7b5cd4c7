package relay

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/peterouob/pionCall/pkg/signal"
	"sync"
	"sync/atomic"
)

const inboxSize = 256

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("recipient inbox full")
)

// MemoryConn is an in-process client connection to a Router. Signals sent
// by the router are delivered to the handler in order on a dedicated
// goroutine.
type MemoryConn struct {
	identity string
	router   *Router
	handle   *memoryHandle
	closed   atomic.Bool
}

type memoryHandle struct {
	id    string
	inbox chan signal.Signal
	done  chan struct{}
	once  sync.Once
}

func (h *memoryHandle) ID() string { return h.id }

func (h *memoryHandle) Send(s signal.Signal) error {
	select {
	case <-h.done:
		return ErrConnClosed
	default:
	}
	select {
	case h.inbox <- s:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (h *memoryHandle) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *memoryHandle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Dial connects identity to router. handler receives every signal
// addressed to identity until Close.
func Dial(router *Router, info signal.CallerInfo, handler func(signal.Signal)) *MemoryConn {
	h := &memoryHandle{
		id:    "mem-" + uuid.NewString(),
		inbox: make(chan signal.Signal, inboxSize),
		done:  make(chan struct{}),
	}
	c := &MemoryConn{identity: info.ID, router: router, handle: h}
	go func() {
		for {
			select {
			case <-h.done:
				return
			case s := <-h.inbox:
				handler(s)
			}
		}
	}()
	router.Connect(info.ID, info, h)
	return c
}

func (c *MemoryConn) Identity() string { return c.identity }

func (c *MemoryConn) Send(ctx context.Context, s signal.Signal) error {
	if !c.Connected() {
		return ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.router.Route(c.identity, s)
	return nil
}

// Connected reports false once the conn is closed or replaced by a newer
// connection for the same identity.
func (c *MemoryConn) Connected() bool { return !c.closed.Load() && !c.handle.closed() }

func (c *MemoryConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.router.Disconnect(c.identity, c.handle)
	c.handle.Close()
	return nil
}
