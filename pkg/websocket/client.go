package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gorilla/websocket"
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/logging"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNotConnected = errors.New("signaling connection closed")

const defaultWriteWait = 10 * time.Second

// Client is a participant's connection to the relay. It satisfies
// call.Signaler.
type Client struct {
	ws        *websocket.Conn
	signals   chan signal.Signal
	writeMu   sync.Mutex
	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	log       logging.LeveledLogger
}

// Dial connects to the relay at url, authenticating with token.
func Dial(ctx context.Context, url, token string, log logging.LeveledLogger) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		ws:      ws,
		signals: make(chan signal.Signal, sendBuffer),
		done:    make(chan struct{}),
		log:     log,
	}
	c.connected.Store(true)
	go c.readLoop()
	log.Infof("[websocket] connected to %s", url)
	return c, nil
}

// Signals yields every signal from the relay. It is closed when the
// connection drops.
func (c *Client) Signals() <-chan signal.Signal { return c.signals }

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Send(ctx context.Context, s signal.Signal) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(s); err != nil {
		c.log.Warnf("[websocket] send %s failed: %v", s.Type, err)
		c.shutdown()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *Client) Close() error {
	if !c.connected.Load() {
		c.shutdown()
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Client) readLoop() {
	defer close(c.signals)
	defer c.shutdown()
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warnf("[websocket] connection lost: %v", err)
			}
			return
		}
		var s signal.Signal
		if err := json.Unmarshal(message, &s); err != nil {
			c.log.Warnf("[websocket] unmarshal err: %v", err)
			continue
		}
		select {
		case c.signals <- s:
		case <-c.done:
			return
		}
	}
}
