package websocket

import (
	"encoding/json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peterouob/pionCall/pkg/auth"
	"github.com/peterouob/pionCall/pkg/relay"
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/logging"
	"golang.org/x/time/rate"
	"net/http"
	"sync"
	"time"
)

const sendBuffer = 256

// Verifier resolves a bearer token to the identity it was issued for.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

type Options struct {
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
	PongWait          time.Duration
	PingPeriod        time.Duration
	WriteWait         time.Duration
	AllowedOrigins    []string
}

func DefaultOptions() Options {
	return Options{
		MessagesPerSecond: 20,
		Burst:             40,
		MaxMessageSize:    64 * 1024,
		PongWait:          60 * time.Second,
		PingPeriod:        30 * time.Second,
		WriteWait:         10 * time.Second,
	}
}

// Server accepts authenticated signaling connections and hands their
// messages to a relay router.
type Server struct {
	router   *relay.Router
	verifier Verifier
	opts     Options
	upgrader websocket.Upgrader
	log      logging.LeveledLogger
}

// NewServer fills zero fields of opts from DefaultOptions.
func NewServer(router *relay.Router, verifier Verifier, opts Options, log logging.LeveledLogger) *Server {
	def := DefaultOptions()
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond, opts.Burst = def.MessagesPerSecond, def.Burst
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	return &Server{
		router:   router,
		verifier: verifier,
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)},
		log:      log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	id, err := s.verifier.Verify(token)
	if err != nil {
		s.log.Infof("[websocket] rejected %s: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("[websocket] upgrade err: %v", err)
		return
	}
	s.log.Debugf("[websocket] %s connected from %s", id.UserID, ws.RemoteAddr())

	c := &conn{
		id:       uuid.NewString(),
		identity: id.UserID,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		log:      s.log,
	}
	s.router.Connect(id.UserID, signal.CallerInfo{ID: id.UserID, Name: id.Name}, c)

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *conn) {
	defer func() {
		s.router.Disconnect(c.identity, c)
		c.Close()
		_ = c.ws.Close()
		s.log.Debugf("[websocket] %s disconnected", c.identity)
	}()

	if s.opts.MaxMessageSize > 0 {
		c.ws.SetReadLimit(s.opts.MaxMessageSize)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warnf("[websocket] unexpected close from %s: %v", c.identity, err)
			}
			return
		}

		var sig signal.Signal
		if err := json.Unmarshal(message, &sig); err != nil {
			s.router.Reject(c.identity, sig, signal.CodeInvalidMessage, "malformed message")
			continue
		}
		if !limiter.Allow() {
			s.router.Reject(c.identity, sig, signal.CodeRateLimited, "too many messages")
			continue
		}
		s.router.Route(c.identity, sig)
	}
}

// writePump owns all writes to the socket, including the keepalive ping.
func (s *Server) writePump(c *conn) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debugf("[websocket] write to %s failed: %v", c.identity, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Debugf("[websocket] ping failed for %s: %v", c.identity, err)
				c.Close()
				return
			}
		}
	}
}

// conn is the relay-side handle of one websocket client.
type conn struct {
	id       string
	identity string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	log      logging.LeveledLogger
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(s signal.Signal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return relay.ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warnf("[websocket] %s is not draining its queue, closing", c.identity)
		c.Close()
		return relay.ErrSlowConsumer
	}
}

func (c *conn) Close() {
	c.once.Do(func() { close(c.done) })
}
