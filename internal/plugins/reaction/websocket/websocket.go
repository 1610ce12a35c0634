// Package websocket is a reaction plugin that streams each delivered
// payload as one text frame over a persistent outbound WebSocket
// connection, grounded on coordinator/coordinator.go's dial-with-
// reconnect-backoff, dedicated sender-goroutine, and ping-loop shape
// (gorilla/websocket). Where the teacher's Coordinator is a two-way
// RPC client, this plugin only ever writes: the query side of Open
// Question 1 (snapshot-on-attach) is a core internal/reaction concern,
// not this transport's.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/logging"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
)

const Kind = "websocket"

var log = logging.For("reaction/websocket")

// Config configures the websocket reaction.
type Config struct {
	URL                    string
	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
	ReconnectBackoffFactor float64
	PingInterval           time.Duration
	SendBuffer             int
}

func (c Config) withDefaults() Config {
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.ReconnectBackoffFactor <= 1 {
		c.ReconnectBackoffFactor = 2.0
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 100
	}
	return c
}

// Reaction maintains one outbound websocket connection and relays every
// Deliver call over it as a text frame.
type Reaction struct {
	id      string
	cfg     Config
	machine *lifecycle.Machine

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sendChan chan []byte

	connMu sync.RWMutex
	conn   *websocket.Conn
}

var _ component.Reaction = (*Reaction)(nil)

func New(id string, cfg Config) *Reaction {
	cfg = cfg.withDefaults()
	return &Reaction{
		id:       id,
		cfg:      cfg,
		machine:  lifecycle.New(),
		sendChan: make(chan []byte, cfg.SendBuffer),
	}
}

func Build(id string, config map[string]any) (any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("websocket reaction: config.url is required")
	}
	return New(id, Config{URL: url}), nil
}

// Register binds this plugin's Kind in registry.
func Register(registry *pluginregistry.Registry) error {
	return registry.Register(pluginregistry.CategoryReaction, pluginregistry.Descriptor{Kind: Kind, Build: Build})
}

func (r *Reaction) Start(ctx context.Context) error {
	r.machine.Begin(lifecycle.Starting)
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.machine.Finish(lifecycle.Running, "", false)

	r.wg.Add(1)
	go r.connectionLoop(runCtx)
	return nil
}

func (r *Reaction) connectionLoop(ctx context.Context) {
	defer r.wg.Done()
	delay := r.cfg.ReconnectInitialDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := r.dial(ctx)
		if err != nil {
			log.WithField("reaction", r.id).WithError(err).Warn("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * r.cfg.ReconnectBackoffFactor)
			if delay > r.cfg.ReconnectMaxDelay {
				delay = r.cfg.ReconnectMaxDelay
			}
			continue
		}

		delay = r.cfg.ReconnectInitialDelay
		r.runConnection(ctx, conn)
	}
}

func (r *Reaction) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.cfg.URL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("websocket reaction: dial: %w", err)
	}
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
	return conn, nil
}

func (r *Reaction) runConnection(ctx context.Context, conn *websocket.Conn) {
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		r.pingLoop(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-pingDone
			return
		case body, ok := <-r.sendChan:
			if !ok {
				conn.Close()
				<-pingDone
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				log.WithField("reaction", r.id).WithError(err).Warn("write failed, reconnecting")
				conn.Close()
				<-pingDone
				r.connMu.Lock()
				r.conn = nil
				r.connMu.Unlock()
				return
			}
		}
	}
}

func (r *Reaction) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (r *Reaction) Stop(context.Context) error {
	r.machine.Begin(lifecycle.Stopping)
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.machine.Finish(lifecycle.Stopped, "", false)
	return nil
}

func (r *Reaction) Status() lifecycle.Status { return r.machine.Status() }

func (r *Reaction) Deliver(ctx context.Context, payload component.Payload) error {
	select {
	case r.sendChan <- payload.Body:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", coreerr.Transport, ctx.Err())
	}
}
