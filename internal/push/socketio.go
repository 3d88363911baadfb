package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/acmxim/envoy/pkg/logger"
)

// SocketIODialer connects to the platform's Socket.IO endpoint.
type SocketIODialer struct {
	// URL is the server origin, for example "http://localhost:5000".
	URL string
	// Path is the Socket.IO path; empty means the library default.
	Path string
	// Topics are the inbound events forwarded to the listener.
	Topics []string
	// Auth is sent in the handshake when non-nil.
	Auth map[string]any
}

// NewSocketIODialer returns a dialer forwarding the platform topics.
func NewSocketIODialer(url, path string) *SocketIODialer {
	return &SocketIODialer{
		URL:    url,
		Path:   path,
		Topics: []string{TopicAnalyticsUpdate, TopicForumNewReply},
	}
}

// Dial implements Dialer. The library's own reconnection is disabled: the
// Manager decides when to try again.
func (d *SocketIODialer) Dial(ctx context.Context, l Listener) (Conn, error) {
	if d.URL == "" {
		return nil, errors.New("socket url not set")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := socket.DefaultOptions()
	if d.Path != "" {
		opts.SetPath(d.Path)
	}
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetReconnection(false)
	if d.Auth != nil {
		opts.SetAuth(d.Auth)
	}

	sock, err := socket.Connect(d.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c := &socketConn{sock: sock}

	sock.On(types.EventName("connect"), func(args ...any) {
		logger.Debugf("push: socket connected (id %s)", sock.Id())
		l.OnConnect()
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		if c.isClosed() {
			return
		}
		l.OnDisconnect(reason)
	})
	sock.On(types.EventName("connect_error"), func(args ...any) {
		var err error = errors.New("connect error")
		if len(args) > 0 {
			err = fmt.Errorf("connect error: %v", args[0])
		}
		l.OnConnectError(err)
	})

	for _, topic := range d.Topics {
		topic := topic
		sock.On(types.EventName(topic), func(args ...any) {
			var payload json.RawMessage
			if len(args) > 0 {
				raw, err := json.Marshal(args[0])
				if err != nil {
					logger.Warnf("push: %s payload not encodable: %v", topic, err)
					return
				}
				payload = raw
			}
			l.OnEvent(topic, payload)
		})
	}

	return c, nil
}

type socketConn struct {
	sock *socket.Socket

	mu     sync.Mutex
	closed bool
}

func (c *socketConn) Emit(event string, payload any) error {
	if c.isClosed() {
		return errors.New("not connected")
	}
	if payload == nil {
		c.sock.Emit(event)
		return nil
	}
	c.sock.Emit(event, payload)
	return nil
}

func (c *socketConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.sock.Disconnect()
	return nil
}

func (c *socketConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
