// Package client talks to a running bridge over its WebSocket protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eliteGoblin/camelpad/internal/server"
)

// DefaultEndpoint is where the bridge listens unless configured otherwise.
const DefaultEndpoint = "ws://localhost:52914"

// ErrClosed is returned for requests on a closed client.
var ErrClosed = errors.New("client closed")

// ReplyError is an error reply from the bridge.
type ReplyError struct {
	ID      string
	Message string
}

func (e *ReplyError) Error() string {
	return e.Message
}

// Client is one connection to the bridge. Requests may be issued
// concurrently; replies are matched to requests by id.
type Client struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	waiters map[string]chan server.Envelope
	err     error
	done    chan struct{}
}

// Dial connects to endpoint.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	c := &Client{
		ws:      ws,
		waiters: make(map[string]chan server.Envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var env server.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.waiters[env.ID]
		if ok {
			delete(c.waiters, env.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.waiters {
		close(ch)
		delete(c.waiters, id)
	}
}

// Request sends msg and waits for the reply with the same id. A blank id
// is filled with a fresh UUID.
func (c *Client) Request(ctx context.Context, msg server.Inbound) (server.Envelope, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ch := make(chan server.Envelope, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return server.Envelope{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.waiters[msg.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(msg.ID)
		return server.Envelope{}, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return server.Envelope{}, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		c.forget(msg.ID)
		return server.Envelope{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, id)
}

// Notify queues a prompt and waits for the operator's answer. An error
// reply is returned as *ReplyError. timeout of zero uses the bridge's
// default.
func (c *Client) Notify(ctx context.Context, text, category string, timeout time.Duration) (server.Response, error) {
	msg := server.Inbound{Type: server.TypeNotification, Text: text, Category: category}
	if timeout > 0 {
		ms := int(timeout / time.Millisecond)
		msg.TimeoutMs = &ms
	}
	env, err := c.Request(ctx, msg)
	if err != nil {
		return server.Response{}, err
	}
	if env.Type == server.TypeError {
		return server.Response{}, &ReplyError{ID: env.ID, Message: env.Error}
	}
	return server.Response{Type: env.Type, ID: env.ID, Action: env.Action, Label: env.Label}, nil
}

// Status asks the bridge for its state.
func (c *Client) Status(ctx context.Context) (server.StatusReply, error) {
	env, err := c.Request(ctx, server.Inbound{Type: server.TypeStatus})
	if err != nil {
		return server.StatusReply{}, err
	}
	if env.Type == server.TypeError {
		return server.StatusReply{}, &ReplyError{ID: env.ID, Message: env.Error}
	}
	return server.StatusReply{
		Type:      env.Type,
		ID:        env.ID,
		Connected: env.Connected,
		Pending:   env.Pending,
		Device:    env.Device,
		Active:    env.Active,
	}, nil
}

// Close sends a close frame and waits for the read loop to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}
