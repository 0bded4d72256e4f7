// Package transporttest provides a scripted transport.Client for tests.
//
// Nothing happens on Connect beyond recording the handler; the test drives
// the connection with Open, Deliver and Drop.
package transporttest

import (
	"context"
	"sync"

	"github.com/studiowebux/wssampler/internal/transport"
)

// CloseCall records one Conn.Close
type CloseCall struct {
	Code   int
	Reason string
}

// Client is a fake transport.Client
type Client struct {
	mu        sync.Mutex
	endpoint  transport.Endpoint
	handler   transport.Handler
	connected chan struct{}
	stopped   bool
	stops     int

	// ConnectErr is returned by Connect when set
	ConnectErr error
	// StopErr is returned by the first Stop when set
	StopErr error
	// AutoOpen opens the connection as soon as Connect is called
	AutoOpen bool

	Conn *Conn
}

// NewClient returns a fake client with a fresh Conn
func NewClient() *Client {
	c := &Client{connected: make(chan struct{})}
	c.Conn = &Conn{client: c}
	return c
}

// Factory returns a transport.Factory that always hands out c
func (c *Client) Factory() transport.Factory {
	return func() transport.Client { return c }
}

// Connect records the endpoint and handler
func (c *Client) Connect(_ context.Context, ep transport.Endpoint, h transport.Handler) error {
	if c.ConnectErr != nil {
		return c.ConnectErr
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return transport.ErrClientStopped
	}
	first := c.handler == nil
	c.endpoint = ep
	c.handler = h
	c.mu.Unlock()

	if first {
		close(c.connected)
	}
	if c.AutoOpen {
		go c.Open()
	}
	return nil
}

// Connected is closed after the first Connect
func (c *Client) Connected() <-chan struct{} {
	return c.connected
}

// Endpoint returns the endpoint passed to Connect
func (c *Client) Endpoint() transport.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Client) currentHandler() transport.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Open delivers OnOpen
func (c *Client) Open() {
	if h := c.currentHandler(); h != nil {
		h.OnOpen(c.Conn)
	}
}

// Deliver delivers one inbound message
func (c *Client) Deliver(text string) {
	if h := c.currentHandler(); h != nil {
		h.OnMessage(c.Conn, text)
	}
}

// Drop delivers OnClose as if the peer closed with code
func (c *Client) Drop(code int, reason string) {
	if h := c.currentHandler(); h != nil {
		h.OnClose(code, reason)
	}
}

// Stop marks the client stopped
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if c.stopped {
		return transport.ErrClientStopped
	}
	c.stopped = true
	return c.StopErr
}

// Stops returns how many times Stop was called
func (c *Client) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Conn is a fake transport.Conn
type Conn struct {
	client *Client

	mu     sync.Mutex
	sent   []string
	closes []CloseCall

	// SendErr is returned by SendText when set
	SendErr error
	// EchoClose reports OnClose with the sent code after Close, from another goroutine
	EchoClose bool
	// Protocol is returned by Subprotocol
	Protocol string
}

func (c *Conn) SendText(text string) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closes) > 0 {
		return transport.ErrNotOpen
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	first := len(c.closes) == 0
	c.closes = append(c.closes, CloseCall{Code: code, Reason: reason})
	c.mu.Unlock()

	if first && c.EchoClose {
		go c.client.Drop(code, reason)
	}
	return nil
}

func (c *Conn) Subprotocol() string {
	return c.Protocol
}

// Sent returns the texts written so far
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Closes returns the Close calls so far
func (c *Conn) Closes() []CloseCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CloseCall(nil), c.closes...)
}
