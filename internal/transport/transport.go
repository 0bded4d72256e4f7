package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrNotOpen is returned when writing to a connection that is closed or closing
	ErrNotOpen = errors.New("connection is not open")

	// ErrClientStopped is returned by Connect and Stop once the client was stopped
	ErrClientStopped = errors.New("client already stopped")

	// ErrInvalidEndpoint is returned for URLs that are not ws:// or wss://
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Endpoint describes where and how to connect
type Endpoint struct {
	URL          string
	Headers      map[string]string
	Subprotocols []string
}

// Validate checks that the URL is an absolute ws:// or wss:// URL
func (e Endpoint) Validate() (*url.URL, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, e.URL)
	}
	return u, nil
}

// Handler receives connection events
type Handler interface {
	OnOpen(conn Conn)
	OnMessage(conn Conn, text string)
	OnClose(code int, reason string)
}

// Conn is an open connection handle
type Conn interface {
	// SendText writes one text frame
	SendText(text string) error

	// Close sends a close frame with code and reason. It does not wait for
	// the peer; OnClose follows on the read goroutine.
	Close(code int, reason string) error

	// Subprotocol returns the negotiated subprotocol, if any
	Subprotocol() string
}

// Client opens connections and owns their lifetime
type Client interface {
	// Connect schedules a connection attempt. ctx bounds the handshake only.
	Connect(ctx context.Context, ep Endpoint, h Handler) error

	// Stop closes every connection the client opened. A stopped client
	// cannot connect again.
	Stop() error
}

// Factory builds a new client, one per session
type Factory func() Client
