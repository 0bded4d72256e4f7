package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/studiowebux/wssampler/internal/config"
	"github.com/studiowebux/wssampler/internal/types"
)

// Options configures a WebSocketClient
type Options struct {
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	WriteTimeout     time.Duration
	CloseGrace       time.Duration // how long Close waits for the peer's close frame
	TLS              *types.TLSConfig
	TokenSource      oauth2.TokenSource // adds Authorization to the handshake when set
	Logger           zerolog.Logger
}

// DefaultOptions returns options with the package defaults and a no-op logger
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: config.DefaultHandshakeTimeout,
		MaxMessageSize:   config.MaxMessageSize,
		WriteTimeout:     config.DefaultWriteTimeout,
		CloseGrace:       config.DefaultCloseGrace,
		Logger:           zerolog.Nop(),
	}
}

// WebSocketClient is a Client backed by gorilla/websocket
type WebSocketClient struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	stopped bool
	conns   map[*wsConn]struct{}
}

// NewWebSocketClient creates a client. Zero option fields take defaults.
func NewWebSocketClient(opts Options) *WebSocketClient {
	def := DefaultOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = def.CloseGrace
	}

	return &WebSocketClient{
		opts:  opts,
		log:   opts.Logger.With().Str("component", "transport").Logger(),
		conns: make(map[*wsConn]struct{}),
	}
}

// NewWebSocketFactory returns a Factory producing clients with opts
func NewWebSocketFactory(opts Options) Factory {
	return func() Client {
		return NewWebSocketClient(opts)
	}
}

// Connect validates the endpoint and dials it in the background
func (c *WebSocketClient) Connect(ctx context.Context, ep Endpoint, h Handler) error {
	u, err := ep.Validate()
	if err != nil {
		return err
	}

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrClientStopped
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
		Subprotocols:     ep.Subprotocols,
	}

	if c.opts.TLS != nil && u.Scheme == "wss" {
		tlsClientConfig, err := buildTLSConfig(c.opts.TLS)
		if err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
		dialer.TLSClientConfig = tlsClientConfig
	}

	headers := http.Header{}
	for key, value := range ep.Headers {
		headers.Set(key, value)
	}

	go c.dial(ctx, dialer, ep.URL, headers, h)
	return nil
}

func (c *WebSocketClient) dial(ctx context.Context, dialer *websocket.Dialer, rawURL string, headers http.Header, h Handler) {
	if c.opts.TokenSource != nil {
		tok, err := c.opts.TokenSource.Token()
		if err != nil {
			c.log.Warn().Err(err).Str("url", rawURL).Msg("token request failed")
			h.OnClose(types.CloseAbnormal, fmt.Sprintf("authorization failed: %v", err))
			return
		}
		headers.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	c.log.Debug().Str("url", rawURL).Msg("dialing")

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		reason := fmt.Sprintf("connect failed: %v", err)
		if resp != nil {
			reason = fmt.Sprintf("connect failed (HTTP %d): %v", resp.StatusCode, err)
		}
		c.log.Warn().Err(err).Str("url", rawURL).Msg("dial failed")
		h.OnClose(types.CloseAbnormal, reason)
		return
	}

	conn.SetReadLimit(c.opts.MaxMessageSize)
	wc := &wsConn{
		conn:   conn,
		client: c,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		h.OnClose(types.CloseAbnormal, "client stopped during handshake")
		return
	}
	c.conns[wc] = struct{}{}
	c.mu.Unlock()

	h.OnOpen(wc)
	wc.readLoop(h)
}

// Stop closes all open connections with a normal close frame
func (c *WebSocketClient) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrClientStopped
	}
	c.stopped = true
	conns := make([]*wsConn, 0, len(c.conns))
	for wc := range c.conns {
		conns = append(conns, wc)
	}
	c.mu.Unlock()

	for _, wc := range conns {
		_ = wc.Close(types.CloseNormal, types.ClosedBySampler)
	}
	return nil
}

// OpenConnections returns the number of connections not yet closed
func (c *WebSocketClient) OpenConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *WebSocketClient) remove(wc *wsConn) {
	c.mu.Lock()
	delete(c.conns, wc)
	c.mu.Unlock()
}

// wsConn is one live connection
type wsConn struct {
	conn   *websocket.Conn
	client *WebSocketClient

	writeMu sync.Mutex
	closing atomic.Bool

	closeMu    sync.Mutex
	sentCode   int
	sentReason string
	grace      *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

func (wc *wsConn) Subprotocol() string {
	return wc.conn.Subprotocol()
}

func (wc *wsConn) SendText(text string) error {
	if wc.closing.Load() {
		return ErrNotOpen
	}

	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()

	_ = wc.conn.SetWriteDeadline(time.Now().Add(wc.client.opts.WriteTimeout))
	if err := wc.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Close sends the close frame and arms the grace timer. Calling it again is a no-op.
func (wc *wsConn) Close(code int, reason string) error {
	if !wc.closing.CompareAndSwap(false, true) {
		return nil
	}

	wc.closeMu.Lock()
	wc.sentCode = code
	wc.sentReason = reason
	wc.closeMu.Unlock()

	deadline := time.Now().Add(wc.client.opts.WriteTimeout)
	wc.writeMu.Lock()
	err := wc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	wc.writeMu.Unlock()

	wc.closeMu.Lock()
	select {
	case <-wc.done:
	default:
		wc.grace = time.AfterFunc(wc.client.opts.CloseGrace, func() {
			_ = wc.conn.Close()
		})
	}
	wc.closeMu.Unlock()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// readLoop delivers frames until the connection ends, then reports OnClose once
func (wc *wsConn) readLoop(h Handler) {
	for {
		messageType, message, err := wc.conn.ReadMessage()
		if err != nil {
			code, reason := wc.closeStatus(err)
			wc.finish()
			h.OnClose(code, reason)
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			h.OnMessage(wc, string(message))
		}
	}
}

func (wc *wsConn) closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}

	wc.closeMu.Lock()
	defer wc.closeMu.Unlock()
	if wc.sentCode != 0 {
		return wc.sentCode, wc.sentReason
	}
	return types.CloseAbnormal, err.Error()
}

func (wc *wsConn) finish() {
	wc.doneOnce.Do(func() {
		wc.closing.Store(true)

		wc.closeMu.Lock()
		close(wc.done)
		if wc.grace != nil {
			wc.grace.Stop()
		}
		wc.closeMu.Unlock()

		_ = wc.conn.Close()
		wc.client.remove(wc)
	})
}

// buildTLSConfig creates a TLS configuration for wss:// connections
func buildTLSConfig(tlsConfig *types.TLSConfig) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: tlsConfig.InsecureSkipVerify,
	}

	// Load client certificate if specified
	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	// Load CA certificate if specified
	if tlsConfig.CAFile != "" {
		caCert, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		cfg.RootCAs = caCertPool
	}

	return cfg, nil
}
