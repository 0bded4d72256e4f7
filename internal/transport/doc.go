/*
Package transport delivers WebSocket connection events to a handler.

# Overview

A Client opens connections asynchronously. Connect returns as soon as the
dial has been scheduled; everything after that arrives through a Handler:
  - OnOpen once the handshake completed
  - OnMessage for every text or binary frame, in arrival order
  - OnClose exactly once per connection, including failed dials

All three callbacks for one connection run on that connection's read
goroutine, one at a time.

# Close Codes

OnClose reports:
  - the peer's close code and reason when a close frame arrived
  - the code the client sent when it closed first
  - 1006 (abnormal) for dial failures and dropped sockets

# Implementations

WebSocketClient (websocket.go):
  - gorilla/websocket dialer, proxy from environment
  - TLS/mTLS from types.TLSConfig
  - optional OAuth 2.0 bearer token on the handshake
  - read limit, write deadline, close grace period

The transporttest package provides a scripted Client for tests that need to
drive callbacks by hand.

# Example Usage

	client := transport.NewWebSocketClient(transport.DefaultOptions())
	defer client.Stop()

	err := client.Connect(ctx, transport.Endpoint{URL: "ws://localhost:8080/ws"}, handler)
	if err != nil {
		return err
	}

# Thread Safety

Conn.SendText and Conn.Close may be called from any goroutine, including from
inside a callback. Conn.Close never waits for the read goroutine.
*/
package transport
