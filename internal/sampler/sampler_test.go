package sampler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/wssampler/internal/parser"
	"github.com/studiowebux/wssampler/internal/transport"
	"github.com/studiowebux/wssampler/internal/transport/transporttest"
	"github.com/studiowebux/wssampler/internal/types"
)

// fakes hands out a fresh auto-opening fake client per session
type fakes struct {
	mu      sync.Mutex
	clients []*transporttest.Client
	setup   func(*transporttest.Client)
}

func (f *fakes) factory() transport.Factory {
	return func() transport.Client {
		c := transporttest.NewClient()
		c.AutoOpen = true
		if f.setup != nil {
			f.setup(c)
		}
		f.mu.Lock()
		f.clients = append(f.clients, c)
		f.mu.Unlock()
		return c
	}
}

func (f *fakes) get(i int) *transporttest.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.clients) {
		return nil
	}
	return f.clients[i]
}

func (f *fakes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// replyAfter delivers text once the i-th client has sent n messages
func (f *fakes) replyAfter(i, n int, text string) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if c := f.get(i); c != nil && len(c.Conn.Sent()) >= n {
				c.Deliver(text)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func testRound(message, response string) types.Round {
	return types.Round{
		Name:            "r",
		URL:             "ws://fake.test/ws",
		Message:         message,
		ResponsePattern: response,
		ConnectTimeout:  time.Second,
		ResponseTimeout: 2 * time.Second,
	}
}

func newFakeSampler(f *fakes, vars map[string]string) *Sampler {
	return New(Options{
		Factory:  f.factory(),
		Logger:   zerolog.Nop(),
		Resolver: parser.NewVariableResolver(vars, nil, nil, nil),
	})
}

func TestRunRound_MatchClosesNonStreaming(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)
	f.replyAfter(0, 1, "status: OK now")

	res := s.RunRound(context.Background(), testRound("status?", "OK"))

	assert.True(t, res.Success)
	assert.True(t, res.Matched)
	assert.Equal(t, types.MatchResponse, res.MatchKind)
	assert.False(t, res.TimedOutOnOpen)
	assert.False(t, res.TimedOutOnClose)
	assert.Equal(t, 1, res.MessageCount)
	assert.Equal(t, "success", res.Outcome())
	assert.Contains(t, res.Responses, "[Message 1]\nstatus: OK now")
	assert.True(t, strings.HasSuffix(res.Log, "message count: 1"))

	c := f.get(0)
	assert.Equal(t, []string{"status?"}, c.Conn.Sent())
	require.Len(t, c.Conn.Closes(), 1)
	assert.Equal(t, transporttest.CloseCall{Code: types.CloseNormal, Reason: types.ClosedBySampler}, c.Conn.Closes()[0])
	assert.Equal(t, 1, c.Stops())
	assert.False(t, s.Open())
}

func TestRunRound_StreamingReusesConnection(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	r := testRound("one", "ack")
	r.Streaming = true

	f.replyAfter(0, 1, "ack 1")
	first := s.RunRound(context.Background(), r)
	require.True(t, first.Success)
	assert.False(t, first.Reused)
	assert.True(t, s.Open())

	r.Message = "two"
	f.replyAfter(0, 2, "ack 2")
	second := s.RunRound(context.Background(), r)
	require.True(t, second.Success)
	assert.True(t, second.Reused)
	assert.True(t, strings.HasPrefix(second.Log, "Reusing existing connection,"))
	assert.Equal(t, 2, second.MessageCount, "message counter is never reset")

	assert.Equal(t, 1, f.count())
	c := f.get(0)
	assert.Equal(t, []string{"one", "two"}, c.Conn.Sent())
	assert.Empty(t, c.Conn.Closes())

	s.Close()
	assert.Len(t, c.Conn.Closes(), 1)
	assert.Equal(t, 1, c.Stops())
}

func TestRunRound_NonStreamingRoundClosesKeptConnection(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	r := testRound("one", "")
	r.Streaming = true
	f.replyAfter(0, 1, "x")
	require.True(t, s.RunRound(context.Background(), r).Success)

	r.Streaming = false
	f.replyAfter(0, 2, "y")
	res := s.RunRound(context.Background(), r)
	require.True(t, res.Success)
	assert.True(t, res.Reused)
	assert.False(t, s.Open())
	assert.Len(t, f.get(0).Conn.Closes(), 1)
}

func TestRunRound_DifferentURLOpensNewConnection(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	r := testRound("one", "")
	r.Streaming = true
	f.replyAfter(0, 1, "x")
	require.True(t, s.RunRound(context.Background(), r).Success)

	r.URL = "ws://other.test/ws"
	f.replyAfter(1, 1, "y")
	res := s.RunRound(context.Background(), r)
	require.True(t, res.Success)
	assert.False(t, res.Reused)

	require.Equal(t, 2, f.count())
	assert.Equal(t, 1, f.get(0).Stops(), "old connection is closed")
	assert.Equal(t, "ws://other.test/ws", f.get(1).Endpoint().URL)
	s.Close()
}

func TestRunRound_PatternChangeOnReuseIsNoted(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	r := testRound("one", "ack")
	r.Streaming = true
	f.replyAfter(0, 1, "ack")
	require.True(t, s.RunRound(context.Background(), r).Success)

	r.ResponsePattern = "never"
	f.replyAfter(0, 2, "ack")
	res := s.RunRound(context.Background(), r)
	assert.True(t, res.Success, "the connection keeps the pattern it was opened with")
	assert.Contains(t, res.Log, `Pattern change ignored on reused connection (response "ack"`)
	s.Close()
}

func TestRunRound_ConnectTimeout(t *testing.T) {
	f := &fakes{setup: func(c *transporttest.Client) { c.AutoOpen = false }}
	s := newFakeSampler(f, nil)

	r := testRound("hello", "")
	r.ConnectTimeout = 50 * time.Millisecond

	res := s.RunRound(context.Background(), r)
	assert.True(t, res.TimedOutOnOpen)
	assert.False(t, res.Success)
	assert.Equal(t, "connect_timeout", res.Outcome())
	assert.Contains(t, res.Log, "Cannot connect to the remote server")
	assert.Empty(t, f.get(0).Conn.Sent())
	assert.Equal(t, 1, f.get(0).Stops())
}

func TestRunRound_ConnectRejected(t *testing.T) {
	f := &fakes{setup: func(c *transporttest.Client) { c.ConnectErr = errors.New("refused") }}
	s := newFakeSampler(f, nil)

	res := s.RunRound(context.Background(), testRound("hello", ""))
	assert.False(t, res.TimedOutOnOpen)
	assert.Equal(t, types.CloseAbnormal, res.ErrorCode)
	assert.Equal(t, "abnormal_close", res.Outcome())
	assert.Contains(t, res.Log, "closed unexpectedly by the server: [1006] refused")
}

func TestRunRound_SendError(t *testing.T) {
	f := &fakes{setup: func(c *transporttest.Client) { c.Conn.SendErr = errors.New("broken pipe") }}
	s := newFakeSampler(f, nil)

	res := s.RunRound(context.Background(), testRound("hello", ""))
	assert.Contains(t, res.SendError, "broken pipe")
	assert.Equal(t, "send_error", res.Outcome())
	assert.Contains(t, res.Log, "Send failed")
	assert.False(t, s.Open())
}

func TestRunRound_ResponseTimeout(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	r := testRound("hello", "OK")
	r.ResponseTimeout = 300 * time.Millisecond
	f.replyAfter(0, 1, "nope")

	res := s.RunRound(context.Background(), r)
	assert.True(t, res.TimedOutOnClose)
	assert.False(t, res.Matched)
	assert.Equal(t, "response_timeout", res.Outcome())
	assert.Contains(t, res.Log, "didn't match any pattern")
}

func TestRunRound_DisconnectPattern(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	r := testRound("hello", "OK")
	r.DisconnectPattern = "BYE"
	r.Streaming = true
	f.replyAfter(0, 1, "BYE now")

	res := s.RunRound(context.Background(), r)
	assert.True(t, res.Success)
	assert.Equal(t, types.MatchDisconnect, res.MatchKind)
	assert.False(t, s.Open(), "disconnect match closes even a streaming connection")
}

func TestRunRound_ListenOnly(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if c := f.get(0); c != nil {
				select {
				case <-c.Connected():
					time.Sleep(10 * time.Millisecond)
					c.Deliver("tick")
					return
				default:
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res := s.RunRound(context.Background(), testRound("", "tick"))
	assert.True(t, res.Success)
	assert.Empty(t, f.get(0).Conn.Sent())
}

func TestRunRound_ExtractFeedsLaterRounds(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, map[string]string{"user": "alice"})

	hello := testRound(`{"op":"hello","user":"{{user}}"}`, `"op":"welcome"`)
	hello.Streaming = true
	hello.Extract = map[string]string{"token": "data.token"}
	f.replyAfter(0, 1, `{"op":"welcome","data":{"token":"abc"}}`)

	res := s.RunRound(context.Background(), hello)
	require.True(t, res.Success, res.Log)
	assert.Equal(t, map[string]string{"token": "abc"}, res.Extracted)
	assert.Equal(t, "abc", s.Variables()["token"])

	auth := testRound(`{"op":"auth","token":"{{token}}"}`, `"op":"welcome"`)
	f.replyAfter(0, 2, `{"op":"welcome","authed":true}`)
	require.True(t, s.RunRound(context.Background(), auth).Success)

	assert.Equal(t, []string{
		`{"op":"hello","user":"alice"}`,
		`{"op":"auth","token":"abc"}`,
	}, f.get(0).Conn.Sent())
}

func TestRunRound_ExtractError(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	r := testRound("hello", "")
	r.Extract = map[string]string{"token": "data.token"}
	f.replyAfter(0, 1, "plain text")

	res := s.RunRound(context.Background(), r)
	assert.True(t, res.Matched)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ExtractError)
	assert.Equal(t, "extract_error", res.Outcome())
}

func TestRunRound_UnresolvedVariableIsNoted(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)
	f.replyAfter(0, 1, "x")

	res := s.RunRound(context.Background(), testRound("{{missing}}", ""))
	assert.True(t, res.Success)
	assert.Contains(t, res.Log, `Unresolved variable "missing"`)
	assert.Equal(t, []string{"{{missing}}"}, f.get(0).Conn.Sent())
}

func TestRunRound_SetupErrors(t *testing.T) {
	f := &fakes{}
	s := newFakeSampler(f, nil)

	res := s.RunRound(context.Background(), testRound("$(exit 3)", ""))
	assert.Equal(t, "setup_error", res.Outcome())
	assert.Contains(t, res.Log, "Variable resolution failed")

	r := testRound("hello", "")
	r.URL = "http://fake.test/ws"
	res = s.RunRound(context.Background(), r)
	assert.Equal(t, "setup_error", res.Outcome())
	assert.Contains(t, res.Log, "Invalid endpoint")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = s.RunRound(ctx, testRound("hello", ""))
	assert.True(t, res.Cancelled)
	assert.Equal(t, "cancelled", res.Outcome())

	assert.Equal(t, 0, f.count(), "no connection is attempted")
}

func TestRunRound_CancelReleasesWait(t *testing.T) {
	f := &fakes{setup: func(c *transporttest.Client) { c.Conn.EchoClose = true }}
	s := newFakeSampler(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if c := f.get(0); c != nil && len(c.Conn.Sent()) > 0 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	r := testRound("hello", "never")
	r.ResponseTimeout = 10 * time.Second

	start := time.Now()
	res := s.RunRound(ctx, r)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "cancelled", res.Outcome(), "an interrupted wait is not a mismatch")
	assert.False(t, s.Open())
}

// TestRunRound_RealWebSocket runs against a gorilla echo server
func TestRunRound_RealWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, []byte("echo: "+string(msg))); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	s := New(Options{
		Factory: transport.NewWebSocketFactory(transport.Options{Logger: zerolog.Nop()}),
		Logger:  zerolog.Nop(),
	})

	r := types.Round{
		Name:            "echo",
		URL:             "ws" + strings.TrimPrefix(server.URL, "http"),
		Message:         "ping",
		ResponsePattern: "^echo: ping$",
		Streaming:       true,
		ConnectTimeout:  2 * time.Second,
		ResponseTimeout: 2 * time.Second,
	}

	res := s.RunRound(context.Background(), r)
	require.True(t, res.Success, res.Log)
	assert.Contains(t, res.Log, "Connection established")

	r.Message = "pong"
	r.ResponsePattern = "^echo: ping$"
	r.Streaming = false
	r.ResponseTimeout = 200 * time.Millisecond
	res = s.RunRound(context.Background(), r)
	assert.True(t, res.Reused)
	assert.False(t, res.Success, "pong never matches the kept pattern")
	assert.True(t, res.TimedOutOnClose)
}

func TestLogLines(t *testing.T) {
	assert.Equal(t,
		[]string{"Opening new connection", "Waiting for messages for 1s", "message count: 0"},
		LogLines("Opening new connection,\nWaiting for messages for 1s,message count: 0"),
	)
}
