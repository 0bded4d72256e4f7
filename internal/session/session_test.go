package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/wssampler/internal/transport"
	"github.com/studiowebux/wssampler/internal/transport/transporttest"
	"github.com/studiowebux/wssampler/internal/types"
)

// openSession returns a session whose fake connection is already open
func openSession(t *testing.T, cfg Config) (*Session, *transporttest.Client) {
	t.Helper()

	client := transporttest.NewClient()
	s := New(client, cfg, zerolog.Nop())

	require.NoError(t, s.Open(context.Background(), transport.Endpoint{URL: "ws://test/ws"}))
	require.Equal(t, StateConnecting, s.State())

	client.Open()
	require.True(t, s.AwaitOpen(time.Second))
	require.True(t, s.Connected())
	require.Equal(t, StateOpen, s.State())
	return s, client
}

// TestSession_ResponseMatchKeepsTransportOpen tests a response match ending the wait
func TestSession_ResponseMatchKeepsTransportOpen(t *testing.T) {
	s, client := openSession(t, Config{Response: "OK", Backlog: "3"})

	client.Deliver("status: OK now")

	require.True(t, s.closeGate.Fired())
	assert.Empty(t, client.Conn.Closes())
	rep := s.Report()
	assert.Equal(t, types.MatchResponse, rep.MatchKind)
	assert.True(t, rep.Matched())
	assert.Equal(t, "status: OK now", rep.MatchedMessage)
	assert.Contains(t, rep.Log, "Received message #1 (14 bytes); matched response pattern,")
}

// TestSession_ResponseMatchDoesNotClose verifies the response branch leaves the conn alone
func TestSession_ResponseMatchDoesNotClose(t *testing.T) {
	s, client := openSession(t, Config{Response: "OK", Streaming: true})

	client.Deliver("status: OK now")

	require.True(t, s.AwaitClose(time.Second))
	assert.Empty(t, client.Conn.Closes())
	assert.Zero(t, client.Stops())
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.Usable())
}

// TestSession_AbsentResponseMatchesFirstMessage tests the match-anything default and precedence
func TestSession_AbsentResponseMatchesFirstMessage(t *testing.T) {
	s, client := openSession(t, Config{Disconnect: "BYE", Streaming: true})

	client.Deliver("please BYE")

	require.True(t, s.AwaitClose(time.Second))
	rep := s.Report()
	assert.Equal(t, types.MatchResponse, rep.MatchKind)
	assert.Empty(t, client.Conn.Closes(), "response branch must win over disconnect")
	assert.NotContains(t, rep.Log, "matched connection close pattern")
}

// TestSession_BothPatternsMatchResponseWins tests precedence with two explicit patterns
func TestSession_BothPatternsMatchResponseWins(t *testing.T) {
	s, client := openSession(t, Config{Response: "done", Disconnect: "done", Streaming: true})

	client.Deliver("all done")

	require.True(t, s.AwaitClose(time.Second))
	assert.Equal(t, types.MatchResponse, s.Report().MatchKind)
	assert.Empty(t, client.Conn.Closes())
}

// TestSession_DisconnectMatchClosesTransport tests the disconnect branch
func TestSession_DisconnectMatchClosesTransport(t *testing.T) {
	s, client := openSession(t, Config{Response: "never", Disconnect: "BYE", Streaming: true})

	client.Deliver("hello")
	assert.False(t, s.closeGate.Fired())

	client.Deliver("BYE!")
	require.True(t, s.AwaitClose(time.Second))

	closes := client.Conn.Closes()
	require.Len(t, closes, 1)
	assert.Equal(t, types.CloseNormal, closes[0].Code)
	assert.Equal(t, types.ClosedBySampler, closes[0].Reason)
	assert.Equal(t, 1, client.Stops())

	rep := s.Report()
	assert.Equal(t, types.MatchDisconnect, rep.MatchKind)
	assert.Contains(t, rep.Log, "; didn't match any pattern,")
	assert.Contains(t, rep.Log, "; matched connection close pattern,")
	assert.Contains(t, rep.Log, "WebSocket session closed by the client,")
	assert.Contains(t, rep.Log, "WebSocket client closed by the client,")
	assert.False(t, s.Usable())
}

// TestSession_NoDisconnectPatternNeverDisconnects tests that an absent disconnect pattern never fires
func TestSession_NoDisconnectPatternNeverDisconnects(t *testing.T) {
	s, client := openSession(t, Config{Response: "^never$", Streaming: true})

	for _, msg := range []string{"BYE", "close", "", "disconnect"} {
		client.Deliver(msg)
	}

	assert.False(t, s.AwaitClose(20*time.Millisecond))
	assert.Empty(t, client.Conn.Closes())
	assert.Equal(t, 4, s.Report().MessageCount)
}

// TestSession_AbnormalCloseRecordsError tests Scenario D: both gates fire and error is kept
func TestSession_AbnormalCloseRecordsError(t *testing.T) {
	s, client := openSession(t, Config{Response: "x"})
	require.True(t, s.openGate.Fired())

	client.Drop(1003, "unsupported data")

	assert.True(t, s.openGate.Fired())
	assert.True(t, s.closeGate.Fired())
	assert.False(t, s.Connected())
	assert.Equal(t, 1003, s.ErrorCode())
	assert.Equal(t, StateClosed, s.State())
	assert.Contains(t, s.Report().Log, "closed unexpectedly by the server: [1003] unsupported data,")
}

// TestSession_NormalCloseLeavesErrorUnset tests a 1000 close from the server
func TestSession_NormalCloseLeavesErrorUnset(t *testing.T) {
	s, client := openSession(t, Config{Response: "x"})

	client.Drop(types.CloseNormal, "")

	assert.Zero(t, s.ErrorCode())
	assert.Contains(t, s.Report().Log, "successfully closed by the server,")
}

// TestSession_AwaitCloseTimeoutClosesNonStreaming tests Scenario E
func TestSession_AwaitCloseTimeoutClosesNonStreaming(t *testing.T) {
	s, client := openSession(t, Config{Response: "never"})

	start := time.Now()
	ok := s.AwaitClose(50 * time.Millisecond)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, client.Conn.Closes(), 1)
	assert.Equal(t, types.CloseNormal, client.Conn.Closes()[0].Code)
	assert.Equal(t, 1, client.Stops())
	assert.Equal(t, StateClosed, s.State())
}

// TestSession_AwaitCloseMatchClosesNonStreaming tests the close side effect after a match
func TestSession_AwaitCloseMatchClosesNonStreaming(t *testing.T) {
	s, client := openSession(t, Config{})

	client.Deliver("anything")

	assert.True(t, s.AwaitClose(time.Second))
	assert.Len(t, client.Conn.Closes(), 1)
}

// TestSession_AwaitOpenTimeout tests that a connection that never opens is reported
func TestSession_AwaitOpenTimeout(t *testing.T) {
	client := transporttest.NewClient()
	s := New(client, Config{}, zerolog.Nop())
	require.NoError(t, s.Open(context.Background(), transport.Endpoint{URL: "ws://test/ws"}))

	start := time.Now()
	assert.False(t, s.AwaitOpen(30*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.Connected())
	assert.Contains(t, s.Report().Log, "Cannot connect to the remote server,")
}

// TestSession_OpenRejected tests a synchronous Connect failure
func TestSession_OpenRejected(t *testing.T) {
	client := transporttest.NewClient()
	client.ConnectErr = transport.ErrInvalidEndpoint
	s := New(client, Config{}, zerolog.Nop())

	err := s.Open(context.Background(), transport.Endpoint{URL: "http://nope"})
	require.ErrorIs(t, err, transport.ErrInvalidEndpoint)

	assert.True(t, s.AwaitOpen(time.Second), "a failed open still releases the gate")
	assert.False(t, s.Connected())
	assert.Equal(t, types.CloseAbnormal, s.ErrorCode())
}

// TestSession_AwaitNeverExceedsTimeout checks both waits for every gate state
func TestSession_AwaitNeverExceedsTimeout(t *testing.T) {
	for _, fired := range []bool{false, true} {
		client := transporttest.NewClient()
		s := New(client, Config{Streaming: true}, zerolog.Nop())
		if fired {
			s.OnClose(1001, "going away")
		}

		start := time.Now()
		s.AwaitOpen(40 * time.Millisecond)
		s.AwaitClose(40 * time.Millisecond)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	}
}

// TestSession_Send tests send on open and closed sessions
func TestSession_Send(t *testing.T) {
	client := transporttest.NewClient()
	s := New(client, Config{}, zerolog.Nop())
	require.ErrorIs(t, s.Send("early"), ErrNotOpen)
	require.ErrorIs(t, s.Send("early"), transport.ErrNotOpen)

	s, client = openSession(t, Config{})
	require.NoError(t, s.Send("ping"))
	assert.Equal(t, []string{"ping"}, client.Conn.Sent())

	client.Conn.SendErr = errors.New("broken pipe")
	err := s.Send("again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

// TestSession_CloseWithoutConnection tests the teardown notes when nothing was opened
func TestSession_CloseWithoutConnection(t *testing.T) {
	client := transporttest.NewClient()
	client.StopErr = errors.New("not running")
	s := New(client, Config{}, zerolog.Nop())

	s.CloseNormal()

	log := s.Report().Log
	assert.Contains(t, log, "WebSocket session wasn't started (...that's odd),")
	assert.Contains(t, log, "WebSocket client wasn't started (...that's odd),")
}

// TestSession_Reinitialize tests state kept and reset across rounds
func TestSession_Reinitialize(t *testing.T) {
	s, client := openSession(t, Config{Response: "tick", Streaming: true})

	client.Deliver("tick 1")
	require.True(t, s.AwaitClose(time.Second))

	s.mu.Lock()
	s.errCode = 1011
	s.mu.Unlock()
	oldClose := s.closeGate

	s.Reinitialize()

	assert.True(t, s.Connected())
	assert.True(t, s.openGate.Fired())
	assert.Zero(t, s.ErrorCode())
	assert.NotSame(t, oldClose, s.closeGate)
	assert.False(t, s.closeGate.Fired())
	assert.Equal(t, StateOpen, s.State())

	rep := s.Report()
	assert.True(t, strings.HasPrefix(rep.Log, "Reusing existing connection,"))
	assert.Equal(t, types.MatchNone, rep.MatchKind)
	assert.Equal(t, 1, rep.MessageCount, "message counter survives reinitialize")

	client.Deliver("tick 2")
	require.True(t, s.AwaitClose(time.Second))
	rep = s.Report()
	assert.Contains(t, rep.Log, "Received message #2")
	assert.Equal(t, "tick 2", rep.MatchedMessage)
	assert.Equal(t, "[Message 1]\ntick 1\n\n[Message 2]\ntick 2\n\n", rep.Responses)
}

// TestSession_ReportLog tests the log wording and the message count suffix
func TestSession_ReportLog(t *testing.T) {
	s, client := openSession(t, Config{Response: "pong", Disconnect: "BYE", Backlog: "bogus"})

	client.Deliver("pong")
	rep := s.Report()

	want := strings.Join([]string{
		"Opening new connection,",
		`Using response message pattern "pong",`,
		`Using disconnect pattern "BYE",`,
		"WebSocket connection has been opened,\n",
		"Waiting for the server connection for 1s,",
		"Connection established,",
		"Received message #1 (4 bytes)",
		`Message backlog value "bogus" is not a positive integer; using default 3,`,
		"; matched response pattern,",
		"message count: 1",
	}, "")
	assert.Equal(t, want, rep.Log)

	// reporting twice must not append the count twice
	assert.Equal(t, rep.Log, s.Report().Log)
}

// TestSession_InvalidPatternDegrades tests that a bad pattern is noted and treated as absent
func TestSession_InvalidPatternDegrades(t *testing.T) {
	s, client := openSession(t, Config{Response: "([", Streaming: true})

	client.Deliver("anything")

	require.True(t, s.AwaitClose(time.Second))
	rep := s.Report()
	assert.Contains(t, rep.Log, "Invalid response message regular expression pattern")
	assert.Equal(t, types.MatchResponse, rep.MatchKind)
}

// TestSession_ConcurrentMessagesAndReports exercises the shared mutex under load
func TestSession_ConcurrentMessagesAndReports(t *testing.T) {
	s, client := openSession(t, Config{Response: "^never$", Backlog: "5", Streaming: true})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			client.Deliver("m")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rep := s.Report()
			assert.Equal(t, strings.Count(rep.Log, "Received message #"), rep.MessageCount)
		}
	}()
	wg.Wait()

	rep := s.Report()
	assert.Equal(t, 200, rep.MessageCount)
	assert.Equal(t, 5, strings.Count(rep.Responses, "[Message "))
}
