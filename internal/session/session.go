package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/backlog"
	"github.com/studiowebux/wssampler/internal/gate"
	"github.com/studiowebux/wssampler/internal/matcher"
	"github.com/studiowebux/wssampler/internal/transport"
	"github.com/studiowebux/wssampler/internal/types"
)

// ErrNotOpen is returned by Send when the session has no open connection
var ErrNotOpen = fmt.Errorf("session: %w", transport.ErrNotOpen)

// State is the lifecycle position of a session
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateOpen
	StateAwaiting
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAwaiting:
		return "awaiting"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Settings is read by the session while it runs. Patterns are read once at
// construction; the backlog size and streaming flag on every use.
type Settings interface {
	ResponsePattern() string
	DisconnectPattern() string
	MessageBacklog() string
	StreamingConnection() bool
}

// Report is a consistent snapshot of a session
type Report struct {
	Log            string
	Responses      string
	ErrorCode      int
	MatchKind      types.MatchKind
	MatchedMessage string
	MessageCount   int
	Connected      bool
}

// Matched reports whether either pattern branch ended the wait
func (r Report) Matched() bool {
	return r.MatchKind != types.MatchNone
}

// Session is one connection's state machine. It implements transport.Handler.
type Session struct {
	client   transport.Client
	settings Settings
	backlog  *backlog.Backlog
	log      zerolog.Logger

	// mu guards everything below; OnMessage and Report both hold it
	mu        sync.Mutex
	patterns  matcher.Pair
	diag      strings.Builder
	conn      transport.Conn
	connected bool
	errCode   int
	matched   types.MatchKind
	matchMsg  string
	received  int
	state     State
	openGate  *gate.Gate
	closeGate *gate.Gate
}

// New creates a session bound to client. Patterns are compiled here.
func New(client transport.Client, settings Settings, logger zerolog.Logger) *Session {
	s := &Session{
		client:    client,
		settings:  settings,
		backlog:   backlog.New(settings, backlog.DefaultCapacity),
		log:       logger.With().Str("component", "session").Logger(),
		state:     StateCreated,
		openGate:  gate.New(),
		closeGate: gate.New(),
	}

	s.diag.WriteString("Opening new connection,")
	s.patterns = matcher.CompilePair(settings.ResponsePattern(), settings.DisconnectPattern(), s.patternNote)

	return s
}

// patternNote is only called from New and from OnMessage, both with mu held
// or before the session is shared.
func (s *Session) patternNote(msg string) {
	s.noteLocked(msg)
	if strings.HasPrefix(msg, "Invalid") || strings.HasPrefix(msg, "Pattern evaluation") {
		s.log.Error().Msg(msg)
	}
}

func (s *Session) noteLocked(msg string) {
	s.diag.WriteString(msg)
	s.diag.WriteString(",")
}

// Note appends a line to the diagnostic log
func (s *Session) Note(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noteLocked(msg)
}

// Open asks the client to connect. Events arrive through the handler methods.
// A rejected request closes the session as if the dial had failed.
func (s *Session) Open(ctx context.Context, ep transport.Endpoint) error {
	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.client.Connect(ctx, ep, s); err != nil {
		s.OnClose(types.CloseAbnormal, err.Error())
		return fmt.Errorf("failed to open connection: %w", err)
	}
	return nil
}

// OnOpen implements transport.Handler
func (s *Session) OnOpen(conn transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.diag.WriteString("WebSocket connection has been opened,\n")
	s.log.Debug().Str("subprotocol", conn.Subprotocol()).Msg("connection opened")

	s.conn = conn
	s.connected = true
	s.state = StateOpen
	s.openGate.Fire()
}

// OnMessage implements transport.Handler
func (s *Session) OnMessage(conn transport.Conn, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	seq := s.received
	s.log.Debug().Int("seq", seq).Int("bytes", len(text)).Msg("received message")

	fmt.Fprintf(&s.diag, "Received message #%d (%d bytes)", seq, len(text))
	if note := s.backlog.Push(backlog.NewRecord(seq, text)); note != "" {
		s.noteLocked(note)
	}

	switch {
	case s.patterns.MatchesResponse(text):
		s.diag.WriteString("; matched response pattern,")
		s.recordMatchLocked(types.MatchResponse, text)
		s.closeGate.Fire()

	case s.patterns.MatchesDisconnect(text):
		s.diag.WriteString("; matched connection close pattern,")
		s.recordMatchLocked(types.MatchDisconnect, text)
		s.closeGate.Fire()
		s.closeLocked(types.CloseNormal, types.ClosedBySampler)

	default:
		s.diag.WriteString("; didn't match any pattern,")
	}
}

func (s *Session) recordMatchLocked(kind types.MatchKind, text string) {
	if s.matched != types.MatchNone {
		return
	}
	s.matched = kind
	s.matchMsg = text
}

// OnClose implements transport.Handler
func (s *Session) OnClose(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code != types.CloseNormal {
		s.log.Error().Int("code", code).Str("reason", reason).Msg("disconnect")
		fmt.Fprintf(&s.diag, "WebSocket connection closed unexpectedly by the server: [%d] %s,", code, reason)
		s.errCode = code
	} else {
		s.log.Debug().Int("code", code).Str("reason", reason).Msg("disconnect")
		s.diag.WriteString("WebSocket connection has been successfully closed by the server,")
	}

	s.openGate.Fire()
	s.closeGate.Fire()
	s.connected = false
	s.state = StateClosed
}

// AwaitOpen waits for the connection to open or fail
func (s *Session) AwaitOpen(timeout time.Duration) bool {
	s.mu.Lock()
	s.noteLocked(fmt.Sprintf("Waiting for the server connection for %s", timeout))
	g := s.openGate
	s.mu.Unlock()

	ok := g.Wait(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.noteLocked("Connection established")
	} else {
		s.noteLocked("Cannot connect to the remote server")
	}
	return ok
}

// AwaitClose waits for a matching message or a close. Afterwards a
// non-streaming session closes itself however the wait ended.
func (s *Session) AwaitClose(timeout time.Duration) bool {
	s.mu.Lock()
	s.noteLocked(fmt.Sprintf("Waiting for messages for %s", timeout))
	g := s.closeGate
	if s.state == StateOpen || s.state == StateIdle {
		s.state = StateAwaiting
	}
	s.mu.Unlock()

	ok := g.Wait(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settings.StreamingConnection() {
		s.closeLocked(types.CloseNormal, types.ClosedBySampler)
	} else {
		s.noteLocked("Leaving streaming connection open")
		if s.state == StateAwaiting {
			s.state = StateIdle
		}
	}
	return ok
}

// Send writes text on the open connection
func (s *Session) Send(text string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotOpen
	}
	if err := conn.SendText(text); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			return ErrNotOpen
		}
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// Close closes the connection (if any) and stops the client
func (s *Session) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(code, reason)
}

// CloseNormal closes with status 1000
func (s *Session) CloseNormal() {
	s.Close(types.CloseNormal, types.ClosedBySampler)
}

func (s *Session) closeLocked(code int, reason string) {
	if s.conn != nil {
		if err := s.conn.Close(code, reason); err != nil {
			s.log.Warn().Err(err).Msg("close frame failed")
		}
		s.noteLocked("WebSocket session closed by the client")
	} else {
		s.noteLocked("WebSocket session wasn't started (...that's odd)")
	}

	err := s.client.Stop()
	switch {
	case err == nil:
		s.noteLocked("WebSocket client closed by the client")
	case errors.Is(err, transport.ErrClientStopped):
		s.log.Debug().Msg("client already stopped")
	default:
		s.log.Warn().Err(err).Msg("client stop failed")
		s.noteLocked("WebSocket client wasn't started (...that's odd)")
	}

	s.state = StateClosed
}

// Reinitialize prepares a kept-open session for another round
func (s *Session) Reinitialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.diag.Reset()
	s.diag.WriteString("Reusing existing connection,")
	s.errCode = 0
	s.matched = types.MatchNone
	s.matchMsg = ""
	s.closeGate = gate.New()
	if s.connected {
		s.state = StateOpen
	}
}

// Report snapshots the session; the log ends with the message count
func (s *Session) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Report{
		Log:            fmt.Sprintf("%smessage count: %d", s.diag.String(), s.received),
		Responses:      s.backlog.Snapshot(),
		ErrorCode:      s.errCode,
		MatchKind:      s.matched,
		MatchedMessage: s.matchMsg,
		MessageCount:   s.received,
		Connected:      s.connected,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the connection is open
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ErrorCode returns the abnormal close status, 0 when none
func (s *Session) ErrorCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCode
}

// Usable reports whether a streaming round may reuse the session
func (s *Session) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.state != StateClosed
}

// Config is a fixed Settings value
type Config struct {
	Response   string
	Disconnect string
	Backlog    string
	Streaming  bool
}

func (c Config) ResponsePattern() string   { return c.Response }
func (c Config) DisconnectPattern() string { return c.Disconnect }
func (c Config) MessageBacklog() string    { return c.Backlog }
func (c Config) StreamingConnection() bool { return c.Streaming }
