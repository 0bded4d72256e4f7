package mock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/matcher"
	"github.com/studiowebux/wssampler/internal/types"
)

const (
	maxLogs         = 1000
	shutdownTimeout = 5 * time.Second
	closeWriteWait  = time.Second
)

// Server represents the mock WebSocket server
type Server struct {
	config     *Config
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	patterns   []*matcher.Pattern // compiled regex rules, by rule index
	httpServer *http.Server
	listener   net.Listener
	logs       []MessageLog
	logged     int // events logged since start, including dropped ones
	logsMutex  sync.RWMutex
	notifyCh   chan struct{} // Channel to notify when new log arrives
	nextID     atomic.Int64
	connsMu    sync.Mutex
	conns      map[*websocket.Conn]struct{}
}

// NewServer creates a new mock server. The config must already be valid.
func NewServer(cfg *Config, logger zerolog.Logger) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}

	patterns := make([]*matcher.Pattern, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		if rule.MatchType == MatchRegex {
			// validateConfig already rejected bad patterns
			patterns[i], _ = matcher.Compile(rule.Match)
		}
	}

	return &Server{
		config: cfg,
		log:    logger.With().Str("component", "mock").Logger(),
		upgrader: websocket.Upgrader{
			Subprotocols: cfg.Subprotocols,
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		patterns: patterns,
		logs:     make([]MessageLog, 0),
		notifyCh: make(chan struct{}, 100), // Buffered channel for notifications
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.config.Port = tcp.Port
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("mock server error")
		}
	}()

	s.log.Info().Str("address", s.GetAddress()).Int("rules", len(s.config.Rules)).Msg("mock server listening")
	return nil
}

// Stop stops the mock server and drops open connections
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	// hijacked connections are not tracked by Shutdown
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	return err
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleUpgrade serves one WebSocket connection
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	s.track(conn, true)
	defer func() {
		s.track(conn, false)
		conn.Close()
	}()

	id := s.nextID.Add(1)
	s.logEvent(MessageLog{Timestamp: time.Now(), ConnID: id, Event: "open", Text: r.URL.String()})

	if s.config.Greeting != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.config.Greeting)); err != nil {
			return
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := types.CloseAbnormal
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			s.logEvent(MessageLog{Timestamp: time.Now(), ConnID: id, Event: "close", Text: fmt.Sprintf("%d", code)})
			return
		}

		if done := s.handleMessage(conn, id, string(data)); done {
			return
		}
	}
}

// handleMessage answers one message; it reports whether the connection was closed
func (s *Server) handleMessage(conn *websocket.Conn, id int64, text string) bool {
	entry := MessageLog{Timestamp: time.Now(), ConnID: id, Event: "message", Text: text}

	idx := s.findMatchingRule(text)
	if idx < 0 {
		entry.MatchedRule = "none"
		if s.config.Echo {
			entry.MatchedRule = "echo"
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				return true
			}
			entry.Replies = 1
		}
		s.logEvent(entry)
		return false
	}

	rule := s.config.Rules[idx]
	entry.MatchedRule = rule.Name
	if entry.MatchedRule == "" {
		entry.MatchedRule = fmt.Sprintf("rule %d", idx+1)
	}

	if rule.Delay > 0 {
		time.Sleep(rule.Delay)
	}

	var replies []string
	if rule.Reply != "" {
		replies = append(replies, rule.Reply)
	}
	replies = append(replies, rule.Replies...)
	for _, reply := range replies {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			s.logEvent(entry)
			return true
		}
		entry.Replies++
	}
	s.logEvent(entry)

	if !rule.Close {
		return false
	}

	code := rule.CloseCode
	if code == 0 {
		code = types.CloseNormal
	}
	msg := websocket.FormatCloseMessage(code, rule.CloseReason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait)); err != nil {
		s.log.Debug().Err(err).Msg("close frame failed")
	}
	s.logEvent(MessageLog{Timestamp: time.Now(), ConnID: id, Event: "close", Text: fmt.Sprintf("%d", code), MatchedRule: entry.MatchedRule})
	return true
}

// findMatchingRule returns the index of the first rule matching text, or -1
func (s *Server) findMatchingRule(text string) int {
	for i, rule := range s.config.Rules {
		matched := false
		switch rule.MatchType {
		case "", MatchExact:
			matched = rule.Match == text
		case MatchContains:
			matched = strings.Contains(text, rule.Match)
		case MatchRegex:
			ok, err := s.patterns[i].Find(text)
			matched = err == nil && ok
		}

		if matched {
			return i
		}
	}

	return -1
}

// logEvent adds an event to the log
func (s *Server) logEvent(entry MessageLog) {
	if !s.config.Logging {
		return
	}

	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = append(s.logs, entry)
	s.logged++

	// Keep only last 1000 logs
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}

	// Notify listeners (non-blocking)
	select {
	case s.notifyCh <- struct{}{}:
	default:
		// Channel full, skip notification
	}
}

// NotifyChannel returns the notification channel
func (s *Server) NotifyChannel() <-chan struct{} {
	return s.notifyCh
}

// GetLogs returns all logged events
func (s *Server) GetLogs() []MessageLog {
	s.logsMutex.RLock()
	defer s.logsMutex.RUnlock()

	// Return a copy
	logs := make([]MessageLog, len(s.logs))
	copy(logs, s.logs)
	return logs
}

// LogsSince returns the events logged after the first n and the new total.
// Events already dropped from the log are skipped.
func (s *Server) LogsSince(n int) ([]MessageLog, int) {
	s.logsMutex.RLock()
	defer s.logsMutex.RUnlock()

	first := s.logged - len(s.logs)
	start := n - first
	if start < 0 {
		start = 0
	}
	if start > len(s.logs) {
		start = len(s.logs)
	}

	logs := make([]MessageLog, len(s.logs)-start)
	copy(logs, s.logs[start:])
	return logs, s.logged
}

// ClearLogs clears all logged events
func (s *Server) ClearLogs() {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = make([]MessageLog, 0)
}

// GetAddress returns the ws:// URL clients connect to
func (s *Server) GetAddress() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port)), s.config.Path)
}
