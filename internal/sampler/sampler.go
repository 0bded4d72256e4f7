package sampler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/config"
	"github.com/studiowebux/wssampler/internal/extract"
	"github.com/studiowebux/wssampler/internal/parser"
	"github.com/studiowebux/wssampler/internal/session"
	"github.com/studiowebux/wssampler/internal/transport"
	"github.com/studiowebux/wssampler/internal/types"
)

// Options configures a Sampler
type Options struct {
	// Factory creates one transport client per new session
	Factory transport.Factory
	Logger  zerolog.Logger
	// Resolver resolves {{variables}}; nil means rounds are used verbatim
	Resolver *parser.VariableResolver
}

// roundSettings feeds the current round to the session. A reused session
// reads the backlog size and streaming flag of the round it is serving.
type roundSettings struct {
	cur atomic.Pointer[session.Config]
}

func newRoundSettings(r types.Round) *roundSettings {
	rs := &roundSettings{}
	rs.set(r)
	return rs
}

func (rs *roundSettings) set(r types.Round) {
	rs.cur.Store(&session.Config{
		Response:   r.ResponsePattern,
		Disconnect: r.DisconnectPattern,
		Backlog:    r.MessageBacklog,
		Streaming:  r.Streaming,
	})
}

func (rs *roundSettings) ResponsePattern() string   { return rs.cur.Load().Response }
func (rs *roundSettings) DisconnectPattern() string { return rs.cur.Load().Disconnect }
func (rs *roundSettings) MessageBacklog() string    { return rs.cur.Load().Backlog }
func (rs *roundSettings) StreamingConnection() bool { return rs.cur.Load().Streaming }

// Sampler runs rounds for one virtual user. It is not safe for concurrent
// RunRound calls; Close may be called from any goroutine.
type Sampler struct {
	factory  transport.Factory
	log      zerolog.Logger
	resolver *parser.VariableResolver

	mu       sync.Mutex
	sess     *session.Session
	settings *roundSettings
	sessURL  string
	response string
	discon   string
}

// New creates a sampler. A nil factory dials with transport defaults.
func New(opts Options) *Sampler {
	factory := opts.Factory
	if factory == nil {
		factory = transport.NewWebSocketFactory(transport.Options{Logger: opts.Logger})
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = parser.NewVariableResolver(nil, nil, nil, nil)
	}

	return &Sampler{
		factory:  factory,
		log:      opts.Logger.With().Str("component", "sampler").Logger(),
		resolver: resolver,
	}
}

// Variables returns the session variables collected so far
func (s *Sampler) Variables() map[string]string {
	return s.resolver.GetSessionVariables()
}

// RunRound runs one send/await cycle and reports how it went
func (s *Sampler) RunRound(ctx context.Context, round types.Round) *types.SampleResult {
	start := time.Now()
	result := &types.SampleResult{
		Name:      round.Name,
		StartedAt: start,
	}
	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
		if !result.Matched && ctx.Err() != nil {
			result.Cancelled = true
			result.Success = false
		}
	}()

	if err := ctx.Err(); err != nil {
		result.Log = fmt.Sprintf("Round not started: %v", err)
		return result
	}

	s.resolver.ResetDiagnostics()
	r, err := s.resolver.ResolveRound(round)
	if err != nil {
		result.SetupError = err.Error()
		result.Log = fmt.Sprintf("Variable resolution failed: %v", err)
		s.log.Error().Err(err).Str("round", round.Name).Msg("variable resolution failed")
		return result
	}
	if r.ConnectTimeout <= 0 {
		r.ConnectTimeout = config.DefaultConnectTimeout
	}
	if r.ResponseTimeout <= 0 {
		r.ResponseTimeout = config.DefaultResponseTimeout
	}

	ep := transport.Endpoint{URL: r.URL, Headers: r.Headers, Subprotocols: r.Subprotocols}
	if _, err := ep.Validate(); err != nil {
		s.Close()
		result.SetupError = err.Error()
		result.Log = fmt.Sprintf("Invalid endpoint: %v", err)
		return result
	}

	sess, reused := s.acquire(r)
	result.Reused = reused

	// a cancelled run closes the connection, which releases both waits
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	for _, name := range s.resolver.GetUnresolvedVariables() {
		sess.Note(fmt.Sprintf("Unresolved variable %q", name))
	}

	if !reused {
		if err := sess.Open(ctx, ep); err != nil {
			s.log.Warn().Err(err).Str("url", r.URL).Msg("open rejected")
		}
		opened := sess.AwaitOpen(r.ConnectTimeout)
		if !sess.Connected() {
			result.TimedOutOnOpen = !opened
			sess.CloseNormal()
			s.drop(sess)
			s.fill(result, sess.Report())
			return result
		}
	}

	if r.Message != "" {
		if err := sess.Send(r.Message); err != nil {
			result.SendError = err.Error()
			sess.Note(fmt.Sprintf("Send failed: %v", err))
			sess.CloseNormal()
			s.drop(sess)
			s.fill(result, sess.Report())
			return result
		}
	}

	fired := sess.AwaitClose(r.ResponseTimeout)
	result.TimedOutOnClose = !fired

	report := sess.Report()
	s.fill(result, report)

	if result.Matched && len(r.Extract) > 0 {
		values, err := extract.Variables(r.Extract, report.MatchedMessage)
		if err != nil {
			result.ExtractError = err.Error()
		} else {
			for name, value := range values {
				s.resolver.AddSessionVariable(name, value)
			}
			result.Extracted = values
		}
	}

	result.Success = result.Matched && result.ErrorCode == 0 &&
		result.SendError == "" && result.ExtractError == ""

	if !sess.Usable() {
		s.drop(sess)
	}
	return result
}

// acquire returns the kept-open session when it can serve r, or a new one.
// Any other kept session is closed first.
func (s *Sampler) acquire(r types.Round) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != nil && s.sess.Usable() && s.sessURL == r.URL {
		s.settings.set(r)
		s.sess.Reinitialize()
		if r.ResponsePattern != s.response || r.DisconnectPattern != s.discon {
			s.sess.Note(fmt.Sprintf("Pattern change ignored on reused connection (response %q, disconnect %q)", s.response, s.discon))
		}
		return s.sess, true
	}

	if s.sess != nil {
		s.sess.CloseNormal()
		s.sess = nil
	}

	s.settings = newRoundSettings(r)
	s.sess = session.New(s.factory(), s.settings, s.log)
	s.sessURL = r.URL
	s.response = r.ResponsePattern
	s.discon = r.DisconnectPattern
	return s.sess, false
}

func (s *Sampler) drop(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == sess {
		s.sess = nil
	}
}

func (s *Sampler) fill(result *types.SampleResult, rep session.Report) {
	result.Log = rep.Log
	result.Responses = rep.Responses
	result.ErrorCode = rep.ErrorCode
	result.MatchKind = rep.MatchKind
	result.Matched = rep.Matched()
	result.MatchedMessage = rep.MatchedMessage
	result.MessageCount = rep.MessageCount
}

// Close tears down a kept-open connection, if any
func (s *Sampler) Close() {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()

	if sess != nil {
		sess.CloseNormal()
	}
}

// Open reports whether a connection is being kept open between rounds
func (s *Sampler) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil && s.sess.Usable()
}

// LogLines splits a round log into its comma separated entries
func LogLines(log string) []string {
	var lines []string
	for _, part := range strings.Split(log, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			lines = append(lines, part)
		}
	}
	return lines
}
