package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/mock"
)

// DefaultMockPort is used when neither the config nor the flag sets a port
const DefaultMockPort = 8080

// MockOptions contains options for the mock server command
type MockOptions struct {
	ConfigPath string
	Port       int // overrides the config port when set
	Logger     zerolog.Logger
	Out        io.Writer // exchange log; nil disables it
	Ready      func(addr string)
}

// Mock serves a mock WebSocket endpoint until ctx is cancelled
func Mock(ctx context.Context, opts MockOptions) error {
	cfg, err := mock.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultMockPort
	}
	if opts.Out != nil {
		cfg.Logging = true
	}

	srv := mock.NewServer(cfg, opts.Logger)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Fprintf(os.Stderr, "Mock server listening on %s\n", srv.GetAddress())
	if opts.Ready != nil {
		opts.Ready(srv.GetAddress())
	}

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-srv.NotifyChannel():
			var logs []mock.MessageLog
			logs, printed = srv.LogsSince(printed)
			if opts.Out == nil {
				continue
			}
			for _, l := range logs {
				fmt.Fprintln(opts.Out, formatExchange(l))
			}
		}
	}
}

func formatExchange(l mock.MessageLog) string {
	line := fmt.Sprintf("%s #%d %-7s %s", l.Timestamp.Format(time.TimeOnly), l.ConnID, l.Event, l.Text)
	if l.MatchedRule != "" {
		line += fmt.Sprintf(" -> %s (%d replies)", l.MatchedRule, l.Replies)
	}
	return line
}
