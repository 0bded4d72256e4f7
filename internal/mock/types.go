package mock

import "time"

// Match types for Rule.MatchType
const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// Config represents the mock server configuration
type Config struct {
	Port         int      `json:"port" yaml:"port"`                                     // Server port (0 picks a free one)
	Host         string   `json:"host" yaml:"host"`                                     // Server host (default: localhost)
	Path         string   `json:"path,omitempty" yaml:"path,omitempty"`                 // Upgrade path (default: /ws)
	Subprotocols []string `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"` // Offered subprotocols
	Greeting     string   `json:"greeting,omitempty" yaml:"greeting,omitempty"`         // Sent right after the upgrade
	Echo         bool     `json:"echo,omitempty" yaml:"echo,omitempty"`                 // Echo messages no rule matched
	Rules        []Rule   `json:"rules" yaml:"rules"`                                   // Reply rules, first match wins
	Logging      bool     `json:"logging" yaml:"logging"`                               // Enable message logging
}

// Rule represents a reply rule for inbound messages
type Rule struct {
	Name        string        `json:"name,omitempty" yaml:"name,omitempty"`               // Rule description
	Match       string        `json:"match" yaml:"match"`                                 // Text or pattern to match
	MatchType   string        `json:"matchType,omitempty" yaml:"matchType,omitempty"`     // exact, contains, regex (default: exact)
	Reply       string        `json:"reply,omitempty" yaml:"reply,omitempty"`             // Single reply
	Replies     []string      `json:"replies,omitempty" yaml:"replies,omitempty"`         // Replies sent in order after Reply
	Close       bool          `json:"close,omitempty" yaml:"close,omitempty"`             // Close the connection after replying
	CloseCode   int           `json:"closeCode,omitempty" yaml:"closeCode,omitempty"`     // Close status (default: 1000)
	CloseReason string        `json:"closeReason,omitempty" yaml:"closeReason,omitempty"` // Close reason text
	Delay       time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`             // Wait before replying
}

// MessageLog represents one logged exchange event
type MessageLog struct {
	Timestamp   time.Time `json:"timestamp"`
	ConnID      int64     `json:"connId"`
	Event       string    `json:"event"` // open, message, close
	Text        string    `json:"text,omitempty"`
	MatchedRule string    `json:"matchedRule,omitempty"`
	Replies     int       `json:"replies"`
}
