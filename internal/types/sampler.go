package types

import "time"

// Close status codes used by the sampler (RFC 6455 section 7.4.1)
const (
	CloseNormal     = 1000
	CloseAbnormal   = 1006
	ClosedBySampler = "Sampler closed session."
)

// MatchKind describes which branch ended a round's wait
type MatchKind string

const (
	MatchNone       MatchKind = ""
	MatchResponse   MatchKind = "response"
	MatchDisconnect MatchKind = "disconnect"
)

// TLSConfig holds TLS settings for wss:// endpoints
type TLSConfig struct {
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// AuthConfig holds OAuth 2.0 client credentials used to authorize the handshake
type AuthConfig struct {
	TokenURL     string   `json:"tokenUrl" yaml:"tokenUrl"`
	ClientID     string   `json:"clientId" yaml:"clientId"`
	ClientSecret string   `json:"clientSecret" yaml:"clientSecret"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Round is one send/await cycle as configured by the caller.
// String fields may contain {{variables}}; they are resolved before the
// connection session sees them.
type Round struct {
	Name              string            `json:"name,omitempty" yaml:"name,omitempty"`
	URL               string            `json:"url" yaml:"url"`
	Headers           map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Subprotocols      []string          `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"`
	Message           string            `json:"message,omitempty" yaml:"message,omitempty"`
	ResponsePattern   string            `json:"responsePattern,omitempty" yaml:"responsePattern,omitempty"`
	DisconnectPattern string            `json:"disconnectPattern,omitempty" yaml:"disconnectPattern,omitempty"`
	MessageBacklog    string            `json:"messageBacklog,omitempty" yaml:"messageBacklog,omitempty"`
	Streaming         bool              `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	ConnectTimeout    time.Duration     `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	ResponseTimeout   time.Duration     `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty"`
	Extract           map[string]string `json:"extract,omitempty" yaml:"extract,omitempty"` // variable name -> JMESPath
}

// SampleResult is what a round reports back to the caller
type SampleResult struct {
	Name            string            `json:"name,omitempty" yaml:"name,omitempty"`
	Success         bool              `json:"success" yaml:"success"`
	Matched         bool              `json:"matched" yaml:"matched"`
	MatchKind       MatchKind         `json:"matchKind,omitempty" yaml:"matchKind,omitempty"`
	TimedOutOnOpen  bool              `json:"timedOutOnOpen,omitempty" yaml:"timedOutOnOpen,omitempty"`
	TimedOutOnClose bool              `json:"timedOutOnClose,omitempty" yaml:"timedOutOnClose,omitempty"`
	ErrorCode       int               `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
	SendError       string            `json:"sendError,omitempty" yaml:"sendError,omitempty"`
	ExtractError    string            `json:"extractError,omitempty" yaml:"extractError,omitempty"`
	SetupError      string            `json:"setupError,omitempty" yaml:"setupError,omitempty"`
	Cancelled       bool              `json:"cancelled,omitempty" yaml:"cancelled,omitempty"` // context ended before a match
	Reused          bool              `json:"reused,omitempty" yaml:"reused,omitempty"`
	MessageCount    int               `json:"messageCount" yaml:"messageCount"`
	Log             string            `json:"log" yaml:"log"`
	Responses       string            `json:"responses" yaml:"responses"`
	MatchedMessage  string            `json:"-" yaml:"-"`
	Extracted       map[string]string `json:"extracted,omitempty" yaml:"extracted,omitempty"`
	StartedAt       time.Time         `json:"startedAt" yaml:"startedAt"`
	DurationMs      int64             `json:"durationMs" yaml:"durationMs"`
}

// Outcome classifies the result for statistics and metrics
func (r *SampleResult) Outcome() string {
	switch {
	case r.Success:
		return "success"
	case r.Cancelled:
		return "cancelled"
	case r.SetupError != "":
		return "setup_error"
	case r.TimedOutOnOpen:
		return "connect_timeout"
	case r.SendError != "":
		return "send_error"
	case r.ErrorCode != 0:
		return "abnormal_close"
	case r.TimedOutOnClose:
		return "response_timeout"
	case r.Matched && r.ExtractError != "":
		return "extract_error"
	default:
		return "mismatch"
	}
}
