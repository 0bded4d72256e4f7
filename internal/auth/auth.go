// Package auth obtains OAuth 2.0 tokens for the WebSocket handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/studiowebux/wssampler/internal/types"
)

// TokenRequestTimeout is the timeout for token endpoint requests
const TokenRequestTimeout = 30 * time.Second

// ErrIncompleteConfig is returned when a required client-credentials field is missing
var ErrIncompleteConfig = errors.New("incomplete OAuth configuration")

// Validate checks the required fields
func Validate(cfg *types.AuthConfig) error {
	if cfg == nil {
		return nil
	}
	switch {
	case cfg.TokenURL == "":
		return fmt.Errorf("%w: tokenUrl is required", ErrIncompleteConfig)
	case cfg.ClientID == "":
		return fmt.Errorf("%w: clientId is required", ErrIncompleteConfig)
	case cfg.ClientSecret == "":
		return fmt.Errorf("%w: clientSecret is required", ErrIncompleteConfig)
	}
	return nil
}

// TokenSource returns a caching client-credentials token source, or nil when
// cfg is nil. Tokens are fetched lazily and refreshed on expiry.
func TokenSource(ctx context.Context, cfg *types.AuthConfig) (oauth2.TokenSource, error) {
	if cfg == nil {
		return nil, nil
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	// the token endpoint gets its own bounded client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: TokenRequestTimeout})
	return cc.TokenSource(ctx), nil
}
