package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// DefaultTokenTTL is assumed when the token endpoint does not report an expiry.
const DefaultTokenTTL = 1 * time.Hour

// TokenConfig holds configuration for the Horizon token source.
type TokenConfig struct {
	// TokenURL is the full token endpoint URL
	// (e.g. "https://webapi<server>.horizon.greenpowermonitor.com/api/Account/Token").
	TokenURL string

	// Credentials used to request the token.
	Credentials Credentials

	// TokenTTL is how long an issued token is considered valid before
	// a refresh is attempted (default: DefaultTokenTTL).
	TokenTTL time.Duration

	// HTTPClient used for the token request (default: 30s timeout client).
	HTTPClient *http.Client
}

// NewTokenSource creates an oauth2.TokenSource that issues bearer tokens
// from the Horizon token endpoint. Tokens are cached and reissued only
// when expired.
func NewTokenSource(cfg TokenConfig) (oauth2.TokenSource, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
		return nil, fmt.Errorf("token source: %w", ErrNoCredentials)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	ts := &tokenSource{
		cfg:    cfg,
		logger: log.With().Str("component", "gpm-auth").Logger(),
	}

	return oauth2.ReuseTokenSource(nil, ts), nil
}

// tokenSource requests a fresh token on every call. Callers get caching
// via the oauth2.ReuseTokenSource wrapper in NewTokenSource.
type tokenSource struct {
	cfg    TokenConfig
	logger zerolog.Logger
}

// tokenResponse is the token endpoint response body.
type tokenResponse struct {
	AccessToken string `json:"AccessToken"`
}

// Token implements oauth2.TokenSource.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	payload, err := json.Marshal(map[string]string{
		"username": ts.cfg.Credentials.Username,
		"password": ts.cfg.Credentials.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	resp, err := ts.cfg.HTTPClient.Post(ts.cfg.TokenURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		ts.logger.Error().Err(err).Str("token_url", ts.cfg.TokenURL).Msg("Token request failed")
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ts.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Token endpoint rejected request")
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access token")
	}

	ts.logger.Info().Msg("Token successfully retrieved")

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(ts.cfg.TokenTTL),
	}, nil
}
