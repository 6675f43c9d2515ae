package token

import (
	"context"
	"errors"
	"fmt"

	"copytrade-backend-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrExchangeUnconfigured is returned when no token-exchange URL is set.
	ErrExchangeUnconfigured = errors.New("token: oauth exchange endpoint not configured")

	// ErrRefreshRejected is returned when the exchange endpoint answers
	// with a non-success status, or the call times out.
	ErrRefreshRejected = errors.New("token: refresh rejected by exchange endpoint")
)

// TokenResponse is the JSON body returned by the exchange endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Exchanger performs the refresh-token grant against the broker.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// ExchangeClient is a client for the broker's OAuth token endpoint.
// The endpoint is rate-limited and replay-sensitive, so calls go through
// a limiter and are never retried here.
type ExchangeClient struct {
	client       *resty.Client
	tokenURL     string
	clientID     string
	clientSecret string
	redirectURI  string
	logger       *zap.Logger
	limiter      *rate.Limiter
}

var _ Exchanger = (*ExchangeClient)(nil)

// NewExchangeClient creates a new token-exchange client.
func NewExchangeClient(cfg *config.Broker, logger *zap.Logger) *ExchangeClient {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &ExchangeClient{
		client:       resty.New(),
		tokenURL:     cfg.OAuthTokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		logger:       logger,
		limiter:      limiter,
	}
}

// Refresh exchanges a refresh token for a fresh access token.
func (c *ExchangeClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if c.tokenURL == "" {
		return nil, ErrExchangeUnconfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var result TokenResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     c.clientID,
			"client_secret": c.clientSecret,
			"redirect_uri":  c.redirectURI,
		}).
		SetResult(&result).
		Post(c.tokenURL)
	if err != nil {
		c.logger.Warn("Token exchange call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	}
	if resp.IsError() {
		c.logger.Warn("Token exchange returned error status",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return nil, fmt.Errorf("%w: status %s", ErrRefreshRejected, resp.Status())
	}

	if result.AccessToken == "" {
		return nil, fmt.Errorf("%w: response missing access_token", ErrRefreshRejected)
	}

	return &result, nil
}
