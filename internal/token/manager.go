package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"copytrade-backend-go/internal/models"
	"copytrade-backend-go/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// expiryMargin is the safety window before nominal expiry within
	// which an oauth token is refreshed instead of handed out.
	expiryMargin = 2 * time.Minute

	// defaultTTLSeconds is used when the exchange response omits expires_in.
	defaultTTLSeconds = 3600
)

var (
	// ErrNoCredential is returned when a user has no stored credential
	// under any provider.
	ErrNoCredential = errors.New("token: no credential on file")

	// ErrNoRefreshToken is returned when a refresh is required but the
	// stored credential carries no refresh token.
	ErrNoRefreshToken = errors.New("token: no refresh token available")

	// ErrEmptyAccessToken is returned when issuance is attempted with an
	// empty access token.
	ErrEmptyAccessToken = errors.New("token: access token must not be empty")
)

// CredentialStore is the persistence the manager needs. Only the manager
// reads or writes credential rows.
type CredentialStore interface {
	GetByKey(ctx context.Context, userID, broker, provider string) (*models.Credential, error)
	Upsert(ctx context.Context, cred *models.Credential) error
}

// Manager owns the broker credential lifecycle: issuance, expiry
// tracking, and refresh-before-use. Concurrent refreshes for the same
// credential key are coalesced into a single exchange call.
type Manager struct {
	store    CredentialStore
	exchange Exchanger
	logger   *zap.Logger

	group          singleflight.Group
	refreshTimeout time.Duration
	now            func() time.Time
}

// NewManager creates a new credential lifecycle manager.
func NewManager(st CredentialStore, exchange Exchanger, logger *zap.Logger, refreshTimeout time.Duration) *Manager {
	return &Manager{
		store:          st,
		exchange:       exchange,
		logger:         logger,
		refreshTimeout: refreshTimeout,
		now:            time.Now,
	}
}

// IssueParams describes a credential issuance.
type IssueParams struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	TTLSeconds   int
	Scopes       []string
	AccountIDs   []string
}

// Issue computes the expiry and overwrites the credential row for
// (userID, broker, provider). Duplicate keys are overwritten, never
// rejected. A new expiry earlier than the stored one is accepted
// (explicit re-issuance wins) but logged as anomalous.
func (m *Manager) Issue(ctx context.Context, p IssueParams) (*models.Credential, error) {
	if p.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}
	if p.Provider != models.ProviderOAuth && p.Provider != models.ProviderPassword {
		return nil, fmt.Errorf("token: unknown provider %q", p.Provider)
	}

	ttl := p.TTLSeconds
	if ttl <= 0 {
		ttl = defaultTTLSeconds
	}
	expiresAt := m.now().Add(time.Duration(ttl) * time.Second)

	if prior, err := m.store.GetByKey(ctx, p.UserID, models.DefaultBroker, p.Provider); err == nil {
		if expiresAt.Before(prior.ExpiresAt) {
			m.logger.Warn("Issued credential moves expiry backward",
				zap.String("user_id", p.UserID),
				zap.String("provider", p.Provider),
				zap.Time("prior_expires_at", prior.ExpiresAt),
				zap.Time("new_expires_at", expiresAt),
			)
		}
	}

	cred := &models.Credential{
		UserID:       p.UserID,
		Broker:       models.DefaultBroker,
		Provider:     p.Provider,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    expiresAt,
		Scopes:       p.Scopes,
		AccountIDs:   p.AccountIDs,
	}
	if err := m.store.Upsert(ctx, cred); err != nil {
		return nil, err
	}

	m.logger.Info("Credential issued",
		zap.String("user_id", p.UserID),
		zap.String("provider", p.Provider),
		zap.Time("expires_at", expiresAt),
	)
	return cred, nil
}

// GetValidToken returns a usable access token for the user, preferring
// an oauth credential over a password one. An oauth credential inside
// the expiry margin is refreshed before being returned; password
// credentials are returned as-is even past nominal expiry.
func (m *Manager) GetValidToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.store.GetByKey(ctx, userID, models.DefaultBroker, models.ProviderOAuth)
	if errors.Is(err, store.ErrNotFound) {
		cred, err = m.store.GetByKey(ctx, userID, models.DefaultBroker, models.ProviderPassword)
	}
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", err
	}

	if cred.Provider == models.ProviderOAuth && cred.ExpiresWithin(m.now(), expiryMargin) {
		refreshed, err := m.refreshShared(ctx, cred)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}

	return cred.AccessToken, nil
}

// refreshShared coalesces concurrent refreshes for the same credential
// key into one in-flight exchange call; every waiter gets that one
// call's outcome. The exchange is detached from any single caller's
// cancellation and bounded by the refresh timeout, so a hung endpoint
// fails all waiters together and frees the slot for a later attempt.
func (m *Manager) refreshShared(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	key := cred.UserID + "|" + cred.Broker + "|" + cred.Provider

	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		return m.refresh(context.WithoutCancel(ctx), cred)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("Refresh shared with concurrent caller", zap.String("user_id", cred.UserID))
	}
	return v.(*models.Credential), nil
}

// refresh exchanges the stored refresh token and persists the result
// under the same key.
func (m *Manager) refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	if cred.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	resp, err := m.exchange.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		m.logger.Warn("Credential refresh failed",
			zap.String("user_id", cred.UserID),
			zap.Error(err),
		)
		return nil, err
	}

	// The endpoint may rotate the refresh token; keep the old one when
	// it doesn't.
	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	scopes := cred.Scopes
	if resp.Scope != "" {
		scopes = strings.Fields(resp.Scope)
	}

	return m.Issue(ctx, IssueParams{
		UserID:       cred.UserID,
		Provider:     models.ProviderOAuth,
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		TTLSeconds:   resp.ExpiresIn,
		Scopes:       scopes,
		AccountIDs:   cred.AccountIDs,
	})
}
