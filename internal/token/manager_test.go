package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"copytrade-backend-go/internal/models"
	"copytrade-backend-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubExchange counts refresh calls and returns a canned response after
// an optional delay. A plain stub instead of mock.Mock because the
// coalescing tests hammer it from many goroutines.
type stubExchange struct {
	calls    int64
	delay    time.Duration
	response *TokenResponse
	err      error
}

func (s *stubExchange) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

// setupManager creates a manager backed by a fresh in-memory database.
func setupManager(t *testing.T, exchange Exchanger) *Manager {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// A non-shared in-memory DSN gives every connection its own empty
	// database; concurrent tests need a single connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Credential{}))

	return NewManager(store.NewCredentialStore(db), exchange, zap.NewNop(), 2*time.Second)
}

func TestIssueAndGetValidToken_PasswordFallback(t *testing.T) {
	m := setupManager(t, &stubExchange{})
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID:      "user-1",
		Provider:    models.ProviderPassword,
		AccessToken: "pw-token",
		TTLSeconds:  3600,
	})
	require.NoError(t, err)

	got, err := m.GetValidToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pw-token", got)
}

func TestGetValidToken_PrefersOAuth(t *testing.T) {
	m := setupManager(t, &stubExchange{})
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderPassword,
		AccessToken: "pw-token", TTLSeconds: 3600,
	})
	require.NoError(t, err)
	_, err = m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "oauth-token", RefreshToken: "rt", TTLSeconds: 3600,
	})
	require.NoError(t, err)

	got, err := m.GetValidToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "oauth-token", got)
}

func TestGetValidToken_NoCredential(t *testing.T) {
	m := setupManager(t, &stubExchange{})

	_, err := m.GetValidToken(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestGetValidToken_PasswordNotRefreshedPastExpiry(t *testing.T) {
	exchange := &stubExchange{}
	m := setupManager(t, exchange)
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderPassword,
		AccessToken: "pw-token", TTLSeconds: 3600,
	})
	require.NoError(t, err)

	// Jump past nominal expiry; the password credential is still handed out.
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	got, err := m.GetValidToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pw-token", got)
	assert.EqualValues(t, 0, atomic.LoadInt64(&exchange.calls))
}

func TestGetValidToken_RefreshesNearExpiry(t *testing.T) {
	exchange := &stubExchange{
		response: &TokenResponse{AccessToken: "fresh-token", RefreshToken: "rt-2", ExpiresIn: 3600},
	}
	m := setupManager(t, exchange)
	ctx := context.Background()

	// Expires in 60s, inside the 120s margin.
	prior, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "stale-token", RefreshToken: "rt-1", TTLSeconds: 60,
	})
	require.NoError(t, err)

	got, err := m.GetValidToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", got)
	assert.EqualValues(t, 1, atomic.LoadInt64(&exchange.calls))

	// The refresh persisted under the same key with a later expiry.
	stored, err := m.store.GetByKey(ctx, "user-1", models.DefaultBroker, models.ProviderOAuth)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", stored.AccessToken)
	assert.Equal(t, "rt-2", stored.RefreshToken)
	assert.True(t, stored.ExpiresAt.After(prior.ExpiresAt))
}

func TestGetValidToken_RefreshCoalescing(t *testing.T) {
	exchange := &stubExchange{
		delay:    50 * time.Millisecond,
		response: &TokenResponse{AccessToken: "fresh-token", ExpiresIn: 3600},
	}
	m := setupManager(t, exchange)
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "stale-token", RefreshToken: "rt-1", TTLSeconds: 60,
	})
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidToken(ctx, "user-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-token", tokens[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&exchange.calls),
		"concurrent near-expiry callers must share one exchange call")
}

func TestGetValidToken_CoalescedFailureSharedByAllCallers(t *testing.T) {
	exchange := &stubExchange{
		delay: 50 * time.Millisecond,
		err:   ErrRefreshRejected,
	}
	m := setupManager(t, exchange)
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "stale-token", RefreshToken: "rt-1", TTLSeconds: 60,
	})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetValidToken(ctx, "user-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, errs[i], ErrRefreshRejected)
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&exchange.calls))
}

func TestGetValidToken_RefreshTimeoutFreesSlot(t *testing.T) {
	exchange := &stubExchange{
		delay:    time.Minute, // hangs well past the refresh timeout
		response: &TokenResponse{AccessToken: "never"},
	}
	m := setupManager(t, exchange)
	m.refreshTimeout = 50 * time.Millisecond
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "stale-token", RefreshToken: "rt-1", TTLSeconds: 60,
	})
	require.NoError(t, err)

	_, err = m.GetValidToken(ctx, "user-1")
	assert.Error(t, err)

	// The slot is free again: a second attempt reaches the exchange.
	_, err = m.GetValidToken(ctx, "user-1")
	assert.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&exchange.calls))
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	exchange := &stubExchange{}
	m := setupManager(t, exchange)
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "stale-token", TTLSeconds: 60,
	})
	require.NoError(t, err)

	_, err = m.GetValidToken(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.EqualValues(t, 0, atomic.LoadInt64(&exchange.calls))
}

func TestIssue_EmptyAccessToken(t *testing.T) {
	m := setupManager(t, &stubExchange{})

	_, err := m.Issue(context.Background(), IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth, TTLSeconds: 60,
	})
	assert.ErrorIs(t, err, ErrEmptyAccessToken)
}

func TestIssue_UnknownProvider(t *testing.T) {
	m := setupManager(t, &stubExchange{})

	_, err := m.Issue(context.Background(), IssueParams{
		UserID: "user-1", Provider: "saml", AccessToken: "x",
	})
	assert.Error(t, err)
}

func TestIssue_ExpiryRegressionAccepted(t *testing.T) {
	m := setupManager(t, &stubExchange{})
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "long-lived", TTLSeconds: 7200,
	})
	require.NoError(t, err)

	// Explicit re-issuance with a shorter TTL wins, even though it moves
	// the expiry backward.
	short, err := m.Issue(ctx, IssueParams{
		UserID: "user-1", Provider: models.ProviderOAuth,
		AccessToken: "short-lived", TTLSeconds: 60,
	})
	require.NoError(t, err)

	stored, err := m.store.GetByKey(ctx, "user-1", models.DefaultBroker, models.ProviderOAuth)
	require.NoError(t, err)
	assert.Equal(t, "short-lived", stored.AccessToken)
	assert.WithinDuration(t, short.ExpiresAt, stored.ExpiresAt, time.Second)
}
