package models

import "time"

// DefaultBroker is the only broker this service currently talks to.
const DefaultBroker = "tradeovate"

// Credential providers.
const (
	ProviderOAuth    = "oauth"
	ProviderPassword = "password"
)

// Credential holds one broker token row per (user, broker, provider).
// Rows are overwritten in place by every issuance or refresh and are
// never deleted.
type Credential struct {
	UserID       string    `gorm:"primaryKey;size:36" json:"user_id"`
	Broker       string    `gorm:"primaryKey;size:32" json:"broker"`
	Provider     string    `gorm:"primaryKey;size:16" json:"provider"`
	AccessToken  string    `gorm:"not null" json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	Scopes       []string  `gorm:"serializer:json" json:"scopes,omitempty"`
	AccountIDs   []string  `gorm:"serializer:json" json:"account_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpiresWithin reports whether the credential expires before now+margin.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return now.After(c.ExpiresAt.Add(-margin))
}
