// Package models defines the entities persisted by the server: users and
// refresh tokens, plus the session view derived from active tokens.
package models

import "time"

// GeneratedBy records how a refresh token came into existence.
type GeneratedBy string

const (
	// GeneratedByPassword marks a root token minted at username/password login.
	GeneratedByPassword GeneratedBy = "username_password"
	// GeneratedByRotation marks a descendant minted by redeeming its parent.
	GeneratedByRotation GeneratedBy = "refresh_rotation"
)

// LogoutScope selects how broadly a logout revokes refresh tokens.
type LogoutScope string

const (
	// ScopeCurrentSession revokes exactly the presented refresh token.
	ScopeCurrentSession LogoutScope = "CurrentSession"
	// ScopeCurrentBrowser revokes the whole family of the presented token.
	// Default scope.
	ScopeCurrentBrowser LogoutScope = "CurrentBrowser"
	// ScopeAllDevices revokes every non-revoked token the user owns.
	ScopeAllDevices LogoutScope = "AllDevices"
)

// RefreshToken is one link in a rotation chain. Rows are append-mostly: the
// only mutations ever applied are flipping IsUsed/IsRevoked together with
// their timestamps. Rows are never deleted; the chain is kept for audit.
type RefreshToken struct {
	ID     string
	UserID string

	// Token is the opaque high-entropy secret presented by the client.
	// Unique, never reused.
	Token string

	// JwtID ties this token to the jti claim of the access token minted
	// alongside it. A refresh call must present that same access token.
	JwtID string

	// FamilyID names the lineage descending from one password login.
	// Every token minted by rotating within the lineage shares it.
	FamilyID string

	// ParentTokenID is the redeemed predecessor; empty for root tokens.
	ParentTokenID string

	GeneratedBy GeneratedBy

	IPAddress  string
	UserAgent  string
	DeviceName string

	IsUsed   bool
	UsedDate *time.Time

	IsRevoked   bool
	RevokedDate *time.Time

	CreatedDate time.Time

	// ExpiryDate is the absolute ceiling for the whole family: descendants
	// inherit the root's value verbatim, rotation never extends it.
	ExpiryDate time.Time
}

// Session is the client-observable view over an active refresh token.
type Session struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"deviceName"`
	IPAddress  string    `json:"ipAddress"`
	LastActive time.Time `json:"lastActive"`
	IsCurrent  bool      `json:"isCurrent"`
	ExpiryDate time.Time `json:"expiryDate"`
}
