// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenTypeBearer is the token type reported in every issued Session.
const TokenTypeBearer = "Bearer"

// User is the provider-agnostic profile. Email is stored lower-cased.
type User struct {
	ID          ulid.ULID
	Email       string
	DisplayName string
	AvatarURL   string
	Banned      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewUser creates a validated User with a fresh ID.
func NewUser(email, displayName string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	return &User{
		ID:          ulid.Make(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// PasswordCredential is the local provider's secret material for one user.
// Token fields hold SHA-256 digests, never plaintext.
type PasswordCredential struct {
	UserID                ulid.ULID
	PasswordHash          string
	EmailVerified         bool
	FailedAttempts        int
	LockedUntil           *time.Time
	VerificationTokenHash *string
	VerificationExpiresAt *time.Time
	ResetTokenHash        *string
	ResetExpiresAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsLockedAt reports whether the credential is locked out at t.
func (c *PasswordCredential) IsLockedAt(t time.Time) bool {
	return IsLockedOut(c.LockedUntil, t)
}

// SessionRecord is the persisted form of one issued access/refresh pair.
// Only Active ever changes after creation.
type SessionRecord struct {
	ID               ulid.ULID
	UserID           ulid.ULID
	AccessTokenHash  string
	RefreshTokenHash string
	ExpiresAt        time.Time
	Active           bool
	CreatedAt        time.Time
}

// NewSessionRecord creates a validated, active SessionRecord.
func NewSessionRecord(userID ulid.ULID, accessHash, refreshHash string, createdAt, expiresAt time.Time) (*SessionRecord, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if accessHash == "" || refreshHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hashes cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}
	return &SessionRecord{
		ID:               ulid.Make(),
		UserID:           userID,
		AccessTokenHash:  accessHash,
		RefreshTokenHash: refreshHash,
		ExpiresAt:        expiresAt,
		Active:           true,
		CreatedAt:        createdAt,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *SessionRecord) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// AuthUser is the wire representation of an authenticated user.
type AuthUser struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"emailVerified"`
	DisplayName   string     `json:"displayName,omitempty"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// NewAuthUser projects a User onto the wire shape.
func NewAuthUser(u *User, emailVerified bool) AuthUser {
	au := AuthUser{
		ID:            u.ID.String(),
		Email:         u.Email,
		EmailVerified: emailVerified,
		DisplayName:   u.DisplayName,
		AvatarURL:     u.AvatarURL,
		CreatedAt:     u.CreatedAt,
	}
	if !u.UpdatedAt.IsZero() {
		updated := u.UpdatedAt
		au.UpdatedAt = &updated
	}
	return au
}

// Session is the token pair handed to a client. The plaintext tokens exist
// only here; stores keep digests.
type Session struct {
	User         AuthUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	// ExpiresAt is the access token expiry in Unix milliseconds.
	ExpiresAt int64  `json:"expiresAt"`
	TokenType string `json:"tokenType"`
	Provider  string `json:"provider"`
}

// Verification is the outcome of checking an access token.
type Verification struct {
	Valid    bool
	Provider string
	UserID   ulid.ULID
	User     *AuthUser
	// Reason explains an invalid result for logs. It is never sent to clients.
	Reason string
}

// Invalid builds a negative Verification.
func Invalid(provider, reason string) *Verification {
	return &Verification{Provider: provider, Reason: reason}
}

// EventType names an audit event.
type EventType string

// Audit event types.
const (
	EventSignUp               EventType = "sign_up"
	EventSignIn               EventType = "sign_in"
	EventSignInFailed         EventType = "sign_in_failed"
	EventSignOut              EventType = "sign_out"
	EventSessionRefreshed     EventType = "session_refreshed"
	EventPasswordResetRequest EventType = "password_reset_requested"
	EventPasswordReset        EventType = "password_reset"
	EventEmailVerified        EventType = "email_verified"
	EventVerificationResent   EventType = "verification_resent"
	EventOAuthCallback        EventType = "oauth_callback"
	EventUserUpdated          EventType = "user_updated"
	EventUserDeleted          EventType = "user_deleted"
)

// AuthEvent is an append-only audit record.
type AuthEvent struct {
	ID        ulid.ULID
	Type      EventType
	UserID    *ulid.ULID
	Email     string
	Provider  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// UserUpdate carries the mutable profile fields; nil means unchanged.
type UserUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

// Apply copies the set fields onto u.
func (up UserUpdate) Apply(u *User, now time.Time) {
	if up.DisplayName != nil {
		u.DisplayName = *up.DisplayName
	}
	if up.AvatarURL != nil {
		u.AvatarURL = *up.AvatarURL
	}
	u.UpdatedAt = now
}
