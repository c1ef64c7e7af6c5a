// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

// Package authtest provides in-memory fakes of the auth collaborators for tests.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/synthstack/authcore/internal/auth"
)

type txKey struct{}

// Store is an in-memory auth.CredentialStore, auth.EventSink and
// auth.UserDirectory. Transactions are serialized and roll back to a
// snapshot when fn fails.
type Store struct {
	txMu sync.Mutex

	mu       sync.Mutex
	users    map[ulid.ULID]*auth.User
	creds    map[ulid.ULID]*auth.PasswordCredential
	sessions map[ulid.ULID]*auth.SessionRecord
	events   []*auth.AuthEvent

	// AppendErr, when set, is returned by AppendEvent.
	AppendErr error
}

var (
	_ auth.CredentialStore = (*Store)(nil)
	_ auth.EventSink       = (*Store)(nil)
	_ auth.UserDirectory   = (*Store)(nil)
)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[ulid.ULID]*auth.User),
		creds:    make(map[ulid.ULID]*auth.PasswordCredential),
		sessions: make(map[ulid.ULID]*auth.SessionRecord),
	}
}

type snapshot struct {
	users    map[ulid.ULID]*auth.User
	creds    map[ulid.ULID]*auth.PasswordCredential
	sessions map[ulid.ULID]*auth.SessionRecord
	events   []*auth.AuthEvent
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		users:    make(map[ulid.ULID]*auth.User, len(s.users)),
		creds:    make(map[ulid.ULID]*auth.PasswordCredential, len(s.creds)),
		sessions: make(map[ulid.ULID]*auth.SessionRecord, len(s.sessions)),
		events:   append([]*auth.AuthEvent(nil), s.events...),
	}
	for k, v := range s.users {
		snap.users[k] = copyUser(v)
	}
	for k, v := range s.creds {
		snap.creds[k] = copyCred(v)
	}
	for k, v := range s.sessions {
		cp := *v
		snap.sessions[k] = &cp
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.creds = snap.creds
	s.sessions = snap.sessions
	s.events = snap.events
}

// InTransaction implements auth.Transactor. Nested calls join the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	return &cp
}

func copyCred(c *auth.PasswordCredential) *auth.PasswordCredential {
	cp := *c
	return &cp
}

func (s *Store) userByEmailLocked(email string) *auth.User {
	email = auth.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

// GetUserByID implements auth.UserRepository.
func (s *Store) GetUserByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return copyUser(u), nil
}

// GetUserByEmail implements auth.UserRepository.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userByEmailLocked(email)
	if u == nil {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return copyUser(u), nil
}

// UpdateUser implements auth.UserRepository.
func (s *Store) UpdateUser(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	u.DisplayName = user.DisplayName
	u.AvatarURL = user.AvatarURL
	u.UpdatedAt = user.UpdatedAt
	return nil
}

// DeleteUser implements auth.UserRepository, cascading to credential and sessions.
func (s *Store) DeleteUser(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(s.users, id)
	delete(s.creds, id)
	for sid, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// UpsertShadowUser implements auth.UserRepository.
func (s *Store) UpsertShadowUser(_ context.Context, email, displayName, avatarURL string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if u := s.userByEmailLocked(email); u != nil {
		u.DisplayName = displayName
		u.AvatarURL = avatarURL
		u.UpdatedAt = now
		return copyUser(u), nil
	}
	u, err := auth.NewUser(email, displayName, now)
	if err != nil {
		return nil, err
	}
	u.AvatarURL = avatarURL
	s.users[u.ID] = u
	return copyUser(u), nil
}

// IsBanned implements auth.BanChecker.
func (s *Store) IsBanned(_ context.Context, userID ulid.ULID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, oops.Code("USER_NOT_FOUND").With("id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return u.Banned, nil
}

// SetBanned flips a user's ban flag.
func (s *Store) SetBanned(userID ulid.ULID, banned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Banned = banned
	}
}

// CreateUserWithCredential implements auth.CredentialRepository.
func (s *Store) CreateUserWithCredential(_ context.Context, user *auth.User, cred *auth.PasswordCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userByEmailLocked(user.Email) != nil {
		return oops.Code("USER_CREATE_FAILED").With("email", user.Email).Wrap(auth.ErrConflict)
	}
	s.users[user.ID] = copyUser(user)
	c := copyCred(cred)
	c.UserID = user.ID
	s.creds[user.ID] = c
	return nil
}

// GetCredential implements auth.CredentialRepository.
func (s *Store) GetCredential(_ context.Context, userID ulid.ULID) (*auth.PasswordCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return copyCred(c), nil
}

func (s *Store) credLocked(userID ulid.ULID) (*auth.PasswordCredential, error) {
	c, ok := s.creds[userID]
	if !ok {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return c, nil
}

// RecordFailedAttempt implements auth.CredentialRepository.
func (s *Store) RecordFailedAttempt(_ context.Context, userID ulid.ULID, policy auth.LockoutPolicy, now time.Time) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.credLocked(userID)
	if err != nil {
		return 0, nil, err
	}
	c.FailedAttempts, c.LockedUntil = policy.NextFailure(c.FailedAttempts, c.LockedUntil, now)
	c.UpdatedAt = now
	return c.FailedAttempts, c.LockedUntil, nil
}

// ResetFailedAttempts implements auth.CredentialRepository.
func (s *Store) ResetFailedAttempts(_ context.Context, userID ulid.ULID, now time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.credLocked(userID)
	if err != nil {
		return nil, err
	}
	if auth.IsLockedOut(c.LockedUntil, now) {
		until := *c.LockedUntil
		return &until, nil
	}
	c.FailedAttempts = 0
	c.LockedUntil = nil
	c.UpdatedAt = now
	return nil, nil
}

// SetVerificationToken implements auth.CredentialRepository.
func (s *Store) SetVerificationToken(_ context.Context, userID ulid.ULID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.credLocked(userID)
	if err != nil {
		return err
	}
	c.VerificationTokenHash = &tokenHash
	c.VerificationExpiresAt = &expiresAt
	return nil
}

// ConsumeVerificationToken implements auth.CredentialRepository.
func (s *Store) ConsumeVerificationToken(_ context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.creds {
		if c.VerificationTokenHash == nil || *c.VerificationTokenHash != tokenHash {
			continue
		}
		if c.VerificationExpiresAt == nil || !c.VerificationExpiresAt.After(now) {
			break
		}
		c.EmailVerified = true
		c.VerificationTokenHash = nil
		c.VerificationExpiresAt = nil
		return id, nil
	}
	return ulid.ULID{}, oops.Code("VERIFICATION_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// SetResetToken implements auth.CredentialRepository.
func (s *Store) SetResetToken(_ context.Context, userID ulid.ULID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.credLocked(userID)
	if err != nil {
		return err
	}
	c.ResetTokenHash = &tokenHash
	c.ResetExpiresAt = &expiresAt
	return nil
}

// ConsumeResetToken implements auth.CredentialRepository.
func (s *Store) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.creds {
		if c.ResetTokenHash == nil || *c.ResetTokenHash != tokenHash {
			continue
		}
		if c.ResetExpiresAt == nil || !c.ResetExpiresAt.After(now) {
			break
		}
		c.ResetTokenHash = nil
		c.ResetExpiresAt = nil
		return id, nil
	}
	return ulid.ULID{}, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// UpdatePassword implements auth.CredentialRepository.
func (s *Store) UpdatePassword(_ context.Context, userID ulid.ULID, passwordHash string, resetLockout bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.credLocked(userID)
	if err != nil {
		return err
	}
	c.PasswordHash = passwordHash
	if resetLockout {
		c.FailedAttempts = 0
		c.LockedUntil = nil
	}
	return nil
}

// CreateSession implements auth.SessionRepository.
func (s *Store) CreateSession(_ context.Context, session *auth.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[session.UserID]; !ok {
		return oops.Code("SESSION_CREATE_FAILED").With("user_id", session.UserID.String()).Wrap(auth.ErrNotFound)
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// LockSessionByRefreshHash implements auth.SessionRepository.
func (s *Store) LockSessionByRefreshHash(_ context.Context, refreshHash string) (*auth.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.RefreshTokenHash == refreshHash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// DeactivateSession implements auth.SessionRepository.
func (s *Store) DeactivateSession(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	sess.Active = false
	return nil
}

// DeactivateSessionByAccessHash implements auth.SessionRepository.
func (s *Store) DeactivateSessionByAccessHash(_ context.Context, userID ulid.ULID, accessHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.Active && sess.UserID == userID && sess.AccessTokenHash == accessHash {
			sess.Active = false
			n++
		}
	}
	return n, nil
}

// DeactivateUserSessions implements auth.SessionRepository.
func (s *Store) DeactivateUserSessions(_ context.Context, userID ulid.ULID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.Active && sess.UserID == userID {
			sess.Active = false
			n++
		}
	}
	return n, nil
}

// DeleteExpiredSessions implements auth.SessionRepository. The fake has no
// deactivation timestamp, so inactive sessions created before cutoff count.
func (s *Store) DeleteExpiredSessions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) || (!sess.Active && sess.CreatedAt.Before(cutoff)) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// AppendEvent implements auth.EventSink.
func (s *Store) AppendEvent(_ context.Context, event *auth.AuthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// Events returns the appended events in order.
func (s *Store) Events() []*auth.AuthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*auth.AuthEvent(nil), s.events...)
}

// Sessions returns a user's sessions, oldest first.
func (s *Store) Sessions(userID ulid.ULID) []auth.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.SessionRecord
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// ActiveSessions counts a user's active sessions.
func (s *Store) ActiveSessions(userID ulid.ULID) int {
	var n int
	for _, sess := range s.Sessions(userID) {
		if sess.Active {
			n++
		}
	}
	return n
}

// UserCount returns the number of stored users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
