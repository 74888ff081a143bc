package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/throttlecove/throttlecove/internal/domain"
	"github.com/throttlecove/throttlecove/internal/observability"
	"github.com/throttlecove/throttlecove/internal/repository"
	"github.com/throttlecove/throttlecove/internal/security"
)

// ClientInfo is the per-device metadata recorded on each session.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type RegisterParams struct {
	Username string
	Email    string
	Password string
	FullName string
}

// LoginResult is what a successful register/login/refresh hands back: the
// user row (hash never serialized), the signed token pair and the session id
// the pair is bound to.
type LoginResult struct {
	User      *domain.User       `json:"user"`
	Tokens    security.TokenPair `json:"tokens"`
	SessionID string             `json:"session_id"`
}

type SessionView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip"`
	IsCurrent bool      `json:"is_current"`
}

// AuthService orchestrates registration, login, token refresh and the
// account-maintenance operations over the credential store, session store,
// password hasher, token issuer and lockout policy.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	hasher   *security.PasswordHasher
	issuer   *security.TokenIssuer
	lockout  *LockoutPolicy
	pepper   string
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher *security.PasswordHasher,
	issuer *security.TokenIssuer,
	lockout *LockoutPolicy,
	pepper string,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		issuer:   issuer,
		lockout:  lockout,
		pepper:   pepper,
	}
}

// Register creates the account with the default non-privileged role and logs
// the new user straight in on a fresh session.
func (s *AuthService) Register(params RegisterParams, client ClientInfo) (*LoginResult, error) {
	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		FullName:     params.FullName,
		Role:         domain.RoleRider,
	}
	if err := s.users.Create(user); err != nil {
		observability.RecordRegistration("failure")
		return nil, err
	}
	observability.RecordRegistration("success")
	return s.startSession(user, client)
}

// Login resolves the identifier as username first, then email. The lockout
// check runs before password verification and consumes no attempt. Unknown
// user and wrong password produce the same error, with a dummy hash
// comparison on the unknown-user path to keep the timing comparable.
func (s *AuthService) Login(identifier, password string, client ClientInfo) (*LoginResult, error) {
	user, err := s.users.FindByUsernameOrEmail(identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.DummyVerify(password)
			observability.RecordLogin("unknown_user")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	locked, err := s.lockout.IsLocked(user)
	if err != nil {
		return nil, err
	}
	if locked {
		observability.RecordLogin("locked")
		return nil, ErrAccountLocked
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.lockout.RecordFailure(user.ID); err != nil {
			return nil, err
		}
		observability.RecordLogin("bad_password")
		return nil, ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(user.ID); err != nil {
		return nil, err
	}
	user.LoginAttempts = 0
	user.LockedUntil = nil
	now := time.Now()
	user.LastLogin = &now

	observability.RecordLogin("success")
	return s.startSession(user, client)
}

// Refresh exchanges a valid refresh token for a fresh pair. The session row
// stays the single source of truth: a deleted (logged-out) or expired
// session kills the token even while its signature is still good, and the
// stored refresh hash is rotated so the old token is single-use.
func (s *AuthService) Refresh(refreshToken string, client ClientInfo) (*LoginResult, error) {
	claims, err := s.issuer.ParseRefreshToken(refreshToken)
	if err != nil {
		observability.RecordRefresh("invalid_token")
		return nil, security.ErrInvalidToken
	}
	session, err := s.sessions.FindActiveByID(claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordRefresh("revoked_session")
			return nil, security.ErrInvalidToken
		}
		return nil, err
	}
	if session.RefreshTokenHash != security.HashRefreshToken(refreshToken, s.pepper) {
		observability.RecordRefresh("stale_token")
		return nil, security.ErrInvalidToken
	}
	userID, err := security.UserIDFromSubject(claims.Subject)
	if err != nil || userID != session.UserID {
		observability.RecordRefresh("invalid_token")
		return nil, security.ErrInvalidToken
	}
	user, err := s.users.FindByID(userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordRefresh("unknown_user")
			return nil, security.ErrInvalidToken
		}
		return nil, err
	}
	pair, err := s.issuer.IssuePair(user, session.ID)
	if err != nil {
		return nil, err
	}
	newHash := security.HashRefreshToken(pair.RefreshToken, s.pepper)
	if err := s.sessions.Rotate(session.ID, newHash, time.Now().Add(s.issuer.RefreshTTL())); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, security.ErrInvalidToken
		}
		return nil, err
	}
	observability.RecordRefresh("success")
	return &LoginResult{User: user, Tokens: pair, SessionID: session.ID}, nil
}

// Logout deletes the session row. Logging out a session that is already
// gone is not an error.
func (s *AuthService) Logout(sessionID string) error {
	return s.sessions.DeleteByID(sessionID)
}

// CurrentUser resolves the identity behind an access token, re-checking the
// session store so that logout is authoritative over token self-expiry.
func (s *AuthService) CurrentUser(claims *security.AccessClaims) (*domain.User, error) {
	if _, err := s.sessions.FindActiveByID(claims.SessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, security.ErrInvalidToken
		}
		return nil, err
	}
	userID, err := security.UserIDFromSubject(claims.Subject)
	if err != nil {
		return nil, security.ErrInvalidToken
	}
	return s.users.FindByID(userID)
}

// UpdateProfile applies the allowed profile fields. An email change
// re-checks uniqueness excluding the user's own row.
func (s *AuthService) UpdateProfile(userID uint, fields repository.ProfileUpdate) (*domain.User, error) {
	return s.users.UpdateProfile(userID, fields)
}

// ChangePassword re-verifies the current password before accepting the new
// one. On success every session except the current device is removed, so a
// stolen password cannot keep riding on old refresh tokens.
func (s *AuthService) ChangePassword(userID uint, currentPassword, newPassword, currentSessionID string) error {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(userID, hash); err != nil {
		return err
	}
	if _, err := s.sessions.DeleteOthersByUserID(userID, currentSessionID); err != nil {
		return fmt.Errorf("revoke other sessions: %w", err)
	}
	return nil
}

// DeleteAccount removes the user row; dependent sessions go in the same
// transaction inside the repository.
func (s *AuthService) DeleteAccount(userID uint) error {
	return s.users.Delete(userID)
}

// Sessions lists the user's active sessions, flagging the calling device.
func (s *AuthService) Sessions(userID uint, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{
			ID:        sess.ID,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
			UserAgent: sess.UserAgent,
			IP:        sess.IP,
			IsCurrent: sess.ID == currentSessionID,
		})
	}
	return views, nil
}

func (s *AuthService) startSession(user *domain.User, client ClientInfo) (*LoginResult, error) {
	sessionID := uuid.NewString()
	pair, err := s.issuer.IssuePair(user, sessionID)
	if err != nil {
		return nil, err
	}
	session := &domain.Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken, s.pepper),
		IP:               client.IP,
		UserAgent:        client.UserAgent,
		ExpiresAt:        time.Now().Add(s.issuer.RefreshTTL()),
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Tokens: pair, SessionID: sessionID}, nil
}
