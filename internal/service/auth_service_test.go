package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/throttlecove/throttlecove/internal/repository"
	"github.com/throttlecove/throttlecove/internal/security"
)

const (
	testMaxAttempts  = 5
	testLockDuration = 15 * time.Minute
)

func newTestAuthService(users repository.UserRepository, sessions repository.SessionRepository) *AuthService {
	hasher := security.NewPasswordHasher(4)
	issuer := security.NewTokenIssuer(
		"throttlecove-test",
		"access-secret-abcdefghijklmnopqrst",
		"refresh-secret-abcdefghijklmnopqrs",
		15*time.Minute,
		24*time.Hour,
	)
	lockout := NewLockoutPolicy(users, testMaxAttempts, testLockDuration)
	return NewAuthService(users, sessions, hasher, issuer, lockout, "test-pepper")
}

func testClient() ClientInfo {
	return ClientInfo{IP: "192.0.2.10", UserAgent: "throttlecove-test/1.0"}
}

func registerAlice(t *testing.T, svc *AuthService) *LoginResult {
	t.Helper()
	result, err := svc.Register(RegisterParams{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Secret123!",
		FullName: "Alice Rider",
	}, testClient())
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	return result
}

func TestRegisterReturnsTokensAndSession(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)

	result := registerAlice(t, svc)
	if result.User.ID == 0 {
		t.Fatal("expected persisted user id")
	}
	if result.User.Role.String() != "rider" {
		t.Fatalf("expected default rider role, got %q", result.User.Role)
	}
	if result.User.EmailVerified {
		t.Fatal("expected email_verified to default to false")
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatal("expected a signed token pair")
	}
	if _, err := sessions.FindActiveByID(result.SessionID); err != nil {
		t.Fatalf("expected active session row: %v", err)
	}
}

func TestRegisterDuplicateUsernameAndEmail(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	registerAlice(t, svc)

	_, err := svc.Register(RegisterParams{
		Username: "alice",
		Email:    "other@example.com",
		Password: "Secret123!",
		FullName: "Impostor",
	}, testClient())
	dup, ok := repository.IsDuplicateUser(err)
	if !ok || dup.Field != "username" {
		t.Fatalf("expected username duplicate, got %v", err)
	}

	_, err = svc.Register(RegisterParams{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "Secret123!",
		FullName: "Impostor",
	}, testClient())
	dup, ok = repository.IsDuplicateUser(err)
	if !ok || dup.Field != "email" {
		t.Fatalf("expected email duplicate, got %v", err)
	}
}

func TestLoginByUsernameAndByEmail(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	registerAlice(t, svc)

	if _, err := svc.Login("alice", "Secret123!", testClient()); err != nil {
		t.Fatalf("login by username: %v", err)
	}
	if _, err := svc.Login("alice@example.com", "Secret123!", testClient()); err != nil {
		t.Fatalf("login by email: %v", err)
	}
}

func TestLoginUnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	registerAlice(t, svc)

	_, errUnknown := svc.Login("nobody", "whatever1", testClient())
	_, errWrongPw := svc.Login("alice", "wrongpass", testClient())
	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", errUnknown)
	}
	if !errors.Is(errWrongPw, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", errWrongPw)
	}
	if errUnknown.Error() != errWrongPw.Error() {
		t.Fatal("error messages must not reveal which part of the credentials was wrong")
	}
}

func TestLockoutAfterMaxFailedAttempts(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	for i := 0; i < testMaxAttempts; i++ {
		_, err := svc.Login("alice", "wrongpass", testClient())
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// Even the correct password is refused while locked, and the locked
	// check must not consume an attempt.
	_, err := svc.Login("alice", "Secret123!", testClient())
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	u, err := users.FindByID(result.User.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.LoginAttempts != testMaxAttempts {
		t.Fatalf("locked check consumed an attempt: got %d", u.LoginAttempts)
	}
}

func TestLockExpiryReopensAccount(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	for i := 0; i < testMaxAttempts; i++ {
		_, _ = svc.Login("alice", "wrongpass", testClient())
	}

	// Simulate the lock timer running out.
	users.mu.Lock()
	past := time.Now().Add(-time.Second)
	users.byID[result.User.ID].LockedUntil = &past
	users.mu.Unlock()

	loginResult, err := svc.Login("alice", "Secret123!", testClient())
	if err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
	u, err := users.FindByID(loginResult.User.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.LoginAttempts != 0 {
		t.Fatalf("expected attempts reset to 0, got %d", u.LoginAttempts)
	}
	if u.LockedUntil != nil {
		t.Fatal("expected lock timer cleared")
	}
	if u.LastLogin == nil {
		t.Fatal("expected last_login stamped")
	}
}

func TestSuccessfulLoginResetsAttempts(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	_, _ = svc.Login("alice", "wrongpass", testClient())
	_, _ = svc.Login("alice", "wrongpass", testClient())

	if _, err := svc.Login("alice", "Secret123!", testClient()); err != nil {
		t.Fatalf("login: %v", err)
	}
	u, err := users.FindByID(result.User.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.LoginAttempts != 0 || u.LastLogin == nil {
		t.Fatalf("expected reset attempts and last_login, got attempts=%d lastLogin=%v", u.LoginAttempts, u.LastLogin)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	if err := svc.Logout(result.SessionID); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := svc.Logout(result.SessionID); err != nil {
		t.Fatalf("second logout must not fail: %v", err)
	}
	if err := svc.Logout("never-existed"); err != nil {
		t.Fatalf("logout of unknown session must not fail: %v", err)
	}
}

func TestCurrentUserHonorsSessionRevocation(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	claims, err := svc.issuer.ParseAccessToken(result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if _, err := svc.CurrentUser(claims); err != nil {
		t.Fatalf("current user before logout: %v", err)
	}

	if err := svc.Logout(result.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	// The token signature and expiry are still technically valid, but the
	// session row is the authority.
	if _, err := svc.CurrentUser(claims); !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after logout, got %v", err)
	}
}

func TestRefreshRotatesAndInvalidatesOldToken(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	refreshed, err := svc.Refresh(result.Tokens.RefreshToken, testClient())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.SessionID != result.SessionID {
		t.Fatal("refresh must keep the session id stable")
	}
	if refreshed.Tokens.RefreshToken == result.Tokens.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	if _, err := svc.Refresh(result.Tokens.RefreshToken, testClient()); !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("expected the rotated-out refresh token to be rejected, got %v", err)
	}
	if _, err := svc.Refresh(refreshed.Tokens.RefreshToken, testClient()); err != nil {
		t.Fatalf("latest refresh token must stay valid: %v", err)
	}
}

func TestRefreshAfterLogoutRejected(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	if err := svc.Logout(result.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Refresh(result.Tokens.RefreshToken, testClient()); !errors.Is(err, security.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after logout, got %v", err)
	}
}

func TestChangePasswordWrongCurrentLeavesHashIntact(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	before, _ := users.FindByID(result.User.ID)
	err := svc.ChangePassword(result.User.ID, "not-the-password", "NewSecret456!", result.SessionID)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	after, _ := users.FindByID(result.User.ID)
	if before.PasswordHash != after.PasswordHash {
		t.Fatal("stored hash must be unchanged after a failed change")
	}
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	first := registerAlice(t, svc)
	second, err := svc.Login("alice", "Secret123!", testClient())
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if err := svc.ChangePassword(first.User.ID, "Secret123!", "NewSecret456!", second.SessionID); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := sessions.FindActiveByID(second.SessionID); err != nil {
		t.Fatalf("current session must survive the change: %v", err)
	}
	if _, err := sessions.FindActiveByID(first.SessionID); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("other sessions must be revoked, got %v", err)
	}

	if _, err := svc.Login("alice", "Secret123!", testClient()); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password must stop working")
	}
	if _, err := svc.Login("alice", "NewSecret456!", testClient()); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestDeleteAccountRemovesUserAndSessions(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	result := registerAlice(t, svc)

	if err := svc.DeleteAccount(result.User.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := users.FindByID(result.User.ID); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected user gone, got %v", err)
	}
}

func TestUpdateProfileDuplicateEmail(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	alice := registerAlice(t, svc)
	_, err := svc.Register(RegisterParams{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "Secret123!",
		FullName: "Bob Rider",
	}, testClient())
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	email := "bob@example.com"
	_, err = svc.UpdateProfile(alice.User.ID, repository.ProfileUpdate{Email: &email})
	dup, ok := repository.IsDuplicateUser(err)
	if !ok || dup.Field != "email" {
		t.Fatalf("expected email duplicate, got %v", err)
	}

	name := "Alice R."
	updated, err := svc.UpdateProfile(alice.User.ID, repository.ProfileUpdate{FullName: &name})
	if err != nil {
		t.Fatalf("update full name: %v", err)
	}
	if updated.FullName != "Alice R." {
		t.Fatalf("unexpected full name %q", updated.FullName)
	}
}

func TestSessionsListsDevicesAndFlagsCurrent(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)
	first := registerAlice(t, svc)
	second, err := svc.Login("alice", "Secret123!", testClient())
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	views, err := svc.Sessions(first.User.ID, second.SessionID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(views))
	}
	var currentCount int
	for _, v := range views {
		if v.IsCurrent {
			currentCount++
			if v.ID != second.SessionID {
				t.Fatal("wrong session flagged as current")
			}
		}
	}
	if currentCount != 1 {
		t.Fatalf("expected exactly one current session, got %d", currentCount)
	}
}

func TestConcurrentRegistrationsOneWins(t *testing.T) {
	users, sessions := newMemUserRepo(), newMemSessionRepo()
	svc := newTestAuthService(users, sessions)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(RegisterParams{
				Username: "bob",
				Email:    []string{"bob@example.com", "bob.alt@example.com"}[i],
				Password: "Secret123!",
				FullName: "Bob",
			}, testClient())
		}(i)
	}
	wg.Wait()

	var wins, dups int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			dup, ok := repository.IsDuplicateUser(err)
			if !ok || dup.Field != "username" {
				t.Fatalf("unexpected error: %v", err)
			}
			dups++
		}
	}
	if wins != 1 || dups != 1 {
		t.Fatalf("expected one winner and one duplicate, got wins=%d dups=%d", wins, dups)
	}
}
