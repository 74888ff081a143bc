package security

import (
	"testing"
	"time"

	"github.com/throttlecove/throttlecove/internal/domain"
)

func testIssuer(accessTTL time.Duration) *TokenIssuer {
	return NewTokenIssuer(
		"throttlecove-test",
		"access-secret-abcdefghijklmnopqrst",
		"refresh-secret-abcdefghijklmnopqrs",
		accessTTL,
		24*time.Hour,
	)
}

func tokenTestUser() *domain.User {
	return &domain.User{
		ID:       7,
		Username: "alice",
		Email:    "alice@example.com",
		Role:     domain.RoleRider,
	}
}

func TestIssuePairAndParse(t *testing.T) {
	issuer := testIssuer(time.Hour)
	pair, err := issuer.IssuePair(tokenTestUser(), "sess-1")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	access, err := issuer.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if access.Subject != "7" || access.Username != "alice" || access.Email != "alice@example.com" {
		t.Fatalf("unexpected access claims: %+v", access)
	}
	if access.Role != domain.RoleRider || access.SessionID != "sess-1" {
		t.Fatalf("unexpected role/session claims: %+v", access)
	}

	refresh, err := issuer.ParseRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if refresh.SessionID != "sess-1" || refresh.Subject != "7" {
		t.Fatalf("unexpected refresh claims: %+v", refresh)
	}
}

func TestTokenKindsDoNotCrossVerify(t *testing.T) {
	issuer := testIssuer(time.Hour)
	pair, err := issuer.IssuePair(tokenTestUser(), "sess-1")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	if _, err := issuer.ParseAccessToken(pair.RefreshToken); err == nil {
		t.Fatal("refresh token must not verify as access token")
	}
	if _, err := issuer.ParseRefreshToken(pair.AccessToken); err == nil {
		t.Fatal("access token must not verify as refresh token")
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	issuer := testIssuer(-time.Minute)
	pair, err := issuer.IssuePair(tokenTestUser(), "sess-1")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	if _, err := issuer.ParseAccessToken(pair.AccessToken); err == nil {
		t.Fatal("expected expired access token to fail verification")
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	issuer := testIssuer(time.Hour)
	pair, err := issuer.IssuePair(tokenTestUser(), "sess-1")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := issuer.ParseAccessToken(tampered); err == nil {
		t.Fatal("expected tampered token to fail verification")
	}
	if _, err := issuer.ParseAccessToken("not-a-jwt"); err == nil {
		t.Fatal("expected malformed token to fail verification")
	}
}

func TestForeignSecretRejected(t *testing.T) {
	issuer := testIssuer(time.Hour)
	other := NewTokenIssuer(
		"throttlecove-test",
		"other-access-secret-qrstuvwxyz1234",
		"other-refresh-secret-qrstuvwxyz123",
		time.Hour,
		24*time.Hour,
	)
	pair, err := other.IssuePair(tokenTestUser(), "sess-1")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	if _, err := issuer.ParseAccessToken(pair.AccessToken); err == nil {
		t.Fatal("token signed with a foreign secret must not verify")
	}
}

func TestHashRefreshTokenPepperAndStability(t *testing.T) {
	a := HashRefreshToken("tok", "pepper-a")
	b := HashRefreshToken("tok", "pepper-a")
	c := HashRefreshToken("tok", "pepper-b")
	if a != b {
		t.Fatal("same token and pepper must hash identically")
	}
	if a == c {
		t.Fatal("different peppers must produce different hashes")
	}
}
