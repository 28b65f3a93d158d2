package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func fixedSigner(t *testing.T, now time.Time) *Signer {
	t.Helper()
	s, err := NewSigner("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestRoleTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := fixedSigner(t, now)

	token, err := s.IssueRole("reza", RoleApprover, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ParseRole(token)
	if err != nil {
		t.Fatalf("ParseRole: %v", err)
	}
	if claims.Role != RoleApprover || claims.Subject != "reza" {
		t.Errorf("claims = %+v", claims)
	}

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := s.ParseRole(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v", err)
	}
}

func TestParseRoleRejectsForeignTokens(t *testing.T) {
	now := time.Now()
	s := fixedSigner(t, now)

	other, _ := NewSigner("another-secret")
	forged, _ := other.IssueRole("x", RoleAdmin, time.Hour)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	download, _ := s.DownloadToken("ABCDEF0123", time.Hour)
	unknown, _ := s.sign(Claims{
		Role:             "root",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	})

	for name, token := range map[string]string{
		"other secret":   forged,
		"alg none":       none,
		"download token": download,
		"unknown role":   unknown,
		"garbage":        "not.a.jwt",
	} {
		if _, err := s.ParseRole(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestDownloadToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := fixedSigner(t, now)

	token, err := s.DownloadToken("ABCDEF0123", 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.VerifyDownload(token, "ABCDEF0123"); err != nil {
		t.Errorf("VerifyDownload: %v", err)
	}
	if err := s.VerifyDownload(token, "0000000000"); err == nil {
		t.Error("token accepted for another tracking code")
	}

	role, _ := s.IssueRole("ABCDEF0123", RoleAdmin, time.Hour)
	if err := s.VerifyDownload(role, "ABCDEF0123"); err == nil {
		t.Error("role token accepted as a download token")
	}

	s.now = func() time.Time { return now.Add(time.Hour) }
	if err := s.VerifyDownload(token, "ABCDEF0123"); err == nil {
		t.Error("expired download token accepted")
	}
}

func TestRoleAllows(t *testing.T) {
	cases := []struct {
		have, need Role
		want       bool
	}{
		{RoleAdmin, RoleApprover, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleApprover, RoleAdmin, false},
		{RolePublic, RoleApprover, false},
		{RoleApprover, RolePublic, true},
	}
	for _, c := range cases {
		if got := c.have.Allows(c.need); got != c.want {
			t.Errorf("%q.Allows(%q) = %v", c.have, c.need, got)
		}
	}
}

func TestEmptySecretIsRandom(t *testing.T) {
	a, _ := NewSigner("")
	b, _ := NewSigner("")
	token, _ := a.IssueRole("x", RoleAdmin, time.Hour)
	if _, err := b.ParseRole(token); err == nil {
		t.Error("two signers without a secret share a key")
	}
}
