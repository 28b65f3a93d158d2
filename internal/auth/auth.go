// Package auth verifies the bearer tokens that carry a caller's role and
// signs the links used to download generated PDFs. Tokens are HS256 JWTs.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RolePublic   Role = ""
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleApprover:
		return 1
	}
	return 0
}

// Allows reports whether r may act where required is needed. Admins can
// do everything approvers can.
func (r Role) Allows(required Role) bool {
	return r.rank() >= required.rank()
}

const downloadAudience = "download"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner signs with secret. An empty secret is replaced by a random
// one, so tokens do not outlive the process.
func NewSigner(secret string) (*Signer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("rand.Read: %w", err)
		}
	}
	return &Signer{secret: key, now: time.Now}, nil
}

func (s *Signer) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Signer) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired())

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// IssueRole returns a token granting role to subject.
func (s *Signer) IssueRole(subject string, role Role, ttl time.Duration) (string, error) {
	now := s.now()
	return s.sign(Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

// ParseRole verifies a role token. Download tokens are rejected.
func (s *Signer) ParseRole(token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	for _, aud := range claims.Audience {
		if aud == downloadAudience {
			return nil, fmt.Errorf("%w: download token used as bearer", ErrInvalidToken)
		}
	}
	switch claims.Role {
	case RoleAdmin, RoleApprover, RolePublic:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// DownloadToken signs access to the PDF of one request.
func (s *Signer) DownloadToken(trackingCode string, ttl time.Duration) (string, error) {
	now := s.now()
	return s.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   trackingCode,
			Audience:  jwt.ClaimStrings{downloadAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

// VerifyDownload checks token grants access to trackingCode.
func (s *Signer) VerifyDownload(token, trackingCode string) error {
	_, err := s.parse(token, jwt.WithAudience(downloadAudience), jwt.WithSubject(trackingCode))
	return err
}
