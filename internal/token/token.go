package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskline/internal/domain"
)

// minKeyLen is the smallest key accepted for HS256 signing.
const minKeyLen = 32

var (
	ErrWeakKey   = errors.New("signing key too weak for HS256")
	ErrMalformed = errors.New("malformed token")
)

// Claims is the self-contained identity carried by a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Username    string `json:"username,omitempty"`
	Authorities string `json:"authorities,omitempty"`
}

// Service issues and verifies signed session tokens. Verification and
// freshness are separate concerns: ExtractClaims only proves the token was
// signed by us, IsCurrentlyValid adds subject and expiry checks.
type Service struct {
	secret []byte
	ttl    time.Duration
	Now    func() time.Time
}

// NewService fails when the key cannot safely sign HS256 tokens.
func NewService(secret string, ttl time.Duration) (Service, error) {
	if len(secret) < minKeyLen {
		return Service{}, ErrWeakKey
	}
	if ttl <= 0 {
		return Service{}, fmt.Errorf("session duration must be positive")
	}
	return Service{secret: []byte(secret), ttl: ttl, Now: time.Now}, nil
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue produces a signed token for the user with subject, role and expiry.
func (s Service) Issue(username string, role domain.Role) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Username:    username,
		Authorities: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ExtractClaims verifies structure and signature only. Expired tokens still
// decode; freshness is the caller's check.
func (s Service) ExtractClaims(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// IsCurrentlyValid reports whether the token decodes, names the expected
// subject, and has not expired.
func (s Service) IsCurrentlyValid(tokenStr, expectedSubject string) bool {
	claims, err := s.ExtractClaims(tokenStr)
	if err != nil {
		return false
	}
	if claims.Subject != expectedSubject {
		return false
	}
	return claims.ExpiresAt != nil && claims.ExpiresAt.After(s.now())
}
