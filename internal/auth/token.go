package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/types"
)

const DefaultTokenTTL = 7 * 24 * time.Hour

// Claims is the decoded payload of a bearer token.
type Claims struct {
	Subject   int
	Role      types.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService. A non-positive ttl selects
// DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock returns a copy of the service that reads time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	clone := *s
	clone.now = now
	return &clone
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject carrying role.
func (s *TokenService) Issue(subject int, role types.Role) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(subject),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of tokenString and returns its claims.
// It fails with reason Expired once the expiry has passed and Malformed for
// anything that does not verify.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	claims := tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, apperrors.Unauthenticated(apperrors.ReasonExpired, "token expired")
		}
		return Claims{}, &apperrors.Error{
			Kind:    apperrors.KindUnauthenticated,
			Reason:  apperrors.ReasonMalformed,
			Message: "invalid token",
			Cause:   err,
		}
	}
	if !token.Valid {
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonMalformed, "invalid token")
	}

	subject, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || subject < 1 {
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonMalformed, "invalid token subject")
	}
	if !claims.Role.Valid() {
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonMalformed, "invalid token role")
	}

	decoded := Claims{
		Subject:   subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		decoded.IssuedAt = claims.IssuedAt.Time
	}
	return decoded, nil
}
