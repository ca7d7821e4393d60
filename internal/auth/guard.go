package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

// UserFinder loads users by identifier.
type UserFinder interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// Guard resolves an Authorization header to a live user record.
type Guard struct {
	tokens *TokenService
	users  UserFinder
}

func NewGuard(tokens *TokenService, users UserFinder) *Guard {
	return &Guard{tokens: tokens, users: users}
}

// Authenticate verifies the bearer token in rawHeader and returns the current
// record of its subject. The user is read from the store on every call so
// role changes and deletions apply to the next request.
func (g *Guard) Authenticate(ctx context.Context, rawHeader string) (types.User, error) {
	tokenString, err := bearerToken(rawHeader)
	if err != nil {
		return types.User{}, err
	}

	claims, err := g.tokens.Verify(tokenString)
	if err != nil {
		return types.User{}, err
	}

	user, err := g.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperrors.Unauthenticated(apperrors.ReasonSubjectGone, "user no longer exists")
		}
		return types.User{}, apperrors.Store("failed to load user", err)
	}
	return user, nil
}

func bearerToken(header string) (string, error) {
	auth := strings.TrimSpace(header)
	if auth == "" {
		return "", apperrors.Unauthenticated(apperrors.ReasonMissingCredentials, "no token provided")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperrors.Unauthenticated(apperrors.ReasonMissingCredentials, "authorization header must use the Bearer scheme")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", apperrors.Unauthenticated(apperrors.ReasonMissingCredentials, "no token provided")
	}
	return token, nil
}
