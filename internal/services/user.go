package services

import (
	"context"
	"errors"
	"sync"

	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/internal/validate"
	"github.com/tasktrack/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetRole(ctx context.Context, username string, role types.Role) (types.User, error)
}

// AuthResult is returned by a successful registration or login.
type AuthResult struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo   UserRepository
	hasher auth.PasswordHasher
	tokens *auth.TokenService

	dummyOnce   sync.Once
	dummyDigest string
}

func NewUserService(repo UserRepository, hasher auth.PasswordHasher, tokens *auth.TokenService) *UserService {
	return &UserService{repo: repo, hasher: hasher, tokens: tokens}
}

// Register validates in, creates a user with the default role and returns a
// token for it.
func (s *UserService) Register(ctx context.Context, in validate.RegisterInput) (AuthResult, error) {
	in, err := validate.Registration(in)
	if err != nil {
		return AuthResult{}, err
	}

	if _, err := s.repo.FindByEmailOrUsername(ctx, in.Email, in.Username); err == nil {
		return AuthResult{}, errUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, apperrors.Store("failed to check user", err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindValidation {
			return AuthResult{}, err
		}
		return AuthResult{}, apperrors.Store("failed to hash password", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     in.Username,
		Email:        in.Email,
		Role:         types.RoleUser,
		PasswordHash: digest,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, errUserExists
		}
		return AuthResult{}, apperrors.Store("failed to create user", err)
	}

	return s.issue(user)
}

// Login verifies credentials and returns a token. Unknown emails and wrong
// passwords fail identically.
func (s *UserService) Login(ctx context.Context, in validate.LoginInput) (AuthResult, error) {
	in, err := validate.Login(in)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.repo.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Verify(in.Password, s.dummy())
			return AuthResult{}, errInvalidCredentials
		}
		return AuthResult{}, apperrors.Store("failed to load user", err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return AuthResult{}, errInvalidCredentials
	}

	return s.issue(user)
}

// GetByID returns the user with id.
func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperrors.NotFound("user not found")
		}
		return types.User{}, apperrors.Store("failed to load user", err)
	}
	return user, nil
}

// SetRole changes the role of username.
func (s *UserService) SetRole(ctx context.Context, username string, role types.Role) (types.User, error) {
	if !role.Valid() {
		return types.User{}, apperrors.Validation([]string{"role must be one of: user, admin"})
	}
	user, err := s.repo.SetRole(ctx, username, role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperrors.NotFound("user not found")
		}
		return types.User{}, apperrors.Store("failed to update role", err)
	}
	return user, nil
}

func (s *UserService) issue(user types.User) (AuthResult, error) {
	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthResult{}, apperrors.Wrap(apperrors.KindStore, "failed to create token", err)
	}
	return AuthResult{Token: token, User: user}, nil
}

// dummy returns the digest compared against when the email is unknown, so
// both failure paths spend the same bcrypt work.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash("unused-password-Aa1!")
		if err == nil {
			s.dummyDigest = digest
		}
	})
	return s.dummyDigest
}

var (
	errUserExists         = apperrors.New(apperrors.KindConflict, "user with this email or username already exists")
	errInvalidCredentials = apperrors.Unauthenticated(apperrors.ReasonInvalidCredentials, "invalid email or password")
)
