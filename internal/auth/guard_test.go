package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

type stubUsers struct {
	users map[int]types.User
	err   error
	calls int
}

func (s *stubUsers) GetByID(_ context.Context, id int) (types.User, error) {
	s.calls++
	if s.err != nil {
		return types.User{}, s.err
	}
	user, ok := s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func newGuardFixture(t *testing.T) (*Guard, *stubUsers, *TokenService) {
	t.Helper()
	tokens := NewTokenService(testSecret, time.Hour)
	users := &stubUsers{users: map[int]types.User{
		1: {ID: 1, Username: "alice", Email: "alice@example.com", Role: types.RoleUser},
	}}
	return NewGuard(tokens, users), users, tokens
}

func TestGuardAuthenticates(t *testing.T) {
	guard, _, tokens := newGuardFixture(t)
	token, err := tokens.Issue(1, types.RoleUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, header := range []string{"Bearer " + token, "bearer " + token, "  Bearer   " + token + "  "} {
		user, err := guard.Authenticate(context.Background(), header)
		if err != nil {
			t.Fatalf("Authenticate(%q): %v", header, err)
		}
		if user.ID != 1 || user.Username != "alice" {
			t.Fatalf("user = %+v", user)
		}
	}
}

func TestGuardMissingCredentials(t *testing.T) {
	guard, users, _ := newGuardFixture(t)

	for _, header := range []string{"", "   ", "Bearer", "Bearer   ", "Basic dXNlcjpwYXNz", "Token abc"} {
		_, err := guard.Authenticate(context.Background(), header)
		requireReason(t, err, apperrors.ReasonMissingCredentials)
	}
	if users.calls != 0 {
		t.Fatalf("store consulted %d times for missing credentials", users.calls)
	}
}

func TestGuardExpiredToken(t *testing.T) {
	guard, _, tokens := newGuardFixture(t)
	past := tokens.WithClock(fixedClock(time.Now().Add(-2 * time.Hour)))
	token, err := past.Issue(1, types.RoleUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = guard.Authenticate(context.Background(), "Bearer "+token)
	requireReason(t, err, apperrors.ReasonExpired)
}

func TestGuardMalformedToken(t *testing.T) {
	guard, _, _ := newGuardFixture(t)
	_, err := guard.Authenticate(context.Background(), "Bearer not.a.token")
	requireReason(t, err, apperrors.ReasonMalformed)
}

func TestGuardSubjectGone(t *testing.T) {
	guard, users, tokens := newGuardFixture(t)
	token, err := tokens.Issue(1, types.RoleUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	delete(users.users, 1)

	_, err = guard.Authenticate(context.Background(), "Bearer "+token)
	requireReason(t, err, apperrors.ReasonSubjectGone)
}

func TestGuardStoreFailure(t *testing.T) {
	guard, users, tokens := newGuardFixture(t)
	token, err := tokens.Issue(1, types.RoleUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	boom := errors.New("connection refused")
	users.err = boom

	_, err = guard.Authenticate(context.Background(), "Bearer "+token)
	if apperrors.KindOf(err) != apperrors.KindStore {
		t.Fatalf("kind = %s, want %s", apperrors.KindOf(err), apperrors.KindStore)
	}
	if !errors.Is(err, boom) {
		t.Fatal("store failure must wrap the underlying cause")
	}
}

func TestGuardReturnsCurrentRole(t *testing.T) {
	guard, users, tokens := newGuardFixture(t)
	token, err := tokens.Issue(1, types.RoleUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	promoted := users.users[1]
	promoted.Role = types.RoleAdmin
	users.users[1] = promoted

	user, err := guard.Authenticate(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Role != types.RoleAdmin {
		t.Fatalf("role = %s, want the stored role %s", user.Role, types.RoleAdmin)
	}
}
