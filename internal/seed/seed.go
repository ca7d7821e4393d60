// Package seed loads the default accounts and sample tasks into an empty
// database. Running it again leaves existing rows untouched.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

// Users is the subset of the user store the seeder needs.
type Users interface {
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// Tasks is the subset of the task store the seeder needs.
type Tasks interface {
	Count(ctx context.Context, filter types.TaskFilter) (int, error)
	Create(ctx context.Context, task types.Task) (types.Task, error)
}

// Account is a user created by the seeder.
type Account struct {
	Username string
	Email    string
	Password string
	Role     types.Role
}

var (
	Admin = Account{Username: "admin", Email: "admin@example.com", Password: "Admin@123456", Role: types.RoleAdmin}
	User  = Account{Username: "testuser", Email: "user@example.com", Password: "User@123456", Role: types.RoleUser}
)

// SampleTasks are assigned to the admin account when it owns no tasks.
var SampleTasks = []types.NewTask{
	{Title: "Complete project documentation", Description: "Write comprehensive documentation for the API", Priority: types.TaskPriorityHigh},
	{Title: "Review pull requests", Description: "Review and merge pending pull requests", Priority: types.TaskPriorityMedium},
	{Title: "Setup CI/CD pipeline", Description: "Configure GitHub Actions for automated testing", Priority: types.TaskPriorityHigh},
}

var sampleStatuses = []types.TaskStatus{
	types.TaskStatusInProgress,
	types.TaskStatusPending,
	types.TaskStatusCompleted,
}

// Seeder writes the default data set.
type Seeder struct {
	users  Users
	tasks  Tasks
	hasher auth.PasswordHasher
	logger *slog.Logger
}

func New(users Users, tasks Tasks, hasher auth.PasswordHasher, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{users: users, tasks: tasks, hasher: hasher, logger: logger}
}

// Run creates the admin and sample user if missing, then gives the admin
// the sample tasks if it owns none.
func (s *Seeder) Run(ctx context.Context) error {
	admin, err := s.ensure(ctx, Admin)
	if err != nil {
		return err
	}
	if _, err := s.ensure(ctx, User); err != nil {
		return err
	}

	owned, err := s.tasks.Count(ctx, types.TaskFilter{OwnerID: &admin.ID})
	if err != nil {
		return fmt.Errorf("count admin tasks: %w", err)
	}
	if owned > 0 {
		s.logger.Info("sample tasks already present", "owner", admin.Username, "count", owned)
		return nil
	}

	for i, sample := range SampleTasks {
		_, err := s.tasks.Create(ctx, types.Task{
			Title:       sample.Title,
			Description: sample.Description,
			Status:      sampleStatuses[i%len(sampleStatuses)],
			Priority:    sample.Priority,
			UserID:      admin.ID,
		})
		if err != nil {
			return fmt.Errorf("create sample task %q: %w", sample.Title, err)
		}
	}
	s.logger.Info("sample tasks created", "owner", admin.Username, "count", len(SampleTasks))
	return nil
}

func (s *Seeder) ensure(ctx context.Context, account Account) (types.User, error) {
	existing, err := s.users.GetByEmail(ctx, account.Email)
	if err == nil {
		s.logger.Info("user already exists", "username", existing.Username)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("look up %s: %w", account.Email, err)
	}

	digest, err := s.hasher.Hash(account.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password for %s: %w", account.Username, err)
	}
	created, err := s.users.Create(ctx, types.User{
		Username:     account.Username,
		Email:        account.Email,
		Role:         account.Role,
		PasswordHash: digest,
	})
	if err != nil {
		return types.User{}, fmt.Errorf("create %s: %w", account.Username, err)
	}
	s.logger.Warn("default user created, change its password before production use",
		"username", created.Username, "role", created.Role)
	return created, nil
}
