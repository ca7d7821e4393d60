// Package testutil provides in-memory collaborators for package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

// MemStore is an in-memory stand-in for the Postgres repositories. Users and
// tasks share one lock so deleting a user cascades to their tasks.
type MemStore struct {
	mu         sync.Mutex
	users      map[int]types.User
	tasks      map[int]types.Task
	nextUserID int
	nextTaskID int
	now        func() time.Time

	// Err, when set, is returned by every repository call.
	Err error
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[int]types.User),
		tasks:      make(map[int]types.Task),
		nextUserID: 1,
		nextTaskID: 1,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Users returns a UserRepository view of the store.
func (m *MemStore) Users() *MemUsers { return &MemUsers{m: m} }

// Tasks returns a TaskRepository view of the store.
func (m *MemStore) Tasks() *MemTasks { return &MemTasks{m: m} }

// MemUsers implements the user repository methods over a MemStore.
type MemUsers struct{ m *MemStore }

func (r *MemUsers) GetByID(_ context.Context, id int) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.User{}, r.m.Err
	}
	user, ok := r.m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *MemUsers) GetByUsername(_ context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r *MemUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Email == email })
}

func (r *MemUsers) FindByEmailOrUsername(_ context.Context, email, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Email == email || u.Username == username })
}

func (r *MemUsers) find(match func(types.User) bool) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.User{}, r.m.Err
	}
	for _, id := range sortedKeys(r.m.users) {
		if match(r.m.users[id]) {
			return r.m.users[id], nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *MemUsers) Create(_ context.Context, user types.User) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.User{}, r.m.Err
	}
	for _, existing := range r.m.users {
		if existing.Email == user.Email || existing.Username == user.Username {
			return types.User{}, store.ErrConflict
		}
	}
	now := r.m.now()
	user.ID = r.m.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.m.nextUserID++
	r.m.users[user.ID] = user
	return user, nil
}

func (r *MemUsers) SetRole(_ context.Context, username string, role types.Role) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.User{}, r.m.Err
	}
	for id, user := range r.m.users {
		if user.Username == username {
			user.Role = role
			user.UpdatedAt = r.m.now()
			r.m.users[id] = user
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *MemUsers) Delete(_ context.Context, id int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return r.m.Err
	}
	if _, ok := r.m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.m.users, id)
	for taskID, task := range r.m.tasks {
		if task.UserID == id {
			delete(r.m.tasks, taskID)
		}
	}
	return nil
}

// MemTasks implements the task repository methods over a MemStore.
type MemTasks struct{ m *MemStore }

func (r *MemTasks) Get(_ context.Context, id int) (types.Task, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.Task{}, r.m.Err
	}
	task, ok := r.m.tasks[id]
	if !ok {
		return types.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (r *MemTasks) Create(_ context.Context, task types.Task) (types.Task, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.Task{}, r.m.Err
	}
	if _, ok := r.m.users[task.UserID]; !ok {
		return types.Task{}, store.ErrNotFound
	}
	now := r.m.now()
	task.ID = r.m.nextTaskID
	task.CreatedAt = now
	task.UpdatedAt = now
	r.m.nextTaskID++
	r.m.tasks[task.ID] = task
	return task, nil
}

func (r *MemTasks) Update(_ context.Context, task types.Task) (types.Task, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.Task{}, r.m.Err
	}
	existing, ok := r.m.tasks[task.ID]
	if !ok {
		return types.Task{}, store.ErrNotFound
	}
	task.UserID = existing.UserID
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = r.m.now()
	r.m.tasks[task.ID] = task
	return task, nil
}

func (r *MemTasks) Delete(_ context.Context, id int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return r.m.Err
	}
	if _, ok := r.m.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.m.tasks, id)
	return nil
}

// List returns tasks newest first, matching the Postgres ordering.
func (r *MemTasks) List(_ context.Context, filter types.TaskFilter, limit, offset int) ([]types.Task, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return nil, r.m.Err
	}
	matched := r.filter(filter)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if offset >= len(matched) {
		return []types.Task{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *MemTasks) Count(_ context.Context, filter types.TaskFilter) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return 0, r.m.Err
	}
	return len(r.filter(filter)), nil
}

func (r *MemTasks) Stats(_ context.Context) (types.TaskStats, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.Err != nil {
		return types.TaskStats{}, r.m.Err
	}
	var stats types.TaskStats
	owners := make(map[int]struct{})
	for _, task := range r.m.tasks {
		stats.TotalTasks++
		switch task.Status {
		case types.TaskStatusPending:
			stats.PendingTasks++
		case types.TaskStatusInProgress:
			stats.InProgressTasks++
		case types.TaskStatusCompleted:
			stats.CompletedTasks++
		}
		owners[task.UserID] = struct{}{}
	}
	stats.TotalUsers = len(owners)
	return stats, nil
}

func (r *MemTasks) filter(filter types.TaskFilter) []types.Task {
	matched := make([]types.Task, 0, len(r.m.tasks))
	for _, task := range r.m.tasks {
		if filter.OwnerID != nil && task.UserID != *filter.OwnerID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && task.Priority != filter.Priority {
			continue
		}
		matched = append(matched, task)
	}
	return matched
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
