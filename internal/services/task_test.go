package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/testutil"
	"github.com/tasktrack/apiserver/internal/validate"
	"github.com/tasktrack/apiserver/types"
)

func ptr[T any](v T) *T { return &v }

type taskFixture struct {
	svc   *TaskService
	mem   *testutil.MemStore
	alice auth.Identity
	bob   auth.Identity
	admin auth.Identity
}

func newTaskFixture(t *testing.T) taskFixture {
	t.Helper()
	mem := testutil.NewMemStore()
	users := mem.Users()
	ctx := context.Background()

	create := func(username string, role types.Role) auth.Identity {
		user, err := users.Create(ctx, types.User{
			Username:     username,
			Email:        username + "@example.com",
			Role:         role,
			PasswordHash: "x",
		})
		if err != nil {
			t.Fatalf("create %s: %v", username, err)
		}
		return auth.IdentityOf(user)
	}

	return taskFixture{
		svc:   NewTaskService(mem.Tasks()),
		mem:   mem,
		alice: create("alice", types.RoleUser),
		bob:   create("bob", types.RoleUser),
		admin: create("admin", types.RoleAdmin),
	}
}

func (f taskFixture) create(t *testing.T, actor auth.Identity, title string) types.Task {
	t.Helper()
	task, err := f.svc.Create(context.Background(), actor, validate.TaskInput{Title: ptr(title)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestCreateTaskDefaults(t *testing.T) {
	f := newTaskFixture(t)
	task, err := f.svc.Create(context.Background(), f.alice, validate.TaskInput{
		Title:  ptr("Write docs"),
		Status: ptr("completed"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.UserID != f.alice.UserID {
		t.Fatalf("owner = %d, want %d", task.UserID, f.alice.UserID)
	}
	if task.Status != types.TaskStatusPending || task.Priority != types.TaskPriorityMedium {
		t.Fatalf("task = %+v", task)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	f := newTaskFixture(t)
	_, err := f.svc.Create(context.Background(), f.alice, validate.TaskInput{})
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestGetTaskOwnership(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.create(t, f.alice, "alice's task")

	if _, err := f.svc.Get(ctx, f.alice, task.ID); err != nil {
		t.Fatalf("owner Get: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.admin, task.ID); err != nil {
		t.Fatalf("admin Get: %v", err)
	}

	_, err := f.svc.Get(ctx, f.bob, task.ID)
	if apperrors.KindOf(err) != apperrors.KindForbidden || apperrors.ReasonOf(err) != apperrors.ReasonNotOwner {
		t.Fatalf("stranger Get: err = %v", err)
	}
}

func TestMissingTaskIsNotFoundForEveryone(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	for _, actor := range []auth.Identity{f.alice, f.admin} {
		if _, err := f.svc.Get(ctx, actor, 404); apperrors.KindOf(err) != apperrors.KindNotFound {
			t.Fatalf("Get: err = %v", err)
		}
		if _, err := f.svc.Update(ctx, actor, 404, validate.TaskInput{Title: ptr("x")}); apperrors.KindOf(err) != apperrors.KindNotFound {
			t.Fatalf("Update: err = %v", err)
		}
		if _, err := f.svc.Delete(ctx, actor, 404); apperrors.KindOf(err) != apperrors.KindNotFound {
			t.Fatalf("Delete: err = %v", err)
		}
	}
}

func TestUpdateTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.create(t, f.alice, "draft")

	updated, err := f.svc.Update(ctx, f.alice, task.ID, validate.TaskInput{
		Status:   ptr("in_progress"),
		Priority: ptr("high"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "draft" || updated.Status != types.TaskStatusInProgress || updated.Priority != types.TaskPriorityHigh {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := f.svc.Update(ctx, f.bob, task.ID, validate.TaskInput{Title: ptr("mine now")}); apperrors.ReasonOf(err) != apperrors.ReasonNotOwner {
		t.Fatalf("stranger Update: err = %v", err)
	}

	stored, err := f.svc.Get(ctx, f.alice, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Title != "draft" {
		t.Fatalf("denied update changed the task: %+v", stored)
	}
}

func TestAdminDeletesOthersTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.create(t, f.alice, "to remove")

	if _, err := f.svc.Delete(ctx, f.bob, task.ID); apperrors.KindOf(err) != apperrors.KindForbidden {
		t.Fatalf("stranger Delete: err = %v", err)
	}

	deleted, err := f.svc.Delete(ctx, f.admin, task.ID)
	if err != nil {
		t.Fatalf("admin Delete: %v", err)
	}
	if deleted.ID != task.ID {
		t.Fatalf("deleted = %+v", deleted)
	}
	if _, err := f.svc.Get(ctx, f.admin, task.ID); apperrors.KindOf(err) != apperrors.KindNotFound {
		t.Fatalf("Get after delete: err = %v", err)
	}
}

func TestListPagination(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	const total = 23
	for i := 0; i < total; i++ {
		f.create(t, f.alice, fmt.Sprintf("task %d", i))
	}
	f.create(t, f.bob, "bob's task")

	seen := make(map[int]bool)
	for page := 1; page <= 3; page++ {
		result, err := f.svc.List(ctx, f.alice, types.TaskQuery{Page: page, Limit: 10})
		if err != nil {
			t.Fatalf("List page %d: %v", page, err)
		}
		if result.Pagination.TotalTasks != total || result.Pagination.TotalPages != 3 {
			t.Fatalf("pagination = %+v", result.Pagination)
		}
		if result.Pagination.CurrentPage != page || result.Pagination.Limit != 10 {
			t.Fatalf("pagination = %+v", result.Pagination)
		}
		for _, task := range result.Tasks {
			if task.UserID != f.alice.UserID {
				t.Fatalf("non-admin saw task %d owned by %d", task.ID, task.UserID)
			}
			if seen[task.ID] {
				t.Fatalf("task %d returned twice", task.ID)
			}
			seen[task.ID] = true
		}
	}
	if len(seen) != total {
		t.Fatalf("saw %d tasks across pages, want %d", len(seen), total)
	}

	beyond, err := f.svc.List(ctx, f.alice, types.TaskQuery{Page: 4, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(beyond.Tasks) != 0 {
		t.Fatalf("page past the end returned %d tasks", len(beyond.Tasks))
	}
}

func TestListScopesByRole(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	f.create(t, f.alice, "a")
	f.create(t, f.bob, "b")

	adminView, err := f.svc.List(ctx, f.admin, types.TaskQuery{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if adminView.Pagination.TotalTasks != 2 {
		t.Fatalf("admin total = %d, want 2", adminView.Pagination.TotalTasks)
	}

	bobView, err := f.svc.List(ctx, f.bob, types.TaskQuery{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if bobView.Pagination.TotalTasks != 1 || bobView.Tasks[0].UserID != f.bob.UserID {
		t.Fatalf("bob view = %+v", bobView)
	}
}

func TestListFiltersAndEmptyPage(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	empty, err := f.svc.List(ctx, f.alice, types.TaskQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if empty.Pagination.TotalPages != 0 || empty.Pagination.CurrentPage != 1 || empty.Pagination.Limit != 10 {
		t.Fatalf("empty pagination = %+v", empty.Pagination)
	}

	done := f.create(t, f.alice, "done")
	if _, err := f.svc.Update(ctx, f.alice, done.ID, validate.TaskInput{Status: ptr("completed")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	f.create(t, f.alice, "open")

	filtered, err := f.svc.List(ctx, f.alice, types.TaskQuery{Page: 1, Limit: 10, Status: types.TaskStatusCompleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if filtered.Pagination.TotalTasks != 1 || filtered.Tasks[0].ID != done.ID {
		t.Fatalf("filtered = %+v", filtered)
	}
}

func TestStats(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	f.create(t, f.alice, "a1")
	a2 := f.create(t, f.alice, "a2")
	f.create(t, f.bob, "b1")
	if _, err := f.svc.Update(ctx, f.alice, a2.ID, validate.TaskInput{Status: ptr("completed")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, err := f.svc.Stats(ctx, f.alice)
	if apperrors.KindOf(err) != apperrors.KindForbidden || apperrors.ReasonOf(err) != apperrors.ReasonInsufficientRole {
		t.Fatalf("user Stats: err = %v", err)
	}

	stats, err := f.svc.Stats(ctx, f.admin)
	if err != nil {
		t.Fatalf("admin Stats: %v", err)
	}
	want := types.TaskStats{TotalTasks: 3, PendingTasks: 2, CompletedTasks: 1, TotalUsers: 2}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestTaskStoreFailure(t *testing.T) {
	f := newTaskFixture(t)
	boom := errors.New("timeout")
	f.mem.Err = boom

	_, err := f.svc.Get(context.Background(), f.alice, 1)
	if apperrors.KindOf(err) != apperrors.KindStore || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want store failure wrapping cause", err)
	}
}

func TestListFarPageIsEmpty(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	f.create(t, f.alice, "only")

	for _, query := range []types.TaskQuery{
		{Page: validate.MaxPage, Limit: validate.MaxLimit},
		{Page: math.MaxInt, Limit: math.MaxInt},
	} {
		page, err := f.svc.List(ctx, f.alice, query)
		if err != nil {
			t.Fatalf("List(%+v): %v", query, err)
		}
		if len(page.Tasks) != 0 {
			t.Fatalf("page %d returned %d tasks", query.Page, len(page.Tasks))
		}
		if page.Pagination.TotalTasks != 1 || page.Pagination.TotalPages < 1 {
			t.Fatalf("pagination = %+v", page.Pagination)
		}
	}
}
