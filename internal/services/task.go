package services

import (
	"context"
	"errors"

	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/internal/validate"
	"github.com/tasktrack/apiserver/types"
)

// TaskRepository defines persistence operations for tasks.
type TaskRepository interface {
	Get(ctx context.Context, id int) (types.Task, error)
	Create(ctx context.Context, task types.Task) (types.Task, error)
	Update(ctx context.Context, task types.Task) (types.Task, error)
	Delete(ctx context.Context, id int) error
	List(ctx context.Context, filter types.TaskFilter, limit, offset int) ([]types.Task, error)
	Count(ctx context.Context, filter types.TaskFilter) (int, error)
	Stats(ctx context.Context) (types.TaskStats, error)
}

// TaskService applies the access policy to every task operation.
type TaskService struct {
	repo TaskRepository
}

func NewTaskService(repo TaskRepository) *TaskService {
	return &TaskService{repo: repo}
}

// Create validates in and stores a new pending task owned by actor.
func (s *TaskService) Create(ctx context.Context, actor auth.Identity, in validate.TaskInput) (types.Task, error) {
	fields, err := validate.TaskCreate(in)
	if err != nil {
		return types.Task{}, err
	}

	task, err := s.repo.Create(ctx, types.Task{
		Title:       fields.Title,
		Description: fields.Description,
		Status:      types.TaskStatusPending,
		Priority:    fields.Priority,
		UserID:      actor.UserID,
	})
	if err != nil {
		return types.Task{}, apperrors.Store("failed to create task", err)
	}
	return task, nil
}

// Get returns the task with id when actor may read it.
func (s *TaskService) Get(ctx context.Context, actor auth.Identity, id int) (types.Task, error) {
	return s.authorized(ctx, actor, auth.ActionRead, id)
}

// Update applies the fields present in in to the task with id.
func (s *TaskService) Update(ctx context.Context, actor auth.Identity, id int, in validate.TaskInput) (types.Task, error) {
	patch, err := validate.TaskUpdate(in)
	if err != nil {
		return types.Task{}, err
	}

	task, err := s.authorized(ctx, actor, auth.ActionUpdate, id)
	if err != nil {
		return types.Task{}, err
	}

	updated, err := s.repo.Update(ctx, patch.Apply(task))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Task{}, errTaskNotFound
		}
		return types.Task{}, apperrors.Store("failed to update task", err)
	}
	return updated, nil
}

// Delete removes the task with id and returns its last state.
func (s *TaskService) Delete(ctx context.Context, actor auth.Identity, id int) (types.Task, error) {
	task, err := s.authorized(ctx, actor, auth.ActionDelete, id)
	if err != nil {
		return types.Task{}, err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Task{}, errTaskNotFound
		}
		return types.Task{}, apperrors.Store("failed to delete task", err)
	}
	return task, nil
}

// List returns one page of the tasks visible to actor. Non-admins only ever
// see their own tasks.
func (s *TaskService) List(ctx context.Context, actor auth.Identity, query types.TaskQuery) (types.TaskPage, error) {
	if query.Page < 1 {
		query.Page = validate.DefaultPage
	}
	if query.Limit < 1 {
		query.Limit = validate.DefaultLimit
	}
	if query.Limit > validate.MaxLimit {
		query.Limit = validate.MaxLimit
	}

	filter := types.TaskFilter{Status: query.Status, Priority: query.Priority}
	if !actor.IsAdmin() {
		owner := actor.UserID
		filter.OwnerID = &owner
	}

	tasks, err := s.repo.List(ctx, filter, query.Limit, query.Offset())
	if err != nil {
		return types.TaskPage{}, apperrors.Store("failed to list tasks", err)
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return types.TaskPage{}, apperrors.Store("failed to count tasks", err)
	}

	return types.TaskPage{
		Tasks: tasks,
		Pagination: types.Pagination{
			CurrentPage: query.Page,
			TotalPages:  (total + query.Limit - 1) / query.Limit,
			TotalTasks:  total,
			Limit:       query.Limit,
		},
	}, nil
}

// Stats aggregates task counts across all owners. Only admins may call it.
func (s *TaskService) Stats(ctx context.Context, actor auth.Identity) (types.TaskStats, error) {
	decision := auth.Authorize(actor, auth.ActionViewStats, auth.RequiresRole(types.RoleAdmin))
	if err := decision.Err(auth.ActionViewStats); err != nil {
		return types.TaskStats{}, err
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return types.TaskStats{}, apperrors.Store("failed to load task statistics", err)
	}
	return stats, nil
}

// authorized loads the task with id and checks that actor may perform action
// on it. A missing task is reported before any ownership check.
func (s *TaskService) authorized(ctx context.Context, actor auth.Identity, action auth.Action, id int) (types.Task, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Task{}, errTaskNotFound
		}
		return types.Task{}, apperrors.Store("failed to load task", err)
	}

	decision := auth.Authorize(actor, action, auth.Owned(task.UserID))
	if err := decision.Err(action); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

var errTaskNotFound = apperrors.NotFound("task not found")
