package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/events"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/validate"
)

// TaskHandler provides HTTP handlers for tasks.
type TaskHandler struct {
	taskService *services.TaskService
	opts        Options
}

// NewTaskHandler constructs a TaskHandler with the provided dependencies.
func NewTaskHandler(taskService *services.TaskService, opts Options) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		opts:        opts.withDefaults(),
	}
}

// TaskRouter registers task routes on the given router. Every route requires
// authentication.
func TaskRouter(r chi.Router, taskService *services.TaskService, opts Options, authMiddleware func(http.Handler) http.Handler) {
	handler := NewTaskHandler(taskService, opts)

	r.Use(authMiddleware)
	r.Post("/", handler.CreateTask)
	r.Get("/", handler.ListTasks)
	r.Get("/stats", handler.TaskStats)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", handler.GetTask)
		r.Put("/", handler.UpdateTask)
		r.Patch("/", handler.UpdateTask)
		r.Delete("/", handler.DeleteTask)
	})
}

func (h *TaskHandler) actor(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, r, h.opts, apperrors.Unauthenticated(apperrors.ReasonMissingCredentials, "no token provided"))
	}
	return identity, ok
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req validate.TaskInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	task, err := h.taskService.Create(r.Context(), actor, req)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	publish(r, h.opts, events.ForTask(events.TaskCreated, actor.UserID, task))
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	query, err := validate.TaskQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	page, err := h.taskService.List(r.Context(), actor, query)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *TaskHandler) TaskStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	stats, err := h.taskService.Stats(r.Context(), actor)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id, err := parseTaskID(r)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	task, err := h.taskService.Get(r.Context(), actor, id)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id, err := parseTaskID(r)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	var req validate.TaskInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	task, err := h.taskService.Update(r.Context(), actor, id, req)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	publish(r, h.opts, events.ForTask(events.TaskUpdated, actor.UserID, task))
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id, err := parseTaskID(r)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	task, err := h.taskService.Delete(r.Context(), actor, id)
	if err != nil {
		respondError(w, r, h.opts, err)
		return
	}

	publish(r, h.opts, events.ForTask(events.TaskDeleted, actor.UserID, task))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "task deleted successfully"})
}
