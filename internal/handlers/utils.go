package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/events"
	"github.com/tasktrack/apiserver/types"
)

// MaxBodyBytes caps every JSON request body.
const MaxBodyBytes = 10 << 20

type contextKey string

const contextUserKey contextKey = "user"

// Observer receives security-relevant outcomes for metrics.
type Observer interface {
	AuthFailure(reason string)
	AuthzDenial(reason string)
}

type nopObserver struct{}

func (nopObserver) AuthFailure(string) {}
func (nopObserver) AuthzDenial(string) {}

// Options carries the collaborators shared by every handler.
type Options struct {
	Logger   *slog.Logger
	Events   events.Publisher
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Events == nil {
		o.Events = events.Discard{}
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Details []string `json:"details,omitempty"`
}

// MessageResponse is the body of a successful request with nothing to return.
type MessageResponse struct {
	Message string `json:"message"`
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

func userFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok && user.ID > 0
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	user, ok := userFromContext(ctx)
	if !ok {
		return auth.Identity{}, false
	}
	return auth.IdentityOf(user), true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// respondError writes err as an ErrorResponse. Store failures are logged
// with their cause and reported without it. Denials are counted.
func respondError(w http.ResponseWriter, r *http.Request, opts Options, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Store("internal server error", err)
	}

	switch appErr.Kind {
	case apperrors.KindStore:
		opts.Logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, appErr.Kind.HTTPStatus(), ErrorResponse{
			Error: "internal server error",
			Code:  string(appErr.Kind),
		})
		return
	case apperrors.KindUnauthenticated:
		opts.Observer.AuthFailure(string(appErr.Reason))
	case apperrors.KindForbidden:
		opts.Observer.AuthzDenial(string(appErr.Reason))
	}

	writeJSON(w, appErr.Kind.HTTPStatus(), ErrorResponse{
		Error:   appErr.Message,
		Code:    string(appErr.Kind),
		Reason:  string(appErr.Reason),
		Details: appErr.Details,
	})
}

// decodeJSON reads a single JSON value from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Validation([]string{"request body must not exceed 10MB"})
		}
		return apperrors.Validation([]string{"request body must be valid JSON"})
	}
	return nil
}

// parseTaskID reads the {id} route parameter. An id that is not a positive
// integer cannot name a task.
func parseTaskID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, errTaskNotFound
	}
	return id, nil
}

var errTaskNotFound = apperrors.NotFound("task not found")

// publish sends event and logs, never fails, when delivery does not succeed.
func publish(r *http.Request, opts Options, event events.Event) {
	if err := opts.Events.Publish(r.Context(), event); err != nil {
		opts.Logger.Warn("failed to publish event",
			"type", event.Type,
			"event_id", event.ID,
			"error", err,
		)
	}
}
