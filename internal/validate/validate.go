// Package validate normalizes request input and rejects malformed values
// before they reach the services. Every validator reports all violations at
// once rather than stopping at the first.
package validate

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/types"
)

const (
	usernameMinLen    = 3
	usernameMaxLen    = 50
	passwordMinLen    = 8
	passwordMaxBytes  = 72
	titleMaxLen       = 200
	descriptionMaxLen = 2000

	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxPage keeps the row offset of any page within an int.
	MaxPage = math.MaxInt / MaxLimit

	passwordSymbols = `!@#$%^&*(),.?":{}|<>`
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RegisterInput is the raw body of a registration request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput is the raw body of a login request.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TaskInput is the raw body of a task create or update request. Nil fields
// were absent from the request.
type TaskInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
}

// violations accumulates validation messages.
type violations []string

func (v *violations) add(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return apperrors.Validation(v)
}

// Sanitize removes angle brackets and surrounding whitespace.
func Sanitize(s string) string {
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	return strings.TrimSpace(s)
}

// Registration validates and normalizes a registration request. The returned
// email is lowercase.
func Registration(in RegisterInput) (RegisterInput, error) {
	var errs violations

	username := Sanitize(in.Username)
	email := Sanitize(in.Email)

	if n := utf8.RuneCountInString(username); n < usernameMinLen || n > usernameMaxLen {
		errs.add("username must be between %d and %d characters", usernameMinLen, usernameMaxLen)
	}

	if email == "" {
		errs.add("email is required")
	} else if !emailPattern.MatchString(email) {
		errs.add("email must be a valid email address")
	}

	checkPassword(&errs, in.Password)

	if err := errs.err(); err != nil {
		return RegisterInput{}, err
	}
	return RegisterInput{
		Username: username,
		Email:    strings.ToLower(email),
		Password: in.Password,
	}, nil
}

func checkPassword(errs *violations, password string) {
	if password == "" {
		errs.add("password is required")
		return
	}
	if utf8.RuneCountInString(password) < passwordMinLen {
		errs.add("password must be at least %d characters long", passwordMinLen)
	}
	if len(password) > passwordMaxBytes {
		errs.add("password must not exceed %d bytes", passwordMaxBytes)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper {
		errs.add("password must contain an uppercase letter")
	}
	if !lower {
		errs.add("password must contain a lowercase letter")
	}
	if !digit {
		errs.add("password must contain a digit")
	}
	if !symbol {
		errs.add("password must contain a special character (%s)", passwordSymbols)
	}
}

// Login validates and normalizes a login request.
func Login(in LoginInput) (LoginInput, error) {
	var errs violations

	email := Sanitize(in.Email)
	if email == "" {
		errs.add("email is required")
	}
	if in.Password == "" {
		errs.add("password is required")
	}

	if err := errs.err(); err != nil {
		return LoginInput{}, err
	}
	return LoginInput{Email: strings.ToLower(email), Password: in.Password}, nil
}

// TaskCreate validates a creation request. Priority defaults to medium. A
// status in the body is checked but new tasks always start pending.
func TaskCreate(in TaskInput) (types.NewTask, error) {
	var errs violations

	task := types.NewTask{Priority: types.TaskPriorityMedium}

	if in.Title == nil || Sanitize(*in.Title) == "" {
		errs.add("title is required")
	} else {
		task.Title = Sanitize(*in.Title)
		checkTitle(&errs, task.Title)
	}
	if in.Description != nil {
		task.Description = Sanitize(*in.Description)
		checkDescription(&errs, task.Description)
	}
	if in.Status != nil {
		parseStatus(&errs, *in.Status)
	}
	if in.Priority != nil {
		task.Priority = parsePriority(&errs, *in.Priority)
	}

	if err := errs.err(); err != nil {
		return types.NewTask{}, err
	}
	return task, nil
}

// TaskUpdate validates an update request. Only fields present in the body
// end up in the patch.
func TaskUpdate(in TaskInput) (types.TaskPatch, error) {
	var errs violations
	var patch types.TaskPatch

	if in.Title != nil {
		title := Sanitize(*in.Title)
		checkTitle(&errs, title)
		patch.Title = &title
	}
	if in.Description != nil {
		description := Sanitize(*in.Description)
		checkDescription(&errs, description)
		patch.Description = &description
	}
	if in.Status != nil {
		status := parseStatus(&errs, *in.Status)
		patch.Status = &status
	}
	if in.Priority != nil {
		priority := parsePriority(&errs, *in.Priority)
		patch.Priority = &priority
	}

	if err := errs.err(); err != nil {
		return types.TaskPatch{}, err
	}
	return patch, nil
}

func checkTitle(errs *violations, title string) {
	if n := utf8.RuneCountInString(title); n < 1 || n > titleMaxLen {
		errs.add("title must be between 1 and %d characters", titleMaxLen)
	}
}

func checkDescription(errs *violations, description string) {
	if utf8.RuneCountInString(description) > descriptionMaxLen {
		errs.add("description must not exceed %d characters", descriptionMaxLen)
	}
}

func parseStatus(errs *violations, raw string) types.TaskStatus {
	status := types.TaskStatus(strings.TrimSpace(raw))
	if !status.Valid() {
		errs.add("status must be one of: %s", joinValues(types.TaskStatuses))
	}
	return status
}

func parsePriority(errs *violations, raw string) types.TaskPriority {
	priority := types.TaskPriority(strings.TrimSpace(raw))
	if !priority.Valid() {
		errs.add("priority must be one of: %s", joinValues(types.TaskPriorities))
	}
	return priority
}

// TaskQuery validates list query parameters and fills in defaults.
func TaskQuery(values url.Values) (types.TaskQuery, error) {
	var errs violations
	query := types.TaskQuery{Page: DefaultPage, Limit: DefaultLimit}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 || page > MaxPage {
			errs.add("page must be an integer between 1 and %d", MaxPage)
		} else {
			query.Page = page
		}
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			errs.add("limit must be an integer between 1 and %d", MaxLimit)
		} else {
			query.Limit = limit
		}
	}
	if raw := values.Get("status"); raw != "" {
		query.Status = parseStatus(&errs, raw)
	}
	if raw := values.Get("priority"); raw != "" {
		query.Priority = parsePriority(&errs, raw)
	}

	if err := errs.err(); err != nil {
		return types.TaskQuery{}, err
	}
	return query, nil
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
