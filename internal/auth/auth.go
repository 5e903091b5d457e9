// Package auth signs dashboard users in with email and password.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/studentdash/internal/model"
)

// Code identifies why a sign-in failed.
type Code string

const (
	CodeUserNotFound    Code = "user-not-found"
	CodeWrongPassword   Code = "wrong-password"
	CodeTooManyRequests Code = "too-many-requests"
	CodeUserDisabled    Code = "user-disabled"
	CodeInternal        Code = "internal"
)

// Error is a sign-in failure with a closed set of codes.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth/%s: %v", e.Code, e.Err)
	}
	return "auth/" + string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the sign-in code carried by err, or CodeInternal for
// anything that is not an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageID returns the translation ID of the user-facing message for err.
// Unknown failures map to a generic message rather than being swallowed.
func MessageID(err error) string {
	switch CodeOf(err) {
	case CodeUserNotFound:
		return "LoginUserNotFound"
	case CodeWrongPassword:
		return "LoginWrongPassword"
	case CodeTooManyRequests:
		return "LoginTooManyRequests"
	case CodeUserDisabled:
		return "LoginUserDisabled"
	default:
		return "LoginFailed"
	}
}

// UserStore is the account storage the provider needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

const (
	defaultMaxFailures = 5
	defaultLockWindow  = 15 * time.Minute
)

// Provider checks credentials against stored bcrypt hashes and throttles
// repeated failures per email.
type Provider struct {
	users       UserStore
	maxFailures int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	failures map[string]*failureWindow
}

type failureWindow struct {
	count int
	first time.Time
}

// NewProvider returns a provider backed by users.
func NewProvider(users UserStore) *Provider {
	return &Provider{
		users:       users,
		maxFailures: defaultMaxFailures,
		window:      defaultLockWindow,
		now:         time.Now,
		failures:    make(map[string]*failureWindow),
	}
}

// SignIn returns the active user matching email and password.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if p.throttled(key) {
		return nil, &Error{Code: CodeTooManyRequests}
	}

	user, err := p.users.GetUserByEmail(ctx, key)
	if err != nil {
		return nil, &Error{Code: CodeInternal, Err: err}
	}
	if user == nil {
		p.recordFailure(key)
		return nil, &Error{Code: CodeUserNotFound}
	}
	if !user.Active {
		return nil, &Error{Code: CodeUserDisabled}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		p.recordFailure(key)
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, &Error{Code: CodeWrongPassword}
		}
		return nil, &Error{Code: CodeInternal, Err: err}
	}

	p.mu.Lock()
	delete(p.failures, key)
	p.mu.Unlock()
	return user, nil
}

func (p *Provider) throttled(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.failures[key]
	if !ok {
		return false
	}
	if p.now().Sub(f.first) > p.window {
		delete(p.failures, key)
		return false
	}
	return f.count >= p.maxFailures
}

func (p *Provider) recordFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	f, ok := p.failures[key]
	if !ok || now.Sub(f.first) > p.window {
		f = &failureWindow{first: now}
		p.failures[key] = f
	}
	f.count++
	if f.count == p.maxFailures {
		slog.Warn("sign-in throttled", "email", key, "failures", f.count)
	}
}

// HashPassword returns the bcrypt hash stored for a new password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
