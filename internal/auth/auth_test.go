package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/studentdash/internal/model"
)

type memUsers map[string]*model.User

func (m memUsers) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	if email == "broken@school.org" {
		return nil, errors.New("database is locked")
	}
	return m[email], nil
}

func newTestProvider(t *testing.T) (*Provider, *time.Time) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := memUsers{
		"ana@school.org":      {ID: 1, Email: "ana@school.org", PasswordHash: string(hash), Active: true},
		"disabled@school.org": {ID: 2, Email: "disabled@school.org", PasswordHash: string(hash), Active: false},
	}
	p := NewProvider(users)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestSignIn(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		want     Code
	}{
		{"unknown email", "nobody@school.org", "secret", CodeUserNotFound},
		{"wrong password", "ana@school.org", "nope", CodeWrongPassword},
		{"disabled", "disabled@school.org", "secret", CodeUserDisabled},
		{"store failure", "broken@school.org", "secret", CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := p.SignIn(ctx, tt.email, tt.password)
			if u != nil {
				t.Fatalf("expected no user, got %+v", u)
			}
			if got := CodeOf(err); got != tt.want {
				t.Errorf("CodeOf(%v) = %q, want %q", err, got, tt.want)
			}
		})
	}

	u, err := p.SignIn(ctx, "  ANA@school.org ", "secret")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if u.ID != 1 {
		t.Errorf("expected user 1, got %d", u.ID)
	}
}

func TestThrottle(t *testing.T) {
	p, now := newTestProvider(t)
	ctx := context.Background()

	for i := range defaultMaxFailures {
		_, err := p.SignIn(ctx, "ana@school.org", fmt.Sprintf("bad-%d", i))
		if CodeOf(err) != CodeWrongPassword {
			t.Fatalf("attempt %d: expected wrong-password, got %v", i, err)
		}
	}

	// Even the right password is refused while throttled.
	_, err := p.SignIn(ctx, "ana@school.org", "secret")
	if CodeOf(err) != CodeTooManyRequests {
		t.Fatalf("expected too-many-requests, got %v", err)
	}

	*now = now.Add(defaultLockWindow + time.Second)
	if _, err := p.SignIn(ctx, "ana@school.org", "secret"); err != nil {
		t.Fatalf("expected sign-in after window, got %v", err)
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	for range defaultMaxFailures - 1 {
		_, _ = p.SignIn(ctx, "ana@school.org", "bad")
	}
	if _, err := p.SignIn(ctx, "ana@school.org", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if _, err := p.SignIn(ctx, "ana@school.org", "bad"); CodeOf(err) != CodeWrongPassword {
		t.Fatalf("expected wrong-password after reset, got %v", err)
	}
}

func TestMessageID(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&Error{Code: CodeUserNotFound}, "LoginUserNotFound"},
		{&Error{Code: CodeWrongPassword}, "LoginWrongPassword"},
		{&Error{Code: CodeTooManyRequests}, "LoginTooManyRequests"},
		{&Error{Code: CodeUserDisabled}, "LoginUserDisabled"},
		{&Error{Code: CodeInternal, Err: errors.New("boom")}, "LoginFailed"},
		{fmt.Errorf("wrapped: %w", &Error{Code: CodeWrongPassword}), "LoginWrongPassword"},
		{errors.New("network down"), "LoginFailed"},
	}
	for _, tt := range tests {
		if got := MessageID(tt.err); got != tt.want {
			t.Errorf("MessageID(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")) != nil {
		t.Error("hash does not match password")
	}
}
