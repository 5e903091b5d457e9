package model

import (
	"context"
	"time"
)

// UserRole represents a dashboard user's access level.
type UserRole string

const (
	// UserRoleTeacher can browse the dashboard.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin can also manage teacher accounts.
	UserRoleAdmin UserRole = "admin"
)

// User represents a dashboard account.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PhotoURL     string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Snapshot is a point-in-time copy of a record collection as delivered by a
// record source: string keys mapping to scalars or nested snapshots.
type Snapshot = map[string]any

// ExerciseRecord is one raw exercise entry under a student.
type ExerciseRecord struct {
	Subject      string `json:"subject"`
	Answer       bool   `json:"answer"`
	QuestionName string `json:"questionName"`
}

// UserRecord is one raw student entry under Users.
type UserRecord struct {
	StudentName      string                    `json:"studentName"`
	StudentExercises map[string]ExerciseRecord `json:"studentExercises,omitempty"`
}

// Attempt is one student's response to one exercise.
type Attempt struct {
	StudentName string `json:"studentName"`
	Subject     string `json:"subject"`
	Correct     bool   `json:"correct"`

	UserID       string `json:"userId,omitempty"`
	ExerciseID   string `json:"exerciseId,omitempty"`
	QuestionName string `json:"questionName,omitempty"`
}

// Status is the pass/fail classification of a subject summary.
type Status string

const (
	StatusApproved   Status = "approved"
	StatusNeedsRetry Status = "needs-retry"
)

// StudentSummary aggregates every attempt of one student.
type StudentSummary struct {
	StudentName    string         `json:"studentName"`
	TotalAttempts  int            `json:"totalAttempts"`
	CorrectCount   int            `json:"correctCount"`
	IncorrectCount int            `json:"incorrectCount"`
	Score          float64        `json:"score"`
	Subjects       []string       `json:"subjects"`
	SubjectCounts  map[string]int `json:"subjectCounts"`
}

// SubjectSummary aggregates the attempts of one student in one subject.
type SubjectSummary struct {
	StudentName    string  `json:"studentName"`
	Subject        string  `json:"subject"`
	DisplaySubject string  `json:"displaySubject"`
	TotalAttempts  int     `json:"totalAttempts"`
	CorrectCount   int     `json:"correctCount"`
	IncorrectCount int     `json:"incorrectCount"`
	Score          float64 `json:"score"`
	Status         Status  `json:"status"`
}

// ExerciseRow is a single attempt prepared for listing.
type ExerciseRow struct {
	StudentName  string `json:"studentName"`
	Subject      string `json:"subject"`
	QuestionName string `json:"questionName"`
	Correct      bool   `json:"correct"`
}

// Config holds runtime dashboard parameters set via CLI flags.
type Config struct {
	RecordsPath    string // path of the student collection in the record source
	BasePath       string // URL prefix for sub-path deployments
	SecureCookies  bool
	InsightEnabled bool
	CORSOrigins    []string
}
