// Package views renders the dashboard pages as templ components.
//
// Edit the .templ files and run `templ generate` to refresh the _templ.go files.
package views

import (
	"cmp"
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	appI18n "github.com/pavelanni/studentdash/internal/i18n"
	"github.com/pavelanni/studentdash/internal/model"
)

// Freshness describes the snapshot a page was rendered from.
type Freshness struct {
	Ready     bool
	UpdatedAt time.Time
}

// Page holds what the layout needs to know about the page it wraps.
type Page struct {
	Title        string
	Live         bool
	Ready        bool
	UpdatedAt    time.Time
	StudentCount int
}

func newPage(ctx context.Context, titleID string, f Freshness, students int) Page {
	return Page{
		Title:        appI18n.T(ctx, titleID),
		Live:         f.Ready,
		Ready:        f.Ready,
		UpdatedAt:    f.UpdatedAt,
		StudentCount: students,
	}
}

// link prefixes p with the deployment base path.
func link(ctx context.Context, p string) templ.SafeURL {
	return templ.URL(model.BasePathFromContext(ctx) + p)
}

func insightURL(ctx context.Context, student string) templ.SafeURL {
	return link(ctx, "/students/"+url.PathEscape(student)+"/insight")
}

func toggleURL(ctx context.Context, id int64) templ.SafeURL {
	return link(ctx, "/admin/teachers/"+strconv.FormatInt(id, 10)+"/toggle")
}

func eventsURL(ctx context.Context) string {
	return model.BasePathFromContext(ctx) + "/events"
}

func isAdmin(u *model.User) bool {
	return u != nil && u.Role == model.UserRoleAdmin
}

func userLabel(u *model.User) string {
	return cmp.Or(u.DisplayName, u.Email)
}

// formatScore always shows two decimals: 5.00, 6.67, 10.00.
func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 2, 64)
}

func scoreLabel(ctx context.Context, score float64) string {
	return appI18n.Td(ctx, "ScoreN", map[string]any{"Score": formatScore(score)})
}

func exerciseLabel(ctx context.Context, displaySubject string) string {
	return appI18n.Td(ctx, "ExerciseOf", map[string]any{"Subject": displaySubject})
}

func insightTitle(ctx context.Context, student string) string {
	return appI18n.Td(ctx, "InsightTitle", map[string]any{"Name": student})
}

func statusLabel(ctx context.Context, s model.Status) string {
	if s == model.StatusApproved {
		return appI18n.T(ctx, "StatusApproved")
	}
	return appI18n.T(ctx, "StatusNeedsRetry")
}

// updatedText uses humanized durations in English and a clock time otherwise.
func updatedText(ctx context.Context, t time.Time) string {
	if strings.HasPrefix(appI18n.Lang(ctx), "en") {
		return appI18n.Td(ctx, "UpdatedAgo", map[string]any{"Ago": humanize.Time(t)})
	}
	return appI18n.Td(ctx, "UpdatedAt", map[string]any{"Time": t.Format("15:04:05")})
}

func subjectCount(s model.StudentSummary, subject string) string {
	return strconv.Itoa(s.SubjectCounts[subject])
}

func subjectColumns(students []model.StudentSummary) []string {
	var cols []string
	for _, s := range students {
		for subject := range s.SubjectCounts {
			if !slices.Contains(cols, subject) {
				cols = append(cols, subject)
			}
		}
	}
	slices.Sort(cols)
	return cols
}

func distinctStudents(rows []model.ExerciseRow) int {
	names := make(map[string]struct{})
	for _, r := range rows {
		names[r.StudentName] = struct{}{}
	}
	return len(names)
}
