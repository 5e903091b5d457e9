package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/studentdash/internal/i18n"
	"github.com/pavelanni/studentdash/internal/llm"
	"github.com/pavelanni/studentdash/internal/llm/prompts"
	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/source"
	"github.com/pavelanni/studentdash/internal/store"
)

type testEnv struct {
	store  *store.Store
	router http.Handler
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEnv(t *testing.T, s *store.Store, src source.Source, l *llm.Client, basePath string) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	h, err := New(s, src, l, model.Config{RecordsPath: "Students", BasePath: basePath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}
	return &testEnv{store: s, router: r}
}

func newDefaultEnv(t *testing.T) *testEnv {
	t.Helper()
	s := newTestStore(t)
	return newTestEnv(t, s, s, nil, "")
}

func (e *testEnv) createUser(t *testing.T, email, password string, role model.UserRole) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	id, err := e.store.CreateUser(context.Background(), model.User{
		Email: email, DisplayName: email, PasswordHash: string(hash), Role: role, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

func (e *testEnv) sessionCookie(t *testing.T, userID int64) *http.Cookie {
	t.Helper()
	token, err := e.store.CreateAuthSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func seedRecords(t *testing.T, s *store.Store) {
	t.Helper()
	err := s.Set(context.Background(), "Students", map[string]any{
		"Users": map[string]any{
			"u1": map[string]any{
				"studentName": "Ana",
				"studentExercises": map[string]any{
					"e1": map[string]any{"subject": "MATEMÁTICA", "answer": true, "questionName": "q1"},
					"e2": map[string]any{"subject": "MATEMÁTICA", "answer": false, "questionName": "q2"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("seed records: %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	e := newDefaultEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/students", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from API, got %d", rec.Code)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/", nil), &http.Cookie{Name: sessionCookieName, Value: "bogus"})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect for unknown session, got %d", rec.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	e := newDefaultEnv(t)
	e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /login: %d", rec.Code)
	}
	var csrf *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName {
			csrf = c
		}
	}
	if csrf == nil {
		t.Fatal("expected CSRF cookie on login page")
	}

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		body     string
	}{
		{"unknown email", "nobody@school.org", "secret", http.StatusUnauthorized, "No account exists for this email."},
		{"wrong password", "ana@school.org", "nope", http.StatusUnauthorized, "Incorrect password."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"email": {tt.email}, "password": {tt.password}, "csrf_token": {csrf.Value}}
			rec := e.do(postForm("/login", form), csrf)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body missing %q", tt.body)
			}
		})
	}

	form := url.Values{"email": {"ana@school.org"}, "password": {"secret"}, "csrf_token": {csrf.Value}}
	rec = e.do(postForm("/login", form), csrf)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			session = c
		}
	}
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", session)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/", nil), session)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard after login: %d", rec.Code)
	}
}

func TestCSRFRequired(t *testing.T) {
	e := newDefaultEnv(t)
	id := e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher)
	session := e.sessionCookie(t, id)

	rec := e.do(postForm("/logout", url.Values{}), session)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("logout without CSRF token: %d, want 403", rec.Code)
	}

	csrf := &http.Cookie{Name: csrfCookieName, Value: "tok"}
	rec = e.do(postForm("/logout", url.Values{"csrf_token": {"other"}}), session, csrf)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("logout with mismatched token: %d, want 403", rec.Code)
	}

	rec = e.do(postForm("/logout", url.Values{"csrf_token": {"tok"}}), session, csrf)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("logout: %d, want 303", rec.Code)
	}
	rec = e.do(httptest.NewRequest(http.MethodGet, "/", nil), session)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("session should be gone after logout, got %d", rec.Code)
	}
}

func TestDashboardPages(t *testing.T) {
	e := newDefaultEnv(t)
	seedRecords(t, e.store)
	session := e.sessionCookie(t, e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher))

	tests := []struct {
		path  string
		wants []string
	}{
		{"/", []string{"Student Performance", "Ana", "Score: 5", "Exercise of Matemática", "needs retry"}},
		{"/students", []string{"<th>Matemática</th>", "<td>2</td>"}},
		{"/exercises", []string{"q1", "q2", "chip correct", "chip wrong"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := e.do(httptest.NewRequest(http.MethodGet, tt.path, nil), session)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			body := rec.Body.String()
			for _, want := range tt.wants {
				if !strings.Contains(body, want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}

	if n := e.store.Subscribers(); n != 0 {
		t.Errorf("page views should be released after rendering, %d still subscribed", n)
	}
}

func TestAPI(t *testing.T) {
	e := newDefaultEnv(t)
	seedRecords(t, e.store)
	session := e.sessionCookie(t, e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher))

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/subjects", nil), session)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/subjects: %d", rec.Code)
	}
	var subjects []model.SubjectSummary
	if err := json.NewDecoder(rec.Body).Decode(&subjects); err != nil {
		t.Fatalf("decode subjects: %v", err)
	}
	if len(subjects) != 1 || subjects[0].Score != 5 || subjects[0].Status != model.StatusNeedsRetry {
		t.Fatalf("unexpected subjects: %+v", subjects)
	}

	body := `{"studentName": "Bia", "subject": "História", "answer": true, "questionName": "q9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/users/u2/exercises", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = e.do(req, session)
	if rec.Code != http.StatusCreated {
		t.Fatalf("push: %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/students", nil), session)
	var students []model.StudentSummary
	if err := json.NewDecoder(rec.Body).Decode(&students); err != nil {
		t.Fatalf("decode students: %v", err)
	}
	if len(students) != 2 || students[1].StudentName != "Bia" || students[1].Score != 10 {
		t.Fatalf("unexpected students after push: %+v", students)
	}
}

func TestAPIPushValidation(t *testing.T) {
	e := newDefaultEnv(t)
	session := e.sessionCookie(t, e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher))

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		status      int
	}{
		{"wrong content type", "/api/users/u1/exercises", "text/plain", `{}`, http.StatusUnsupportedMediaType},
		{"missing answer", "/api/users/u1/exercises", "application/json", `{"subject": "Math"}`, http.StatusBadRequest},
		{"unknown field", "/api/users/u1/exercises", "application/json", `{"subject": "Math", "answer": true, "extra": 1}`, http.StatusBadRequest},
		{"forbidden key", "/api/users/u.1/exercises", "application/json", `{"subject": "Math", "answer": true}`, http.StatusBadRequest},
		{"escaped slash in user", "/api/users/u%2F1/exercises", "application/json", `{"subject": "Math", "answer": true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := e.do(req, session)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestAPIPushNotifiesOnce(t *testing.T) {
	e := newDefaultEnv(t)
	session := e.sessionCookie(t, e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher))

	snaps := make(chan model.Snapshot, 16)
	unsub, err := e.store.Subscribe("Students", func(snap model.Snapshot) { snaps <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()
	select {
	case <-snaps:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	body := `{"studentName": "Caio", "subject": "Math", "answer": true}`
	req := httptest.NewRequest(http.MethodPost, "/api/users/u3/exercises", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if rec := e.do(req, session); rec.Code != http.StatusCreated {
		t.Fatalf("push: %d %s", rec.Code, rec.Body.String())
	}

	var snap model.Snapshot
	select {
	case snap = <-snaps:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pushed snapshot")
	}
	user, _ := source.At(snap, "Users/u3")["studentExercises"].(map[string]any)
	if source.At(snap, "Users/u3")["studentName"] != "Caio" || len(user) != 1 {
		t.Fatalf("snapshot should carry name and exercise together, got %v", snap)
	}
	select {
	case extra := <-snaps:
		t.Fatalf("push should notify once, got another snapshot %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAPIPushReadOnlySource(t *testing.T) {
	s := newTestStore(t)
	fs, err := source.NewFileSource(filepath.Join(t.TempDir(), "records.json"))
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	e := newTestEnv(t, s, fs, nil, "")
	session := e.sessionCookie(t, e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher))

	req := httptest.NewRequest(http.MethodPost, "/api/users/u1/exercises", strings.NewReader(`{"subject": "Math", "answer": true}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := e.do(req, session); rec.Code != http.StatusConflict {
		t.Fatalf("push to file source: %d, want 409", rec.Code)
	}
}

func TestAdminTeachers(t *testing.T) {
	e := newDefaultEnv(t)
	teacher := e.sessionCookie(t, e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher))
	admin := e.sessionCookie(t, e.createUser(t, "root@school.org", "secret", model.UserRoleAdmin))

	if rec := e.do(httptest.NewRequest(http.MethodGet, "/admin/teachers", nil), teacher); rec.Code != http.StatusForbidden {
		t.Fatalf("teacher on admin page: %d, want 403", rec.Code)
	}
	if rec := e.do(httptest.NewRequest(http.MethodGet, "/admin/teachers", nil), admin); rec.Code != http.StatusOK {
		t.Fatalf("admin page: %d", rec.Code)
	}

	csrf := &http.Cookie{Name: csrfCookieName, Value: "tok"}
	form := url.Values{
		"csrf_token":   {"tok"},
		"email":        {"Bia@School.org"},
		"display_name": {"Bia"},
		"password":     {"pw"},
		"role":         {"superuser"},
	}
	rec := e.do(postForm("/admin/teachers", form), admin, csrf)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("create teacher: %d %s", rec.Code, rec.Body.String())
	}
	u, err := e.store.GetUserByEmail(context.Background(), "bia@school.org")
	if err != nil || u == nil {
		t.Fatalf("GetUserByEmail: %v, %v", u, err)
	}
	if u.Role != model.UserRoleTeacher {
		t.Errorf("unknown role should fall back to teacher, got %q", u.Role)
	}

	rec = e.do(postForm("/admin/teachers", form), admin, csrf)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate email: %d, want 409", rec.Code)
	}
}

func TestInsight(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s)

	if err := s.Set(context.Background(), "Students/Users/u9", map[string]any{
		"studentName":      "Ana/Bia",
		"studentExercises": map[string]any{"e1": map[string]any{"subject": "Math", "answer": true}},
	}); err != nil {
		t.Fatalf("seed Ana/Bia: %v", err)
	}

	t.Run("not configured", func(t *testing.T) {
		e := newTestEnv(t, s, s, nil, "")
		session := e.sessionCookie(t, e.createUser(t, "a1@school.org", "secret", model.UserRoleTeacher))
		rec := e.do(httptest.NewRequest(http.MethodGet, "/students/Ana/insight", nil), session)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Insights are not configured.") {
			t.Fatalf("got %d %s", rec.Code, rec.Body.String())
		}
		rec = e.do(httptest.NewRequest(http.MethodGet, "/students/Ana%2FBia/insight", nil), session)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Insight for Ana/Bia") {
			t.Fatalf("escaped name: got %d %s", rec.Code, rec.Body.String())
		}
		rec = e.do(httptest.NewRequest(http.MethodGet, "/students/Nobody/insight", nil), session)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unknown student: %d, want 404", rec.Code)
		}
	})

	t.Run("configured", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "1",
				"object": "chat.completion",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": `{"summary": "Ana should review fractions.", "focus_subject": "Matemática"}`,
					},
				}},
			})
		}))
		defer srv.Close()
		client, err := llm.New(srv.URL+"/v1", "k", "m", prompts.ToneStandard)
		if err != nil {
			t.Fatalf("llm.New: %v", err)
		}

		e := newTestEnv(t, s, s, client, "")
		session := e.sessionCookie(t, e.createUser(t, "a2@school.org", "secret", model.UserRoleTeacher))
		rec := e.do(httptest.NewRequest(http.MethodGet, "/students/Ana/insight", nil), session)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ana should review fractions.") {
			t.Fatalf("got %d %s", rec.Code, rec.Body.String())
		}
	})
}

func TestBasePath(t *testing.T) {
	s := newTestStore(t)
	e := newTestEnv(t, s, s, nil, "/dash")

	rec := e.do(httptest.NewRequest(http.MethodGet, "/dash/", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dash/login" {
		t.Fatalf("expected redirect to /dash/login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = e.do(httptest.NewRequest(http.MethodGet, "/dash/login", nil))
	if !strings.Contains(rec.Body.String(), `action="/dash/login"`) {
		t.Error("login form should post under the base path")
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName && c.Path != "/dash/" {
			t.Errorf("CSRF cookie path = %q, want /dash/", c.Path)
		}
	}
}

func TestEventsStream(t *testing.T) {
	e := newDefaultEnv(t)
	seedRecords(t, e.store)
	session := e.sessionCookie(t, e.createUser(t, "ana@school.org", "secret", model.UserRoleTeacher))

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.AddCookie(session)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	readEvent := func() string {
		t.Helper()
		event := ""
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("stream closed")
				}
				if strings.HasPrefix(line, "event: ") {
					event = strings.TrimPrefix(line, "event: ")
				}
				if strings.HasPrefix(line, "data: ") && event == "summaries" {
					return strings.TrimPrefix(line, "data: ")
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for event")
			}
		}
	}

	if data := readEvent(); !strings.Contains(data, `"studentName":"Ana"`) {
		t.Fatalf("first event = %s", data)
	}

	if err := e.store.Set(context.Background(), "Students/Users/u1/studentName", "Ana Souza"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if data := readEvent(); !strings.Contains(data, `"studentName":"Ana Souza"`) {
		t.Fatalf("second event = %s", data)
	}

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for e.store.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event view not released after disconnect: %d subscribers", e.store.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
