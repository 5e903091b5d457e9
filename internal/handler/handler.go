package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pavelanni/studentdash/internal/auth"
	"github.com/pavelanni/studentdash/internal/live"
	"github.com/pavelanni/studentdash/internal/llm"
	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/source"
	"github.com/pavelanni/studentdash/internal/store"
)

// firstSnapshotTimeout bounds how long a page waits for its view's first
// delivery before rendering the waiting state.
const firstSnapshotTimeout = 5 * time.Second

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	source source.Source
	auth   *auth.Provider
	llm    *llm.Client
	config model.Config

	// writable is set when pages read from the same store the API writes to.
	writable bool
}

// New creates a new Handler. Pages read records from src; l may be nil when
// insights are not configured.
func New(s *store.Store, src source.Source, l *llm.Client, cfg model.Config) (*Handler, error) {
	if s == nil || src == nil {
		return nil, errors.New("store and source are required")
	}
	cfg.InsightEnabled = l != nil
	st, ok := src.(*store.Store)
	return &Handler{
		store:    s,
		source:   src,
		auth:     auth.NewProvider(s),
		llm:      l,
		config:   cfg,
		writable: ok && st == s,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", h.handleDashboard)
			r.Get("/students", h.handleStudents)
			r.Get("/exercises", h.handleExercises)
			r.Get("/students/{name}/insight", h.handleInsight)
			r.Post("/logout", h.handleLogout)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/teachers", h.handleTeachersPage)
				r.Post("/teachers", h.handleCreateTeacher)
				r.Post("/teachers/{userID}/toggle", h.handleToggleTeacher)
			})
		})
	})

	// The event stream must not rotate the CSRF cookie of the page that opened it.
	r.With(h.requireAuth).Get("/events", h.handleEvents)

	r.Route("/api", func(r chi.Router) {
		if len(h.config.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   h.config.CORSOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		r.Use(h.requireAPIAuth)
		r.Get("/students", h.handleAPIStudents)
		r.Get("/subjects", h.handleAPISubjects)
		r.Get("/exercises", h.handleAPIExercises)
		r.Post("/users/{userID}/exercises", h.handleAPIPushExercise)
	})
}

// BasePathMiddleware stores the configured base path in the request context
// so views can build links.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

// pathParam returns the decoded URL parameter key. chi routes on RawPath
// when the request has one, which leaves escapes such as %2F in the value.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

// readOnce activates a private view over the records path, waits for its
// first delivery and deactivates it again. ok is false when no snapshot
// arrived before ctx or the first-snapshot timeout expired.
func readOnce[T any](ctx context.Context, src source.Source, name, path string, fold func(model.Snapshot) T) (value T, at time.Time, ok bool, err error) {
	v := live.NewView(name, path, fold)
	if err := v.Activate(src); err != nil {
		return value, at, false, fmt.Errorf("activate %s view: %w", name, err)
	}
	defer v.Deactivate()

	ctx, cancel := context.WithTimeout(ctx, firstSnapshotTimeout)
	defer cancel()
	select {
	case <-v.Updates():
	case <-ctx.Done():
		return value, at, false, nil
	}
	value, ok = v.Current()
	return value, v.UpdatedAt(), ok, nil
}
