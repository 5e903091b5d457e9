package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/studentdash/internal/auth"
	"github.com/pavelanni/studentdash/internal/handler/views"
	"github.com/pavelanni/studentdash/internal/model"
)

func (h *Handler) handleTeachersPage(w http.ResponseWriter, r *http.Request) {
	h.renderTeachers(w, r, http.StatusOK, "")
}

func (h *Handler) renderTeachers(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.TeachersPage(users, errMsg).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleCreateTeacher(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	password := r.FormValue("password")
	role := model.UserRole(r.FormValue("role"))

	if email == "" || password == "" {
		h.renderTeachers(w, r, http.StatusBadRequest, "email and password required")
		return
	}
	if role != model.UserRoleAdmin {
		role = model.UserRoleTeacher
	}
	if displayName == "" {
		displayName = email
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	id, err := h.store.CreateUser(r.Context(), model.User{
		Email:        email,
		DisplayName:  displayName,
		PhotoURL:     strings.TrimSpace(r.FormValue("photo_url")),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	})
	if err != nil {
		slog.Error("failed to create user", "email", email, "error", err)
		h.renderTeachers(w, r, http.StatusConflict, "failed to create user: "+err.Error())
		return
	}

	slog.Info("created user", "id", id, "email", email, "role", role)
	http.Redirect(w, r, h.path("/admin/teachers"), http.StatusSeeOther)
}

func (h *Handler) handleToggleTeacher(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}
	if current := model.UserFromContext(r.Context()); current != nil && current.ID == id {
		h.renderTeachers(w, r, http.StatusBadRequest, "cannot disable your own account")
		return
	}

	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.path("/admin/teachers"), http.StatusSeeOther)
}
