package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/performance"
	"github.com/pavelanni/studentdash/internal/store"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleAPIStudents(w http.ResponseWriter, r *http.Request) {
	students, _, ok, err := readOnce(r.Context(), h.source, "api-students", h.config.RecordsPath, performance.StudentPipeline)
	if err != nil {
		slog.Error("failed to read student summaries", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) handleAPISubjects(w http.ResponseWriter, r *http.Request) {
	subjects, _, ok, err := readOnce(r.Context(), h.source, "api-subjects", h.config.RecordsPath, performance.SubjectPipeline)
	if err != nil {
		slog.Error("failed to read subject summaries", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (h *Handler) handleAPIExercises(w http.ResponseWriter, r *http.Request) {
	rows, _, ok, err := readOnce(r.Context(), h.source, "api-exercises", h.config.RecordsPath, performance.Exercises)
	if err != nil {
		slog.Error("failed to read exercises", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type pushExerciseRequest struct {
	StudentName  string `json:"studentName"`
	Subject      string `json:"subject"`
	Answer       *bool  `json:"answer"`
	QuestionName string `json:"questionName"`
}

// handleAPIPushExercise appends one exercise record under a student. It is
// only available when the record store is also the page source.
func (h *Handler) handleAPIPushExercise(w http.ResponseWriter, r *http.Request) {
	if !h.writable {
		writeJSONError(w, http.StatusConflict, "records are read-only")
		return
	}
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct != "application/json" {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	var req pushExerciseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" || req.Answer == nil {
		writeJSONError(w, http.StatusBadRequest, "subject and answer are required")
		return
	}

	userID, err := pathParam(r, "userID")
	if err != nil || userID == "" || strings.Contains(userID, "/") {
		writeJSONError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	id, err := store.NewKey()
	if err != nil {
		slog.Error("failed to generate exercise key", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Name and exercise go out in one update, so one notification.
	ctx := r.Context()
	userPath := h.config.RecordsPath + "/" + performance.UsersKey + "/" + userID
	children := map[string]any{
		performance.ExercisesKey + "/" + id: model.ExerciseRecord{
			Subject:      req.Subject,
			Answer:       *req.Answer,
			QuestionName: req.QuestionName,
		},
	}
	if name := strings.TrimSpace(req.StudentName); name != "" {
		children[performance.StudentNameKey] = name
	}
	if err := h.store.Update(ctx, userPath, children); err != nil {
		h.pushError(w, err)
		return
	}

	user := model.UserFromContext(ctx)
	slog.Info("exercise recorded", "path", userPath, "id", id, "by", user.Email)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) pushError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrInvalidPath) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("failed to record exercise", "error", err)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
