package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavelanni/studentdash/internal/handler/views"
	appI18n "github.com/pavelanni/studentdash/internal/i18n"
	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/performance"
)

const insightTimeout = 60 * time.Second

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	// Cards and table each read through their own view.
	students, at, ok, err := readOnce(r.Context(), h.source, "performance-cards", h.config.RecordsPath, performance.StudentPipeline)
	if err != nil {
		slog.Error("failed to read student summaries", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	subjects, _, _, err := readOnce(r.Context(), h.source, "subject-table", h.config.RecordsPath, performance.SubjectPipeline)
	if err != nil {
		slog.Error("failed to read subject summaries", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	f := views.Freshness{Ready: ok, UpdatedAt: at}
	if err := views.DashboardPage(students, subjects, f, h.config.InsightEnabled).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleStudents(w http.ResponseWriter, r *http.Request) {
	students, at, ok, err := readOnce(r.Context(), h.source, "students", h.config.RecordsPath, performance.StudentPipeline)
	if err != nil {
		slog.Error("failed to read student summaries", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.StudentsPage(students, views.Freshness{Ready: ok, UpdatedAt: at}).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleExercises(w http.ResponseWriter, r *http.Request) {
	rows, at, ok, err := readOnce(r.Context(), h.source, "exercises", h.config.RecordsPath, performance.Exercises)
	if err != nil {
		slog.Error("failed to read exercises", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ExercisesPage(rows, views.Freshness{Ready: ok, UpdatedAt: at}).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

type insightInput struct {
	Students []model.StudentSummary
	Subjects []model.SubjectSummary
}

func foldInsightInput(snap model.Snapshot) insightInput {
	return insightInput{
		Students: performance.StudentPipeline(snap),
		Subjects: performance.SubjectPipeline(snap),
	}
}

func (h *Handler) handleInsight(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		http.Error(w, "invalid student name", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	in, _, _, err := readOnce(ctx, h.source, "insight", h.config.RecordsPath, foldInsightInput)
	if err != nil {
		slog.Error("failed to read summaries", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var student *model.StudentSummary
	for i := range in.Students {
		if in.Students[i].StudentName == name {
			student = &in.Students[i]
			break
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch {
	case student == nil:
		w.WriteHeader(http.StatusNotFound)
		h.renderInsight(w, r, model.StudentSummary{StudentName: name}, "", "", appI18n.T(ctx, "StudentNotFound"))
		return
	case h.llm == nil:
		h.renderInsight(w, r, *student, "", "", appI18n.T(ctx, "InsightUnavailable"))
		return
	}

	llmCtx, cancel := context.WithTimeout(ctx, insightTimeout)
	defer cancel()
	insight, err := h.llm.StudentInsight(llmCtx, *student, in.Subjects, appI18n.Lang(ctx))
	if err != nil {
		slog.Error("insight failed", "student", name, "error", err)
		w.WriteHeader(http.StatusBadGateway)
		h.renderInsight(w, r, *student, "", "", appI18n.T(ctx, "InsightFailed"))
		return
	}
	h.renderInsight(w, r, *student, insight.Summary, insight.FocusSubject, "")
}

func (h *Handler) renderInsight(w http.ResponseWriter, r *http.Request, s model.StudentSummary, summary, focus, errMsg string) {
	if err := views.InsightPage(s, summary, focus, errMsg).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
