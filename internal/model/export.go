package model

import "time"

// DashboardExport is the top-level JSON structure written by the export command.
type DashboardExport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Path        string           `json:"path"`
	Students    []StudentSummary `json:"students"`
	Subjects    []SubjectSummary `json:"subjects"`
	Exercises   []ExerciseRow    `json:"exercises,omitempty"`
}
