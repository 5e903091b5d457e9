package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/performance"
)

// ExportDashboard aggregates the collection at path into export-ready summaries.
func (s *Store) ExportDashboard(ctx context.Context, path string, withExercises bool) (model.DashboardExport, error) {
	snap, err := s.Snapshot(ctx, path)
	if err != nil {
		return model.DashboardExport{}, fmt.Errorf("read %s: %w", path, err)
	}

	export := model.DashboardExport{
		GeneratedAt: time.Now().UTC(),
		Path:        path,
		Students:    performance.StudentPipeline(snap),
		Subjects:    performance.SubjectPipeline(snap),
	}
	if withExercises {
		export.Exercises = performance.Exercises(snap)
	}
	return export, nil
}
