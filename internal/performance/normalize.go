// Package performance turns raw exercise snapshots into per-student and
// per-subject summaries.
package performance

import (
	"cmp"
	"iter"
	"slices"
	"strings"

	"github.com/pavelanni/studentdash/internal/model"
)

// Keys of the raw record layout below the student collection.
const (
	UsersKey        = "Users"
	StudentNameKey  = "studentName"
	ExercisesKey    = "studentExercises"
	SubjectKey      = "subject"
	AnswerKey       = "answer"
	QuestionNameKey = "questionName"
)

// Normalize yields one Attempt per exercise found in snap.
//
// A nil snapshot or one without a Users collection yields nothing. Users
// without exercises and entries that are not mappings are skipped. Subjects are
// passed through untouched; the iteration order is unspecified.
func Normalize(snap model.Snapshot) iter.Seq[model.Attempt] {
	return func(yield func(model.Attempt) bool) {
		users, ok := mapAt(snap, UsersKey)
		if !ok {
			return
		}
		for userID, rawUser := range users {
			user, ok := rawUser.(map[string]any)
			if !ok {
				continue
			}
			exercises, ok := mapAt(user, ExercisesKey)
			if !ok {
				continue
			}
			name := getOr(user, StudentNameKey, "")
			for exerciseID, rawExercise := range exercises {
				exercise, ok := rawExercise.(map[string]any)
				if !ok {
					continue
				}
				a := model.Attempt{
					StudentName:  name,
					Subject:      getOr(exercise, SubjectKey, ""),
					Correct:      getOr(exercise, AnswerKey, false),
					UserID:       userID,
					ExerciseID:   exerciseID,
					QuestionName: getOr(exercise, QuestionNameKey, ""),
				}
				if !yield(a) {
					return
				}
			}
		}
	}
}

// Exercises lists every attempt in snap, sorted by student, subject and question.
func Exercises(snap model.Snapshot) []model.ExerciseRow {
	rows := make([]model.ExerciseRow, 0)
	for a := range Normalize(snap) {
		rows = append(rows, model.ExerciseRow{
			StudentName:  a.StudentName,
			Subject:      a.Subject,
			QuestionName: a.QuestionName,
			Correct:      a.Correct,
		})
	}
	slices.SortFunc(rows, func(a, b model.ExerciseRow) int {
		return cmp.Or(
			strings.Compare(a.StudentName, b.StudentName),
			strings.Compare(a.Subject, b.Subject),
			strings.Compare(a.QuestionName, b.QuestionName),
		)
	})
	return rows
}

// StudentPipeline runs Normalize followed by Students.
func StudentPipeline(snap model.Snapshot) []model.StudentSummary {
	return Students(Normalize(snap))
}

// SubjectPipeline runs Normalize followed by Subjects.
func SubjectPipeline(snap model.Snapshot) []model.SubjectSummary {
	return Subjects(Normalize(snap))
}
