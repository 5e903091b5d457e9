package performance

import (
	"cmp"
	"iter"
	"slices"
	"strings"

	"github.com/pavelanni/studentdash/internal/model"
)

type subjectKey struct {
	student string
	subject string
}

// Subjects folds attempts into one summary per (student, subject) pair,
// sorted by student name and then raw subject. Subjects are compared as raw
// strings, so variants differing only in case or accents stay separate.
func Subjects(attempts iter.Seq[model.Attempt]) []model.SubjectSummary {
	byKey := make(map[subjectKey]*model.SubjectSummary)
	for a := range attempts {
		k := subjectKey{student: a.StudentName, subject: a.Subject}
		s, ok := byKey[k]
		if !ok {
			s = &model.SubjectSummary{
				StudentName:    a.StudentName,
				Subject:        a.Subject,
				DisplaySubject: DisplaySubject(a.Subject),
			}
			byKey[k] = s
		}
		s.TotalAttempts++
		if a.Correct {
			s.CorrectCount++
		} else {
			s.IncorrectCount++
		}
	}

	out := make([]model.SubjectSummary, 0, len(byKey))
	for _, s := range byKey {
		s.Score = Score(s.CorrectCount, s.TotalAttempts)
		s.Status = Classify(s.Score)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b model.SubjectSummary) int {
		return cmp.Or(
			strings.Compare(a.StudentName, b.StudentName),
			strings.Compare(a.Subject, b.Subject),
		)
	})
	return out
}
