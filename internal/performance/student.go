package performance

import (
	"iter"
	"slices"
	"strings"

	"github.com/pavelanni/studentdash/internal/model"
)

// Students folds attempts into one summary per distinct student name,
// sorted by name. Students without attempts never appear.
func Students(attempts iter.Seq[model.Attempt]) []model.StudentSummary {
	byName := make(map[string]*model.StudentSummary)
	for a := range attempts {
		s, ok := byName[a.StudentName]
		if !ok {
			s = &model.StudentSummary{
				StudentName:   a.StudentName,
				Subjects:      []string{},
				SubjectCounts: make(map[string]int),
			}
			byName[a.StudentName] = s
		}
		s.TotalAttempts++
		if a.Correct {
			s.CorrectCount++
		} else {
			s.IncorrectCount++
		}
		if label := DisplaySubject(a.Subject); !slices.Contains(s.Subjects, label) {
			s.Subjects = append(s.Subjects, label)
		}
		s.SubjectCounts[a.Subject]++
	}

	out := make([]model.StudentSummary, 0, len(byName))
	for _, s := range byName {
		s.Score = Score(s.CorrectCount, s.TotalAttempts)
		slices.Sort(s.Subjects)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b model.StudentSummary) int {
		return strings.Compare(a.StudentName, b.StudentName)
	})
	return out
}
