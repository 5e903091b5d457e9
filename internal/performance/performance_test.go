package performance

import (
	"math"
	"reflect"
	"testing"

	"github.com/pavelanni/studentdash/internal/model"
)

func exercise(subject string, answer bool) map[string]any {
	return map[string]any{SubjectKey: subject, AnswerKey: answer, QuestionNameKey: "q"}
}

func anaSnapshot() model.Snapshot {
	return model.Snapshot{
		UsersKey: map[string]any{
			"u1": map[string]any{
				StudentNameKey: "Ana",
				ExercisesKey: map[string]any{
					"e1": exercise("MATEMÁTICA", true),
					"e2": exercise("MATEMÁTICA", false),
				},
			},
		},
	}
}

func TestNormalizeMissingSubstructure(t *testing.T) {
	tests := []struct {
		name string
		snap model.Snapshot
	}{
		{"nil snapshot", nil},
		{"no users key", model.Snapshot{"Other": map[string]any{}}},
		{"users not a mapping", model.Snapshot{UsersKey: "oops"}},
		{"user without exercises", model.Snapshot{UsersKey: map[string]any{
			"u1": map[string]any{StudentNameKey: "Ana"},
		}}},
		{"empty exercises", model.Snapshot{UsersKey: map[string]any{
			"u1": map[string]any{StudentNameKey: "Ana", ExercisesKey: map[string]any{}},
		}}},
		{"user not a mapping", model.Snapshot{UsersKey: map[string]any{"u1": 42}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			for range Normalize(tt.snap) {
				n++
			}
			if n != 0 {
				t.Errorf("expected no attempts, got %d", n)
			}
			if got := StudentPipeline(tt.snap); len(got) != 0 {
				t.Errorf("expected no student summaries, got %d", len(got))
			}
			if got := SubjectPipeline(tt.snap); len(got) != 0 {
				t.Errorf("expected no subject summaries, got %d", len(got))
			}
		})
	}
}

func TestNormalizeSkipsBrokenUserOnly(t *testing.T) {
	snap := model.Snapshot{UsersKey: map[string]any{
		"u1": map[string]any{StudentNameKey: "Ana"},
		"u2": map[string]any{
			StudentNameKey: "Bruno",
			ExercisesKey: map[string]any{
				"e1": exercise("HISTÓRIA", true),
				"e2": "not an exercise",
				"e3": map[string]any{SubjectKey: "HISTÓRIA"},
			},
		},
	}}

	var attempts []model.Attempt
	for a := range Normalize(snap) {
		attempts = append(attempts, a)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.StudentName != "Bruno" || a.UserID != "u2" {
			t.Errorf("unexpected attempt %+v", a)
		}
		if a.ExerciseID == "e3" && a.Correct {
			t.Error("attempt without answer should count as incorrect")
		}
	}
}

func TestNormalizeStopsEarly(t *testing.T) {
	snap := anaSnapshot()
	n := 0
	for range Normalize(snap) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("expected to stop after 1 attempt, got %d", n)
	}
}

func TestStudentsScenario(t *testing.T) {
	got := StudentPipeline(anaSnapshot())
	if len(got) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(got))
	}
	s := got[0]
	if s.StudentName != "Ana" {
		t.Errorf("expected Ana, got %q", s.StudentName)
	}
	if s.TotalAttempts != 2 || s.CorrectCount != 1 || s.IncorrectCount != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Score != 5.00 {
		t.Errorf("expected score 5.00, got %v", s.Score)
	}
	if !reflect.DeepEqual(s.Subjects, []string{"Matemática"}) {
		t.Errorf("unexpected subjects %v", s.Subjects)
	}
	if s.SubjectCounts["MATEMÁTICA"] != 2 {
		t.Errorf("expected 2 attempts in MATEMÁTICA, got %d", s.SubjectCounts["MATEMÁTICA"])
	}
}

func TestSubjectsScenario(t *testing.T) {
	got := SubjectPipeline(anaSnapshot())
	if len(got) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(got))
	}
	s := got[0]
	if s.StudentName != "Ana" || s.Subject != "MATEMÁTICA" {
		t.Errorf("unexpected key (%q, %q)", s.StudentName, s.Subject)
	}
	if s.TotalAttempts != 2 || s.CorrectCount != 1 || s.IncorrectCount != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Status != model.StatusNeedsRetry {
		t.Errorf("expected needs-retry, got %q", s.Status)
	}
	if s.DisplaySubject != "Matemática" {
		t.Errorf("expected display label Matemática, got %q", s.DisplaySubject)
	}
}

func TestPerfectStudent(t *testing.T) {
	exercises := make(map[string]any)
	for i := range 10 {
		exercises[string(rune('a'+i))] = exercise("INGLÊS", true)
	}
	snap := model.Snapshot{UsersKey: map[string]any{
		"u1": map[string]any{StudentNameKey: "Carla", ExercisesKey: exercises},
	}}

	students := StudentPipeline(snap)
	if len(students) != 1 {
		t.Fatalf("expected 1 student, got %d", len(students))
	}
	if students[0].Score != 10.00 {
		t.Errorf("expected score 10.00, got %v", students[0].Score)
	}

	subjects := SubjectPipeline(snap)
	if len(subjects) != 1 {
		t.Fatalf("expected 1 subject row, got %d", len(subjects))
	}
	sc := subjects[0].Score
	if math.IsInf(sc, 0) || math.IsNaN(sc) || sc != 10.00 {
		t.Errorf("expected finite score 10.00, got %v", sc)
	}
	if subjects[0].Status != model.StatusApproved {
		t.Errorf("expected approved, got %q", subjects[0].Status)
	}
}

func TestCountInvariant(t *testing.T) {
	snap := model.Snapshot{UsersKey: map[string]any{
		"u1": map[string]any{StudentNameKey: "Ana", ExercisesKey: map[string]any{
			"e1": exercise("MATEMÁTICA", true),
			"e2": exercise("CIÊNCIA", false),
			"e3": exercise("CIÊNCIA", false),
		}},
		"u2": map[string]any{StudentNameKey: "Bruno", ExercisesKey: map[string]any{
			"e1": exercise("HISTÓRIA", true),
		}},
		// Same student name under a second user id merges into one summary.
		"u3": map[string]any{StudentNameKey: "Ana", ExercisesKey: map[string]any{
			"e1": exercise("MATEMÁTICA", true),
		}},
	}}

	students := StudentPipeline(snap)
	if len(students) != 2 {
		t.Fatalf("expected 2 students, got %d", len(students))
	}
	for _, s := range students {
		if s.TotalAttempts != s.CorrectCount+s.IncorrectCount {
			t.Errorf("%s: total %d != %d + %d", s.StudentName, s.TotalAttempts, s.CorrectCount, s.IncorrectCount)
		}
	}
	if students[0].StudentName != "Ana" || students[0].TotalAttempts != 4 {
		t.Errorf("unexpected first summary %+v", students[0])
	}

	subjects := SubjectPipeline(snap)
	if len(subjects) != 3 {
		t.Fatalf("expected 3 subject rows, got %d", len(subjects))
	}
	for _, s := range subjects {
		if s.TotalAttempts != s.CorrectCount+s.IncorrectCount {
			t.Errorf("%s/%s: total %d != %d + %d", s.StudentName, s.Subject, s.TotalAttempts, s.CorrectCount, s.IncorrectCount)
		}
	}
}

func TestPipelineIdempotent(t *testing.T) {
	snap := anaSnapshot()
	snap[UsersKey].(map[string]any)["u2"] = map[string]any{
		StudentNameKey: "Bruno",
		ExercisesKey: map[string]any{
			"e1": exercise("CIÊNCIA", true),
			"e2": exercise("INGLÊS", false),
		},
	}

	if !reflect.DeepEqual(StudentPipeline(snap), StudentPipeline(snap)) {
		t.Error("student pipeline is not idempotent")
	}
	if !reflect.DeepEqual(SubjectPipeline(snap), SubjectPipeline(snap)) {
		t.Error("subject pipeline is not idempotent")
	}
	if !reflect.DeepEqual(Exercises(snap), Exercises(snap)) {
		t.Error("exercise listing is not idempotent")
	}
}

func TestSubjectsRawKeyEquality(t *testing.T) {
	snap := model.Snapshot{UsersKey: map[string]any{
		"u1": map[string]any{StudentNameKey: "Ana", ExercisesKey: map[string]any{
			"e1": exercise("MATEMÁTICA", true),
			"e2": exercise("Matemática", true),
			"e3": exercise("MATEMA\u0301TICA", true),
		}},
	}}

	subjects := SubjectPipeline(snap)
	if len(subjects) != 3 {
		t.Fatalf("expected 3 distinct subject rows, got %d", len(subjects))
	}
	students := StudentPipeline(snap)
	if len(students[0].SubjectCounts) != 3 {
		t.Errorf("expected 3 raw subject counts, got %v", students[0].SubjectCounts)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		correct, total int
		want           float64
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 2, 5},
		{2, 3, 6.67},
		{1, 3, 3.33},
		{7, 7, 10},
	}
	for _, tt := range tests {
		if got := Score(tt.correct, tt.total); got != tt.want {
			t.Errorf("Score(%d, %d) = %v, want %v", tt.correct, tt.total, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  model.Status
	}{
		{10, model.StatusApproved},
		{7.01, model.StatusApproved},
		{7.0, model.StatusNeedsRetry},
		{0, model.StatusNeedsRetry},
	}
	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestDisplaySubject(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"MATEMÁTICA", "Matemática"},
		{"CIÊNCIA", "Ciência"},
		{"inglês", "Inglês"},
		{"  HISTÓRIA ", "História"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DisplaySubject(tt.raw); got != tt.want {
			t.Errorf("DisplaySubject(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestExercisesSorted(t *testing.T) {
	snap := model.Snapshot{UsersKey: map[string]any{
		"u2": map[string]any{StudentNameKey: "Bruno", ExercisesKey: map[string]any{
			"e1": map[string]any{SubjectKey: "CIÊNCIA", AnswerKey: true, QuestionNameKey: "q2"},
		}},
		"u1": map[string]any{StudentNameKey: "Ana", ExercisesKey: map[string]any{
			"e2": map[string]any{SubjectKey: "MATEMÁTICA", AnswerKey: false, QuestionNameKey: "q1"},
			"e1": map[string]any{SubjectKey: "CIÊNCIA", AnswerKey: true, QuestionNameKey: "q3"},
		}},
	}}

	want := []model.ExerciseRow{
		{StudentName: "Ana", Subject: "CIÊNCIA", QuestionName: "q3", Correct: true},
		{StudentName: "Ana", Subject: "MATEMÁTICA", QuestionName: "q1", Correct: false},
		{StudentName: "Bruno", Subject: "CIÊNCIA", QuestionName: "q2", Correct: true},
	}
	if got := Exercises(snap); !reflect.DeepEqual(got, want) {
		t.Errorf("Exercises() = %+v, want %+v", got, want)
	}
}
