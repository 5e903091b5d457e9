// Package prompts renders the insight prompt for one student in a chosen tone.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/performance"
)

//go:embed templates/*.txt
var Templates embed.FS

var studentDataRegex = regexp.MustCompile(`(?i)</?\s*student-data\b[^>]*>`)

const maxFieldRunes = 200

// Tone selects how the insight is worded.
type Tone string

const (
	ToneStrict      Tone = "strict"
	ToneStandard    Tone = "standard"
	ToneEncouraging Tone = "encouraging"
)

var tones = []Tone{ToneStrict, ToneStandard, ToneEncouraging}

// IsValidTone checks if a tone name is known.
func IsValidTone(t string) bool {
	for _, v := range tones {
		if string(v) == t {
			return true
		}
	}
	return false
}

// InsightData holds template data for insight prompts.
type InsightData struct {
	StudentName   string
	TotalAttempts int
	CorrectCount  int
	Score         float64
	PassingScore  float64
	Language      string
	Subjects      []SubjectLine
}

// SubjectLine is one per-subject row of the prompt.
type SubjectLine struct {
	Subject       string
	TotalAttempts int
	CorrectCount  int
	Score         float64
	Status        string
}

// Set holds one parsed template per tone.
type Set struct {
	insight map[Tone]*template.Template
}

// Load parses templates/insight_<tone>.txt for every tone from fsys.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{insight: make(map[Tone]*template.Template, len(tones))}
	for _, t := range tones {
		name := "templates/insight_" + string(t) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New(string(t)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		s.insight[t] = tmpl
	}
	return s, nil
}

// Default loads the embedded templates.
func Default() (*Set, error) {
	return Load(Templates)
}

// BuildInsight renders the insight prompt for a student and that student's
// subject rows. lang is the language code the answer should be written in.
func (s *Set) BuildInsight(tone Tone, student model.StudentSummary, subjects []model.SubjectSummary, lang string) (string, error) {
	tmpl, ok := s.insight[tone]
	if !ok {
		return "", errors.New("invalid prompt tone: " + string(tone))
	}

	data := InsightData{
		StudentName:   sanitize(student.StudentName),
		TotalAttempts: student.TotalAttempts,
		CorrectCount:  student.CorrectCount,
		Score:         student.Score,
		PassingScore:  performance.PassingScore,
		Language:      lang,
	}
	for _, sub := range subjects {
		if sub.StudentName != student.StudentName {
			continue
		}
		data.Subjects = append(data.Subjects, SubjectLine{
			Subject:       sanitize(sub.DisplaySubject),
			TotalAttempts: sub.TotalAttempts,
			CorrectCount:  sub.CorrectCount,
			Score:         sub.Score,
			Status:        string(sub.Status),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitize strips delimiter tags and newlines from record text so it cannot
// break out of its <student-data> block.
func sanitize(s string) string {
	s = studentDataRegex.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "[unnamed]"
	}
	if utf8.RuneCountInString(s) > maxFieldRunes {
		s = string([]rune(s)[:maxFieldRunes]) + "..."
	}
	return s
}
