package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/studentdash/internal/llm/prompts"
	"github.com/pavelanni/studentdash/internal/model"
)

func TestParseInsight(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", `{"summary": "Strong in History.", "focus_subject": "Math"}`, "Strong in History.", false},
		{"fenced", "```json\n{\"summary\": \"ok\"}\n```", "ok", false},
		{"empty summary", `{"summary": "  "}`, "", true},
		{"not json", "Ana is doing fine.", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInsight(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInsight: %v", err)
			}
			if got.Summary != tt.want {
				t.Errorf("Summary = %q, want %q", got.Summary, tt.want)
			}
		})
	}
}

func TestStudentInsight(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		gotPrompt = req.Messages[0].Content
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"summary": "Ana needs practice in Matemática.", "focus_subject": "Matemática"}`,
				},
			}},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/v1", "test-key", "test-model", prompts.ToneStrict)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	student := model.StudentSummary{StudentName: "Ana", TotalAttempts: 2, CorrectCount: 1, Score: 5}
	subjects := []model.SubjectSummary{
		{StudentName: "Ana", DisplaySubject: "Matemática", TotalAttempts: 2, CorrectCount: 1, Score: 5, Status: model.StatusNeedsRetry},
	}
	in, err := c.StudentInsight(context.Background(), student, subjects, "pt")
	if err != nil {
		t.Fatalf("StudentInsight: %v", err)
	}
	if in.FocusSubject != "Matemática" {
		t.Errorf("FocusSubject = %q, want Matemática", in.FocusSubject)
	}
	if !strings.Contains(gotPrompt, "exacting examiner") {
		t.Error("prompt should use the strict tone")
	}
	if !strings.Contains(gotPrompt, `"pt"`) {
		t.Error("prompt should request the answer language")
	}
}

func TestNewUnknownToneFallsBack(t *testing.T) {
	c, err := New("", "k", "m", prompts.Tone("sarcastic"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.tone != prompts.ToneStandard {
		t.Errorf("tone = %q, want standard", c.tone)
	}
}
