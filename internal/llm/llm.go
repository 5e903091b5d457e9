package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/studentdash/internal/llm/prompts"
	"github.com/pavelanni/studentdash/internal/model"
)

// Insight is the LLM's short written assessment of one student.
type Insight struct {
	Summary      string `json:"summary"`
	FocusSubject string `json:"focus_subject"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	tone    prompts.Tone
	prompts *prompts.Set
}

// New creates a new LLM client writing insights in tone.
func New(baseURL, apiKey, modelName string, tone prompts.Tone) (*Client, error) {
	set, err := prompts.Default()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if !prompts.IsValidTone(string(tone)) {
		slog.Warn("unknown insight tone, using standard", "tone", tone)
		tone = prompts.ToneStandard
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		tone:    tone,
		prompts: set,
	}, nil
}

// Ping checks that the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// StudentInsight asks the LLM for an insight on student, given the subject
// rows of the same snapshot. lang is the language the answer is written in.
func (c *Client) StudentInsight(ctx context.Context, student model.StudentSummary, subjects []model.SubjectSummary, lang string) (*Insight, error) {
	prompt, err := c.prompts.BuildInsight(c.tone, student, subjects, lang)
	if err != nil {
		return nil, fmt.Errorf("build insight prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "student", student.StudentName, "raw", raw)
	return parseInsight(raw)
}

func parseInsight(raw string) (*Insight, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	var in Insight
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &in); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	in.Summary = strings.TrimSpace(in.Summary)
	if in.Summary == "" {
		return nil, fmt.Errorf("LLM response has no summary (raw: %s)", raw)
	}
	return &in, nil
}
