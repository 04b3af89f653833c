package planner

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"weave/internal/chat"
)

type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	TimeoutMS int
	MaxSteps  int
}

// OpenAIPlanner asks a chat model for a JSON plan.
type OpenAIPlanner struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *zap.Logger
}

func NewOpenAIPlanner(cfg OpenAIConfig, log *zap.Logger) *OpenAIPlanner {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIPlanner{client: openai.NewClientWithConfig(config), cfg: cfg, log: log.Named("planner")}
}

func (p *OpenAIPlanner) Plan(ctx context.Context, goal string) (Plan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Plan{}, chat.Validationf("goal", "goal is empty")
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(p.cfg.MaxSteps)},
			{Role: openai.ChatMessageRoleUser, Content: goal},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return Plan{}, &chat.NetworkError{Op: "plan", Err: err}
	}
	if len(resp.Choices) == 0 {
		return Plan{}, ErrEmptyPlan
	}
	raw, err := decode(resp.Choices[0].Message.Content)
	if err != nil {
		return Plan{}, err
	}
	plan, err := Normalize(raw, goal, p.cfg.MaxSteps)
	if err != nil {
		return Plan{}, err
	}
	p.log.Info("planned project", zap.String("project", plan.ProjectName), zap.Int("steps", len(plan.Steps)))
	return plan, nil
}

func systemPrompt(maxSteps int) string {
	var b strings.Builder
	b.WriteString("You split a content production goal into sequential steps, each handled by one AI model.\n")
	fmt.Fprintf(&b, "Use at most %d steps. ", max(maxSteps, 1))
	b.WriteString(`Reply with JSON only: {"project_name": string, "steps": [{"title": string, "model": string, "instruction": string}]}.` + "\n")
	b.WriteString("Pick each model from this list:\n")
	for _, m := range chat.ChatModels {
		fmt.Fprintf(&b, "- %s (text): %s\n", m.ID, m.Description)
	}
	for _, m := range chat.ImageModels {
		fmt.Fprintf(&b, "- %s (image): %s\n", m.ID, m.Description)
	}
	return b.String()
}
