// Package planner turns a free-form goal into an ordered list of project steps.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"weave/internal/chat"
)

// Plan is the planner output consumed by the folder aggregator.
type Plan struct {
	ProjectName string      `json:"project_name"`
	Steps       []chat.Step `json:"steps"`
}

// Planner 规划协作者：目标 -> 项目名 + 有序步骤
// Planner maps a goal to a project name and ordered steps
type Planner interface {
	Plan(ctx context.Context, goal string) (Plan, error)
}

// ErrEmptyPlan is returned when no usable step survives normalization.
var ErrEmptyPlan = errors.New("planner returned no steps")

const maxProjectNameRunes = 80

// Normalize trims a raw plan: empty titles are dropped, unknown models fall
// back to the chat default, the step count is capped at maxSteps.
func Normalize(p Plan, goal string, maxSteps int) (Plan, error) {
	out := Plan{ProjectName: strings.TrimSpace(p.ProjectName)}
	if out.ProjectName == "" {
		out.ProjectName = strings.Join(strings.Fields(goal), " ")
	}
	if utf8.RuneCountInString(out.ProjectName) > maxProjectNameRunes {
		out.ProjectName = string([]rune(out.ProjectName)[:maxProjectNameRunes])
	}
	for _, s := range p.Steps {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		s.Model = strings.TrimSpace(s.Model)
		if _, _, ok := chat.LookupModel(s.Model); !ok {
			s.Model = chat.DefaultChatModel
		}
		s.Instruction = strings.TrimSpace(s.Instruction)
		out.Steps = append(out.Steps, s)
		if maxSteps > 0 && len(out.Steps) == maxSteps {
			break
		}
	}
	if len(out.Steps) == 0 {
		return Plan{}, ErrEmptyPlan
	}
	return out, nil
}

// decode accepts a bare JSON object or one wrapped in a ```json fence.
func decode(raw string) (Plan, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var p Plan
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}

// StaticPlanner 离线规划器：研究、脚本、视觉三步
// StaticPlanner is the offline planner: research, script and visuals
type StaticPlanner struct{}

func (StaticPlanner) Plan(ctx context.Context, goal string) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Plan{}, chat.Validationf("goal", "goal is empty")
	}
	return Normalize(Plan{
		ProjectName: goal,
		Steps: []chat.Step{
			{Title: "Research", Model: "google/gemini-2.5-pro", Instruction: "Collect the facts, audience and angle for: " + goal},
			{Title: "Script", Model: "openai/gpt-4o", Instruction: "Write a tight script for: " + goal},
			{Title: "Visuals", Model: chat.DefaultImageModel, Instruction: "Design key visuals for: " + goal},
		},
	}, goal, 0)
}
