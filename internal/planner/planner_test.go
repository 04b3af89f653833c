package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/chat"
)

func TestNormalize(t *testing.T) {
	raw := Plan{Steps: []chat.Step{
		{Title: " Hook ", Model: "acme/unknown"},
		{Title: "   "},
		{Title: "Thumbnail", Model: chat.DefaultImageModel},
		{Title: "Extra", Model: chat.DefaultChatModel},
	}}
	p, err := Normalize(raw, "  launch   video ", 2)
	require.NoError(t, err)
	assert.Equal(t, "launch video", p.ProjectName)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "Hook", p.Steps[0].Title)
	assert.Equal(t, chat.DefaultChatModel, p.Steps[0].Model)
	assert.Equal(t, chat.DefaultImageModel, p.Steps[1].Model)

	_, err = Normalize(Plan{}, "x", 0)
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestStaticPlanner(t *testing.T) {
	p, err := StaticPlanner{}.Plan(context.Background(), "coffee shorts")
	require.NoError(t, err)
	assert.Equal(t, "coffee shorts", p.ProjectName)
	require.Len(t, p.Steps, 3)
	_, kind, _ := chat.LookupModel(p.Steps[2].Model)
	assert.Equal(t, chat.KindImage, kind)

	_, err = StaticPlanner{}.Plan(context.Background(), " ")
	assert.True(t, chat.IsValidation(err))
}

func TestOpenAIPlannerDecodesFencedJSON(t *testing.T) {
	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if rf, ok := req["response_format"].(map[string]any); ok {
			gotFormat, _ = rf["type"].(string)
		}
		content := "```json\n" + `{"project_name":"Bean Stories","steps":[` +
			`{"title":"Research","model":"openai/gpt-4o","instruction":"find facts"},` +
			`{"title":"Cover","model":"openai/dall-e-3","instruction":"draw"}]}` + "\n```"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIPlanner(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "openai/gpt-4o", MaxSteps: 5}, nil)
	plan, err := p.Plan(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Equal(t, "json_object", gotFormat)
	assert.Equal(t, "Bean Stories", plan.ProjectName)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "openai/dall-e-3", plan.Steps[1].Model)
}

func TestOpenAIPlannerTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOpenAIPlanner(OpenAIConfig{BaseURL: srv.URL, Model: "m"}, nil).Plan(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, chat.IsNetwork(err))
}
