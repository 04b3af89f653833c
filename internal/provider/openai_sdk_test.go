package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"weave/internal/chat"
)

func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestConvertMessagesSkipsMediaAndPlaceholders(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "", Streaming: true},
		{Role: chat.RoleAssistant, Content: "cat", Type: chat.MessageImage, MediaURL: "http://img"},
	}

	converted := convertMessages(messages)
	if len(converted) != 2 {
		t.Fatalf("convertMessages len=%d, want 2", len(converted))
	}
	if converted[1].Role != openai.ChatMessageRoleAssistant || converted[1].Content != "hi" {
		t.Fatalf("msg[1] unexpected: %+v", converted[1])
	}
}

func TestBuildSDKRequest(t *testing.T) {
	req := buildSDKRequest(TextRequest{
		Model:       "openai/gpt-4o",
		Instruction: "be brief",
		History:     []chat.Message{{Role: chat.RoleUser, Content: "earlier"}},
		Prompt:      "now",
	})
	if !req.Stream {
		t.Fatal("request should stream")
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages=%d, want 3", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || req.Messages[2].Content != "now" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
}

func TestImageSize(t *testing.T) {
	cases := map[string]string{
		"1:1":  openai.CreateImageSize1024x1024,
		"16:9": openai.CreateImageSize1792x1024,
		"9:16": openai.CreateImageSize1024x1792,
		"":     openai.CreateImageSize1024x1024,
	}
	for ratio, want := range cases {
		if got := imageSize(ratio); got != want {
			t.Errorf("imageSize(%q)=%q, want %q", ratio, got, want)
		}
	}
}

func TestCompleteStreamsChunks(t *testing.T) {
	srv := sseServer(t, []string{"Hel", "lo"})
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	var chunks []string
	got, err := g.Complete(context.Background(), TextRequest{Prompt: "hi"}, &StreamCallbacks{
		OnTextChunk: func(c string) { chunks = append(chunks, c) },
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("content=%q, want Hello", got)
	}
	if strings.Join(chunks, "|") != "Hel|lo" {
		t.Fatalf("chunks=%v", chunks)
	}
}

func TestCompleteRetriesBeforeFirstChunk(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"error":{"message":"upstream"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"ok"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, MaxRetries: 2})
	got, err := g.Complete(context.Background(), TextRequest{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" || calls.Load() != 2 {
		t.Fatalf("content=%q calls=%d", got, calls.Load())
	}
}

func TestGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["size"] != openai.CreateImageSize1792x1024 {
			t.Errorf("size=%v", body["size"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[{"url":"https://img/1.png","revised_prompt":"a cat"}]}`)
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL})
	res, err := g.GenerateImage(context.Background(), ImageRequest{Prompt: "cat", AspectRatio: "16:9"})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if res.URL != "https://img/1.png" || res.RevisedPrompt != "a cat" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestOpenAIGeneratorName(t *testing.T) {
	if (&OpenAIGenerator{}).Name() != "openai" {
		t.Fatal("Name() should be openai")
	}
}
