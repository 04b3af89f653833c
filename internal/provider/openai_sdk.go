package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"weave/internal/chat"
)

// OpenAIGenerator 使用 go-openai SDK 的 Generator 实现，兼容 OpenRouter 等网关
// OpenAIGenerator implements Generator with the go-openai SDK against any OpenAI-compatible gateway
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// OpenAIConfig SDK generator 配置
// OpenAIConfig is the SDK generator configuration
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutMS  int
	MaxRetries int
}

// NewOpenAIGenerator 创建基于 SDK 的 generator
// NewOpenAIGenerator creates an SDK-based generator
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}
}

func (g *OpenAIGenerator) Name() string {
	return "openai"
}

func (g *OpenAIGenerator) Complete(ctx context.Context, req TextRequest, cb *StreamCallbacks) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		req.Model = chat.DefaultChatModel
	}
	sdkReq := buildSDKRequest(req)

	var lastErr error
	emitted := false
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		content, sent, err := g.chatStream(ctx, sdkReq, cb)
		emitted = emitted || sent
		if err == nil {
			return content, nil
		}
		lastErr = err

		// 不可重试的错误 / Non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		// 已推送的分片无法撤回，重试会重复内容 / chunks already delivered cannot be retracted
		if emitted {
			break
		}
	}
	return "", fmt.Errorf("provider completion failed after %d retries: %w", g.cfg.MaxRetries, lastErr)
}

func buildSDKRequest(req TextRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.Instruction) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instruction,
		})
	}
	messages = append(messages, convertMessages(req.History)...)
	if strings.TrimSpace(req.Prompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}
	return openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
}

// chatStream 返回内容、是否已推送分片、错误
// chatStream returns the content, whether any chunk reached cb, and the error
func (g *OpenAIGenerator) chatStream(ctx context.Context, req openai.ChatCompletionRequest, cb *StreamCallbacks) (string, bool, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return content.String(), content.Len() > 0, fmt.Errorf("recv stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if cb != nil && cb.OnTextChunk != nil {
				cb.OnTextChunk(choice.Delta.Content)
			}
		}
	}
	return content.String(), content.Len() > 0, nil
}

func (g *OpenAIGenerator) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = chat.DefaultImageModel
	}
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           imageSize(req.AspectRatio),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return ImageResult{}, fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return ImageResult{}, errors.New("create image: empty response")
	}
	return ImageResult{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}

// imageSize 将宽高比映射到 SDK 支持的尺寸
// imageSize maps an aspect ratio onto the nearest size the images endpoint accepts
func imageSize(ratio string) string {
	switch ratio {
	case "16:9", "4:3":
		return openai.CreateImageSize1792x1024
	case "9:16", "3:4":
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Type != "" && msg.Type != chat.MessageText {
			continue
		}
		if msg.Streaming || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if msg.Role == chat.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
