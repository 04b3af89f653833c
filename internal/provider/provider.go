package provider

import (
	"context"

	"weave/internal/chat"
)

// TextRequest 一次文本生成请求
// TextRequest is a single text generation request
type TextRequest struct {
	Model       string
	Instruction string
	History     []chat.Message
	Prompt      string
	MaxTokens   int
}

// ImageRequest 一次图片生成请求
// ImageRequest is a single image generation request
type ImageRequest struct {
	Model       string
	Prompt      string
	AspectRatio string
}

// ImageResult 生成的图片
// ImageResult is a generated image
type ImageResult struct {
	URL           string
	RevisedPrompt string
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses
type StreamCallbacks struct {
	OnTextChunk func(chunk string)
}

// Generator 生成执行器接口；本地后端与流式会话都通过它调用模型
// Generator is the generation executor used by the local backend and by streamed sessions
type Generator interface {
	// Name 返回 generator 名称
	// Name returns the generator name
	Name() string

	// Complete 生成文本（支持流式回调）
	// Complete generates text, reporting chunks through cb when non-nil
	Complete(ctx context.Context, req TextRequest, cb *StreamCallbacks) (string, error)

	// GenerateImage 生成一张图片
	// GenerateImage produces one image
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}
