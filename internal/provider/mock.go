package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MockGenerator 离线生成器：回显文本，生成 SVG data URL 图片
// MockGenerator is the offline generator: it echoes text and draws an SVG placeholder image
type MockGenerator struct {
	// ChunkDelay 分片之间的间隔 / delay between streamed chunks
	ChunkDelay time.Duration
	// Fail 非空时所有调用返回该错误 / when set, every call fails with it
	Fail error
}

func (m *MockGenerator) Name() string {
	return "mock"
}

func (m *MockGenerator) Complete(ctx context.Context, req TextRequest, cb *StreamCallbacks) (string, error) {
	if m.Fail != nil {
		return "", m.Fail
	}
	reply := MockReply(req.Prompt)
	var out strings.Builder
	for i, word := range strings.SplitAfter(reply, " ") {
		if i > 0 && m.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return out.String(), ctx.Err()
			case <-time.After(m.ChunkDelay):
			}
		}
		if ctx.Err() != nil {
			return out.String(), ctx.Err()
		}
		out.WriteString(word)
		if cb != nil && cb.OnTextChunk != nil {
			cb.OnTextChunk(word)
		}
	}
	return out.String(), nil
}

func (m *MockGenerator) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	if m.Fail != nil {
		return ImageResult{}, m.Fail
	}
	if err := ctx.Err(); err != nil {
		return ImageResult{}, err
	}
	return ImageResult{URL: MockImageURL(req.Prompt, req.AspectRatio)}, nil
}

// MockReply is the deterministic text reply of the offline generator.
func MockReply(prompt string) string {
	return "Echo: " + strings.TrimSpace(prompt)
}

// MockImageURL draws a labelled gradient card as an SVG data URL.
func MockImageURL(label, aspectRatio string) string {
	w, h := 960, 960
	switch aspectRatio {
	case "16:9", "4:3":
		w, h = 960, 540
	case "9:16", "3:4":
		w, h = 540, 960
	}
	if len([]rune(label)) > 40 {
		label = string([]rune(label)[:40]) + "…"
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%[1]d" height="%[2]d" viewBox="0 0 %[1]d %[2]d">`+
		`<defs><linearGradient id="g" x1="0" x2="1" y1="0" y2="1">`+
		`<stop offset="0%%" stop-color="#0a0e1a"/><stop offset="100%%" stop-color="#1b2433"/></linearGradient></defs>`+
		`<rect width="100%%" height="100%%" fill="url(#g)"/>`+
		`<rect x="24" y="24" width="%[3]d" height="%[4]d" rx="24" fill="rgba(255,255,255,0.04)" stroke="rgba(255,255,255,0.12)"/>`+
		`<text x="50%%" y="50%%" dominant-baseline="middle" text-anchor="middle" font-family="Arial" font-size="28" fill="rgba(248,250,252,0.8)">%[5]s</text>`+
		`</svg>`, w, h, w-48, h-48, xmlEscape(label))
	return "data:image/svg+xml;utf8," + url.PathEscape(svg)
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
