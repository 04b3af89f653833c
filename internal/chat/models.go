package chat

import "strings"

// ModelInfo describes a selectable generation model.
type ModelInfo struct {
	ID          string
	Name        string
	Description string
}

var ChatModels = []ModelInfo{
	{ID: "google/gemini-2.5-flash", Name: "Gemini 2.5 Flash", Description: "fast general-purpose replies"},
	{ID: "google/gemini-2.5-pro", Name: "Gemini 2.5 Pro", Description: "long-form reasoning and analysis"},
	{ID: "openai/gpt-4o", Name: "GPT-4o", Description: "balanced quality for writing and planning"},
	{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Description: "low-latency drafts"},
	{ID: "openai/gpt-5-chat", Name: "GPT-5 Chat", Description: "highest quality conversation"},
}

var ImageModels = []ModelInfo{
	{ID: "fal-ai/imagen4/preview", Name: "Imagen 4", Description: "photorealistic stills"},
	{ID: "openai/dall-e-3", Name: "DALL-E 3", Description: "illustration and concept art"},
	{ID: "fal-ai/flux-pro/v1.1-ultra", Name: "FLUX 1.1 Ultra", Description: "high resolution wide formats"},
}

const (
	DefaultChatModel   = "google/gemini-2.5-flash"
	DefaultImageModel  = "fal-ai/imagen4/preview"
	DefaultAspectRatio = "1:1"
)

var AspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

// DefaultModel returns the model used when a request names none.
func DefaultModel(k Kind) string {
	switch k {
	case KindChat:
		return DefaultChatModel
	case KindImage:
		return DefaultImageModel
	default:
		return ""
	}
}

// Models returns the catalog for a kind.
func Models(k Kind) []ModelInfo {
	switch k {
	case KindChat:
		return ChatModels
	case KindImage:
		return ImageModels
	default:
		return nil
	}
}

// LookupModel finds a model in any catalog.
func LookupModel(id string) (ModelInfo, Kind, bool) {
	id = strings.TrimSpace(id)
	for _, m := range ChatModels {
		if m.ID == id {
			return m, KindChat, true
		}
	}
	for _, m := range ImageModels {
		if m.ID == id {
			return m, KindImage, true
		}
	}
	return ModelInfo{}, 0, false
}
