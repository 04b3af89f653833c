// Package prompt rejects malformed generation requests before any network call.
package prompt

import (
	"fmt"
	"slices"
	"strings"

	"weave/internal/chat"
)

// Request is what a submission looks like before it is sent.
type Request struct {
	// Kind is the kind of job being submitted.
	Kind chat.Kind
	// SessionKind is the kind of the target session.
	SessionKind chat.Kind
	Prompt      string
	Model       string
	AspectRatio string
}

// Validator checks requests against the model catalog and a token budget.
// A zero MaxTokens disables the budget.
type Validator struct {
	Tokens    *Tokenizer
	MaxTokens int
}

func NewValidator(tok *Tokenizer, maxTokens int) *Validator {
	if tok == nil {
		tok = NewHeuristicTokenizer()
	}
	return &Validator{Tokens: tok, MaxTokens: maxTokens}
}

// Validate returns a *chat.ValidationError describing the first problem.
func (v *Validator) Validate(r Request) error {
	if !r.Kind.Valid() {
		return chat.Validationf("kind", "unknown job kind %d", int(r.Kind))
	}
	if r.SessionKind != r.Kind {
		return &chat.ValidationError{
			Field:  "session",
			Reason: fmt.Sprintf("%s request sent to a %s session", r.Kind, r.SessionKind),
			Err:    chat.ErrKindMismatch,
		}
	}
	text := strings.TrimSpace(r.Prompt)
	if text == "" {
		return chat.Validationf("prompt", "prompt is empty")
	}
	if v.MaxTokens > 0 && v.Tokens != nil {
		if n := v.Tokens.CountText(text); n > v.MaxTokens {
			return chat.Validationf("prompt", "prompt is %d tokens, limit is %d", n, v.MaxTokens)
		}
	}
	if r.Model != "" {
		// 目录外的模型放行，由后端决定 / models outside the catalog are left to the backend
		if _, kind, ok := chat.LookupModel(r.Model); ok && kind != r.Kind {
			return chat.Validationf("model", "%s is a %s model", r.Model, kind)
		}
	}
	switch r.Kind {
	case chat.KindImage:
		if r.AspectRatio != "" && !slices.Contains(chat.AspectRatios, r.AspectRatio) {
			return chat.Validationf("aspect_ratio", "unsupported aspect ratio %q", r.AspectRatio)
		}
	case chat.KindChat:
	}
	return nil
}
