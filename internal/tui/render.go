package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"weave/internal/chat"
	"weave/internal/i18n"
	"weave/internal/notice"
)

const maxURLWidth = 72

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderOptions 控制消息渲染
// RenderOptions controls message rendering
type RenderOptions struct {
	Width    int
	Markdown bool
}

// RenderMessage 渲染一条会话消息
// RenderMessage renders one session message
func RenderMessage(m chat.Message, theme Theme, opts RenderOptions) string {
	if m.Role == chat.RoleUser {
		line := theme.UserStyle.Render("> ") + m.Content
		if m.Failed {
			line += " " + theme.ErrorStyle.Render("✗")
		}
		return line
	}

	if m.Failed {
		return theme.ErrorStyle.Render(m.Content)
	}

	var b strings.Builder
	switch m.Type {
	case chat.MessageImage:
		b.WriteString(theme.AssistantStyle.Render(m.Content))
		if m.MediaURL != "" {
			b.WriteString("\n")
			b.WriteString(theme.MutedStyle.Render(ShortenURL(m.MediaURL)))
		}
	default:
		switch {
		case m.Streaming:
			b.WriteString(theme.AssistantStyle.Render(m.Content))
		case opts.Markdown:
			b.WriteString(RenderMarkdown(m.Content, opts.Width))
		default:
			b.WriteString(theme.AssistantStyle.Render(m.Content))
		}
	}
	if m.Streaming {
		b.WriteString(theme.MutedStyle.Render("▌"))
	}
	return b.String()
}

// RenderSession 渲染会话的全部消息
// RenderSession renders every message of a session
func RenderSession(s chat.Session, theme Theme, opts RenderOptions) string {
	parts := make([]string, 0, len(s.Messages)+1)
	parts = append(parts, theme.TitleStyle.Render(SessionLine(s)))
	for _, m := range s.Messages {
		parts = append(parts, RenderMessage(m, theme, opts))
	}
	return strings.Join(parts, "\n")
}

// SessionLine 会话的一行摘要
// SessionLine is the one-line summary of a session
func SessionLine(s chat.Session) string {
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	line := fmt.Sprintf("%s  [%s]  %s", s.ID, s.Kind, title)
	if s.Model != "" {
		line += "  · " + s.Model
	}
	return line
}

// RenderNotice 渲染错误提示
// RenderNotice renders an error indicator
func RenderNotice(n notice.Notice, locale *i18n.I18n, theme Theme) string {
	if n.Err == nil {
		return ""
	}
	return theme.NoticeStyle.Render(locale.T("error.indicator", n.Err.Error()))
}

// ShortenURL keeps data URLs from flooding the terminal.
func ShortenURL(u string) string {
	if strings.HasPrefix(u, "data:") {
		if i := strings.IndexByte(u, ','); i > 0 {
			return fmt.Sprintf("%s (%d bytes)", u[:i], len(u)-i-1)
		}
	}
	if len([]rune(u)) > maxURLWidth {
		return string([]rune(u)[:maxURLWidth-1]) + "…"
	}
	return u
}
