package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 主题色彩和样式
// Theme defines TUI colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Danger    lipgloss.Color
	Success   lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle     lipgloss.Style
	SpinnerStyle   lipgloss.Style
	StatusStyle    lipgloss.Style
	UserStyle      lipgloss.Style
	AssistantStyle lipgloss.Style
	ErrorStyle     lipgloss.Style
	SuccessStyle   lipgloss.Style
	MutedStyle     lipgloss.Style
	NoticeStyle    lipgloss.Style
	PromptStyle    lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#06B6D4"),
		Danger:    lipgloss.Color("#EF4444"),
		Success:   lipgloss.Color("#10B981"),
		Muted:     lipgloss.Color("#6B7280"),
		Text:      lipgloss.Color("#E5E7EB"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.SpinnerStyle = lipgloss.NewStyle().
		Foreground(t.Secondary)

	t.StatusStyle = lipgloss.NewStyle().
		Foreground(t.Text)

	t.UserStyle = lipgloss.NewStyle().
		Foreground(t.Secondary).
		Bold(true)

	t.AssistantStyle = lipgloss.NewStyle().
		Foreground(t.Text)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.NoticeStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Danger).
		Bold(true).
		Padding(0, 1)

	t.PromptStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	return t
}

// PlainTheme 无颜色主题，用于非终端输出
// PlainTheme renders without colors, for non-terminal output
func PlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		TitleStyle:     plain,
		SpinnerStyle:   plain,
		StatusStyle:    plain,
		UserStyle:      plain,
		AssistantStyle: plain,
		ErrorStyle:     plain,
		SuccessStyle:   plain,
		MutedStyle:     plain,
		NoticeStyle:    plain,
		PromptStyle:    plain,
	}
}
