package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap 定义任务视图的快捷键绑定
// KeyMap defines job view keybindings
type KeyMap struct {
	Cancel key.Binding
}

// DefaultKeyMap 默认快捷键
// DefaultKeyMap returns default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Cancel: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("ctrl+c", "cancel"),
		),
	}
}

// Hint 返回取消提示文本
// Hint returns the cancel hint shown under a running job
func (k KeyMap) Hint() string {
	h := k.Cancel.Help()
	return h.Key + " " + h.Desc
}
