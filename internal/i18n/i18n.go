package i18n

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// catalogs 非英文目录；缺失的键回退到 EnMessages
// catalogs holds the non-English catalogs; missing keys fall back to EnMessages
var catalogs = map[string]map[string]string{
	"ko":    KoMessages,
	"zh-CN": ZhCNMessages,
}

// I18n 某一 locale 的只读翻译视图，可并发使用
// I18n is a read-only translation view for one locale, safe for concurrent use
type I18n struct {
	locale  string
	overlay map[string]string
}

// New 创建 i18n 实例；空 locale 从环境检测，不支持的 locale 使用英文
// New creates an i18n instance; an empty locale is detected from the
// environment and an unsupported one falls back to English
func New(locale string) *I18n {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = DetectLocale()
	}
	locale = normalizeLocale(locale)
	overlay, ok := catalogs[locale]
	if !ok {
		locale = "en"
	}
	return &I18n{locale: locale, overlay: overlay}
}

// Supported lists the locales with a catalog, English first.
func Supported() []string {
	out := []string{"en"}
	for loc := range catalogs {
		out = append(out, loc)
	}
	slices.Sort(out[1:])
	return out
}

func (i *I18n) lookup(key string) (string, bool) {
	if tmpl, ok := i.overlay[key]; ok {
		return tmpl, true
	}
	tmpl, ok := EnMessages[key]
	return tmpl, ok
}

// Has 报告 key 是否存在 / Has reports whether key exists in the catalog
func (i *I18n) Has(key string) bool {
	_, ok := i.lookup(key)
	return ok
}

// T 翻译函数；未知 key 原样返回 / T translates key; unknown keys are returned as is
func (i *I18n) T(key string, args ...any) string {
	tmpl, ok := i.lookup(key)
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// Locale returns the resolved locale.
func (i *I18n) Locale() string {
	return i.locale
}

// DetectLocale 自动检测 locale
// DetectLocale reads WEAVE_LANG, then the POSIX locale variables
func DetectLocale() string {
	for _, env := range []string{"WEAVE_LANG", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return normalizeLocale(v)
		}
	}
	return "en"
}

func normalizeLocale(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "C" || s == "POSIX" {
		return "en"
	}
	// 去掉 .UTF-8 与 @modifier 后缀 / strip .UTF-8 and @modifier suffixes
	if idx := strings.IndexAny(s, ".@"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "_", "-")
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, "ko"):
		return "ko"
	case strings.HasPrefix(lower, "zh"):
		return "zh-CN"
	case strings.HasPrefix(lower, "en"):
		return "en"
	}
	return s
}
