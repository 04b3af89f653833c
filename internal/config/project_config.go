package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const projectConfigName = "weave.config.json"

// InitProjectConfigScaffold 在当前工作目录写入项目配置模板（./weave.config.json），已存在时不覆盖。
// InitProjectConfigScaffold writes ./weave.config.json with defaults; an existing file is left untouched.
func InitProjectConfigScaffold(projectDir string) (string, error) {
	path := filepath.Join(strings.TrimSpace(projectDir), projectConfigName)

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat project config: %w", err)
	}

	cfg := Default()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write project config: %w", err)
	}
	return path, nil
}

// WriteSetting 将 section.key 写入项目配置，保留其他键
// WriteSetting sets section.key in ./weave.config.json, preserving other keys.
func WriteSetting(projectDir, section, key string, value any) error {
	section = strings.TrimSpace(section)
	key = strings.TrimSpace(key)
	if section == "" || key == "" {
		return errors.New("setting section and key are required")
	}
	path := filepath.Join(strings.TrimSpace(projectDir), projectConfigName)

	var root map[string]any
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(stripJSONComments(data), &root); err != nil {
			root = nil
		}
	}
	if root == nil {
		root = make(map[string]any)
	}
	sec, _ := root[section].(map[string]any)
	if sec == nil {
		sec = make(map[string]any)
	}
	sec[key] = value
	root[section] = sec

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
