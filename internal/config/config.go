package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// BackendConfig selects and tunes the session/job backend.
type BackendConfig struct {
	// Mode 取值 memory | local | http
	// Mode is one of memory | local | http
	Mode      string `json:"mode" split_words:"true"`
	BaseURL   string `json:"base_url" split_words:"true"`
	TimeoutMS int    `json:"timeout_ms" split_words:"true"`
	RetryMax  int    `json:"retry_max" split_words:"true"`
	RateRPS   int    `json:"rate_rps" split_words:"true"`
	RateBurst int    `json:"rate_burst" split_words:"true"`
}

type AuthConfig struct {
	TokenFile    string `json:"token_file" split_words:"true"`
	AccessToken  string `json:"-" split_words:"true"`
	RefreshToken string `json:"-" split_words:"true"`
}

type JobsConfig struct {
	PollIntervalMS  int `json:"poll_interval_ms" split_words:"true"`
	PollMaxAttempts int `json:"poll_max_attempts" split_words:"true"`
	PromptMaxTokens int `json:"prompt_max_tokens" split_words:"true"`
}

type PersistConfig struct {
	DebounceMS int `json:"debounce_ms" split_words:"true"`
}

// ProviderConfig configures the OpenAI-compatible generation endpoint used by the local backend.
type ProviderConfig struct {
	BaseURL    string `json:"base_url" split_words:"true"`
	APIKey     string `json:"api_key" split_words:"true"`
	TimeoutMS  int    `json:"timeout_ms" split_words:"true"`
	MaxRetries int    `json:"max_retries" split_words:"true"`
	// Mock 为 true 时使用离线生成器
	// Mock uses the offline generator instead of the remote endpoint
	Mock bool `json:"mock" split_words:"true"`
}

type PlannerConfig struct {
	Model    string `json:"model" split_words:"true"`
	MaxSteps int    `json:"max_steps" split_words:"true"`
}

type StorageConfig struct {
	BaseDir     string `json:"base_dir" split_words:"true"`
	DBPath      string `json:"db_path" split_words:"true"`
	HistoryFile string `json:"history_file" split_words:"true"`
}

type LogConfig struct {
	Level       string   `json:"level" split_words:"true"`
	Development bool     `json:"development" split_words:"true"`
	OutputPaths []string `json:"output_paths" split_words:"true"`
}

// ServerConfig 开发服务器；Token 为空时不校验 bearer
// ServerConfig configures the dev server; an empty Token disables bearer checks
type ServerConfig struct {
	Addr         string `json:"addr" split_words:"true"`
	Token        string `json:"token" split_words:"true"`
	RefreshToken string `json:"refresh_token" split_words:"true"`
}

type MetricsConfig struct {
	Addr string `json:"addr" split_words:"true"`
}

type UIConfig struct {
	Locale   string `json:"locale" split_words:"true"`
	Markdown bool   `json:"markdown" split_words:"true"`
	// Follow 为 true 时 REPL 在前台等待每个任务；否则任务在后台运行，可用 /cancel 停止
	// Follow waits for each job in the foreground; otherwise jobs run in the background and /cancel stops them
	Follow bool `json:"follow" split_words:"true"`
}

type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Auth     AuthConfig     `json:"auth"`
	Jobs     JobsConfig     `json:"jobs"`
	Persist  PersistConfig  `json:"persist"`
	Provider ProviderConfig `json:"provider"`
	Planner  PlannerConfig  `json:"planner"`
	Storage  StorageConfig  `json:"storage"`
	Log      LogConfig      `json:"log"`
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
	UI       UIConfig       `json:"ui"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			Mode:      DefaultBackendMode,
			BaseURL:   DefaultBackendBaseURL,
			TimeoutMS: DefaultBackendTimeoutMS,
			RetryMax:  DefaultBackendRetryMax,
			RateRPS:   DefaultBackendRateRPS,
			RateBurst: DefaultBackendRateBurst,
		},
		Auth: AuthConfig{TokenFile: DefaultBaseDir + "/credentials.json"},
		Jobs: JobsConfig{
			PollIntervalMS:  DefaultJobPollIntervalMS,
			PollMaxAttempts: DefaultJobPollMax,
			PromptMaxTokens: DefaultPromptMaxTokens,
		},
		Persist: PersistConfig{DebounceMS: DefaultPersistDebounceMS},
		Provider: ProviderConfig{
			BaseURL:    DefaultProviderBaseURL,
			TimeoutMS:  DefaultProviderTimeoutMS,
			MaxRetries: 2,
		},
		Planner: PlannerConfig{
			Model:    DefaultPlannerModel,
			MaxSteps: DefaultPlannerMaxSteps,
		},
		Storage: StorageConfig{BaseDir: DefaultBaseDir},
		Log:     LogConfig{Level: "info"},
		Server:  ServerConfig{Addr: DefaultServerAddr},
		UI:      UIConfig{Markdown: true, Follow: true},
	}
}

// Load 依次合并：默认值 → 全局配置 → 项目配置 → 环境变量
// Load layers defaults, the global file, the project (or explicit) file, then WEAVE_* env vars.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("WEAVE_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".weave", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		projectConfigName,
		".weave/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	// Unmarshal 只覆盖文件中出现的键 / only keys present in the file are overwritten
	if err := json.Unmarshal(stripJSONComments(data), cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	return nil
}

func normalize(cfg *Config) error {
	def := Default()

	cfg.Backend.Mode = strings.ToLower(strings.TrimSpace(cfg.Backend.Mode))
	switch cfg.Backend.Mode {
	case "":
		cfg.Backend.Mode = def.Backend.Mode
	case "memory", "local", "http":
	default:
		return fmt.Errorf("invalid backend.mode %q (want memory, local or http)", cfg.Backend.Mode)
	}
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = def.Backend.BaseURL
	}
	if cfg.Backend.TimeoutMS <= 0 {
		cfg.Backend.TimeoutMS = def.Backend.TimeoutMS
	}
	if cfg.Backend.RetryMax < 0 {
		cfg.Backend.RetryMax = 0
	}
	if cfg.Backend.RateRPS <= 0 {
		cfg.Backend.RateRPS = def.Backend.RateRPS
	}
	if cfg.Backend.RateBurst <= 0 {
		cfg.Backend.RateBurst = def.Backend.RateBurst
	}

	if cfg.Jobs.PollIntervalMS <= 0 {
		cfg.Jobs.PollIntervalMS = def.Jobs.PollIntervalMS
	}
	if cfg.Jobs.PollMaxAttempts <= 0 {
		cfg.Jobs.PollMaxAttempts = def.Jobs.PollMaxAttempts
	}
	if cfg.Jobs.PromptMaxTokens <= 0 {
		cfg.Jobs.PromptMaxTokens = def.Jobs.PromptMaxTokens
	}
	if cfg.Persist.DebounceMS <= 0 {
		cfg.Persist.DebounceMS = def.Persist.DebounceMS
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		cfg.Provider.Mock = true
	}
	if cfg.Planner.Model == "" {
		cfg.Planner.Model = def.Planner.Model
	}
	if cfg.Planner.MaxSteps <= 0 {
		cfg.Planner.MaxSteps = def.Planner.MaxSteps
	}

	baseDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if baseDir == "" {
		if baseDir, err = expandPath(def.Storage.BaseDir); err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = baseDir
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(baseDir, "weave.db")
	} else if cfg.Storage.DBPath, err = expandPath(cfg.Storage.DBPath); err != nil {
		return err
	}
	if cfg.Storage.HistoryFile == "" {
		cfg.Storage.HistoryFile = filepath.Join(baseDir, "history")
	}
	if cfg.Auth.TokenFile, err = expandPath(cfg.Auth.TokenFile); err != nil {
		return err
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	return nil
}

// PollInterval returns the job poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Jobs.PollIntervalMS) * time.Millisecond
}

// DebounceWindow returns the persistence debounce window as a duration.
func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.Persist.DebounceMS) * time.Millisecond
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
