package bootstrap

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"weave/internal/auth"
	"weave/internal/backend/httpapi"
	"weave/internal/backend/memory"
	"weave/internal/chat"
	"weave/internal/config"
	"weave/internal/planner"
	"weave/internal/prompt"
	"weave/internal/provider"
)

// NewGenerator 根据配置选择离线或 OpenAI 兼容生成器
// NewGenerator picks the offline or the OpenAI-compatible generator
func NewGenerator(cfg config.Config) provider.Generator {
	if cfg.Provider.Mock {
		return &provider.MockGenerator{ChunkDelay: 40 * time.Millisecond}
	}
	return provider.NewOpenAIGenerator(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	})
}

func providerTimeout(cfg config.Config) time.Duration {
	return time.Duration(cfg.Provider.TimeoutMS) * time.Millisecond
}

func buildPlanner(cfg config.Config, logger *zap.Logger) planner.Planner {
	if cfg.Provider.Mock {
		return planner.StaticPlanner{}
	}
	return planner.NewOpenAIPlanner(planner.OpenAIConfig{
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Planner.Model,
		TimeoutMS: cfg.Provider.TimeoutMS,
		MaxSteps:  cfg.Planner.MaxSteps,
	}, logger)
}

func buildValidator(cfg config.Config) *prompt.Validator {
	var tok *prompt.Tokenizer
	if cfg.Provider.Mock {
		tok = prompt.NewHeuristicTokenizer()
	} else {
		tok = prompt.NewTokenizerForModel(chat.DefaultChatModel)
	}
	return prompt.NewValidator(tok, cfg.Jobs.PromptMaxTokens)
}

func buildMemory() *memory.Backend {
	return memory.New(memory.WithScript(memory.SucceedAfter(2)))
}

// buildHTTP 创建 REST 客户端；环境变量提供的令牌会写入令牌文件
// buildHTTP creates the REST client; tokens supplied through the environment are stored in the token file
func buildHTTP(cfg config.Config, logger *zap.Logger) (*httpapi.Client, error) {
	tokens, err := auth.NewFileStore(cfg.Auth.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("init token store: %w", err)
	}
	if cfg.Auth.AccessToken != "" || cfg.Auth.RefreshToken != "" {
		if err := tokens.Save(auth.Credentials{Access: cfg.Auth.AccessToken, Refresh: cfg.Auth.RefreshToken}); err != nil {
			return nil, fmt.Errorf("store tokens: %w", err)
		}
	}
	return httpapi.New(httpapi.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   time.Duration(cfg.Backend.TimeoutMS) * time.Millisecond,
		RetryMax:  cfg.Backend.RetryMax,
		RateRPS:   float64(cfg.Backend.RateRPS),
		RateBurst: cfg.Backend.RateBurst,
		Tokens:    tokens,
		Logger:    logger,
	}), nil
}
