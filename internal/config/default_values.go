package config

const (
	DefaultBackendMode       = "local"
	DefaultBackendBaseURL    = "http://127.0.0.1:8000"
	DefaultBackendTimeoutMS  = 30000
	DefaultBackendRetryMax   = 3
	DefaultBackendRateRPS    = 5
	DefaultBackendRateBurst  = 10
	DefaultJobPollIntervalMS = 1500
	DefaultJobPollMax        = 60
	DefaultPersistDebounceMS = 1500
	DefaultPromptMaxTokens   = 8000

	DefaultProviderBaseURL   = "https://openrouter.ai/api/v1"
	DefaultProviderTimeoutMS = 120000
	DefaultPlannerModel      = "openai/gpt-4o"
	DefaultPlannerMaxSteps   = 6

	DefaultServerAddr = "127.0.0.1:8000"
	DefaultBaseDir    = "~/.weave"

	envPrefix = "WEAVE"
)
