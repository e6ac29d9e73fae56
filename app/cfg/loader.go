package cfg

import (
	"cmp"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/articles.db" description:"Path to the SQLite database file"`
	FeedsFile   string `long:"feeds-file" env:"FEEDS_FILE" default:"./feeds.yml" description:"YAML file listing the feeds to monitor"`
	FallbackDir string `long:"fallback-dir" env:"FALLBACK_DIR" default:"./data/output" description:"Directory for fallback post files when webhook delivery fails"`

	// Delivery configuration
	WebhookURL          string `long:"webhook-url" env:"WEBHOOK_URL" description:"Webhook endpoint receiving ready posts"`
	BatchSize           int    `long:"batch-size" env:"BATCH_SIZE" default:"10" description:"Maximum number of posts per webhook delivery"`
	MaxDeliveryAttempts int    `long:"max-delivery-attempts" env:"MAX_DELIVERY_ATTEMPTS" default:"5" description:"Delivery attempts before an article is marked failed"`

	// Rewriter configuration
	LLMBaseURL    string  `long:"llm-base-url" env:"LLM_BASE_URL" default:"https://openrouter.ai/api/v1" description:"Base URL of the OpenAI-compatible completion API"`
	LLMAPIKey     string  `long:"llm-api-key" env:"OPENROUTER_API_KEY" description:"API key for the completion API"`
	LLMModel      string  `long:"llm-model" env:"LLM_MODEL" default:"openai/gpt-4o-mini" description:"Model identifier for rewriting"`
	Temperature   float64 `long:"llm-temperature" env:"LLM_TEMPERATURE" default:"0.7" description:"Sampling temperature for rewriting"`
	MaxTokens     int     `long:"llm-max-tokens" env:"LLM_MAX_TOKENS" default:"500" description:"Maximum completion tokens per rewrite"`
	MaxPostLength int     `long:"max-post-length" env:"MAX_POST_LENGTH" default:"280" description:"Hard character limit for rewritten posts"`
	RewritePrompt string  `long:"rewrite-prompt" env:"REWRITE_PROMPT" description:"Extra instructions prepended to the rewrite prompt"`

	// Pipeline configuration
	WorkerCount   int `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Concurrent workers for per-article processing"`
	CycleInterval int `long:"cycle-interval" env:"CYCLE_INTERVAL" default:"900" description:"Seconds between pipeline cycles in continuous mode"`
	FetchDelay    int `long:"fetch-delay" env:"FETCH_DELAY" default:"1" description:"Seconds to wait between feed fetches"`
	HTTPTimeout   int `long:"http-timeout" env:"HTTP_TIMEOUT" default:"30" description:"Timeout in seconds for external HTTP calls"`

	// Application metadata
	Port      string `long:"port" env:"PORT" default:"8080" description:"HTTP port for the status API in continuous mode"`
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"NewsWright/1.0" description:"User agent string for HTTP requests"`
	Once      bool   `long:"once" description:"Run a single pipeline cycle and exit"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:              raw.DBPath,
		FeedsFile:           raw.FeedsFile,
		FallbackDir:         raw.FallbackDir,
		WebhookURL:          raw.WebhookURL,
		BatchSize:           raw.BatchSize,
		MaxDeliveryAttempts: raw.MaxDeliveryAttempts,
		LLMBaseURL:          raw.LLMBaseURL,
		LLMAPIKey:           raw.LLMAPIKey,
		LLMModel:            raw.LLMModel,
		Temperature:         raw.Temperature,
		MaxTokens:           raw.MaxTokens,
		MaxPostLength:       raw.MaxPostLength,
		RewritePrompt:       raw.RewritePrompt,
		WorkerCount:         raw.WorkerCount,
		CycleInterval:       raw.CycleInterval,
		FetchDelay:          raw.FetchDelay,
		HTTPTimeout:         raw.HTTPTimeout,
		Port:                raw.Port,
		UserAgent:           raw.UserAgent,
		Once:                raw.Once,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	nonNegativeFields := map[string]int{
		"batch size":            cfg.BatchSize,
		"max delivery attempts": cfg.MaxDeliveryAttempts,
		"worker count":          cfg.WorkerCount,
		"cycle interval":        cfg.CycleInterval,
		"http timeout":          cfg.HTTPTimeout,
		"max post length":       cfg.MaxPostLength,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	if cfg.FetchDelay < 0 {
		return fmt.Errorf("fetch delay must be non-negative")
	}

	return nil
}
