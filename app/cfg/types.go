package cfg

type Cfg struct {
	// Storage configuration
	DBPath      string
	FeedsFile   string
	FallbackDir string

	// Delivery configuration
	WebhookURL          string
	BatchSize           int
	MaxDeliveryAttempts int

	// Rewriter configuration
	LLMBaseURL    string
	LLMAPIKey     string
	LLMModel      string
	Temperature   float64
	MaxTokens     int
	MaxPostLength int
	RewritePrompt string

	// Pipeline configuration
	WorkerCount   int
	CycleInterval int
	FetchDelay    int
	HTTPTimeout   int

	// Application metadata
	Port      string
	UserAgent string
	Once      bool
	Debug     bool
	Version   string
}
