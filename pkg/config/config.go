package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the research pipeline
type Config struct {
	// Apify scraper settings
	Apify ApifyConfig `yaml:"apify" json:"apify"`

	// LLM provider credentials and selection
	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Media download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ApifyConfig holds the scraping actor configuration
type ApifyConfig struct {
	APIToken string        `yaml:"api_token" json:"api_token"`
	ActorID  string        `yaml:"actor_id" json:"actor_id"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// LLMConfig holds API keys for each provider plus the preferred provider name
type LLMConfig struct {
	Provider       string `yaml:"provider" json:"provider"`
	OpenAIKey      string `yaml:"openai_key" json:"openai_key"`
	GeminiKey      string `yaml:"gemini_key" json:"gemini_key"`
	DeepSeekKey    string `yaml:"deepseek_key" json:"deepseek_key"`
	MoonshotKey    string `yaml:"moonshot_key" json:"moonshot_key"`
	PromptsFile    string `yaml:"prompts_file" json:"prompts_file"`
	MaxTokens      int    `yaml:"max_tokens" json:"max_tokens"`
	RetryMaxTokens int    `yaml:"retry_max_tokens" json:"retry_max_tokens"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	LLMCallDelay      time.Duration `yaml:"llm_call_delay" json:"llm_call_delay"`
	StageCooldown     time.Duration `yaml:"stage_cooldown" json:"stage_cooldown"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// DownloadConfig holds media download configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	MaxDownloads        int           `yaml:"max_downloads" json:"max_downloads"`
}

// PipelineConfig holds stage defaults for a full pipeline run
type PipelineConfig struct {
	MaxItems      int `yaml:"max_items" json:"max_items"`
	ClusterKMin   int `yaml:"cluster_k_min" json:"cluster_k_min"`
	ClusterKMax   int `yaml:"cluster_k_max" json:"cluster_k_max"`
	TopTerms      int `yaml:"top_terms" json:"top_terms"`
	TopPerSection int `yaml:"top_per_section" json:"top_per_section"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Apify: ApifyConfig{
			ActorID: "watk8sVZNzd40UtbQ",
			Timeout: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:       "", // auto-select
			MaxTokens:      700,
			RetryMaxTokens: 1100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			LLMCallDelay:      2 * time.Second,
			StageCooldown:     2 * time.Second,
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
		},
		Output: OutputConfig{
			BaseDirectory: "./data",
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 5,
			DownloadTimeout:     10 * time.Second,
			RetryAttempts:       3,
			MaxDownloads:        0, // 0 means no limit
		},
		Pipeline: PipelineConfig{
			MaxItems:      30,
			ClusterKMin:   3,
			ClusterKMax:   10,
			TopTerms:      8,
			TopPerSection: 15,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv("APIFY_API_TOKEN"); token != "" {
		c.Apify.APIToken = token
	}
	if actor := os.Getenv("XHS_ACTOR_ID"); actor != "" {
		c.Apify.ActorID = actor
	}

	// Provider credentials keep the names the vendors document
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiKey = key
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		c.LLM.DeepSeekKey = key
	}
	if key := os.Getenv("MOONSHOT_API_KEY"); key != "" {
		c.LLM.MoonshotKey = key
	}
	if provider := os.Getenv("XHS_LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}

	if rpm := os.Getenv("XHS_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	if outputDir := os.Getenv("XHS_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}

	if concurrent := os.Getenv("XHS_CONCURRENT_DOWNLOADS"); concurrent != "" {
		var val int
		fmt.Sscanf(concurrent, "%d", &val)
		if val > 0 {
			c.Download.ConcurrentDownloads = val
		}
	}

	if maxItems := os.Getenv("XHS_MAX_ITEMS"); maxItems != "" {
		var val int
		fmt.Sscanf(maxItems, "%d", &val)
		if val > 0 {
			c.Pipeline.MaxItems = val
		}
	}

	if logLevel := os.Getenv("XHS_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".xhsresearch.yaml",
		".xhsresearch.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "xhsresearch", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "xhsresearch", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".xhsresearch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Apify.ActorID == "" {
		errs = append(errs, errors.New("apify actor ID is required"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output base directory is required"))
	}

	if c.Pipeline.ClusterKMin < 2 {
		errs = append(errs, errors.New("cluster k-min must be at least 2"))
	}
	if c.Pipeline.ClusterKMax < c.Pipeline.ClusterKMin {
		errs = append(errs, errors.New("cluster k-max must be >= k-min"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["apify-token"].(string); ok && token != "" {
		c.Apify.APIToken = token
	}
	if provider, ok := flags["provider"].(string); ok && provider != "" {
		c.LLM.Provider = provider
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if maxItems, ok := flags["max-items"].(int); ok && maxItems > 0 {
		c.Pipeline.MaxItems = maxItems
	}
	if kMin, ok := flags["k-min"].(int); ok && kMin > 0 {
		c.Pipeline.ClusterKMin = kMin
	}
	if kMax, ok := flags["k-max"].(int); ok && kMax > 0 {
		c.Pipeline.ClusterKMax = kMax
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".xhsresearch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
