package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Content   ContentConfig   `yaml:"content" mapstructure:"content"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Tier      TierConfig      `yaml:"tier" mapstructure:"tier"`
	Writer    WriterConfig    `yaml:"writer" mapstructure:"writer"`
	Processor ProcessorConfig `yaml:"processor" mapstructure:"processor"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ContentConfig configures document content extraction.
type ContentConfig struct {
	PdfToTextPath  string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	ChunkThreshold int    `yaml:"chunk_threshold_pages" mapstructure:"chunk_threshold_pages"`
	ChunkPages     int    `yaml:"chunk_pages" mapstructure:"chunk_pages"`
}

// ExtractConfig configures incremental fact extraction.
type ExtractConfig struct {
	LLMAssist           bool    `yaml:"llm_assist" mapstructure:"llm_assist"`
	LLMSectionThreshold float64 `yaml:"llm_section_threshold" mapstructure:"llm_section_threshold"`
	DedupeSimilarity    float64 `yaml:"dedupe_similarity" mapstructure:"dedupe_similarity"`
	MaxFactsPerDocument int     `yaml:"max_facts_per_document" mapstructure:"max_facts_per_document"`
}

// TierConfig configures review-tier classification.
type TierConfig struct {
	AutoApplyThreshold  float64  `yaml:"auto_apply_threshold" mapstructure:"auto_apply_threshold"`
	MediumConfidenceMin float64  `yaml:"medium_confidence_min" mapstructure:"medium_confidence_min"`
	LowRiskDomains      []string `yaml:"low_risk_domains" mapstructure:"low_risk_domains"`
	CriticalDomains     []string `yaml:"critical_domains" mapstructure:"critical_domains"`
}

// WriterConfig configures the incremental database writer.
type WriterConfig struct {
	ProgressIntervalSecs int `yaml:"progress_interval_secs" mapstructure:"progress_interval_secs"`
}

// ProcessorConfig configures the document processor.
type ProcessorConfig struct {
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
	StateDir   string `yaml:"state_dir" mapstructure:"state_dir"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	Model      string  `yaml:"model" mapstructure:"model"`
	MaxTokens  int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateRPS    float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// NotionConfig holds Notion API credentials and the findings database ID.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	FindingsDB string `yaml:"findings_db" mapstructure:"findings_db"`
}

// FetchConfig configures remote document sources.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	InboxDir    string `yaml:"inbox_dir" mapstructure:"inbox_dir"`
}

// ServerConfig configures the ingestion server.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port"`
	AllowedOrigin []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB   int64    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DILIGENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 64)
	v.SetDefault("content.pdftotext_path", "pdftotext")
	v.SetDefault("content.chunk_threshold_pages", 20)
	v.SetDefault("content.chunk_pages", 10)
	v.SetDefault("extract.llm_assist", false)
	v.SetDefault("extract.llm_section_threshold", 0.3)
	v.SetDefault("extract.dedupe_similarity", 0.85)
	v.SetDefault("extract.max_facts_per_document", 500)
	v.SetDefault("tier.auto_apply_threshold", 0.9)
	v.SetDefault("tier.medium_confidence_min", 0.7)
	v.SetDefault("tier.low_risk_domains", []string{"organization", "itsm", "endpoints"})
	v.SetDefault("tier.critical_domains", []string{"security", "identity", "data"})
	v.SetDefault("writer.progress_interval_secs", 2)
	v.SetDefault("processor.max_retries", 3)
	v.SetDefault("processor.state_dir", ".diligence/state")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.rate_rps", 2)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("fetch.user_agent", "diligence-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.inbox_dir", ".diligence/inbox")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
