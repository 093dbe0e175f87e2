package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/zotero-metadata/internal/cost"
	"github.com/sells-group/zotero-metadata/internal/fault"
)

// Config holds the full application configuration.
type Config struct {
	Zotero    ZoteroConfig    `yaml:"zotero" mapstructure:"zotero"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Rules     RulesConfig     `yaml:"rules" mapstructure:"rules"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Pricing   []PriceConfig   `yaml:"pricing" mapstructure:"pricing"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ZoteroConfig holds Zotero Web API credentials.
type ZoteroConfig struct {
	LibraryID         string  `yaml:"library_id" mapstructure:"library_id"`
	LibraryType       string  `yaml:"library_type" mapstructure:"library_type"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LLMConfig selects and configures the metadata extraction backend.
type LLMConfig struct {
	Provider   string           `yaml:"provider" mapstructure:"provider"`
	MaxTokens  int64            `yaml:"max_tokens" mapstructure:"max_tokens"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Local      LocalConfig      `yaml:"local" mapstructure:"local"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	Model      string `yaml:"model" mapstructure:"model"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	CacheRules bool   `yaml:"cache_rules" mapstructure:"cache_rules"`
}

// OpenRouterConfig holds OpenRouter API settings.
type OpenRouterConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Referer string `yaml:"referer" mapstructure:"referer"`
}

// LocalConfig configures a locally hosted model served by Ollama.
type LocalConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	NumCtx      int    `yaml:"num_ctx" mapstructure:"num_ctx"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	TextLayer     string `yaml:"text_layer" mapstructure:"text_layer"`
	Engine        string `yaml:"engine" mapstructure:"engine"`
	MinTextChars  int    `yaml:"min_text_chars" mapstructure:"min_text_chars"`
	Languages     string `yaml:"languages" mapstructure:"languages"`
	DPI           int    `yaml:"dpi" mapstructure:"dpi"`
	MaxPages      int    `yaml:"max_pages" mapstructure:"max_pages"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	PdfToPPMPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// RulesConfig points at an alternative extraction rule file.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// NormalizeConfig configures record post-processing.
type NormalizeConfig struct {
	InstitutionsFile string `yaml:"institutions_file" mapstructure:"institutions_file"`
	MarkerTag        string `yaml:"marker_tag" mapstructure:"marker_tag"`
}

// PriceConfig overrides or adds the price of one model (USD per million tokens).
type PriceConfig struct {
	Provider string  `yaml:"provider" mapstructure:"provider"`
	Model    string  `yaml:"model" mapstructure:"model"`
	Input    float64 `yaml:"input" mapstructure:"input"`
	Output   float64 `yaml:"output" mapstructure:"output"`
}

// StoreConfig configures the run history database. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Supported LLM providers.
const (
	ProviderAnthropic  = cost.ProviderAnthropic
	ProviderOpenRouter = cost.ProviderOpenRouter
	ProviderLocal      = cost.ProviderLocal
)

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ZOTMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional variable names, unprefixed.
	bindings := map[string][]string{
		"zotero.library_id":      {"ZOTERO_LIBRARY_ID"},
		"zotero.library_type":    {"ZOTERO_LIBRARY_TYPE"},
		"zotero.api_key":         {"ZOTERO_API_KEY"},
		"llm.anthropic.api_key":  {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
		"llm.openrouter.api_key": {"OPENROUTER_API_KEY"},
		"ocr.mistral_api_key":    {"MISTRAL_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("zotero.library_type", "user")
	v.SetDefault("zotero.base_url", "https://api.zotero.org")
	v.SetDefault("zotero.requests_per_second", 2.0)
	v.SetDefault("zotero.timeout_secs", 60)
	v.SetDefault("llm.provider", ProviderAnthropic)
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.anthropic.cache_rules", true)
	v.SetDefault("llm.openrouter.model", "deepseek/deepseek-chat")
	v.SetDefault("llm.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.local.base_url", "http://localhost:11434")
	v.SetDefault("llm.local.model", "qwen2.5:32b-instruct-q4_K_M")
	v.SetDefault("llm.local.num_ctx", 10000)
	v.SetDefault("llm.local.timeout_secs", 600)
	v.SetDefault("ocr.text_layer", "native")
	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.min_text_chars", 200)
	v.SetDefault("ocr.languages", "fra+eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.max_pages", 0)
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("normalize.marker_tag", "./metadata")
	v.SetDefault("store.path", "zotmeta.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

// Validate checks that the settings needed by the selected provider are present.
// Every problem is reported at once as a configuration error.
func (c *Config) Validate() error {
	var problems []string

	if c.Zotero.LibraryID == "" {
		problems = append(problems, "ZOTERO_LIBRARY_ID is not set")
	}
	switch c.Zotero.LibraryType {
	case "user", "group":
	default:
		problems = append(problems, "ZOTERO_LIBRARY_TYPE must be user or group, got "+quote(c.Zotero.LibraryType))
	}
	if c.Zotero.APIKey == "" {
		problems = append(problems, "ZOTERO_API_KEY is not set")
	}

	switch c.LLM.Provider {
	case ProviderAnthropic:
		if c.LLM.Anthropic.APIKey == "" {
			problems = append(problems, "ANTHROPIC_API_KEY is not set")
		}
	case ProviderOpenRouter:
		if c.LLM.OpenRouter.APIKey == "" {
			problems = append(problems, "OPENROUTER_API_KEY is not set")
		}
	case ProviderLocal:
		if c.LLM.Local.BaseURL == "" || c.LLM.Local.Model == "" {
			problems = append(problems, "llm.local.base_url and llm.local.model are required")
		}
	default:
		problems = append(problems, "unknown llm.provider "+quote(c.LLM.Provider))
	}
	if c.LLM.MaxTokens <= 0 {
		problems = append(problems, "llm.max_tokens must be positive")
	}

	switch c.OCR.Engine {
	case "tesseract":
	case "mistral":
		if c.OCR.MistralKey == "" {
			problems = append(problems, "MISTRAL_API_KEY is not set for the mistral OCR engine")
		}
	default:
		problems = append(problems, "unknown ocr.engine "+quote(c.OCR.Engine))
	}
	switch c.OCR.TextLayer {
	case "native", "pdftotext":
	default:
		problems = append(problems, "unknown ocr.text_layer "+quote(c.OCR.TextLayer))
	}

	if c.Normalize.MarkerTag != "" && !strings.HasPrefix(c.Normalize.MarkerTag, "./") {
		problems = append(problems, "normalize.marker_tag must start with ./")
	}

	if len(problems) == 0 {
		return nil
	}
	return fault.Configuration(eris.Errorf("config: %s", strings.Join(problems, "; ")))
}

// Rates returns the default model prices overlaid with the configured ones.
func (c *Config) Rates() cost.Rates {
	rates := cost.DefaultRates()
	for _, p := range c.Pricing {
		if rates[p.Provider] == nil {
			rates[p.Provider] = map[string]cost.ModelRate{}
		}
		rate := rates[p.Provider][p.Model]
		rate.Input = p.Input
		rate.Output = p.Output
		rates[p.Provider][p.Model] = rate
	}
	return rates
}

// Model returns the model name of the selected provider.
func (c *Config) Model() string {
	switch c.LLM.Provider {
	case ProviderAnthropic:
		return c.LLM.Anthropic.Model
	case ProviderOpenRouter:
		return c.LLM.OpenRouter.Model
	case ProviderLocal:
		return c.LLM.Local.Model
	}
	return ""
}

func quote(s string) string {
	return `"` + s + `"`
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
