package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mozhou-tech/photo-search-ai/pkg/provider"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 PHOTOSEARCH_PROVIDER_GEMINI_API_KEY
const EnvPrefix = "PHOTOSEARCH"

// DefaultFile 未指定配置文件时尝试读取的文件
const DefaultFile = "photosearch.yaml"

type ServerConfig struct {
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// Credentials 单个提供方的凭证与模型
type Credentials struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type ProviderConfig struct {
	Kind          string      `mapstructure:"kind" validate:"oneof=gemini ollama mistral openrouter"`
	RatePerSecond float64     `mapstructure:"rate_per_second" validate:"min=0"`
	Gemini        Credentials `mapstructure:"gemini"`
	Ollama        Credentials `mapstructure:"ollama"`
	Mistral       Credentials `mapstructure:"mistral"`
	OpenRouter    Credentials `mapstructure:"openrouter"`
}

type BatchConfig struct {
	Width int           `mapstructure:"width" validate:"min=1"`
	Delay time.Duration `mapstructure:"delay" validate:"min=0"`
}

type ThumbnailConfig struct {
	MaxWidth  int     `mapstructure:"max_width" validate:"min=1"`
	MaxHeight int     `mapstructure:"max_height" validate:"min=1"`
	Quality   float64 `mapstructure:"quality" validate:"gt=0,lte=1"`
}

type SearchConfig struct {
	RecentLimit int `mapstructure:"recent_limit" validate:"min=1"`
	MaxResults  int `mapstructure:"max_results" validate:"min=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("store.path", "")
	v.SetDefault("provider.kind", string(provider.KindGemini))
	v.SetDefault("provider.rate_per_second", 0)
	v.SetDefault("provider.gemini.api_key", "")
	v.SetDefault("provider.gemini.base_url", "")
	v.SetDefault("provider.gemini.model", "gemini-1.5-flash")
	v.SetDefault("provider.ollama.api_key", "")
	v.SetDefault("provider.ollama.base_url", provider.DefaultOllamaURL)
	v.SetDefault("provider.ollama.model", "llava")
	v.SetDefault("provider.mistral.api_key", "")
	v.SetDefault("provider.mistral.base_url", provider.DefaultMistralURL)
	v.SetDefault("provider.mistral.model", "pixtral-12b")
	v.SetDefault("provider.openrouter.api_key", "")
	v.SetDefault("provider.openrouter.base_url", provider.DefaultOpenRouterURL)
	v.SetDefault("provider.openrouter.model", "")
	v.SetDefault("batch.width", 3)
	v.SetDefault("batch.delay", time.Second)
	v.SetDefault("thumbnail.max_width", 300)
	v.SetDefault("thumbnail.max_height", 300)
	v.SetDefault("thumbnail.quality", 0.8)
	v.SetDefault("search.recent_limit", 50)
	v.SetDefault("search.max_results", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 依次读取 .env、配置文件（path 为空时尝试 DefaultFile）和 PHOTOSEARCH_ 环境变量
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.Server.DataDir, "photosearch.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ProviderFor 返回指定提供方的配置；kind 为空时使用默认提供方
func (c *Config) ProviderFor(kind string) (provider.Config, error) {
	if kind == "" {
		kind = c.Provider.Kind
	}
	k, err := provider.ParseKind(kind)
	if err != nil {
		return provider.Config{}, err
	}

	var cred Credentials
	switch k {
	case provider.KindGemini:
		cred = c.Provider.Gemini
	case provider.KindOllama:
		cred = c.Provider.Ollama
	case provider.KindMistral:
		cred = c.Provider.Mistral
	case provider.KindOpenRouter:
		cred = c.Provider.OpenRouter
	}
	return provider.Config{Kind: k, APIKey: cred.APIKey, BaseURL: cred.BaseURL, Model: cred.Model}, nil
}

// SetupLogging 按配置设置 logrus 级别与格式
func (c *Config) SetupLogging() {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
