package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollamamodel "github.com/cloudwego/eino-ext/components/model/ollama"
	ollamaapi "github.com/eino-contrib/ollama/api"
)

const (
	// DefaultOllamaURL 本地 Ollama 默认地址
	DefaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llava"
)

// NewOllama 创建本地 Ollama 提供方，无需凭证
func NewOllama(ctx context.Context, cfg Config) (*ChatDescriber, error) {
	name := string(KindOllama)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &Error{Provider: name, Err: fmt.Errorf("invalid base url: %w", err)}
	}

	cm, err := ollamamodel.NewChatModel(ctx, &ollamamodel.ChatModelConfig{
		BaseURL:    baseURL,
		HTTPClient: cfg.HTTPClient,
		Model:      cfg.Model,
	})
	if err != nil {
		return nil, &Error{Provider: name, Err: err}
	}
	client := ollamaapi.NewClient(base, cfg.HTTPClient)

	return &ChatDescriber{
		name:  name,
		model: cfg.Model,
		chat:  cm,
		check: func(ctx context.Context) error {
			// /api/tags 可达即认为服务可用
			_, err := client.List(ctx)
			return err
		},
	}, nil
}
