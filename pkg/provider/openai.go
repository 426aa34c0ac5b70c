package provider

import (
	"context"
	"net/http"
	"strings"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
)

const (
	DefaultMistralURL    = "https://api.mistral.ai/v1"
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	defaultMistralModel = "pixtral-12b"
)

// NewMistral 创建 Mistral 提供方，模型默认 pixtral-12b
func NewMistral(ctx context.Context, cfg Config) (*ChatDescriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, missingCredential(KindMistral)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMistralURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultMistralModel
	}
	return newChatCompletion(ctx, string(KindMistral), cfg)
}

// NewOpenRouter 创建 OpenRouter 提供方，模型必须由调用方指定
func NewOpenRouter(ctx context.Context, cfg Config) (*ChatDescriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, missingCredential(KindOpenRouter)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &Error{Provider: string(KindOpenRouter), Err: ErrMissingModel}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	return newChatCompletion(ctx, string(KindOpenRouter), cfg)
}

// newChatCompletion OpenAI 兼容的 chat/completions 提供方（Mistral、OpenRouter）
func newChatCompletion(ctx context.Context, name string, cfg Config) (*ChatDescriber, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	cm, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    baseURL,
		Model:      cfg.Model,
		HTTPClient: client,
	})
	if err != nil {
		return nil, &Error{Provider: name, Err: err}
	}

	return &ChatDescriber{
		name:  name,
		model: cfg.Model,
		chat:  cm,
		check: func(ctx context.Context) error {
			// 组件不提供模型列表接口，直接请求 /models 验证 API Key
			return doJSON(ctx, client, name, http.MethodGet, baseURL+"/models", bearer(cfg.APIKey), nil, nil)
		},
	}, nil
}

func bearer(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}
