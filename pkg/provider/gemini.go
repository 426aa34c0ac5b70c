package provider

import (
	"context"
	"net/http"
	"strings"

	geminimodel "github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-1.5-flash"

// NewGemini 创建 Gemini 提供方，base_url 为空时使用 genai 默认地址
func NewGemini(ctx context.Context, cfg Config) (*ChatDescriber, error) {
	name := string(KindGemini)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, missingCredential(KindGemini)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimSpace(cfg.BaseURL)},
	})
	if err != nil {
		return nil, &Error{Provider: name, Err: err}
	}
	cm, err := geminimodel.NewChatModel(ctx, &geminimodel.Config{Client: client, Model: cfg.Model})
	if err != nil {
		return nil, &Error{Provider: name, Err: err}
	}

	return &ChatDescriber{
		name:  name,
		model: cfg.Model,
		chat:  cm,
		check: func(ctx context.Context) error {
			// 列出一个模型即可验证 API Key
			_, err := client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
			return err
		},
	}, nil
}
