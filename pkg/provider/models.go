package provider

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// ModelInfo OpenRouter /models 返回的单个模型
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
		Image      string `json:"image,omitempty"`
	} `json:"pricing"`
	Architecture struct {
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	} `json:"architecture"`
	ContextLength int `json:"context_length"`
}

type modelList struct {
	Data []ModelInfo `json:"data"`
}

// AcceptsImages 模型是否支持图片输入
func (m ModelInfo) AcceptsImages() bool {
	return slices.Contains(m.Architecture.InputModalities, "image")
}

// IsFree 提示词、补全和图片价格都为 0（未给出图片价格视为免费）
func (m ModelInfo) IsFree() bool {
	return isZeroPrice(m.Pricing.Prompt) &&
		isZeroPrice(m.Pricing.Completion) &&
		(m.Pricing.Image == "" || isZeroPrice(m.Pricing.Image))
}

func isZeroPrice(p string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
	return err == nil && v == 0
}

// ListFreeVisionModels 列出 OpenRouter 上免费且支持图片输入的模型 ID
func ListFreeVisionModels(ctx context.Context, cfg Config) ([]string, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, missingCredential(KindOpenRouter)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	var list modelList
	if err := doJSON(ctx, client, string(KindOpenRouter), http.MethodGet, baseURL+"/models", bearer(cfg.APIKey), nil, &list); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.AcceptsImages() && m.IsFree() {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
