package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind 提供方类型
type Kind string

const (
	KindGemini     Kind = "gemini"
	KindOllama     Kind = "ollama"
	KindMistral    Kind = "mistral"
	KindOpenRouter Kind = "openrouter"
)

// Kinds 所有支持的提供方
var Kinds = []Kind{KindGemini, KindOllama, KindMistral, KindOpenRouter}

const defaultTimeout = 120 * time.Second

var (
	// ErrMissingCredential 缺少凭证，发生在任何网络调用之前
	ErrMissingCredential = errors.New("missing credential")
	// ErrMissingModel 需要显式模型的提供方未指定模型
	ErrMissingModel = errors.New("missing model")
	// ErrUnknownProvider 未知提供方
	ErrUnknownProvider = errors.New("unknown provider")
)

// Config 提供方配置，由调用方在边界处提供
type Config struct {
	Kind    Kind
	APIKey  string
	BaseURL string
	Model   string

	HTTPClient *http.Client
}

// Image 待描述的图片
type Image struct {
	Data     []byte
	MimeType string
}

// Base64 返回图片的 base64 编码
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Describer 图片描述能力：输入图片与提示词，返回模型原始文本
type Describer interface {
	Name() string
	Describe(ctx context.Context, img Image, prompt string) (string, error)
}

// Checker 连接测试能力
type Checker interface {
	Check(ctx context.Context) error
}

// Error 提供方调用失败，始终携带提供方名称
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ParseKind 解析提供方名称
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// New 按配置创建对应的 Describer，凭证缺失时立即返回配置错误
func New(ctx context.Context, cfg Config) (Describer, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	switch cfg.Kind {
	case KindGemini:
		return NewGemini(ctx, cfg)
	case KindOllama:
		return NewOllama(ctx, cfg)
	case KindMistral:
		return NewMistral(ctx, cfg)
	case KindOpenRouter:
		return NewOpenRouter(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Kind)
	}
}

// Check 对配置的提供方做一次连接测试
func Check(ctx context.Context, cfg Config) error {
	d, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	c, ok := d.(Checker)
	if !ok {
		return nil
	}
	return c.Check(ctx)
}

func missingCredential(kind Kind) error {
	return fmt.Errorf("%s: %w", kind, ErrMissingCredential)
}
