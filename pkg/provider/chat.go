package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	ollamaapi "github.com/eino-contrib/ollama/api"
	"google.golang.org/genai"
)

// ChatDescriber 基于 eino ChatModel 的提供方，四种后端共用同一条描述路径
type ChatDescriber struct {
	name  string
	model string
	chat  model.BaseChatModel
	check func(ctx context.Context) error
}

func (c *ChatDescriber) Name() string { return c.name }

// Model 当前使用的模型
func (c *ChatDescriber) Model() string { return c.model }

// Describe 发送一条包含文本和内联图片两个内容块的用户消息
func (c *ChatDescriber) Describe(ctx context.Context, img Image, prompt string) (string, error) {
	out, err := c.chat.Generate(ctx, []*schema.Message{imageMessage(img, prompt)})
	if err != nil {
		return "", wrapError(c.name, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", &Error{Provider: c.name, Err: errors.New("empty response")}
	}
	return out.Content, nil
}

// Check 验证凭证或服务可达性
func (c *ChatDescriber) Check(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	if err := c.check(ctx); err != nil {
		return wrapError(c.name, err)
	}
	return nil
}

func imageMessage(img Image, prompt string) *schema.Message {
	mime := img.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	data := img.Base64()
	return &schema.Message{
		Role: schema.User,
		UserInputMultiContent: []schema.MessageInputPart{
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				Image: &schema.MessageInputImage{
					MessagePartCommon: schema.MessagePartCommon{Base64Data: &data, MIMEType: mime},
					Detail:            schema.ImageURLDetailAuto,
				},
			},
		},
	}
}

// wrapError 包装为 *Error，尽量保留上游返回的 HTTP 状态码
func wrapError(name string, err error) error {
	var pErr *Error
	if errors.As(err, &pErr) {
		return err
	}
	e := &Error{Provider: name, Err: err}

	var (
		gErr    genai.APIError
		oErr    ollamaapi.StatusError
		authErr ollamaapi.AuthorizationError
	)
	switch {
	case errors.As(err, &gErr):
		e.StatusCode = gErr.Code
	case errors.As(err, &oErr):
		e.StatusCode = oErr.StatusCode
	case errors.As(err, &authErr):
		e.StatusCode = authErr.StatusCode
	}
	return e
}
