package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

const vendor = "OpenAI"

// Provider OpenAI 兼容接口的提供者，图片以 data URI 的 image_url 形式发送
type Provider struct {
	config *vlllm.Config
	client *openai.Client
	logger *utils.Logger
}

// NewProvider 创建OpenAI VLLLM提供者实例
func NewProvider(config *vlllm.Config, logger *utils.Logger) (vlllm.AnswerProvider, error) {
	if config.ModelName == "" {
		config.ModelName = openai.GPT4oMini
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	}
	clientConfig.HTTPClient = config.HTTPClient()

	logger.Debug("OpenAI VLLLM Provider创建成功 %v", map[string]interface{}{
		"model_name": config.ModelName,
		"base_url":   clientConfig.BaseURL,
	})

	return &Provider{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Name 返回配置名称
func (p *Provider) Name() string {
	return p.config.Name
}

// Answer 调用 chat/completions，返回 choices[0].message.content
func (p *Provider) Answer(ctx context.Context, payload image.ImagePayload) (string, error) {
	request := openai.ChatCompletionRequest{
		Model: p.config.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: p.config.PromptText(),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", payload.MimeType, payload.Base64()),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		MaxTokens:   p.config.MaxTokens,
		Temperature: float32(p.config.Temperature),
		TopP:        float32(p.config.TopP),
	}

	response, err := p.client.CreateChatCompletion(ctx, request)
	if err != nil {
		p.logger.Warn("OpenAI Vision API调用失败: %v", err)
		return "", classifyError(err)
	}

	if len(response.Choices) == 0 {
		return "", &vlllm.EmptyResponseError{Vendor: vendor, Detail: "No choices in response."}
	}
	content := response.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &vlllm.EmptyResponseError{Vendor: vendor}
	}

	p.logger.Info("OpenAI Vision API调用成功 %v", map[string]interface{}{
		"model":             response.Model,
		"completion_tokens": response.Usage.CompletionTokens,
	})
	return content, nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// classifyError 将 go-openai 的错误映射到统一的错误类型
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.HTTPStatus
		}
		return &vlllm.HttpError{Vendor: vendor, Status: apiErr.HTTPStatusCode, Message: msg}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := vlllm.ErrorMessageFromBody(reqErr.Body)
		if msg == "" {
			msg = reqErr.HTTPStatus
		}
		return &vlllm.HttpError{Vendor: vendor, Status: reqErr.HTTPStatusCode, Message: msg}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &vlllm.NetworkError{Vendor: vendor, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &vlllm.EmptyResponseError{Vendor: vendor, Err: err}
	}

	return &vlllm.NetworkError{Vendor: vendor, Err: err}
}

// init 注册OpenAI VLLLM提供者
func init() {
	vlllm.Register("openai", NewProvider, true)
}
