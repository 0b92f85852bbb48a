package gemini

import (
	"context"
	"fmt"
	"strings"

	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"
)

const (
	vendor         = "Gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
)

// Provider Gemini generateContent 接口，图片以 inline_data 内联 base64 发送
type Provider struct {
	config *vlllm.Config
	logger *utils.Logger
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
}

// NewProvider 创建Gemini VLLLM提供者实例
func NewProvider(config *vlllm.Config, logger *utils.Logger) (vlllm.AnswerProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.ModelName == "" {
		config.ModelName = defaultModel
	}
	return &Provider{config: config, logger: logger}, nil
}

// Name 返回配置名称
func (p *Provider) Name() string {
	return p.config.Name
}

func (p *Provider) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(p.config.BaseURL, "/"), p.config.ModelName)
}

// Answer 调用 generateContent，返回首个候选的全部文本
func (p *Provider) Answer(ctx context.Context, payload image.ImagePayload) (string, error) {
	request := generateRequest{
		Contents: []content{
			{
				Role: "user",
				Parts: []part{
					{InlineData: &inlineData{MimeType: payload.MimeType, Data: payload.Base64()}},
					{Text: p.config.PromptText()},
				},
			},
		},
	}
	if p.config.Temperature != 0 || p.config.TopP != 0 || p.config.MaxTokens != 0 {
		request.GenerationConfig = &generationConfig{
			Temperature:     p.config.Temperature,
			TopP:            p.config.TopP,
			MaxOutputTokens: p.config.MaxTokens,
		}
	}

	var response generateResponse
	headers := map[string]string{"x-goog-api-key": p.config.APIKey}
	if err := vlllm.PostJSON(ctx, p.config.HTTPClient(), vendor, p.endpoint(), headers, request, &response); err != nil {
		p.logger.Warn("Gemini API调用失败: %v", err)
		return "", err
	}

	if len(response.Candidates) == 0 {
		detail := ""
		if response.PromptFeedback.BlockReason != "" {
			detail = "Blocked: " + response.PromptFeedback.BlockReason
		}
		return "", &vlllm.EmptyResponseError{Vendor: vendor, Detail: detail}
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		detail := ""
		if reason := response.Candidates[0].FinishReason; reason != "" && reason != "STOP" {
			detail = "Finish reason: " + reason
		}
		return "", &vlllm.EmptyResponseError{Vendor: vendor, Detail: detail}
	}

	p.logger.Info("Gemini API调用成功，回答长度 %d", text.Len())
	return text.String(), nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

func init() {
	vlllm.Register("gemini", NewProvider, true)
}
