package ollama

import (
	"context"
	"fmt"
	"strings"

	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"
)

const (
	vendor         = "Ollama"
	defaultBaseURL = "http://localhost:11434"
)

// Provider Ollama /api/chat 接口，图片放在 images 字段中（纯 base64，不带 data URL 前缀）
type Provider struct {
	config *vlllm.Config
	logger *utils.Logger
}

// OllamaRequest Ollama API请求结构
type OllamaRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaMessage Ollama消息结构
type OllamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// OllamaResponse Ollama API响应结构
type OllamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewProvider 创建Ollama VLLLM提供者实例
func NewProvider(config *vlllm.Config, logger *utils.Logger) (vlllm.AnswerProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.ModelName == "" {
		return nil, fmt.Errorf("Ollama 需要配置 model_name（例如 qwen2.5vl:7b）")
	}
	logger.Debug("Ollama VLLLM初始化成功 %v", map[string]interface{}{
		"base_url": config.BaseURL,
		"model":    config.ModelName,
	})
	return &Provider{config: config, logger: logger}, nil
}

// Name 返回配置名称
func (p *Provider) Name() string {
	return p.config.Name
}

// Answer 以非流式方式调用 /api/chat
func (p *Provider) Answer(ctx context.Context, payload image.ImagePayload) (string, error) {
	request := OllamaRequest{
		Model: p.config.ModelName,
		Messages: []OllamaMessage{
			{
				Role:    "user",
				Content: p.config.PromptText(),
				Images:  []string{payload.Base64()},
			},
		},
		Stream: false,
	}
	options := map[string]interface{}{}
	if p.config.Temperature != 0 {
		options["temperature"] = p.config.Temperature
	}
	if p.config.TopP != 0 {
		options["top_p"] = p.config.TopP
	}
	if p.config.MaxTokens != 0 {
		options["num_predict"] = p.config.MaxTokens
	}
	if len(options) > 0 {
		request.Options = options
	}

	headers := map[string]string{}
	if p.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.config.APIKey
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimSuffix(p.config.BaseURL, "/"))
	var response OllamaResponse
	if err := vlllm.PostJSON(ctx, p.config.HTTPClient(), vendor, url, headers, request, &response); err != nil {
		p.logger.Warn("Ollama API调用失败: %v", err)
		return "", err
	}

	if strings.TrimSpace(response.Message.Content) == "" {
		return "", &vlllm.EmptyResponseError{Vendor: vendor}
	}
	return response.Message.Content, nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// init 注册Ollama VLLLM提供者，本地服务不需要凭证
func init() {
	vlllm.Register("ollama", NewProvider, false)
}
