package vlllm

import (
	"context"
	"net/http"
	"time"

	"snap-answer-server/src/core/image"
)

// DefaultPrompt 内置的解题提示词
const DefaultPrompt = "You are an expert AI agent specializing in reasoning and solving multiple-choice questions (MCQs). " +
	"Analyze the provided image and answer any questions within it. " +
	"Provide a clear and concise explanation for your reasoning. " +
	"If there are no clear questions, describe what you see and what potential questions could be asked."

// AnswerProvider 根据图片生成回答的厂商实现
type AnswerProvider interface {
	// Name 返回配置中的提供者名称
	Name() string
	// Answer 发送一次请求并原样返回回答文本。失败时返回
	// *HttpError、*EmptyResponseError 或 *NetworkError
	Answer(ctx context.Context, payload image.ImagePayload) (string, error)
	Cleanup() error
}

// Config VLLLM配置结构
type Config struct {
	Name        string
	Type        string
	ModelName   string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	TopP        float64
	Timeout     time.Duration
	Prompt      string
	Data        map[string]interface{}

	// Transport 为空时使用 http.DefaultTransport
	Transport http.RoundTripper
}

// PromptText 返回本次请求使用的提示词
func (c *Config) PromptText() string {
	if c.Prompt != "" {
		return c.Prompt
	}
	return DefaultPrompt
}

// HTTPClient 构造请求厂商接口的客户端，Timeout 为 0 时不设超时
func (c *Config) HTTPClient() *http.Client {
	return &http.Client{
		Timeout:   c.Timeout,
		Transport: c.Transport,
	}
}
