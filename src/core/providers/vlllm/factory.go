package vlllm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"
)

// Factory VLLLM工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (AnswerProvider, error)

type registration struct {
	factory            Factory
	requiresCredential bool
}

var (
	mu        sync.RWMutex
	factories = make(map[string]registration)
)

// Register 注册VLLLM提供者工厂。requiresCredential 为 true 时，
// 缺少凭证的配置在 Create 阶段即失败，不会发出任何请求
func Register(name string, factory Factory, requiresCredential bool) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = registration{factory: factory, requiresCredential: requiresCredential}
}

// Create 创建VLLLM提供者实例。name 为配置项名称，type 为空时按 name 选择厂商实现
func Create(name string, vlllmConfig configs.VLLMConfig, prompt string, logger *utils.Logger) (AnswerProvider, error) {
	typ := strings.ToLower(vlllmConfig.Type)
	if typ == "" {
		typ = strings.ToLower(name)
	}

	mu.RLock()
	reg, ok := factories[typ]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知的VLLLM提供者类型: %s", typ)
	}

	var timeout time.Duration
	if vlllmConfig.Timeout != "" {
		d, err := time.ParseDuration(vlllmConfig.Timeout)
		if err != nil {
			return nil, fmt.Errorf("无效的超时配置 %q: %w", vlllmConfig.Timeout, err)
		}
		timeout = d
	}

	config := &Config{
		Name:        name,
		Type:        typ,
		ModelName:   vlllmConfig.ModelName,
		BaseURL:     vlllmConfig.BaseURL,
		APIKey:      vlllmConfig.ResolveAPIKey(),
		Temperature: vlllmConfig.Temperature,
		MaxTokens:   vlllmConfig.MaxTokens,
		TopP:        vlllmConfig.TopP,
		Timeout:     timeout,
		Prompt:      prompt,
		Data:        vlllmConfig.Extra,
	}

	if reg.requiresCredential && config.APIKey == "" {
		env := vlllmConfig.APIKeyEnv
		if env == "" {
			env = "API_KEY"
		}
		return nil, &AuthConfigError{Provider: name, EnvVar: env}
	}

	provider, err := reg.factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建VLLLM提供者失败: %w", err)
	}

	logger.Debug("VLLLM提供者创建成功 %v", map[string]interface{}{
		"name":       name,
		"type":       typ,
		"model_name": config.ModelName,
	})

	return provider, nil
}

// GetRegisteredProviders 获取已注册的提供者类型列表
func GetRegisteredProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	providers := make([]string, 0, len(factories))
	for name := range factories {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}
