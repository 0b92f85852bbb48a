package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/auth"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"
	"snap-answer-server/src/models"

	"github.com/gin-gonic/gin"
)

// Selection 当前生效的提供者选择
type Selection struct {
	VLLLM   string                 `json:"vlllm"`
	Prompt  string                 `json:"prompt"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// CfgResponse GET /cfg 的响应
type CfgResponse struct {
	Success    bool      `json:"success"`
	Selection  Selection `json:"selection"`
	Configured []string  `json:"configured"`
	Registered []string  `json:"registered"`
	Persisted  bool      `json:"persisted"`
	Message    string    `json:"message,omitempty"`
}

type DefaultCfgService struct {
	logger  *utils.Logger
	config  *configs.Config
	target  ProviderTarget
	store   SettingsStore
	auth    *auth.Authenticator
	mu      sync.Mutex // 串行化配置修改
	current Selection
}

// NewDefaultCfgService 构造函数，store 可以为空
func NewDefaultCfgService(config *configs.Config, target ProviderTarget, store SettingsStore, authenticator *auth.Authenticator, logger *utils.Logger) (*DefaultCfgService, error) {
	if target == nil {
		return nil, errors.New("provider target is nil")
	}
	if authenticator == nil {
		return nil, errors.New("authenticator is nil")
	}
	service := &DefaultCfgService{
		logger: logger,
		config: config,
		target: target,
		store:  store,
		auth:   authenticator,
		current: Selection{
			VLLLM:  config.SelectedModule["VLLLM"],
			Prompt: config.DefaultPrompt,
		},
	}
	return service, nil
}

// Restore 读取数据库中保存的选择并创建对应的提供者。没有保存记录时返回 nil
func (s *DefaultCfgService) Restore(ctx context.Context) (vlllm.AnswerProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, nil
	}
	saved, found, err := s.store.Load(ctx)
	if err != nil || !found {
		return nil, err
	}
	sel := Selection{VLLLM: saved.SelectedVLLLM, Prompt: saved.Prompt, Options: saved.VLLMOptions}
	provider, err := s.build(sel)
	if err != nil {
		return nil, fmt.Errorf("恢复已保存的配置 %s 失败: %w", sel.VLLLM, err)
	}
	s.current = sel
	s.logger.Info("已恢复保存的VLLLM配置: %s", sel.VLLLM)
	return provider, nil
}

// Start 实现 CfgService 接口，注册所有 Cfg 相关路由
func (s *DefaultCfgService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	api := apiGroup.Group("", s.auth.Middleware())
	api.GET("/cfg", s.handleGet)
	api.POST("/cfg", s.handlePost)
	api.OPTIONS("/cfg", s.handleOptions)

	s.logger.Info("Cfg HTTP服务路由注册完成")
	return nil
}

func (s *DefaultCfgService) configuredNames() []string {
	names := make([]string, 0, len(s.config.VLLLM))
	for name := range s.config.VLLLM {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *DefaultCfgService) handleGet(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, CfgResponse{
		Success:    true,
		Selection:  s.current,
		Configured: s.configuredNames(),
		Registered: vlllm.GetRegisteredProviders(),
		Persisted:  s.store != nil,
	})
}

func (s *DefaultCfgService) handlePost(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	s.mu.Lock()
	defer s.mu.Unlock()

	var req Selection
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, fmt.Sprintf("请求格式错误: %v", err))
		return
	}
	if req.VLLLM == "" {
		req.VLLLM = s.current.VLLLM
	}

	provider, err := s.build(req)
	if err != nil {
		status := http.StatusBadRequest
		var authErr *vlllm.AuthConfigError
		if errors.As(err, &authErr) {
			status = http.StatusUnprocessableEntity
		}
		s.respondError(c, status, err.Error())
		return
	}

	if s.store != nil {
		err := s.store.Save(c.Request.Context(), models.SystemConfig{
			SelectedVLLLM: req.VLLLM,
			Prompt:        req.Prompt,
			VLLMOptions:   req.Options,
		})
		if err != nil {
			provider.Cleanup()
			s.logger.Error("保存配置失败: %v", err)
			s.respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.target.SetProvider(provider)
	s.current = req
	s.logger.Info("VLLLM配置已更新 %v", map[string]interface{}{
		"vlllm":   req.VLLLM,
		"prompt":  req.Prompt != "",
		"options": len(req.Options),
	})

	c.JSON(http.StatusOK, CfgResponse{
		Success:    true,
		Selection:  s.current,
		Configured: s.configuredNames(),
		Registered: vlllm.GetRegisteredProviders(),
		Persisted:  s.store != nil,
	})
}

// build 根据选择创建提供者，缺少凭证时返回 *vlllm.AuthConfigError
func (s *DefaultCfgService) build(sel Selection) (vlllm.AnswerProvider, error) {
	cfg, ok := s.config.VLLLM[sel.VLLLM]
	if !ok {
		return nil, fmt.Errorf("未找到VLLLM配置: %s", sel.VLLLM)
	}
	cfg, err := ApplyOptions(cfg, sel.Options)
	if err != nil {
		return nil, err
	}
	return vlllm.Create(sel.VLLLM, cfg, sel.Prompt, s.logger)
}

// ApplyOptions 用运行时选项覆盖配置文件中的模型参数
func ApplyOptions(cfg configs.VLLMConfig, opts map[string]interface{}) (configs.VLLMConfig, error) {
	for key, raw := range opts {
		switch strings.ToLower(key) {
		case "model_name":
			v, ok := raw.(string)
			if !ok || v == "" {
				return cfg, fmt.Errorf("选项 %s 必须是非空字符串", key)
			}
			cfg.ModelName = v
		case "temperature":
			v, ok := raw.(float64)
			if !ok {
				return cfg, fmt.Errorf("选项 %s 必须是数字", key)
			}
			cfg.Temperature = v
		case "top_p":
			v, ok := raw.(float64)
			if !ok {
				return cfg, fmt.Errorf("选项 %s 必须是数字", key)
			}
			cfg.TopP = v
		case "max_tokens":
			v, ok := raw.(float64)
			if !ok || v < 0 {
				return cfg, fmt.Errorf("选项 %s 必须是非负整数", key)
			}
			cfg.MaxTokens = int(v)
		case "timeout":
			v, ok := raw.(string)
			if !ok {
				return cfg, fmt.Errorf("选项 %s 必须是时长字符串", key)
			}
			cfg.Timeout = v
		default:
			return cfg, fmt.Errorf("不支持的选项: %s", key)
		}
	}
	return cfg, nil
}

func (s *DefaultCfgService) respondError(c *gin.Context, status int, message string) {
	s.logger.Warn("Cfg请求失败: %s", message)
	c.JSON(status, CfgResponse{Success: false, Selection: s.current, Message: message})
}

func (s *DefaultCfgService) handleOptions(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Device-Id")
	c.Status(http.StatusNoContent)
}
