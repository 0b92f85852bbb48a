package health

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
)

// CheckMode 检查模式
type CheckMode int

const (
	// BasicCheck 基础检查（只验证配置和凭证，创建实例）
	BasicCheck CheckMode = iota
	// FunctionalCheck 功能性检查（发送一张测试图片）
	FunctionalCheck
)

func (m CheckMode) String() string {
	if m == FunctionalCheck {
		return "functional"
	}
	return "basic"
}

// CheckResult 检查结果
type CheckResult struct {
	Name      string                 `json:"name"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	CheckMode string                 `json:"check_mode"`
}

// ConnectivityConfig 连通性检查配置
type ConnectivityConfig struct {
	Enabled bool
	Mode    CheckMode
	Timeout time.Duration
}

// ConfigFromYAML 从YAML配置创建连通性检查配置
func ConfigFromYAML(yamlConfig *configs.ConnectivityCheckConfig) (*ConnectivityConfig, error) {
	if yamlConfig == nil {
		return DefaultConnectivityConfig(), nil
	}

	timeout := 30 * time.Second
	if yamlConfig.Timeout != "" {
		t, err := time.ParseDuration(yamlConfig.Timeout)
		if err != nil {
			return nil, fmt.Errorf("无效的连通性检查超时 %q: %w", yamlConfig.Timeout, err)
		}
		timeout = t
	}

	mode := BasicCheck
	switch strings.ToLower(yamlConfig.Mode) {
	case "", "basic":
	case "functional":
		mode = FunctionalCheck
	default:
		return nil, fmt.Errorf("未知的连通性检查模式: %s", yamlConfig.Mode)
	}

	return &ConnectivityConfig{
		Enabled: yamlConfig.Enabled,
		Mode:    mode,
		Timeout: timeout,
	}, nil
}

// DefaultConnectivityConfig 默认连通性检查配置
func DefaultConnectivityConfig() *ConnectivityConfig {
	return &ConnectivityConfig{
		Enabled: true,
		Mode:    BasicCheck,
		Timeout: 30 * time.Second,
	}
}

// HealthChecker 检查配置中的VLLLM提供者是否可用
type HealthChecker struct {
	config     *configs.Config
	connConfig *ConnectivityConfig
	logger     *utils.Logger

	mu      sync.Mutex
	results map[string]*CheckResult
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(config *configs.Config, connConfig *ConnectivityConfig, logger *utils.Logger) *HealthChecker {
	if connConfig == nil {
		connConfig = DefaultConnectivityConfig()
	}
	return &HealthChecker{
		config:     config,
		connConfig: connConfig,
		logger:     logger,
		results:    make(map[string]*CheckResult),
	}
}

// CheckSelected 只检查 selected_module 中选择的提供者
func (hc *HealthChecker) CheckSelected(ctx context.Context) error {
	if !hc.connConfig.Enabled {
		hc.logger.Info("连通性检查已禁用，跳过检查")
		return nil
	}
	name := hc.config.SelectedModule["VLLLM"]
	if name == "" {
		hc.logger.Info("未选择VLLLM提供者，跳过检查")
		return nil
	}
	return hc.CheckProvider(ctx, name)
}

// CheckAllProviders 检查所有配置的提供者，返回失败数量的汇总错误
func (hc *HealthChecker) CheckAllProviders(ctx context.Context) error {
	if !hc.connConfig.Enabled {
		hc.logger.Info("连通性检查已禁用，跳过检查")
		return nil
	}

	names := make([]string, 0, len(hc.config.VLLLM))
	for name := range hc.config.VLLLM {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := hc.CheckProvider(ctx, name); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%s检查失败: %d个提供者不可用 (%s)", hc.connConfig.Mode, len(failed), strings.Join(failed, ", "))
	}
	hc.logger.Info("所有VLLLM提供者%s检查通过", hc.connConfig.Mode)
	return nil
}

// CheckProvider 检查单个提供者
func (hc *HealthChecker) CheckProvider(ctx context.Context, name string) error {
	hc.logger.Info("检查VLLLM提供者: %s", name)

	start := time.Now()
	result := &CheckResult{
		Name:      name,
		Timestamp: start,
		CheckMode: hc.connConfig.Mode.String(),
		Details:   make(map[string]interface{}),
	}
	err := hc.runCheck(ctx, name, result)
	result.Duration = time.Since(start)
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		hc.logger.Warn("VLLLM提供者 %s 检查失败: %v", name, err)
	} else {
		hc.logger.Info("VLLLM提供者 %s %s检查通过", name, hc.connConfig.Mode)
	}

	hc.mu.Lock()
	hc.results[name] = result
	hc.mu.Unlock()
	return err
}

func (hc *HealthChecker) runCheck(ctx context.Context, name string, result *CheckResult) error {
	vlllmConfig, ok := hc.config.VLLLM[name]
	if !ok {
		return fmt.Errorf("找不到配置 %s", name)
	}
	result.Details["type"] = vlllmConfig.Type
	result.Details["model_name"] = vlllmConfig.ModelName

	provider, err := vlllm.Create(name, vlllmConfig, hc.config.DefaultPrompt, hc.logger)
	if err != nil {
		return fmt.Errorf("创建VLLLM实例失败: %w", err)
	}
	defer provider.Cleanup()

	if hc.connConfig.Mode != FunctionalCheck {
		return nil
	}

	payload, err := TestImage()
	if err != nil {
		return fmt.Errorf("生成测试图片失败: %w", err)
	}

	testCtx, cancel := context.WithTimeout(ctx, hc.connConfig.Timeout)
	defer cancel()

	answer, err := provider.Answer(testCtx, payload)
	if err != nil {
		return fmt.Errorf("VLLLM图像分析测试失败: %w", err)
	}
	result.Details["functional_test"] = "passed"
	result.Details["test_response_length"] = len(answer)
	return nil
}

// TestImage 生成功能性检查使用的小尺寸PNG
func TestImage() (image.ImagePayload, error) {
	img := imaging.New(32, 32, color.NRGBA{R: 30, G: 90, B: 220, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return image.ImagePayload{}, err
	}
	return image.NewPayload(buf.Bytes(), "image/png"), nil
}

// GetResults 获取所有检查结果的副本
func (hc *HealthChecker) GetResults() map[string]CheckResult {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	out := make(map[string]CheckResult, len(hc.results))
	for k, v := range hc.results {
		out[k] = *v
	}
	return out
}

// PrintReport 打印检查报告
func (hc *HealthChecker) PrintReport() {
	hc.logger.Info("=== 连通性检查报告 ===")

	results := hc.GetResults()
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := results[name]
		status := "通过"
		if !result.Success {
			status = "失败"
		}
		hc.logger.Info("%s (%s): %s (耗时: %v)", name, result.CheckMode, status, result.Duration)
		if result.Error != "" {
			hc.logger.Error("  错误: %s", result.Error)
		}
	}

	hc.logger.Info("=== 检查报告结束 ===")
}

// Start 注册 GET /health，返回最近一次的检查结果
func (hc *HealthChecker) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.GET("/health", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		results := hc.GetResults()
		healthy := true
		for _, r := range results {
			if !r.Success {
				healthy = false
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"success": healthy,
			"enabled": hc.connConfig.Enabled,
			"mode":    hc.connConfig.Mode.String(),
			"results": results,
		})
	})
	return nil
}
