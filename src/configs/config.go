package configs

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenConfig Token配置
type TokenConfig struct {
	Token string `yaml:"token"`
}

// Config 主配置结构
type Config struct {
	Server struct {
		IP   string `yaml:"ip"`
		Port int    `yaml:"port"`
		Auth struct {
			Enabled        bool          `yaml:"enabled"`
			Secret         string        `yaml:"secret"`
			AllowedDevices []string      `yaml:"allowed_devices"`
			Tokens         []TokenConfig `yaml:"tokens"`
		} `yaml:"auth"`
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	// DefaultPrompt 覆盖内置的解题提示词，为空时使用内置提示词
	DefaultPrompt string `yaml:"prompt"`

	SelectedModule map[string]string `yaml:"selected_module"`

	VLLLM map[string]VLLMConfig `yaml:"VLLLM"`

	Camera CameraConfig `yaml:"camera"`

	ConnectivityCheck ConnectivityCheckConfig `yaml:"connectivity_check"`
}

// ConnectivityCheckConfig 启动时的VLLLM连通性检查配置
type ConnectivityCheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"`    // basic：只创建实例；functional：发送一张测试图片
	Timeout string `yaml:"timeout"` // 单个提供者的检查超时
}

// SecurityConfig 图片安全配置结构
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`    // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`       // 最大像素数量
	MaxWidth       int      `yaml:"max_width"`        // 最大宽度
	MaxHeight      int      `yaml:"max_height"`       // 最大高度
	AllowedFormats []string `yaml:"allowed_formats"`  // 允许的图片格式
	EnableDeepScan bool     `yaml:"enable_deep_scan"` // 启用可执行文件签名扫描
}

// VLLMConfig VLLLM配置结构（视觉语言大模型）
type VLLMConfig struct {
	Type        string                 `yaml:"type"`        // 厂商类型：openai / gemini / ollama
	ModelName   string                 `yaml:"model_name"`  // 模型名称，使用支持视觉的模型
	BaseURL     string                 `yaml:"url"`         // API地址
	APIKey      string                 `yaml:"api_key"`     // API密钥
	APIKeyEnv   string                 `yaml:"api_key_env"` // API密钥所在的环境变量，默认 API_KEY
	Temperature float64                `yaml:"temperature"` // 温度参数
	MaxTokens   int                    `yaml:"max_tokens"`  // 最大令牌数
	TopP        float64                `yaml:"top_p"`       // TopP参数
	Timeout     string                 `yaml:"timeout"`     // 请求超时，为空时使用传输层默认值
	Security    SecurityConfig         `yaml:"security"`    // 图片安全配置
	Extra       map[string]interface{} `yaml:",inline"`     // 额外配置
}

// CameraConfig 摄像头配置
type CameraConfig struct {
	Backend     string        `yaml:"backend"`      // 设备后端：file / gocv
	JPEGQuality int           `yaml:"jpeg_quality"` // 抓拍JPEG质量 1-100
	FocusDelay  string        `yaml:"focus_delay"`  // 对焦指示器显示时长
	Devices     []DeviceEntry `yaml:"devices"`      // file 后端的虚拟设备
	Indexes     []int         `yaml:"indexes"`      // gocv 后端的设备序号
}

// DeviceEntry file 后端的一个虚拟摄像头
type DeviceEntry struct {
	ID       string  `yaml:"id"`
	Label    string  `yaml:"label"`
	Path     string  `yaml:"path"`
	ZoomMin  float64 `yaml:"zoom_min"`
	ZoomMax  float64 `yaml:"zoom_max"`
	ZoomStep float64 `yaml:"zoom_step"`
}

// DefaultSecurityConfig 返回默认的图片安全配置
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxFileSize:    10 * 1024 * 1024,
		MaxPixels:      40 * 1000 * 1000,
		MaxWidth:       8192,
		MaxHeight:      8192,
		AllowedFormats: []string{"jpeg", "jpg", "png", "gif", "webp", "bmp", "tiff"},
		EnableDeepScan: true,
	}
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, path, err
	}
	return config, path, nil
}

// ParseConfig 解析yaml配置并补全默认值
func ParseConfig(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.LogLevel == "" {
		c.Log.LogLevel = "INFO"
	}
	if c.Log.LogDir == "" {
		c.Log.LogDir = "logs"
	}
	if c.Log.LogFile == "" {
		c.Log.LogFile = "server.log"
	}
	if c.SelectedModule == nil {
		c.SelectedModule = map[string]string{}
	}
	for name, v := range c.VLLLM {
		if v.Security.MaxFileSize == 0 {
			v.Security = DefaultSecurityConfig()
		}
		c.VLLLM[name] = v
	}
	if c.Camera.Backend == "" {
		c.Camera.Backend = "file"
	}
	if c.Camera.JPEGQuality <= 0 || c.Camera.JPEGQuality > 100 {
		c.Camera.JPEGQuality = 92
	}
}

// ResolveAPIKey 返回厂商凭证：优先使用配置文件中的 api_key，否则读取环境变量
func (v VLLMConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(v.APIKey); key != "" {
		return os.ExpandEnv(key)
	}
	env := v.APIKeyEnv
	if env == "" {
		env = "API_KEY"
	}
	return strings.TrimSpace(os.Getenv(env))
}
