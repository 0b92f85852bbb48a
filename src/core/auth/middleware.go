package auth

import (
	"errors"
	"net/http"
	"strings"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"

	"github.com/gin-gonic/gin"
)

// DeviceIDHeader 请求方设备标识头
const DeviceIDHeader = "Device-Id"

var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrDeviceMismatch = errors.New("token does not belong to this device")
)

// Authenticator 按配置校验请求：白名单设备直接放行，静态令牌按值匹配，
// 其余令牌必须是本服务签发且设备ID一致的JWT
type Authenticator struct {
	enabled bool
	token   *AuthToken
	static  map[string]bool
	allowed map[string]bool
	logger  *utils.TaggedLogger
}

// NewAuthenticator 根据 server.auth 配置创建校验器
func NewAuthenticator(config *configs.Config, logger *utils.Logger) (*Authenticator, error) {
	cfg := config.Server.Auth
	a := &Authenticator{
		enabled: cfg.Enabled,
		static:  make(map[string]bool),
		allowed: make(map[string]bool),
		logger:  logger.WithTag("auth"),
	}
	if !cfg.Enabled {
		return a, nil
	}

	for _, t := range cfg.Tokens {
		if t.Token != "" {
			a.static[t.Token] = true
		}
	}
	for _, d := range cfg.AllowedDevices {
		a.allowed[d] = true
	}
	if cfg.Secret != "" {
		token, err := NewAuthToken(cfg.Secret, 0)
		if err != nil {
			return nil, err
		}
		a.token = token
	}
	if a.token == nil && len(a.static) == 0 && len(a.allowed) == 0 {
		return nil, errors.New("认证已启用，但未配置 secret、tokens 或 allowed_devices")
	}
	return a, nil
}

// Enabled 是否启用认证
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Issue 为设备签发JWT
func (a *Authenticator) Issue(deviceID string) (string, error) {
	if a.token == nil {
		return "", errors.New("未配置 secret，无法签发令牌")
	}
	return a.token.GenerateToken(deviceID)
}

// Verify 校验设备ID与令牌
func (a *Authenticator) Verify(deviceID, bearer string) error {
	if !a.enabled {
		return nil
	}
	if deviceID != "" && a.allowed[deviceID] {
		return nil
	}
	if bearer == "" {
		return ErrMissingToken
	}
	if a.static[bearer] {
		return nil
	}
	if a.token == nil {
		return errors.New("invalid token")
	}
	tokenDevice, err := a.token.VerifyToken(bearer)
	if err != nil {
		return err
	}
	if tokenDevice != deviceID {
		return ErrDeviceMismatch
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// 浏览器的websocket无法设置请求头
	return c.Query("token")
}

func deviceID(c *gin.Context) string {
	if id := c.GetHeader(DeviceIDHeader); id != "" {
		return id
	}
	return c.Query("device_id")
}

// Middleware 返回gin认证中间件，OPTIONS 预检请求不校验
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		id := deviceID(c)
		if err := a.Verify(id, bearerToken(c)); err != nil {
			a.logger.Warn("认证失败 %v", map[string]interface{}{
				"device_id": id,
				"path":      c.Request.URL.Path,
				"error":     err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "unauthorized",
			})
			return
		}
		c.Next()
	}
}
