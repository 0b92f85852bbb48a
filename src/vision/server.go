package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/answer"
	"snap-answer-server/src/core/auth"
	"snap-answer-server/src/core/camera"
	"snap-answer-server/src/core/events"
	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"

	"github.com/gin-gonic/gin"
)

// multipart 表单除文件外的额外开销
const formOverhead = 1 << 20

type DefaultVisionService struct {
	logger    *utils.Logger
	config    *configs.Config
	answers   *answer.Orchestrator
	camera    *camera.Session
	processor *image.ImageProcessor
	hub       *events.Hub
	auth      *auth.Authenticator
}

// NewDefaultVisionService 构造函数，把编排器和摄像头的状态变化接到事件中心
func NewDefaultVisionService(
	config *configs.Config,
	answers *answer.Orchestrator,
	cam *camera.Session,
	processor *image.ImageProcessor,
	hub *events.Hub,
	authenticator *auth.Authenticator,
	logger *utils.Logger,
) (*DefaultVisionService, error) {
	if answers == nil || cam == nil || processor == nil || hub == nil || authenticator == nil {
		return nil, errors.New("vision service dependencies must not be nil")
	}
	service := &DefaultVisionService{
		logger:    logger,
		config:    config,
		answers:   answers,
		camera:    cam,
		processor: processor,
		hub:       hub,
		auth:      authenticator,
	}

	answers.OnChange(func(s answer.State) {
		hub.Publish(events.TypeAnswer, newAnswerEvent(s))
	})
	cam.OnChange(func(s camera.State) {
		hub.Publish(events.TypeCamera, s)
	})
	hub.Publish(events.TypeAnswer, newAnswerEvent(answers.Snapshot()))
	hub.Publish(events.TypeCamera, cam.Snapshot())

	return service, nil
}

// Start 实现 VisionService 接口，注册所有 Vision 相关路由
func (s *DefaultVisionService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	api := apiGroup.Group("", s.corsMiddleware(), s.auth.Middleware())

	// Vision 主接口（GET用于状态检查，POST用于一次性图片分析）
	api.GET("/vision", s.handleGet)
	api.POST("/vision", s.handlePost)
	api.GET("/vision/metrics", s.handleMetrics)

	api.POST("/image", s.handleSelectImage)
	api.GET("/state", s.handleState)
	api.POST("/answer", s.handleAnswer)
	api.POST("/reset", s.handleReset)

	api.GET("/camera", s.handleCameraState)
	api.POST("/camera/open", s.handleCameraOpen)
	api.POST("/camera/switch", s.handleCameraSwitch)
	api.POST("/camera/zoom", s.handleCameraZoom)
	api.POST("/camera/focus", s.handleCameraFocus)
	api.POST("/camera/capture", s.handleCameraCapture)
	api.POST("/camera/close", s.handleCameraClose)

	api.GET("/ws", gin.WrapH(s.hub))

	for _, path := range []string{
		"/vision", "/image", "/state", "/answer", "/reset", "/camera",
		"/camera/open", "/camera/switch", "/camera/zoom", "/camera/focus",
		"/camera/capture", "/camera/close",
	} {
		api.OPTIONS(path, s.handleOptions)
	}

	s.logger.Info("Vision HTTP服务路由注册完成")
	return nil
}

// corsMiddleware 为所有 Vision 路由添加CORS头
func (s *DefaultVisionService) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Headers", "client-id, content-type, device-id, authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Next()
	}
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *DefaultVisionService) handleOptions(c *gin.Context) {
	c.Status(http.StatusOK)
}

// handleGet 处理GET请求（状态检查）
func (s *DefaultVisionService) handleGet(c *gin.Context) {
	provider := s.answers.Provider()
	if provider == nil {
		c.String(http.StatusOK, "Vision 接口运行不正常，没有可用的VLLLM provider")
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Vision 接口运行正常，当前视觉模型: %s", provider.Name()))
}

func (s *DefaultVisionService) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.processor.GetMetrics())
}

// readUpload 读取表单中的 file 字段并校验
func (s *DefaultVisionService) readUpload(c *gin.Context) (image.ImagePayload, error) {
	maxSize := s.processor.MaxFileSize()
	if maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+formOverhead)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		return image.ImagePayload{}, &image.ReadError{Reason: "缺少图片文件", Err: err}
	}
	defer file.Close()

	payload, err := image.ReadUpload(file, header.Filename, header.Header.Get("Content-Type"), maxSize)
	if err != nil {
		return image.ImagePayload{}, err
	}
	if _, err := s.processor.ProcessImage(payload, image.SourceUpload); err != nil {
		return image.ImagePayload{}, err
	}

	s.logger.Debug("收到图片上传 %v", map[string]interface{}{
		"filename":  header.Filename,
		"size":      header.Size,
		"mime_type": payload.MimeType,
		"device_id": c.GetHeader(auth.DeviceIDHeader),
	})
	return payload, nil
}

// handlePost 一次性分析：上传图片并直接返回回答，不改变当前展示的状态
func (s *DefaultVisionService) handlePost(c *gin.Context) {
	payload, err := s.readUpload(c)
	if err != nil {
		s.logger.Warn("Vision请求解析失败: %v", err)
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	provider := s.answers.Provider()
	if provider == nil {
		s.respondError(c, http.StatusServiceUnavailable, answer.ErrNoProvider.Error())
		return
	}

	result, err := provider.Answer(context.WithoutCancel(c.Request.Context()), payload)
	if err != nil {
		s.logger.Warn("Vision请求处理失败: %v", err)
		s.respondError(c, providerErrorStatus(err), answer.FailurePrefix+err.Error())
		return
	}

	s.logger.Info("Vision分析完成: %d 字符", len(result))
	c.JSON(http.StatusOK, VisionResponse{Success: true, Result: result})
}

func (s *DefaultVisionService) handleSelectImage(c *gin.Context) {
	payload, err := s.readUpload(c)
	if err != nil {
		s.logger.Warn("图片上传失败: %v", err)
		c.JSON(http.StatusBadRequest, StateResponse{Message: err.Error(), State: s.answers.Snapshot()})
		return
	}
	// 选择新图片即关闭摄像头视图
	s.camera.Close()
	c.JSON(http.StatusOK, StateResponse{Success: true, State: s.answers.SelectImage(payload)})
}

func (s *DefaultVisionService) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, StateResponse{Success: true, State: s.answers.Snapshot()})
}

// handleAnswer 请求回答。客户端断开不会取消在途请求，结果仍写入状态并通过websocket推送
func (s *DefaultVisionService) handleAnswer(c *gin.Context) {
	state, err := s.answers.Ask(context.WithoutCancel(c.Request.Context()))
	if err == nil {
		c.JSON(http.StatusOK, StateResponse{Success: true, State: state})
		return
	}

	status := http.StatusBadGateway
	message := state.Error
	switch {
	case errors.Is(err, answer.ErrNoImage):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, answer.ErrRequestPending), errors.Is(err, answer.ErrStaleResult):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, answer.ErrNoProvider):
		status, message = http.StatusServiceUnavailable, err.Error()
	default:
		status = providerErrorStatus(err)
	}
	c.JSON(status, StateResponse{Message: message, State: state})
}

func (s *DefaultVisionService) handleReset(c *gin.Context) {
	s.camera.Close()
	c.JSON(http.StatusOK, StateResponse{Success: true, State: s.answers.Reset()})
}

// providerErrorStatus 把回答提供者的错误映射为HTTP状态码
func providerErrorStatus(err error) int {
	var httpErr *vlllm.HttpError
	var netErr *vlllm.NetworkError
	switch {
	case errors.As(err, &httpErr):
		return http.StatusBadGateway
	case errors.As(err, &netErr):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// respondError 返回错误响应
func (s *DefaultVisionService) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, VisionResponse{
		Success: false,
		Message: message,
	})
}

// Cleanup 清理资源
func (s *DefaultVisionService) Cleanup() error {
	s.camera.Close()
	s.hub.Close()
	if provider := s.answers.Provider(); provider != nil {
		if err := provider.Cleanup(); err != nil {
			s.logger.Warn("清理VLLLM provider %s 失败: %v", provider.Name(), err)
		}
	}
	s.logger.Info("Vision服务清理完成")
	return nil
}
