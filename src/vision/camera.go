package vision

import (
	"errors"
	"net/http"

	"snap-answer-server/src/core/camera"
	"snap-answer-server/src/core/image"

	"github.com/gin-gonic/gin"
)

func (s *DefaultVisionService) cameraError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	resp := CameraResponse{Message: err.Error(), Camera: s.camera.Snapshot()}

	var accessErr *camera.PermissionOrHardwareError
	switch {
	case errors.As(err, &accessErr):
		status = http.StatusServiceUnavailable
		resp.Reason = string(accessErr.Reason)
	case errors.Is(err, camera.ErrNotOpen):
		status = http.StatusConflict
	case errors.Is(err, camera.ErrZoomUnsupported):
		status = http.StatusBadRequest
	}
	s.logger.Warn("摄像头操作失败: %v", err)
	c.JSON(status, resp)
}

func (s *DefaultVisionService) handleCameraState(c *gin.Context) {
	c.JSON(http.StatusOK, CameraResponse{Success: true, Camera: s.camera.Snapshot()})
}

func (s *DefaultVisionService) handleCameraOpen(c *gin.Context) {
	s.answers.SetCameraOpen(true)
	if err := s.camera.Open(c.Request.Context()); err != nil {
		s.cameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, CameraResponse{Success: true, Camera: s.camera.Snapshot()})
}

func (s *DefaultVisionService) handleCameraSwitch(c *gin.Context) {
	switched, err := s.camera.Switch(c.Request.Context())
	if err != nil {
		s.cameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, CameraResponse{Success: true, Switched: &switched, Camera: s.camera.Snapshot()})
}

func (s *DefaultVisionService) handleCameraZoom(c *gin.Context) {
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CameraResponse{Message: err.Error(), Camera: s.camera.Snapshot()})
		return
	}
	if _, err := s.camera.SetZoom(*req.Zoom); err != nil {
		s.cameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, CameraResponse{Success: true, Camera: s.camera.Snapshot()})
}

func (s *DefaultVisionService) handleCameraFocus(c *gin.Context) {
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CameraResponse{Message: err.Error(), Camera: s.camera.Snapshot()})
		return
	}
	if _, err := s.camera.Focus(*req.X, *req.Y); err != nil {
		s.cameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, CameraResponse{Success: true, Camera: s.camera.Snapshot()})
}

// handleCameraCapture 抓拍并替换当前图片，设备随后被释放
func (s *DefaultVisionService) handleCameraCapture(c *gin.Context) {
	payload, err := s.camera.Capture()
	if err != nil {
		s.answers.SetCameraOpen(false)
		s.cameraError(c, err)
		return
	}
	if _, err := s.processor.ProcessImage(payload, image.SourceCapture); err != nil {
		s.answers.SetCameraOpen(false)
		c.JSON(http.StatusUnprocessableEntity, StateResponse{Message: err.Error(), State: s.answers.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, StateResponse{Success: true, State: s.answers.SelectImage(payload)})
}

func (s *DefaultVisionService) handleCameraClose(c *gin.Context) {
	s.camera.Close()
	s.answers.SetCameraOpen(false)
	c.JSON(http.StatusOK, CameraResponse{Success: true, Camera: s.camera.Snapshot()})
}
