package vision

import (
	"snap-answer-server/src/core/answer"
	"snap-answer-server/src/core/camera"
)

// VisionResponse Vision标准响应结构（兼容Python版本）
type VisionResponse struct {
	Success bool   `json:"success"`           // 是否成功
	Result  string `json:"result,omitempty"`  // 分析结果（成功时）
	Message string `json:"message,omitempty"` // 错误信息（失败时）
}

// StateResponse 返回编排器状态
type StateResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	State   answer.State `json:"state"`
}

// CameraResponse 返回摄像头状态
type CameraResponse struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message,omitempty"`
	Reason   string       `json:"reason,omitempty"`   // 打开失败的分类
	Switched *bool        `json:"switched,omitempty"` // 仅切换请求
	Camera   camera.State `json:"camera"`
}

// ZoomRequest 缩放请求
type ZoomRequest struct {
	Zoom *float64 `json:"zoom" binding:"required"`
}

// FocusRequest 点击对焦请求，坐标为相对预览区域的比例
type FocusRequest struct {
	X *float64 `json:"x" binding:"required"`
	Y *float64 `json:"y" binding:"required"`
}

// AnswerEvent 通过websocket推送的回答状态，不包含图片数据
type AnswerEvent struct {
	Status     answer.Status `json:"status"`
	Result     string        `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	CameraOpen bool          `json:"camera_open"`
	Provider   string        `json:"provider,omitempty"`
	HasImage   bool          `json:"has_image"`
	MimeType   string        `json:"mime_type,omitempty"`
}

func newAnswerEvent(s answer.State) AnswerEvent {
	ev := AnswerEvent{
		Status:     s.Status,
		Result:     s.Result,
		Error:      s.Error,
		RequestID:  s.RequestID,
		CameraOpen: s.CameraOpen,
		Provider:   s.Provider,
	}
	if s.Image != nil {
		ev.HasImage = true
		ev.MimeType = s.Image.MimeType
	}
	return ev
}
