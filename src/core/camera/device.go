// Package camera 管理实时摄像头：设备枚举、循环切换、变焦、点击对焦指示和抓拍。
// 平台相关的媒体接口只通过 MediaDevices 和 Stream 访问
package camera

import (
	"context"
	"errors"
	stdimage "image"
)

// DeviceKind 平台报告的媒体设备类型
type DeviceKind string

const KindVideoInput DeviceKind = "videoinput"

// DeviceInfo 可枚举的媒体设备
type DeviceInfo struct {
	DeviceID string     `json:"device_id"`
	Label    string     `json:"label"`
	Kind     DeviceKind `json:"kind"`
}

// ZoomCapability 视频轨道报告的变焦范围
type ZoomCapability struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Capabilities 视频轨道的可选控制项，为 nil 表示不支持
type Capabilities struct {
	Zoom *ZoomCapability
}

// Settings 视频轨道的当前参数，设备未报告变焦时 Zoom 为 0
type Settings struct {
	DeviceID string
	Width    int
	Height   int
	Zoom     float64
}

// Stream 已获取的设备句柄。Stop 释放设备，可以重复调用
type Stream interface {
	Capabilities() Capabilities
	Settings() Settings
	ApplyZoom(zoom float64) error
	ReadFrame() (stdimage.Image, error)
	Stop()
}

// MediaDevices 平台设备接口
type MediaDevices interface {
	// GetUserMedia 获取视频流，deviceID 为空表示不指定设备
	GetUserMedia(ctx context.Context, deviceID string) (Stream, error)
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
}

// GetUserMedia 返回的错误
var (
	ErrPermissionDenied = errors.New("permission not granted")
	ErrDeviceBusy       = errors.New("device is in use by another application")
	ErrNoDevice         = errors.New("no camera device present")
)
