package camera

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/utils"

	"github.com/disintegration/imaging"
)

// FocusIndicatorDelay 对焦指示器的显示时长
const FocusIndicatorDelay = time.Second

// ZoomState 界面上的变焦控件状态
type ZoomState struct {
	Supported bool    `json:"supported"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Step      float64 `json:"step"`
	Value     float64 `json:"value"`
}

// FocusIndicator 点击位置的对焦指示，仅用于显示
type FocusIndicator struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

// State 会话状态快照
type State struct {
	Open           bool            `json:"open"`
	ActiveDeviceID string          `json:"active_device_id,omitempty"`
	Devices        []DeviceInfo    `json:"devices"`
	CanSwitch      bool            `json:"can_switch"`
	Width          int             `json:"width,omitempty"`
	Height         int             `json:"height,omitempty"`
	Zoom           ZoomState       `json:"zoom"`
	Focus          *FocusIndicator `json:"focus,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Options 会话参数
type Options struct {
	JPEGQuality int
	FocusDelay  time.Duration
}

// Session 同一时刻最多持有一个设备。所有操作由 mu 串行化，
// 获取新设备前一定已释放上一个视频流
type Session struct {
	mu      sync.Mutex
	devices MediaDevices
	logger  *utils.TaggedLogger
	opts    Options

	stream   Stream
	activeID string
	list     []DeviceInfo
	zoom     ZoomState
	focus    *FocusIndicator
	focusGen uint64
	lastErr  string

	onChange func(State)
	notifyMu sync.Mutex // 保证通知按顺序送达，先于 mu 获取
}

// NewSession 创建未打开的摄像头会话
func NewSession(devices MediaDevices, opts Options, logger *utils.Logger) *Session {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 92
	}
	if opts.FocusDelay <= 0 {
		opts.FocusDelay = FocusIndicatorDelay
	}
	return &Session{
		devices: devices,
		logger:  logger.WithTag("camera"),
		opts:    opts,
	}
}

// OnChange 注册状态变化监听器，在锁外按顺序调用，监听器中不能调用会修改状态的会话方法
func (s *Session) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	fn := s.onChange
	state := s.snapshotLocked()
	s.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// Snapshot 返回当前状态
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	state := State{
		Open:           s.stream != nil,
		ActiveDeviceID: s.activeID,
		Devices:        append([]DeviceInfo(nil), s.list...),
		CanSwitch:      s.stream != nil && len(s.list) > 1,
		Zoom:           s.zoom,
		Error:          s.lastErr,
	}
	if s.stream != nil {
		settings := s.stream.Settings()
		state.Width, state.Height = settings.Width, settings.Height
	}
	if s.focus != nil {
		f := *s.focus
		state.Focus = &f
	}
	return state
}

// Open 释放已持有的设备，不指定设备获取新的视频流，然后枚举可切换的视频输入
func (s *Session) Open(ctx context.Context) error {
	defer s.notify()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()
	s.list = nil
	s.activeID = ""
	return s.acquireLocked(ctx, "")
}

func (s *Session) acquireLocked(ctx context.Context, deviceID string) error {
	stream, err := s.devices.GetUserMedia(ctx, deviceID)
	if err != nil {
		accessErr := newAccessError(err)
		s.lastErr = accessErr.Error()
		s.activeID = ""
		s.list = nil
		s.logger.Warn("打开摄像头失败: %v", err)
		return accessErr
	}

	s.stream = stream
	s.lastErr = ""
	settings := stream.Settings()
	s.activeID = settings.DeviceID

	devices, err := s.devices.EnumerateDevices(ctx)
	if err != nil {
		s.logger.Warn("枚举摄像头失败: %v", err)
		devices = nil
	}
	s.list = s.list[:0]
	for _, d := range devices {
		if d.Kind == KindVideoInput {
			s.list = append(s.list, d)
		}
	}

	s.zoom = ZoomState{Supported: false, Min: 1, Max: 1, Step: 1, Value: 1}
	if zc := stream.Capabilities().Zoom; zc != nil {
		value := settings.Zoom
		if value == 0 {
			value = 1
		}
		s.zoom = ZoomState{Supported: true, Min: zc.Min, Max: zc.Max, Step: zc.Step, Value: value}
	}

	s.logger.Info("摄像头已打开 %v", map[string]interface{}{
		"device_id": s.activeID,
		"devices":   len(s.list),
		"zoom":      s.zoom.Supported,
	})
	return nil
}

func (s *Session) releaseLocked() {
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
		s.logger.Debug("摄像头已释放: %s", s.activeID)
	}
	s.zoom = ZoomState{}
	s.focus = nil
	s.focusGen++
}

// CanSwitch 是否有多个视频输入可以切换
func (s *Session) CanSwitch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && len(s.list) > 1
}

// Switch 按枚举顺序循环切换到下一个设备，设备不超过一个时不做任何操作并返回 false
func (s *Session) Switch(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.stream == nil {
		s.mu.Unlock()
		return false, ErrNotOpen
	}
	n := len(s.list)
	if n <= 1 {
		s.mu.Unlock()
		return false, nil
	}
	defer s.notify()
	defer s.mu.Unlock()

	current := -1
	for i, d := range s.list {
		if d.DeviceID == s.activeID {
			current = i
			break
		}
	}
	next := s.list[(current+1)%n]

	s.releaseLocked()
	if err := s.acquireLocked(ctx, next.DeviceID); err != nil {
		return false, err
	}
	return true, nil
}

// SetZoom 在不重新打开设备的情况下设置变焦，数值限制在支持范围内并按步长取整，
// 返回实际生效的值
func (s *Session) SetZoom(zoom float64) (float64, error) {
	s.mu.Lock()
	if s.stream == nil {
		s.mu.Unlock()
		return 0, ErrNotOpen
	}
	if !s.zoom.Supported {
		s.mu.Unlock()
		return 0, ErrZoomUnsupported
	}
	defer s.notify()
	defer s.mu.Unlock()

	value := clampZoom(zoom, s.zoom)
	if err := s.stream.ApplyZoom(value); err != nil {
		return s.zoom.Value, fmt.Errorf("apply zoom %.2f: %w", value, err)
	}
	s.zoom.Value = value
	return value, nil
}

func clampZoom(v float64, zs ZoomState) float64 {
	if math.IsNaN(v) {
		return zs.Value
	}
	v = math.Max(zs.Min, math.Min(zs.Max, v))
	if zs.Step > 0 {
		v = zs.Min + math.Round((v-zs.Min)/zs.Step)*zs.Step
		v = math.Min(v, zs.Max)
	}
	return v
}

// Focus 记录点击坐标，延迟后隐藏指示器，新的点击重新计时。不会向设备发送对焦指令
func (s *Session) Focus(x, y float64) (FocusIndicator, error) {
	s.mu.Lock()
	if s.stream == nil {
		s.mu.Unlock()
		return FocusIndicator{}, ErrNotOpen
	}
	defer s.notify()
	defer s.mu.Unlock()

	s.focusGen++
	gen := s.focusGen
	s.focus = &FocusIndicator{X: x, Y: y, Visible: true}

	time.AfterFunc(s.opts.FocusDelay, func() {
		s.mu.Lock()
		if s.focusGen != gen || s.focus == nil {
			s.mu.Unlock()
			return
		}
		s.focus.Visible = false
		s.mu.Unlock()
		s.notify()
	})
	return *s.focus, nil
}

// Capture 以原始分辨率抓取当前画面并编码为JPEG，无论成功与否都释放设备
func (s *Session) Capture() (image.ImagePayload, error) {
	defer s.notify()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return image.ImagePayload{}, ErrNotOpen
	}
	defer s.closeLocked()

	frame, err := s.stream.ReadFrame()
	if err != nil {
		return image.ImagePayload{}, fmt.Errorf("read frame: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(s.opts.JPEGQuality)); err != nil {
		return image.ImagePayload{}, fmt.Errorf("encode frame: %w", err)
	}

	b := frame.Bounds()
	s.logger.Info("抓拍完成 %dx%d, %d bytes", b.Dx(), b.Dy(), buf.Len())
	return image.NewPayload(buf.Bytes(), "image/jpeg"), nil
}

// Close 释放设备，可以重复调用
func (s *Session) Close() {
	defer s.notify()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	s.releaseLocked()
	s.list = nil
	s.activeID = ""
	s.lastErr = ""
}
