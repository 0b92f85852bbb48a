//go:build gocv

package camera

import (
	"context"
	"fmt"
	stdimage "image"
	"strconv"
	"strings"
	"sync"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"

	"gocv.io/x/gocv"
)

// CaptureDevices 通过 OpenCV 打开本地摄像头，设备ID为 "video<序号>"
type CaptureDevices struct {
	mu      sync.Mutex
	indexes []int
	zoom    map[string]configs.DeviceEntry
	inUse   map[int]bool
	logger  *utils.Logger
}

// NewCaptureDevices 创建 gocv 后端，未配置序号时只使用设备 0
func NewCaptureDevices(cfg configs.CameraConfig, logger *utils.Logger) (MediaDevices, error) {
	indexes := cfg.Indexes
	if len(indexes) == 0 {
		indexes = []int{0}
	}
	zoom := make(map[string]configs.DeviceEntry, len(cfg.Devices))
	for _, d := range cfg.Devices {
		zoom[d.ID] = d
	}
	return &CaptureDevices{
		indexes: indexes,
		zoom:    zoom,
		inUse:   make(map[int]bool),
		logger:  logger,
	}, nil
}

func captureID(index int) string {
	return "video" + strconv.Itoa(index)
}

func parseCaptureID(id string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(id, "video"))
}

// EnumerateDevices 列出配置的序号。OpenCV 没有跨平台的枚举接口，打开时才检查设备是否存在
func (d *CaptureDevices) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	infos := make([]DeviceInfo, 0, len(d.indexes))
	for _, idx := range d.indexes {
		id := captureID(idx)
		label := fmt.Sprintf("Camera %d", idx)
		if e, ok := d.zoom[id]; ok && e.Label != "" {
			label = e.Label
		}
		infos = append(infos, DeviceInfo{DeviceID: id, Label: label, Kind: KindVideoInput})
	}
	return infos, nil
}

// GetUserMedia 打开指定序号的设备，未指定时打开第一个
func (d *CaptureDevices) GetUserMedia(ctx context.Context, deviceID string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	index := d.indexes[0]
	if deviceID != "" {
		idx, err := parseCaptureID(deviceID)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", deviceID, ErrNoDevice)
		}
		index = idx
	}

	d.mu.Lock()
	if d.inUse[index] {
		d.mu.Unlock()
		return nil, fmt.Errorf("device %s: %w", captureID(index), ErrDeviceBusy)
	}
	d.inUse[index] = true
	d.mu.Unlock()

	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		d.release(index)
		return nil, fmt.Errorf("device %s: %w", captureID(index), err)
	}
	if !vc.IsOpened() {
		vc.Close()
		d.release(index)
		return nil, fmt.Errorf("device %s: %w", captureID(index), ErrNoDevice)
	}

	s := &captureStream{owner: d, index: index, vc: vc}
	if e, ok := d.zoom[captureID(index)]; ok && e.ZoomMax > e.ZoomMin {
		step := e.ZoomStep
		if step <= 0 {
			step = 1
		}
		s.zoomCap = &ZoomCapability{Min: e.ZoomMin, Max: e.ZoomMax, Step: step}
	}
	d.logger.Debug("gocv 设备已打开: %s", captureID(index))
	return s, nil
}

func (d *CaptureDevices) release(index int) {
	d.mu.Lock()
	delete(d.inUse, index)
	d.mu.Unlock()
}

type captureStream struct {
	mu      sync.Mutex
	owner   *CaptureDevices
	index   int
	vc      *gocv.VideoCapture
	zoomCap *ZoomCapability
	stopped bool
}

func (s *captureStream) Capabilities() Capabilities {
	return Capabilities{Zoom: s.zoomCap}
}

func (s *captureStream) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := Settings{DeviceID: captureID(s.index)}
	if s.stopped {
		return settings
	}
	settings.Width = int(s.vc.Get(gocv.VideoCaptureFrameWidth))
	settings.Height = int(s.vc.Get(gocv.VideoCaptureFrameHeight))
	if s.zoomCap != nil {
		settings.Zoom = s.vc.Get(gocv.VideoCaptureZoom)
	}
	return settings
}

func (s *captureStream) ApplyZoom(zoom float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("stream stopped")
	}
	s.vc.Set(gocv.VideoCaptureZoom, zoom)
	return nil
}

func (s *captureStream) ReadFrame() (stdimage.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("stream stopped")
	}
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("device %s: empty frame", captureID(s.index))
	}
	return mat.ToImage()
}

func (s *captureStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.vc.Close()
	s.owner.release(s.index)
}

func init() {
	RegisterBackend("gocv", NewCaptureDevices)
}
