package camera

import (
	"context"
	"fmt"
	stdimage "image"
	"sync"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// FileDevices 把磁盘上的图片作为视频输入，每个配置项是一个设备，
// 画面为解码后的图片，变焦为数字变焦
type FileDevices struct {
	mu      sync.Mutex
	entries []configs.DeviceEntry
	inUse   map[string]bool
	logger  *utils.Logger
}

// NewFileDevices 创建 file 后端，未配置 ID 的设备使用随机 ID
func NewFileDevices(cfg configs.CameraConfig, logger *utils.Logger) (MediaDevices, error) {
	entries := make([]configs.DeviceEntry, len(cfg.Devices))
	copy(entries, cfg.Devices)
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if entries[i].Label == "" {
			entries[i].Label = fmt.Sprintf("File camera %d", i+1)
		}
	}
	return &FileDevices{
		entries: entries,
		inUse:   make(map[string]bool),
		logger:  logger,
	}, nil
}

// EnumerateDevices 将所有配置项列为视频输入
func (d *FileDevices) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	infos := make([]DeviceInfo, 0, len(d.entries))
	for _, e := range d.entries {
		infos = append(infos, DeviceInfo{DeviceID: e.ID, Label: e.Label, Kind: KindVideoInput})
	}
	return infos, nil
}

// GetUserMedia 打开指定设备，未指定时打开第一个
func (d *FileDevices) GetUserMedia(ctx context.Context, deviceID string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.entries) == 0 {
		return nil, ErrNoDevice
	}

	entry := d.entries[0]
	if deviceID != "" {
		found := false
		for _, e := range d.entries {
			if e.ID == deviceID {
				entry, found = e, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("device %s: %w", deviceID, ErrNoDevice)
		}
	}

	d.mu.Lock()
	if d.inUse[entry.ID] {
		d.mu.Unlock()
		return nil, fmt.Errorf("device %s: %w", entry.ID, ErrDeviceBusy)
	}
	d.inUse[entry.ID] = true
	d.mu.Unlock()

	frame, err := imaging.Open(entry.Path, imaging.AutoOrientation(true))
	if err != nil {
		d.release(entry.ID)
		return nil, fmt.Errorf("device %s: %w", entry.ID, err)
	}

	return &fileStream{owner: d, entry: entry, frame: frame, zoom: 1}, nil
}

func (d *FileDevices) release(id string) {
	d.mu.Lock()
	delete(d.inUse, id)
	d.mu.Unlock()
}

type fileStream struct {
	mu      sync.Mutex
	owner   *FileDevices
	entry   configs.DeviceEntry
	frame   stdimage.Image
	zoom    float64
	stopped bool
}

func (s *fileStream) Capabilities() Capabilities {
	if s.entry.ZoomMax <= s.entry.ZoomMin || s.entry.ZoomMin <= 0 {
		return Capabilities{}
	}
	step := s.entry.ZoomStep
	if step <= 0 {
		step = 0.1
	}
	return Capabilities{Zoom: &ZoomCapability{Min: s.entry.ZoomMin, Max: s.entry.ZoomMax, Step: step}}
}

func (s *fileStream) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.frame.Bounds()
	settings := Settings{DeviceID: s.entry.ID, Width: b.Dx(), Height: b.Dy()}
	if s.Capabilities().Zoom != nil {
		settings.Zoom = s.zoom
	}
	return settings
}

func (s *fileStream) ApplyZoom(zoom float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("stream stopped")
	}
	s.zoom = zoom
	return nil
}

// ReadFrame 返回原始尺寸的画面，按变焦倍数居中裁剪后放大回原尺寸
func (s *fileStream) ReadFrame() (stdimage.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("stream stopped")
	}
	if s.zoom <= 1 {
		return s.frame, nil
	}
	b := s.frame.Bounds()
	w := int(float64(b.Dx()) / s.zoom)
	h := int(float64(b.Dy()) / s.zoom)
	if w < 1 || h < 1 {
		return s.frame, nil
	}
	cropped := imaging.CropCenter(s.frame, w, h)
	return imaging.Resize(cropped, b.Dx(), b.Dy(), imaging.Lanczos), nil
}

func (s *fileStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.owner.release(s.entry.ID)
}

func init() {
	RegisterBackend("file", NewFileDevices)
}
