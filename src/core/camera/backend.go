package camera

import (
	"fmt"
	"sort"
	"sync"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"
)

// BackendFactory 根据配置创建设备后端
type BackendFactory func(cfg configs.CameraConfig, logger *utils.Logger) (MediaDevices, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// RegisterBackend 注册设备后端
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// NewMediaDevices 创建 cfg.Backend 指定的设备后端
func NewMediaDevices(cfg configs.CameraConfig, logger *utils.Logger) (MediaDevices, error) {
	backendsMu.RLock()
	factory, ok := backends[cfg.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown camera backend %q (registered: %v)", cfg.Backend, RegisteredBackends())
	}
	return factory(cfg, logger)
}

// RegisteredBackends 返回已注册的后端名称，按字母排序
func RegisteredBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
