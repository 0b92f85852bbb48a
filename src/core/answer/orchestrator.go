// Package answer 持有当前展示的图片与唯一的回答状态，负责把图片交给
// 回答提供者并丢弃过期的结果
package answer

import (
	"context"
	"errors"
	"sync"

	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"

	"github.com/google/uuid"
)

// FailurePrefix 失败消息前缀，后接错误原文
const FailurePrefix = "Failed to get answer: "

// Status 回答状态
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

var (
	ErrNoImage        = errors.New("no image selected")
	ErrRequestPending = errors.New("an answer request is already pending")
	ErrStaleResult    = errors.New("result discarded: image changed or was reset")
	ErrNoProvider     = errors.New("no answer provider configured")
)

// State 当前图片和回答的快照
type State struct {
	Status     Status              `json:"status"`
	Image      *image.ImagePayload `json:"image,omitempty"`
	Result     string              `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	RequestID  string              `json:"request_id,omitempty"`
	CameraOpen bool                `json:"camera_open"`
	Provider   string              `json:"provider,omitempty"`
}

// Orchestrator 同一时刻最多只有一个请求在途，结果只在请求令牌仍然匹配时生效
type Orchestrator struct {
	mu        sync.Mutex
	provider  vlllm.AnswerProvider
	state     State
	listeners []func(State)
	logger    *utils.TaggedLogger

	version   uint64     // 每次提交状态加一，持 mu 修改
	notifyMu  sync.Mutex // 串行化通知
	delivered uint64     // 已通知的最新版本，持 notifyMu 修改
}

// NewOrchestrator 创建编排器，provider 可以为空，之后通过 SetProvider 设置
func NewOrchestrator(provider vlllm.AnswerProvider, logger *utils.Logger) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		logger:   logger.WithTag("answer"),
	}
	o.state = State{Status: StatusIdle, Provider: providerName(provider)}
	return o
}

func providerName(p vlllm.AnswerProvider) string {
	if p == nil {
		return ""
	}
	return p.Name()
}

// OnChange 注册状态变化监听器
func (o *Orchestrator) OnChange(fn func(State)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Snapshot 返回当前状态
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	s := o.state
	if s.Image != nil {
		img := *s.Image
		s.Image = &img
	}
	return s
}

// commitLocked 在持锁时调用，返回需要在解锁后执行的通知。
// 通知按提交顺序送达，晚于更新版本到达的旧状态被丢弃，监听器不能回调修改状态的方法
func (o *Orchestrator) commitLocked() func() {
	o.version++
	version := o.version
	state := o.snapshotLocked()
	listeners := append(([]func(State))(nil), o.listeners...)
	return func() {
		o.notifyMu.Lock()
		defer o.notifyMu.Unlock()
		if version <= o.delivered {
			return
		}
		o.delivered = version
		for _, fn := range listeners {
			fn(state)
		}
	}
}

// SelectImage 替换当前图片，清空回答，并使在途请求失效
func (o *Orchestrator) SelectImage(payload image.ImagePayload) State {
	o.mu.Lock()
	o.state = State{
		Status:   StatusIdle,
		Image:    &payload,
		Provider: o.state.Provider,
	}
	state := o.snapshotLocked()
	notify := o.commitLocked()
	o.mu.Unlock()

	notify()
	o.logger.Info("已选择图片", map[string]interface{}{"mime_type": payload.MimeType})
	return state
}

// SetCameraOpen 记录摄像头视图是否打开
func (o *Orchestrator) SetCameraOpen(open bool) {
	o.mu.Lock()
	if o.state.CameraOpen == open {
		o.mu.Unlock()
		return
	}
	o.state.CameraOpen = open
	notify := o.commitLocked()
	o.mu.Unlock()
	notify()
}

// Reset 清空图片和回答，在途请求的结果将被丢弃
func (o *Orchestrator) Reset() State {
	o.mu.Lock()
	if o.state.RequestID != "" && o.state.Status == StatusPending {
		o.logger.Debug("重置时丢弃在途请求: %s", o.state.RequestID)
	}
	o.state = State{Status: StatusIdle, Provider: o.state.Provider}
	state := o.snapshotLocked()
	notify := o.commitLocked()
	o.mu.Unlock()

	notify()
	return state
}

// SetProvider 切换回答提供者，在途请求仍由旧提供者完成，旧提供者随后被清理
func (o *Orchestrator) SetProvider(p vlllm.AnswerProvider) {
	o.mu.Lock()
	old := o.provider
	o.provider = p
	o.state.Provider = providerName(p)
	notify := o.commitLocked()
	o.mu.Unlock()

	notify()
	if old != nil && old != p {
		if err := old.Cleanup(); err != nil {
			o.logger.Warn("清理提供者 %s 失败: %v", old.Name(), err)
		}
	}
	o.logger.Info("回答提供者已切换为 %s", providerName(p))
}

// Provider 返回当前的回答提供者
func (o *Orchestrator) Provider() vlllm.AnswerProvider {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.provider
}

// Ask 为当前图片请求回答。提供者失败时状态变为 failure，并返回原始错误；
// 请求期间图片被替换或重置时返回 ErrStaleResult，结果不会写入状态
func (o *Orchestrator) Ask(ctx context.Context) (State, error) {
	o.mu.Lock()
	switch {
	case o.state.Image == nil:
		o.mu.Unlock()
		return o.Snapshot(), ErrNoImage
	case o.state.Status == StatusPending:
		o.mu.Unlock()
		return o.Snapshot(), ErrRequestPending
	case o.provider == nil:
		o.mu.Unlock()
		return o.Snapshot(), ErrNoProvider
	}

	token := uuid.NewString()
	provider := o.provider
	payload := *o.state.Image
	o.state.Status = StatusPending
	o.state.RequestID = token
	o.state.Result = ""
	o.state.Error = ""
	notify := o.commitLocked()
	o.mu.Unlock()
	notify()

	o.logger.Info("开始请求回答 %v", map[string]interface{}{
		"request_id": token,
		"provider":   provider.Name(),
	})
	answer, err := provider.Answer(ctx, payload)

	o.mu.Lock()
	if o.state.RequestID != token {
		state := o.snapshotLocked()
		o.mu.Unlock()
		o.logger.Info("丢弃过期结果: %s", token)
		return state, ErrStaleResult
	}
	if err != nil {
		o.state.Status = StatusFailure
		o.state.Error = FailurePrefix + err.Error()
	} else {
		o.state.Status = StatusSuccess
		o.state.Result = answer
	}
	state := o.snapshotLocked()
	notify = o.commitLocked()
	o.mu.Unlock()
	notify()

	if err != nil {
		o.logger.Error("获取回答失败: %v", err)
		return state, err
	}
	o.logger.Info("回答完成: %s, %d 字符", token, len(answer))
	return state, nil
}
