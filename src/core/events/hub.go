// Package events 通过websocket向前端推送回答和摄像头的状态变化
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"snap-answer-server/src/core/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 事件类型
const (
	TypeAnswer = "answer"
	TypeCamera = "camera"
)

// Event 推送给客户端的消息
type Event struct {
	Type string          `json:"type"`
	Time int64           `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Hub 管理所有websocket客户端并广播事件。新客户端连接后会立即收到
// 每种类型的最新事件。广播与新客户端注册都持有 mu，事件不会漏发或乱序
type Hub struct {
	upgrader    websocket.Upgrader
	mu          sync.Mutex
	clients     map[string]*wsConn
	latest      map[string][]byte
	order       []string
	readTimeout time.Duration
	logger      *utils.TaggedLogger
}

// NewHub 创建事件中心
func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的连接
			},
		},
		clients:     make(map[string]*wsConn),
		latest:      make(map[string][]byte),
		readTimeout: 5 * time.Minute,
		logger:      logger.WithTag("events"),
	}
}

// Publish 序列化 data 并广播给所有客户端
func (h *Hub) Publish(eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("事件序列化失败: %v", err)
		return
	}
	msg, err := json.Marshal(Event{Type: eventType, Time: time.Now().UnixMilli(), Data: raw})
	if err != nil {
		h.logger.Error("事件序列化失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.latest[eventType]; !ok {
		h.order = append(h.order, eventType)
	}
	h.latest[eventType] = msg

	for id, conn := range h.clients {
		if err := conn.writeMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("推送失败，移除客户端 %s: %v", id, err)
			delete(h.clients, id)
			conn.close()
		}
	}
}

// Count 返回当前连接数
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// register 发送积压的最新事件后登记客户端，期间的广播会等待
func (h *Hub) register(conn *wsConn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.order {
		if err := conn.writeMessage(websocket.TextMessage, h.latest[t]); err != nil {
			return err
		}
	}
	h.clients[conn.id] = conn
	return nil
}

func (h *Hub) unregister(conn *wsConn) {
	h.mu.Lock()
	delete(h.clients, conn.id)
	h.mu.Unlock()
}

// ServeHTTP 升级为websocket并阻塞到客户端断开。客户端发来的消息被忽略，
// 只用于保活
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败: %v", err)
		return
	}

	conn := newConn(uuid.NewString(), ws)
	h.logger.Info("客户端已连接: %s (%s)", conn.id, r.RemoteAddr)

	if err := h.register(conn); err != nil {
		conn.close()
		return
	}

	defer func() {
		h.unregister(conn)
		conn.close()
		h.logger.Info("客户端已断开: %s, 最后活跃 %s", conn.id, conn.lastActiveTime().Format(time.RFC3339))
	}()

	for {
		if _, _, err := conn.readMessage(h.readTimeout); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("读取消息失败: %v", err)
			}
			return
		}
	}
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.clients {
		conn.close()
		delete(h.clients, id)
	}
}
