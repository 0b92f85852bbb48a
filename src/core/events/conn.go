package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("websocket connection is closed")

// wsConn 封装gorilla/websocket连接，串行化写操作
type wsConn struct {
	id         string
	conn       *websocket.Conn
	writeMu    sync.Mutex // 写操作互斥锁
	closed     int32      // 0=open, 1=closed
	lastActive int64
}

func newConn(id string, conn *websocket.Conn) *wsConn {
	c := &wsConn{id: id, conn: conn}
	atomic.StoreInt64(&c.lastActive, time.Now().Unix())
	return c
}

func (c *wsConn) readMessage(timeout time.Duration) (int, []byte, error) {
	if c.isClosed() {
		return 0, nil, ErrConnectionClosed
	}
	c.conn.SetReadDeadline(time.Now().Add(timeout))

	messageType, p, err := c.conn.ReadMessage()
	if err != nil {
		atomic.StoreInt32(&c.closed, 1)
		return 0, nil, err
	}
	atomic.StoreInt64(&c.lastActive, time.Now().Unix())
	return messageType, p, nil
}

func (c *wsConn) writeMessage(messageType int, data []byte) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// 获取锁期间连接可能已被关闭
	if c.isClosed() {
		return ErrConnectionClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		atomic.StoreInt32(&c.closed, 1)
		return err
	}
	atomic.StoreInt64(&c.lastActive, time.Now().Unix())
	return nil
}

func (c *wsConn) close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// 关闭帧发送失败不影响关闭连接
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, closeMsg)

	return c.conn.Close()
}

func (c *wsConn) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *wsConn) lastActiveTime() time.Time {
	return time.Unix(atomic.LoadInt64(&c.lastActive), 0)
}
