package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"snap-answer-server/src/core/utils"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubReplaysLatestAndBroadcasts(t *testing.T) {
	hub := NewHub(utils.NewLoggerWithWriter("error", nil))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(TypeAnswer, map[string]string{"status": "idle"})
	hub.Publish(TypeAnswer, map[string]string{"status": "pending"})

	conn := dial(t, srv)
	ev := readEvent(t, conn)
	assert.Equal(t, TypeAnswer, ev.Type)
	assert.JSONEq(t, `{"status":"pending"}`, string(ev.Data))

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(TypeCamera, map[string]bool{"open": true})
	ev = readEvent(t, conn)
	assert.Equal(t, TypeCamera, ev.Type)
	assert.JSONEq(t, `{"open":true}`, string(ev.Data))
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub(utils.NewLoggerWithWriter("error", nil))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubClientsJoiningDuringPublishMissNothing(t *testing.T) {
	hub := NewHub(utils.NewLoggerWithWriter("error", nil))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	const total = 200
	hub.Publish(TypeAnswer, map[string]int{"seq": 0})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < total; i++ {
			hub.Publish(TypeAnswer, map[string]int{"seq": i})
		}
	}()

	conns := make([]*websocket.Conn, 4)
	for i := range conns {
		conns[i] = dial(t, srv)
	}
	wg.Wait()

	// 每个客户端从积压事件开始，之后的序号必须连续
	for _, conn := range conns {
		var first struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(readEvent(t, conn).Data, &first))
		prev := first.Seq
		for prev < total-1 {
			var next struct {
				Seq int `json:"seq"`
			}
			require.NoError(t, json.Unmarshal(readEvent(t, conn).Data, &next))
			require.Equal(t, prev+1, next.Seq)
			prev = next.Seq
		}
	}
}
