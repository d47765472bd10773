package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"crossbot/internal/logger"
	"crossbot/internal/runner"

	"github.com/gorilla/websocket"
)

const (
	defaultBuffer = 256
	writeTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 把 runner 的指标记录广播给所有 websocket 客户端。
// Publish 永不阻塞，队列满时丢弃并计数。
type Hub struct {
	broadcast chan []byte
	dropped   atomic.Int64

	lock    sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, buffer),
	}
}

// Run 阻塞直到 ctx 结束，随后关闭全部连接。
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.write(msg)
		}
	}
}

func (h *Hub) write(msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debugf("[telemetry] 客户端写入失败，断开: %v", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) Publish(rec runner.Record) {
	msg, err := json.Marshal(rec)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// Dropped 返回因队列满而丢弃的记录数。
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[telemetry] WS Upgrade 失败: %v", err)
		return
	}
	h.lock.Lock()
	h.clients[conn] = struct{}{}
	h.lock.Unlock()
	go h.drain(conn)
}

// drain 读取并丢弃客户端消息，用于感知断开。
func (h *Hub) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.lock.Lock()
			if _, ok := h.clients[conn]; ok {
				conn.Close()
				delete(h.clients, conn)
			}
			h.lock.Unlock()
			return
		}
	}
}
