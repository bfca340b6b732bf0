package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/monitor"
)

// StatusFrame 推送给 WebSocket 客户端的状态帧
type StatusFrame struct {
	Connected bool               `json:"connected"`
	Channels  []monitor.Snapshot `json:"channels"`
	Stamp     int64              `json:"stamp"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub WebSocket 客户端集合与广播
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	// 新客户端接入时的首帧内容
	onConnect func() interface{}

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

// NewHub 创建广播器
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		log:     logger,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetOnConnect 安装首帧生成函数
func (h *Hub) SetOnConnect(fn func() interface{}) { h.onConnect = fn }

// ClientCount 当前客户端数
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()
	h.log.Info("websocket client connected", zap.Int("total", total))

	if h.onConnect != nil {
		if data, err := json.Marshal(h.onConnect()); err == nil {
			client.send <- data
		}
	}

	// 写循环
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// 读循环：丢弃入站消息，感知断开后注销客户端
	go func() {
		defer func() {
			h.clientsMu.Lock()
			delete(h.clients, client)
			total := len(h.clients)
			h.clientsMu.Unlock()
			close(client.send)
			h.log.Info("websocket client disconnected", zap.Int("total", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast 向全部客户端推送一则消息，写队列已满的慢客户端跳过
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}
