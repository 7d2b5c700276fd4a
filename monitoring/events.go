package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventType 事件类型
type EventType string

const (
	EventModel           EventType = "model"
	EventArtifactChanged EventType = "artifact_changed"
	EventHeartbeat       EventType = "heartbeat"
)

// Event 推送给客户端的事件
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// eventClient WebSocket客户端
type eventClient struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// EventHub 模型事件的WebSocket中心
//
// 新连接先收到当前模型信息，之后收到文件变化通知和心跳。
type EventHub struct {
	clients    map[*eventClient]bool
	broadcast  chan []byte
	register   chan *eventClient
	unregister chan *eventClient
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	done       chan struct{}

	mu       sync.RWMutex
	snapshot []byte
}

// NewEventHub 创建事件中心，只接受allowedOrigins中的来源（"*"表示全部）
func NewEventHub(allowedOrigins []string, logger *zap.Logger) *EventHub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &EventHub{
		clients:    make(map[*eventClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// SetModel 设置新连接收到的模型信息
func (h *EventHub) SetModel(data interface{}) {
	payload, err := json.Marshal(Event{Type: EventModel, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("failed to encode model event", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.snapshot = payload
	h.mu.Unlock()
}

// Run 运行事件循环，ctx结束时关闭所有连接
func (h *EventHub) Run(ctx context.Context, heartbeat time.Duration) {
	defer close(h.done)

	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("event client connected", zap.String("client_id", client.id), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.logger.Debug("event client disconnected", zap.String("client_id", client.id), zap.Int("total", len(h.clients)))

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-tick:
			payload, _ := json.Marshal(Event{Type: EventHeartbeat, Timestamp: time.Now().UTC()})
			h.fanOut(payload)

		case <-ctx.Done():
			// 关闭所有连接
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

func (h *EventHub) fanOut(message []byte) {
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// 慢客户端直接断开
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Publish 广播事件，队列满时丢弃
func (h *EventHub) Publish(eventType EventType, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("event broadcast queue is full, dropping event", zap.String("type", string(eventType)))
	}
}

// ServeHTTP 处理WebSocket连接
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &eventClient{
		conn: conn,
		send: make(chan []byte, 16),
		id:   uuid.NewString(),
	}

	h.mu.RLock()
	snapshot := h.snapshot
	h.mu.RUnlock()
	if snapshot != nil {
		client.send <- snapshot
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// 启动客户端协程
	go client.writePump(h.logger)
	go client.readPump(h)
}

// writePump WebSocket写入泵
func (c *eventClient) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write error", zap.String("client_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取泵，只处理控制帧
func (c *eventClient) readPump(h *EventHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}
