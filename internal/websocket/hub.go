package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// BucketFinder 用于在升级连接前确认收件桶存在
type BucketFinder interface {
	GetBucketByToken(ctx context.Context, token string) (*domain.Bucket, error)
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeEvent MessageType = "event"
	MessageTypePing  MessageType = "ping"
	MessageTypePong  MessageType = "pong"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType         `json:"type"`
	Event     *domain.BucketEvent `json:"event,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Client 代表一个订阅单个收件桶的WebSocket连接
type Client struct {
	ID    string
	Token string
	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
}

// Hub 管理所有WebSocket连接，按收件桶令牌分组广播
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	buckets        map[string]map[string]*Client // token -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *domain.BucketEvent
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	onCount        func(int)
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有
//   - log: 日志记录器
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		buckets:        make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *domain.BucketEvent, 256),
		log:            log,
		allowedOrigins: allowedOrigins,
		onCount:        func(int) {},
	}
}

// OnClientCount 设置在线连接数变化回调（用于指标）
func (h *Hub) OnClientCount(fn func(int)) {
	if fn != nil {
		h.onCount = fn
	}
}

// Run 启动Hub
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.buckets[client.Token] == nil {
				h.buckets[client.Token] = make(map[string]*Client)
			}
			h.buckets[client.Token][client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.onCount(count)
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("token", client.Token))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				if peers, exists := h.buckets[client.Token]; exists {
					delete(peers, client.ID)
					if len(peers) == 0 {
						delete(h.buckets, client.Token)
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.onCount(count)
			h.log.Debug("client unregistered", zap.String("id", client.ID))

		case event := <-h.broadcast:
			h.broadcastToBucket(event)
		}
	}
}

// Notify 投递收件桶事件，不阻塞调用方；队列满时丢弃并返回 false
func (h *Hub) Notify(event *domain.BucketEvent) bool {
	select {
	case h.broadcast <- event:
		return true
	default:
		h.log.Warn("websocket broadcast queue full, dropping event",
			zap.String("token", event.Token),
			zap.String("type", string(event.Type)))
		return false
	}
}

// ClientCount 返回指定收件桶的订阅连接数
func (h *Hub) ClientCount(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buckets[token])
}

// broadcastToBucket 向订阅特定收件桶的客户端广播事件
func (h *Hub) broadcastToBucket(event *domain.BucketEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.buckets[event.Token]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(&Message{Type: MessageTypeEvent, Event: event, Timestamp: time.Now()})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.buckets = make(map[string]map[string]*Client)
}

// HandleWebSocket 处理 /ws/buckets/:token 连接
func HandleWebSocket(hub *Hub, finder BucketFinder) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		token := c.Param("token")
		if _, err := finder.GetBucketByToken(c.Request.Context(), token); err != nil {
			if errors.Is(err, storage.ErrBucketNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "msg": "bucket not found"})
				return
			}
			hub.log.Error("failed to look up bucket for websocket", zap.String("token", token), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "msg": "internal server error"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:    uuid.NewString(),
			Token: token,
			conn:  conn,
			send:  make(chan []byte, 64),
			hub:   hub,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 读取客户端消息，仅用于保活与检测断开
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if msg.Type == MessageTypePing {
			c.reply(&Message{Type: MessageTypePong, Timestamp: time.Now()})
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) reply(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
