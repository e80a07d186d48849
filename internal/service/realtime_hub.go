package service

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/url"
	"nova_progress_backend/pkg/logger"
	"nova_progress_backend/pkg/monitoring"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	shardCount     = 32

	// ChangeChannel 所有实例共享的变更频道
	ChangeChannel = "nova_changes"
)

const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// originChecker 放行没有 Origin 的客户端、同源页面和 CORS 白名单中的来源
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// ChangeEvent 一次已提交到数据库的实体变更
type ChangeEvent struct {
	Table    string          `json:"table"`
	Type     string          `json:"type"`
	UserID   string          `json:"userId"`
	EntityID string          `json:"entityId"`
	Category string          `json:"category,omitempty"`
	Version  int64           `json:"version"`
	Record   json.RawMessage `json:"record,omitempty"`
	At       time.Time       `json:"at"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// subscribeRequest 客户端发送的 SUBSCRIBE 消息体
type subscribeRequest struct {
	Tables   []string `json:"tables"`
	Category string   `json:"category"`
}

// subscription 客户端的过滤条件，为空表示接收全部
type subscription struct {
	tables   map[string]bool
	category string
}

func (s subscription) matches(ev ChangeEvent) bool {
	if len(s.tables) > 0 && !s.tables[ev.Table] {
		return false
	}
	if s.category != "" && ev.Category != "" && !strings.EqualFold(s.category, ev.Category) {
		return false
	}
	return true
}

type Client struct {
	Hub     *RealtimeHub
	Conn    *websocket.Conn
	Send    chan []byte
	UserID  string
	Limiter *rate.Limiter // 限流器

	mu     sync.RWMutex
	filter subscription
	closed bool
}

func (c *Client) setFilter(req subscribeRequest) {
	f := subscription{category: req.Category}
	if len(req.Tables) > 0 {
		f.tables = make(map[string]bool, len(req.Tables))
		for _, t := range req.Tables {
			f.tables[t] = true
		}
	}
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *Client) wants(ev ChangeEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.matches(ev)
}

// trySend 非阻塞投递，缓冲区满时丢弃
func (c *Client) trySend(payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- payload:
	default:
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.String("userId", c.UserID))
			}
			break
		}

		// 限流校验 (每秒最多 5 条消息，允许突发 10 条)
		if !c.Limiter.Allow() {
			continue
		}

		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			var req subscribeRequest
			if len(msg.Data) > 0 && json.Unmarshal(msg.Data, &req) != nil {
				continue
			}
			c.setFilter(req)
			ack, _ := json.Marshal(WSMessage{Type: "SUBSCRIBED", Data: req})
			c.trySend(ack)
		case "PING":
			pong, _ := json.Marshal(WSMessage{Type: "PONG"})
			c.trySend(pong)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// 每条事件单独一帧，客户端逐条解析
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type shard struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

// ChangeListener 进程内的变更订阅者
type ChangeListener func(ChangeEvent)

// RealtimeHub 通过 Redis 频道在实例之间广播变更，并推送给本实例的 websocket 客户端
type RealtimeHub struct {
	shards   [shardCount]*shard
	Redis    *redis.Client
	upgrader websocket.Upgrader

	listenerMu sync.RWMutex
	listeners  []ChangeListener

	ready     chan struct{}
	readyOnce sync.Once
}

func NewRealtimeHub(rdb *redis.Client, allowedOrigins []string) *RealtimeHub {
	h := &RealtimeHub{
		Redis: rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		ready: make(chan struct{}),
	}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{
			clients: make(map[string]map[*Client]struct{}),
		}
	}
	return h
}

func (h *RealtimeHub) getShard(userID string) *shard {
	sum := fnv.New32a()
	sum.Write([]byte(userID))
	return h.shards[sum.Sum32()%shardCount]
}

// Listen 注册进程内监听器，收到的事件包括本实例自己发布的
func (h *RealtimeHub) Listen(fn ChangeListener) {
	h.listenerMu.Lock()
	h.listeners = append(h.listeners, fn)
	h.listenerMu.Unlock()
}

// Ready 订阅建立后关闭
func (h *RealtimeHub) Ready() <-chan struct{} {
	return h.ready
}

// Run 订阅变更频道直到 ctx 结束
func (h *RealtimeHub) Run(ctx context.Context) error {
	pubsub := h.Redis.Subscribe(ctx, ChangeChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	h.readyOnce.Do(func() { close(h.ready) })

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Log.Error("PubSub unmarshal error", zap.Error(err))
				continue
			}
			monitoring.RealtimeEvents.WithLabelValues(ev.Table, "in").Inc()
			h.dispatch(ev)
		}
	}
}

func (h *RealtimeHub) dispatch(ev ChangeEvent) {
	h.listenerMu.RLock()
	listeners := append([]ChangeListener(nil), h.listeners...)
	h.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}

	payload, err := json.Marshal(WSMessage{Type: "CHANGE", Data: ev})
	if err != nil {
		return
	}
	s := h.getShard(ev.UserID)
	s.mu.RLock()
	for client := range s.clients[ev.UserID] {
		if client.wants(ev) {
			client.trySend(payload)
		}
	}
	s.mu.RUnlock()
}

// Publish 广播一个已提交的变更
func (h *RealtimeHub) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	monitoring.RealtimeEvents.WithLabelValues(ev.Table, "out").Inc()
	return h.Redis.Publish(ctx, ChangeChannel, payload).Err()
}

func (h *RealtimeHub) register(c *Client) {
	s := h.getShard(c.UserID)
	s.mu.Lock()
	conns, ok := s.clients[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		s.clients[c.UserID] = conns
	}
	conns[c] = struct{}{}
	s.mu.Unlock()
	monitoring.RealtimeConnections.Inc()
}

func (h *RealtimeHub) unregister(c *Client) {
	s := h.getShard(c.UserID)
	s.mu.Lock()
	if conns, ok := s.clients[c.UserID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			c.close()
			monitoring.RealtimeConnections.Dec()
		}
		if len(conns) == 0 {
			delete(s.clients, c.UserID)
		}
	}
	s.mu.Unlock()
}

// ConnectionCount 本实例上某个用户的连接数
func (h *RealtimeHub) ConnectionCount(userID string) int {
	s := h.getShard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[userID])
}

// Stop 关闭所有连接
func (h *RealtimeHub) Stop() {
	logger.Log.Info("RealtimeHub stopping: closing connections...")

	closed := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.Lock()
		for userID, conns := range s.clients {
			for client := range conns {
				client.close()
				closed++
			}
			delete(s.clients, userID)
		}
		s.mu.Unlock()
	}

	monitoring.RealtimeConnections.Set(0) // 停机时清空指标
	logger.Log.Info("RealtimeHub stopped", zap.Int("closedConnections", closed))
}

func ServeWs(hub *RealtimeHub, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.String("userId", userID))
		return
	}
	client := &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		UserID:  userID,
		Limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	hub.register(client)

	go client.writePump()
	go client.readPump()
}
