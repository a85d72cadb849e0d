package service

import (
	"context"
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/repository"
	"edu_social_backend/pkg/logger"
	"edu_social_backend/pkg/monitoring"
	"encoding/json"
	"fmt"
	"net/http"
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
	onlineTTL      = 2 * time.Minute // 在线状态过期时间

	notifyChannel = "notify_channel"
)

var (
	// 内存复用 (sync.Pool)
	commandPool = sync.Pool{
		New: func() interface{} {
			return &WSCommand{}
		},
	}
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage 服务端下行消息
// Type: SNAPSHOT / NOTIFY_NEW / UNREAD_COUNT / ACT_RESULT / ERROR
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WSCommand 客户端上行命令
// Type: ACT / MARK_READ / MARK_ALL_READ
type WSCommand struct {
	Type           string `json:"type"`
	NotificationID string `json:"notificationId"`
	Accept         bool   `json:"accept"`
}

// Client 一个已连接的通知订阅端。订阅生命周期与连接绑定：
// readPump 退出时注销并关闭连接，注销只会生效一次。
type Client struct {
	Hub        *NotifyHub
	Conn       *websocket.Conn
	Send       chan []byte
	UserID     uint
	Dispatcher *NotificationDispatcher
	Limiter    *rate.Limiter // 上行命令限流

	sendMu     sync.Mutex
	sendClosed bool
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.dropClient(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.UserID))
			}
			break
		}

		if !c.Limiter.Allow() {
			continue
		}

		cmd := commandPool.Get().(*WSCommand)
		if err := json.Unmarshal(message, cmd); err != nil {
			commandPool.Put(cmd)
			continue
		}
		c.handleCommand(*cmd)
		commandPool.Put(cmd)
	}
}

// handleCommand 处理通知内嵌操作和已读命令，结果回推给本连接
func (c *Client) handleCommand(cmd WSCommand) {
	switch cmd.Type {
	case "ACT":
		err := c.Dispatcher.Act(cmd.NotificationID, cmd.Accept)
		result := map[string]interface{}{
			"notificationId": cmd.NotificationID,
			"accept":         cmd.Accept,
			"ok":             err == nil,
		}
		if err != nil {
			result["message"] = err.Error()
		}
		c.enqueue(WSMessage{Type: "ACT_RESULT", Data: result})
		if err == nil {
			c.pushUnread()
		}
	case "MARK_READ":
		if err := c.Dispatcher.MarkRead(cmd.NotificationID); err != nil {
			c.enqueue(WSMessage{Type: "ERROR", Data: err.Error()})
			return
		}
		c.pushUnread()
	case "MARK_ALL_READ":
		if err := c.Dispatcher.MarkAllRead(); err != nil {
			c.enqueue(WSMessage{Type: "ERROR", Data: err.Error()})
			return
		}
		c.pushUnread()
	}
}

func (c *Client) pushUnread() {
	c.enqueue(WSMessage{Type: "UNREAD_COUNT", Data: c.Dispatcher.Unread()})
}

// enqueue 投递可能与注销侧的 closeSend 并发，
// 在同一把锁下检查关闭标记，避免向已关闭的通道写入
func (c *Client) enqueue(msg WSMessage) {
	b, _ := json.Marshal(msg)
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.Send <- b:
	default:
	}
}

// closeSend 只关闭一次，注销和 Stop 可能先后触达同一个客户端
func (c *Client) closeSend() {
	c.sendMu.Lock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
	c.sendMu.Unlock()
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

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if n := len(c.Send); n > 0 {
				for i := 0; i < n; i++ {
					w.Write(<-c.Send)
				}
			}

			if err := w.Close(); err != nil {
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

// shard 同一个用户可能挂着多个界面（面板+抽屉），
// 每个用户维护一个客户端集合而不是单个客户端
type shard struct {
	clients map[uint]map[*Client]struct{}
	mu      sync.RWMutex
}

// NotifyHub 通知推送中心：本地分片注册表 + Redis 发布订阅，
// 多实例部署时事件经由 Redis 广播到持有目标用户连接的实例。
type NotifyHub struct {
	shards     [shardCount]*shard
	register   chan *Client
	unregister chan *Client
	Redis      *redis.Client
	NotifRepo  *repository.NotificationRepository
	RelService *RelationshipService
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewNotifyHub(rdb *redis.Client, notifRepo *repository.NotificationRepository, relService *RelationshipService) *NotifyHub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &NotifyHub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		Redis:      rdb,
		NotifRepo:  notifRepo,
		RelService: relService,
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{
			clients: make(map[uint]map[*Client]struct{}),
		}
	}
	return h
}

func (h *NotifyHub) getShard(userID uint) *shard {
	return h.shards[userID%shardCount]
}

// dropClient 连接退出时注销。Stop 之后 Run 不再收包，
// 晚退出的连接从 ctx 超时返回，不会卡在注销上
func (h *NotifyHub) dropClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// PubSubEvent Redis 通道上的通知插入事件，按接收者过滤
type PubSubEvent struct {
	RecipientID  uint               `json:"recipientId"`
	Notification model.Notification `json:"notification"`
}

func (h *NotifyHub) Run() {
	pubsub := h.Redis.Subscribe(h.ctx, notifyChannel)
	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var event PubSubEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Log.Error("PubSub unmarshal error", zap.Error(err))
				continue
			}
			h.deliverToLocal(event)
		}
	}()

	// 在线状态续期定时器 (Heartbeat)
	heartbeatTicker := time.NewTicker(1 * time.Minute)
	defer heartbeatTicker.Stop()

	for {
		select {
		case client := <-h.register:
			s := h.getShard(client.UserID)
			s.mu.Lock()
			set, ok := s.clients[client.UserID]
			if !ok {
				set = make(map[*Client]struct{})
				s.clients[client.UserID] = set
			}
			set[client] = struct{}{}
			s.mu.Unlock()
			h.setOnline(client.UserID)
			monitoring.NotifyOnlineClients.Inc()

		case client := <-h.unregister:
			s := h.getShard(client.UserID)
			s.mu.Lock()
			if set, ok := s.clients[client.UserID]; ok {
				if _, member := set[client]; member {
					delete(set, client)
					client.closeSend()
					monitoring.NotifyOnlineClients.Dec()
				}
				if len(set) == 0 {
					delete(s.clients, client.UserID)
					h.setOffline(client.UserID)
				}
			}
			s.mu.Unlock()

		case <-heartbeatTicker.C:
			h.refreshOnlineStatus()

		case <-h.ctx.Done():
			pubsub.Close()
			return
		}
	}
}

// PushToUser 广播一条新通知插入事件。经 Redis 发布，
// 本实例和其它实例都从订阅侧收到后投递给本地连接。
func (h *NotifyHub) PushToUser(recipientID uint, n model.Notification) {
	event := PubSubEvent{RecipientID: recipientID, Notification: n}
	payload, _ := json.Marshal(event)
	h.Redis.Publish(h.ctx, notifyChannel, payload)
	monitoring.NotifyEventCounter.WithLabelValues(string(n.Type), "out").Inc()
}

// deliverToLocal 投递到本地持有的该接收者的全部连接。
// 每个 dispatcher 各自按ID去重：通道至少一次投递、快照与推送赛跑，
// 重复到达在这里被吸收，不会被计数两次。
func (h *NotifyHub) deliverToLocal(event PubSubEvent) {
	s := h.getShard(event.RecipientID)
	s.mu.RLock()
	clients := make([]*Client, 0, 2)
	for c := range s.clients[event.RecipientID] {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if c.Dispatcher.Apply(event.Notification) {
			c.enqueue(WSMessage{Type: "NOTIFY_NEW", Data: event.Notification})
			c.pushUnread()
			monitoring.NotifyEventCounter.WithLabelValues(string(event.Notification.Type), "in").Inc()
		}
	}
}

func (h *NotifyHub) setOnline(userID uint) {
	h.Redis.Set(h.ctx, onlineKey(userID), "true", onlineTTL)
}

func (h *NotifyHub) setOffline(userID uint) {
	h.Redis.Del(h.ctx, onlineKey(userID))
}

// refreshOnlineStatus 刷新当前实例所有在线用户的过期时间
func (h *NotifyHub) refreshOnlineStatus() {
	pipe := h.Redis.Pipeline()
	count := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.RLock()
		for userID := range s.clients {
			pipe.Expire(h.ctx, onlineKey(userID), onlineTTL)
			count++
		}
		s.mu.RUnlock()
	}
	if count > 0 {
		pipe.Exec(h.ctx)
		logger.Log.Debug("Refreshed online status", zap.Int("count", count))
	}
}

func (h *NotifyHub) IsUserOnline(userID uint) bool {
	// 查本地分片
	s := h.getShard(userID)
	s.mu.RLock()
	_, ok := s.clients[userID]
	s.mu.RUnlock()
	if ok {
		return true
	}

	// 查 Redis (多实例部署)
	val, err := h.Redis.Get(h.ctx, onlineKey(userID)).Result()
	return err == nil && val == "true"
}

// Stop 关闭所有连接并清理在线状态
func (h *NotifyHub) Stop() {
	logger.Log.Info("NotifyHub stopping: clearing online status and closing connections...")

	h.cancel()

	var allUserIDs []uint
	closed := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.Lock()
		for userID, set := range s.clients {
			allUserIDs = append(allUserIDs, userID)
			for client := range set {
				client.closeSend()
				closed++
			}
			delete(s.clients, userID)
		}
		s.mu.Unlock()
	}

	if len(allUserIDs) > 0 {
		pipe := h.Redis.Pipeline()
		for _, userID := range allUserIDs {
			pipe.Del(context.Background(), onlineKey(userID))
		}
		pipe.Exec(context.Background())
	}

	monitoring.NotifyOnlineClients.Set(0)
	logger.Log.Info("NotifyHub stopped", zap.Int("closedConnections", closed))
}

func onlineKey(userID uint) string {
	return fmt.Sprintf("user:notify_online:%d", userID)
}

// ServeWs 升级连接并挂载一个通知订阅端：
// 先注册再拉快照。注册到快照之间推送的事件会先被 Apply，
// 随后的快照合并按ID去重，两边都不会重复计数。
func ServeWs(hub *NotifyHub, w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.Uint("userId", userID))
		return
	}
	client := &Client{
		Hub:        hub,
		Conn:       conn,
		Send:       make(chan []byte, 256),
		UserID:     userID,
		Dispatcher: NewNotificationDispatcher(hub.NotifRepo, hub.RelService, userID),
		Limiter:    rate.NewLimiter(rate.Limit(10), 20), // 每秒10条命令，允许突发20条
	}
	client.Hub.register <- client

	go client.writePump()
	go client.readPump()

	snapshot, unread, err := client.Dispatcher.Seed(defaultSnapshotLimit)
	if err != nil {
		logger.Log.Error("Notification snapshot failed", zap.Error(err), zap.Uint("userId", userID))
		client.enqueue(WSMessage{Type: "ERROR", Data: "snapshot failed"})
		return
	}
	client.enqueue(WSMessage{Type: "SNAPSHOT", Data: snapshot})
	client.enqueue(WSMessage{Type: "UNREAD_COUNT", Data: unread})
}
