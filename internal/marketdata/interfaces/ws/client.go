package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// 订阅控制消息的上限
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 行情推送为公开只读流
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client 单个 WebSocket 连接及其订阅集
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	streams map[string]struct{}
}

// subscribeRequest 客户端的订阅控制消息
type subscribeRequest struct {
	// SUBSCRIBE / UNSUBSCRIBE
	Method  string   `json:"method"`
	Streams []string `json:"streams"`
}

// ServeWS 升级 HTTP 连接并注册到 hub
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		streams: make(map[string]struct{}),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// RemoteAddr 对端地址
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Client) subscribed(stream string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.streams[stream]
	return ok
}

// readPump 处理订阅控制消息，连接出错时注销
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		c.apply(req)
	}
}

func (c *Client) apply(req subscribeRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToUpper(req.Method) {
	case "SUBSCRIBE":
		for _, s := range req.Streams {
			c.streams[s] = struct{}{}
		}
	case "UNSUBSCRIBE":
		for _, s := range req.Streams {
			delete(c.streams, s)
		}
	}
}

// writePump 下发广播并维持心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
