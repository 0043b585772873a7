// Package ws 行情服务的 WebSocket 推送层
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
)

// streamMessage 一条面向某个订阅流的广播
type streamMessage struct {
	stream  string
	payload []byte
}

// Hub 管理全部 WebSocket 连接并按订阅流分发消息。
// 慢客户端的发送缓冲满时直接断开，不阻塞广播。
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan streamMessage

	logger *slog.Logger
}

// NewHub 构造函数
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan streamMessage, 256),
		logger:     logger.With("module", "ws_hub"),
	}
}

// Run 分发循环，随 ctx 取消时关闭全部连接
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("ws client connected", "remote", client.RemoteAddr())
		case client := <-h.unregister:
			h.drop(client)
		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

// PublishKline 实现 domain.EventPublisher，将快照广播给 kline 流订阅者
func (h *Hub) PublishKline(_ context.Context, event domain.KlineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal kline event: %w", err)
	}
	stream := fmt.Sprintf("kline.%s.%s", event.Symbol, event.Interval)
	select {
	case h.broadcast <- streamMessage{stream: stream, payload: payload}:
	default:
		// 广播队列满时丢弃，推送是尽力而为的
		h.logger.Warn("ws broadcast queue full, dropping kline update", "stream", stream)
	}
	return nil
}

func (h *Hub) dispatch(msg streamMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.subscribed(msg.stream) {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			// 发送缓冲满，异步踢掉慢客户端
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info("ws client disconnected", "remote", client.RemoteAddr())
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
