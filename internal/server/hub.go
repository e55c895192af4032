package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sleepstars/baidubackup/internal/model"
	"go.uber.org/zap"
)

const TypeStatusChanged = "status_changed"

// Message 推送给 websocket 客户端的状态
type Message struct {
	Type       string             `json:"type"`
	Status     model.BackupStatus `json:"status"`
	Desc       string             `json:"description"`
	Icon       string             `json:"icon"`
	Progress   string             `json:"progress,omitempty"`
	Generation uint64             `json:"generation"`
	UpdatedAt  string             `json:"updated_at"`
}

func StatusMessage(rec model.StatusRecord) Message {
	return Message{
		Type:       TypeStatusChanged,
		Status:     rec.Status,
		Desc:       rec.Status.Description(),
		Icon:       rec.Status.Icon(),
		Progress:   rec.Progress,
		Generation: rec.Generation,
		UpdatedAt:  rec.UpdatedAt.Format(time.RFC3339),
	}
}

// Hub 状态推送。保存最新一条状态，新订阅者连上后先收到它；
// 客户端跟不上时丢弃最旧的消息，保证最新状态总能送达。
type Hub struct {
	mu       sync.Mutex
	subs     map[*Client]struct{}
	latest   []byte
	latestAt time.Time
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[*Client]struct{}),
		logger: logger,
	}
}

// Publish 推送一条状态，可直接作为状态变化回调。早于已推送状态的记录被忽略
func (h *Hub) Publish(rec model.StatusRecord) {
	data, err := json.Marshal(StatusMessage(rec))
	if err != nil {
		h.logger.Error("marshal status", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.latest != nil && rec.UpdatedAt.Before(h.latestAt) {
		return
	}
	h.latest = data
	h.latestAt = rec.UpdatedAt

	for c := range h.subs {
		c.deliver(data)
	}
}

// Subscribe 加入订阅并补发最新状态
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[c] = struct{}{}
	if h.latest != nil {
		c.deliver(h.latest)
	}
}

// Unsubscribe 移除订阅并关闭发送通道，可重复调用
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[c]; ok {
		delete(h.subs, c)
		close(c.send)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
