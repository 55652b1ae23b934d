// Package realtime はセッションごとの WebSocket 接続と、ジョブイベントの送出を扱います。
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/sd-worker/internal/progress"
)

// SessionSet は接続中セッションの登録先です。
type SessionSet interface {
	Register(id string)
	Deregister(id string)
}

// Frame はサーバーとクライアントの間でやり取りするメッセージです。
type Frame struct {
	Event string          `json:"event"`
	Ack   *int            `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub はセッションIDと接続の対応を保持し、progress.Emitter として各接続へイベントを送ります。
type Hub struct {
	sessions SessionSet
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub は Hub を作成します。
func NewHub(sessions SessionSet, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: sessions,
		logger:   logger.Named("hub"),
		conns:    make(map[string]*Conn),
	}
}

// Emit はイベントをセッションの送信バッファへ積みます。
// 接続がない場合やバッファが一杯の場合は破棄します。
func (h *Hub) Emit(sessionID string, ev progress.Event) {
	data, err := encodeFrame(ev.Name(), nil, ev)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", ev.Name()), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[sessionID]
	if !ok {
		h.logger.Debug("dropping event for closed session", zap.String("session_id", sessionID), zap.String("event", ev.Name()))
		return
	}
	if !conn.enqueue(data) {
		h.logger.Warn("send buffer full, dropping event", zap.String("session_id", sessionID), zap.String("event", ev.Name()))
	}
}

// SubjectOf はセッションを開いたトークンの主体を返します。接続がない場合は空文字です。
func (h *Hub) SubjectOf(sessionID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn, ok := h.conns[sessionID]; ok {
		return conn.subject
	}
	return ""
}

// Len は接続数を返します。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.sessions.Register(c.id)
	h.logger.Info("session connected", zap.String("session_id", c.id), zap.String("subject", c.subject))
}

func (h *Hub) unregister(c *Conn) {
	h.sessions.Deregister(c.id)
	h.mu.Lock()
	if current, ok := h.conns[c.id]; ok && current == c {
		delete(h.conns, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Info("session disconnected", zap.String("session_id", c.id))
}

func encodeFrame(event string, ack *int, data any) ([]byte, error) {
	frame := Frame{Event: event, Ack: ack}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}
