package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 24 << 20

	eventJobRequest = "job_request"
	eventAck        = "ack"
	eventPing       = "ping"
	eventPong       = "pong"
	eventError      = "error"
)

// Submitter はジョブ定義を受け付けてキューに積みます。
type Submitter interface {
	Enqueue(sessionID string, raw []byte) (jobID string, queuePos int, err error)
}

type ackData struct {
	Status   string `json:"status"`
	JobID    string `json:"jobId,omitempty"`
	QueuePos int    `json:"queuePos,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Conn は1セッション分の WebSocket 接続です。
type Conn struct {
	id        string
	subject   string
	hub       *Hub
	ws        *websocket.Conn
	send      chan []byte
	submitter Submitter
	logger    *zap.Logger
}

func newConn(id, subject string, hub *Hub, ws *websocket.Conn, submitter Submitter, sendBuffer int, logger *zap.Logger) *Conn {
	return &Conn{
		id:        id,
		subject:   subject,
		hub:       hub,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		submitter: submitter,
		logger:    logger.With(zap.String("session_id", id)),
	}
}

// enqueue は送信バッファへ積みます。一杯の場合は false を返します。
func (c *Conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump はクライアントからのフレームを処理します。終了時にセッションを登録解除します。
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("read error", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(eventError, nil, ackData{Status: "error", Error: "invalid message format"})
			continue
		}
		c.handle(frame)
	}
}

// writePump は送信バッファの内容を書き出し、定期的に ping を送ります。
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Info("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handle(frame Frame) {
	switch frame.Event {
	case eventJobRequest:
		c.reply(eventAck, frame.Ack, c.submit(frame.Data))
	case eventPing:
		c.reply(eventPong, frame.Ack, nil)
	default:
		c.reply(eventError, frame.Ack, ackData{Status: "error", Error: "unknown event: " + frame.Event})
	}
}

func (c *Conn) submit(raw []byte) ackData {
	if len(raw) == 0 {
		return ackData{Status: "error", Error: "job definition is required"}
	}
	jobID, pos, err := c.submitter.Enqueue(c.id, raw)
	if err != nil {
		c.logger.Info("job request rejected", zap.Error(err))
		return ackData{Status: "error", Error: err.Error()}
	}
	return ackData{Status: "enqueued", JobID: jobID, QueuePos: pos}
}

func (c *Conn) reply(event string, ack *int, data any) {
	msg, err := encodeFrame(event, ack, data)
	if err != nil {
		c.logger.Error("failed to encode reply", zap.Error(err))
		return
	}
	if !c.enqueue(msg) {
		c.logger.Warn("send buffer full, dropping reply", zap.String("event", event))
	}
}
