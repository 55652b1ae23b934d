package realtime

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/sd-worker/internal/auth"
)

const defaultSendBuffer = 256

// Authenticator は接続要求のトークンを検証します。失敗時は応答を書き込み false を返します。
type Authenticator interface {
	Authenticate(c *gin.Context) (*auth.Identity, bool)
}

// HandlerConfig は Handler の依存関係です。
type HandlerConfig struct {
	Hub            *Hub
	Auth           Authenticator
	Submitter      Submitter
	AllowedOrigins []string
	SendBuffer     int
	Logger         *zap.Logger
}

// Handler は /ws への接続を受け付けます。
type Handler struct {
	hub        *Hub
	auth       Authenticator
	submitter  Submitter
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *zap.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Handler{
		hub:       cfg.Hub,
		auth:      cfg.Auth,
		submitter: cfg.Submitter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		sendBuffer: sendBuffer,
		logger:     logger.Named("ws"),
	}
}

// HandleConnection はトークンを検証してから WebSocket へアップグレードし、セッションを開始します。
func (h *Handler) HandleConnection(c *gin.Context) {
	identity, ok := h.auth.Authenticate(c)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("failed to upgrade connection", zap.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), identity.Subject, h.hub, ws, h.submitter, h.sendBuffer, h.logger)
	h.hub.register(conn)

	go conn.writePump()
	go conn.readPump()
}

// originChecker は許可オリジンの一覧から CheckOrigin を作ります。空または "*" を含む場合はすべて許可します。
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
