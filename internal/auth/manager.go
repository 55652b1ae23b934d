package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	attemptWindow = 15 * time.Minute
	lockDuration  = 10 * time.Minute
	maxAttempts   = 5
)

// ContextIdentityKey は、ハンドラー間で検証済みの Identity を共有するためのキーです。
const ContextIdentityKey = "auth.identity"

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager はトークン認証と、IP ごとの失敗回数制限をまとめた構造体です。
type Manager struct {
	verifier TokenVerifier
	logger   *zap.Logger
	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(verifier TokenVerifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		verifier: verifier,
		logger:   logger.Named("auth"),
		attempts: make(map[string]*attemptState),
	}
}

// Authenticate はリクエストのトークンを検証します。
// 失敗時はエラー応答を書き込み false を返します。
func (m *Manager) Authenticate(c *gin.Context) (*Identity, bool) {
	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return nil, false
	}

	token := extractToken(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "NO_TOKEN",
			"message": "認証トークンが必要です",
		})
		return nil, false
	}

	identity, err := m.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		remaining := m.recordFailure(ip)
		m.logger.Info("token rejected", zap.String("ip", ip), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_TOKEN",
			"message":           "認証トークンが無効です",
			"remainingAttempts": remaining,
		})
		return nil, false
	}

	m.resetAttempts(ip)
	return identity, true
}

// RequireToken はトークンを検証するミドルウェアを返します。
func (m *Manager) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := m.Authenticate(c)
		if !ok {
			return
		}
		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// IdentityFrom は RequireToken が設定した Identity を取り出します。
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}

// extractToken は Authorization: Bearer ヘッダー、なければ token クエリからトークンを取り出します。
// ブラウザの WebSocket はヘッダーを付けられないためクエリも受け付ける。
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := time.Now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return time.Until(state.lockedUntil)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > attemptWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxAttempts
	}

	remaining := maxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}
