package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	maxKeySetBytes     = 1 << 20
	keySetFetchTimeout = 10 * time.Second
)

var maxAgePattern = regexp.MustCompile(`max-age=(\d+)`)

// KeySet は公開鍵証明書の一覧（kid → PEM）を取得し、Cache-Control の max-age の間キャッシュします。
// max-age がない応答はキャッシュせず、次回の参照で再取得します。
type KeySet struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
	now     func() time.Time

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

// NewKeySet は KeySet を作成します。client が nil の場合は 10 秒タイムアウトのクライアントを使います。
func NewKeySet(url string, client *http.Client, logger *zap.Logger) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySet{
		url:    url,
		client: client,
		logger: logger.Named("keyset"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "auth-keyset",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		now: time.Now,
	}
}

// PublicKey は kid に対応する公開鍵を返します。
func (k *KeySet) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, err := k.current(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

func (k *KeySet) current(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	k.mu.RLock()
	keys, expires := k.keys, k.expires
	k.mu.RUnlock()
	if keys != nil && k.now().Before(expires) {
		return keys, nil
	}

	v, err, _ := k.group.Do("keys", func() (any, error) {
		// 取得は待機中の全呼び出しで共有されるため、最初の呼び出し元の切断に影響されないようにする。
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keySetFetchTimeout)
		defer cancel()
		return k.breaker.Execute(func() (any, error) {
			return k.refresh(fetchCtx)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	return v.(map[string]*rsa.PublicKey), nil
}

func (k *KeySet) refresh(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBytes)).Decode(&certs); err != nil {
		return nil, fmt.Errorf("invalid key set: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, raw := range certs {
		key, err := parseCertificateKey(raw)
		if err != nil {
			k.logger.Warn("skipping unusable certificate", zap.String("kid", kid), zap.Error(err))
			continue
		}
		keys[kid] = key
	}

	maxAge := parseMaxAge(resp.Header.Get("Cache-Control"))
	now := k.now()
	k.mu.Lock()
	k.keys = keys
	k.expires = now.Add(maxAge)
	k.mu.Unlock()

	k.logger.Debug("key set refreshed", zap.Int("keys", len(keys)), zap.Duration("max_age", maxAge))
	return keys, nil
}

func parseCertificateKey(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
	}
	return key, nil
}

func parseMaxAge(cacheControl string) time.Duration {
	m := maxAgePattern.FindStringSubmatch(cacheControl)
	if m == nil {
		return 0
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
