package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testSigner struct {
	key     *rsa.PrivateKey
	certPEM string
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return &testSigner{key: key, certPEM: string(certPEM)}
}

func newCertServer(t *testing.T, cacheControl string, certs map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(certs)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestKeySetCachesForMaxAge(t *testing.T) {
	signer := newTestSigner(t)
	srv, hits := newCertServer(t, "public, max-age=120, must-revalidate", map[string]string{"k1": signer.certPEM})

	ks := NewKeySet(srv.URL, srv.Client(), zaptest.NewLogger(t))
	now := time.Now()
	ks.now = func() time.Time { return now }
	ctx := context.Background()

	key, err := ks.PublicKey(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, signer.key.PublicKey.N, key.N)

	_, err = ks.PublicKey(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	now = now.Add(121 * time.Second)
	_, err = ks.PublicKey(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int32(2), hits.Load())
}

func TestKeySetWithoutMaxAgeIsNotCached(t *testing.T) {
	signer := newTestSigner(t)
	srv, hits := newCertServer(t, "", map[string]string{"k1": signer.certPEM})

	ks := NewKeySet(srv.URL, srv.Client(), zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		_, err := ks.PublicKey(context.Background(), "k1")
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), hits.Load())
}

func TestKeySetUnknownKidAndBadCertificates(t *testing.T) {
	signer := newTestSigner(t)
	srv, _ := newCertServer(t, "max-age=60", map[string]string{
		"k1":     signer.certPEM,
		"broken": "not a certificate",
	})

	ks := NewKeySet(srv.URL, srv.Client(), zaptest.NewLogger(t))
	_, err := ks.PublicKey(context.Background(), "broken")
	require.ErrorIs(t, err, ErrUnknownKey)
	_, err = ks.PublicKey(context.Background(), "k2")
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestKeySetFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	ks := NewKeySet(srv.URL, srv.Client(), zaptest.NewLogger(t))
	_, err := ks.PublicKey(context.Background(), "k1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestParseMaxAge(t *testing.T) {
	require.Equal(t, 3600*time.Second, parseMaxAge("public, max-age=3600, must-revalidate, no-transform"))
	require.Zero(t, parseMaxAge("no-cache"))
	require.Zero(t, parseMaxAge(""))
}

func TestKeySetFetchIgnoresCallerCancellation(t *testing.T) {
	signer := newTestSigner(t)
	srv, hits := newCertServer(t, "max-age=60", map[string]string{"k1": signer.certPEM})
	ks := NewKeySet(srv.URL, srv.Client(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key, err := ks.PublicKey(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, signer.key.PublicKey.N, key.N)
	require.Equal(t, int32(1), hits.Load())

	// 取得結果はキャッシュされ、後続の呼び出しに共有される。
	_, err = ks.PublicKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
}
