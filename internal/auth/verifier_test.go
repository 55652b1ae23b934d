package auth

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type staticKeys map[string]*rsa.PublicKey

func (s staticKeys) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

const (
	testAudience = "sd-worker-test"
	testIssuer   = "https://securetoken.example.com/sd-worker-test"
)

func signToken(t *testing.T, signer *testSigner, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(signer.key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"aud": testAudience,
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	signer := newTestSigner(t)
	v := NewVerifier(staticKeys{"k1": &signer.key.PublicKey}, testAudience, testIssuer)

	identity, err := v.Verify(context.Background(), signToken(t, signer, "k1", validClaims()))
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.Subject)
}

func TestVerifierRejections(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)
	v := NewVerifier(staticKeys{"k1": &signer.key.PublicKey}, testAudience, testIssuer)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.com"
	noExpiry := validClaims()
	delete(noExpiry, "exp")

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"no kid":         signToken(t, signer, "", validClaims()),
		"unknown kid":    signToken(t, signer, "k9", validClaims()),
		"wrong key":      signToken(t, other, "k1", validClaims()),
		"expired":        signToken(t, signer, "k1", expired),
		"wrong audience": signToken(t, signer, "k1", wrongAudience),
		"wrong issuer":   signToken(t, signer, "k1", wrongIssuer),
		"no expiry":      signToken(t, signer, "k1", noExpiry),
		"hs256":          hs256,
		"garbage":        "not.a.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = v.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrNoToken)
}

func TestVerifierWithKeySet(t *testing.T) {
	signer := newTestSigner(t)
	srv, _ := newCertServer(t, "max-age=60", map[string]string{"k1": signer.certPEM})
	v := NewVerifier(NewKeySet(srv.URL, srv.Client(), nil), testAudience, testIssuer)

	identity, err := v.Verify(context.Background(), signToken(t, signer, "k1", validClaims()))
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.Subject)
}
