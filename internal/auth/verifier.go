// Package auth は接続時のトークン検証と試行回数制限を提供します。
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenError はトークン検証に関するエラーです。
type TokenError string

func (e TokenError) Error() string {
	return string(e)
}

const (
	ErrNoToken      = TokenError("no token")
	ErrMissingKeyID = TokenError("no kid found")
	ErrUnknownKey   = TokenError("no public key found")
	ErrInvalidToken = TokenError("invalid token")
)

// Identity は検証済みトークンの主体です。
type Identity struct {
	Subject string
	Claims  jwt.MapClaims
}

// KeyProvider は kid から検証用の公開鍵を返します。
type KeyProvider interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// TokenVerifier はトークンを検証して Identity を返します。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Verifier は RS256 署名の ID トークンを検証します。
type Verifier struct {
	keys    KeyProvider
	options []jwt.ParserOption
}

// NewVerifier は Verifier を作成します。audience / issuer が空の場合は検証しません。
func NewVerifier(keys KeyProvider, audience, issuer string) *Verifier {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	return &Verifier{keys: keys, options: options}
}

// Verify はトークンの署名とクレームを検証します。
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKeyID
		}
		return v.keys.PublicKey(ctx, kid)
	}, v.options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	subject, _ := claims.GetSubject()
	return &Identity{Subject: subject, Claims: claims}, nil
}

// AllowAll は検証を行わず、トークン文字列をそのまま主体として受け入れます。開発モード専用です。
type AllowAll struct{}

func (AllowAll) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	return &Identity{Subject: token}, nil
}
