package usecase

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer はログイン成功時のセッショントークンを発行する。
// HS256署名・有効期限付きのJWTで、ユーザーをsubject、RPをaudienceに持つ。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer は新しいTokenIssuerを生成する。
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue は指定ユーザー・RP向けのセッショントークンを発行する。
func (t *TokenIssuer) Issue(uid, rpID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		Audience:  jwt.ClaimStrings{rpID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		ID:        uuid.New().String(),
	})
	return token.SignedString(t.secret)
}
