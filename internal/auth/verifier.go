package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExternalIdentity 是身份网关完成 OAuth 握手后交给核心的结果。
type ExternalIdentity struct {
	Provider string
	Subject  string
	Email    string
}

// AssertionClaims 表示登录断言中的业务字段。
type AssertionClaims struct {
	Email    string `json:"email"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// Verifier 校验身份网关签发的 RS256 登录断言。
// OAuth 与提供商的交互发生在核心之外，这里只认网关的签名。
type Verifier struct {
	publicKey *rsa.PublicKey
}

// NewVerifier 解析 PEM 公钥并构造校验器。
func NewVerifier(publicKeyPEM []byte) (*Verifier, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}

	return &Verifier{publicKey: publicKey}, nil
}

// Verify 解析并验证登录断言，返回外部身份。
func (v *Verifier) Verify(assertion string) (ExternalIdentity, error) {
	if strings.TrimSpace(assertion) == "" {
		return ExternalIdentity{}, errors.New("assertion is empty")
	}

	token, err := jwt.ParseWithClaims(assertion, &AssertionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return v.publicKey, nil
	})
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("parse assertion: %w", err)
	}

	claims, ok := token.Claims.(*AssertionClaims)
	if !ok || !token.Valid {
		return ExternalIdentity{}, errors.New("invalid assertion claims")
	}

	if claims.Subject == "" {
		return ExternalIdentity{}, errors.New("assertion subject is empty")
	}

	provider := claims.Provider
	if provider == "" {
		provider = "google"
	}

	return ExternalIdentity{
		Provider: provider,
		Subject:  claims.Subject,
		Email:    claims.Email,
	}, nil
}
