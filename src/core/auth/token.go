package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL 令牌默认有效期
const DefaultTTL = time.Hour

type AuthToken struct {
	secretKey []byte
	ttl       time.Duration
}

// NewAuthToken 创建令牌签发器，ttl 为 0 时使用 DefaultTTL
func NewAuthToken(secretKey string, ttl time.Duration) (*AuthToken, error) {
	if secretKey == "" {
		return nil, errors.New("secret key cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AuthToken{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}, nil
}

func (at *AuthToken) GenerateToken(deviceID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"device_id": deviceID,
		"exp":       now.Add(at.ttl).Unix(),
		"iat":       now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyToken 校验签名和有效期，返回令牌中的设备ID
func (at *AuthToken) VerifyToken(tokenString string) (string, error) {
	if at == nil || at.secretKey == nil {
		return "", errors.New("secret key is not initialized")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	deviceID, ok := claims["device_id"].(string)
	if !ok {
		return "", errors.New("invalid device_id in claims")
	}
	return deviceID, nil
}
