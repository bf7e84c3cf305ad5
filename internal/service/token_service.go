package service

import (
	"strings"
	"time"

	"github.com/freshcart-next/internal/config"
	"github.com/freshcart-next/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const defaultUserJWTExpireHours = 24 * 7

// UserJWTClaims 用户 JWT 声明
type UserJWTClaims struct {
	UserID       uint   `json:"user_id"`
	Email        string `json:"email"`
	TokenVersion uint64 `json:"token_version"`
	jwt.RegisteredClaims
}

// TokenService 用户令牌签发与解析
type TokenService struct {
	cfg config.JWTConfig
	now func() time.Time
}

// NewTokenService 创建令牌服务
func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{cfg: cfg, now: time.Now}
}

// Configured 是否配置了签名密钥
func (s *TokenService) Configured() bool {
	return s != nil && strings.TrimSpace(s.cfg.SecretKey) != ""
}

// GenerateUserJWT 生成用户 JWT Token
func (s *TokenService) GenerateUserJWT(user *models.User, expireHours int) (string, time.Time, error) {
	if !s.Configured() {
		return "", time.Time{}, ErrJWTSecretEmpty
	}
	if user == nil || user.ID == 0 {
		return "", time.Time{}, ErrInvalidUserID
	}
	resolvedHours := expireHours
	if resolvedHours <= 0 {
		resolvedHours = resolveUserJWTExpireHours(s.cfg)
	}
	now := s.now()
	expiresAt := now.Add(time.Duration(resolvedHours) * time.Hour)
	claims := UserJWTClaims{
		UserID:       user.ID,
		Email:        user.Email,
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.cfg.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseUserJWT 解析用户 JWT Token
func (s *TokenService) ParseUserJWT(tokenString string) (*UserJWTClaims, error) {
	if !s.Configured() {
		return nil, ErrJWTSecretEmpty
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &UserJWTClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*UserJWTClaims); ok && token.Valid && claims.UserID != 0 {
		return claims, nil
	}
	return nil, ErrTokenInvalid
}

func resolveUserJWTExpireHours(cfg config.JWTConfig) int {
	if cfg.ExpireHours > 0 {
		return cfg.ExpireHours
	}
	return defaultUserJWTExpireHours
}
