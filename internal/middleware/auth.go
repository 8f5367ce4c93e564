package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/utils"
)

const identityKey = "identity"

// Claims JWT 声明
type Claims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAuth 校验 HS256 令牌（token Cookie 或 Authorization: Bearer），通过后把身份存入上下文
func RequireAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := Verify(tokenFromRequest(c), jwtSecret)
		if err != nil {
			utils.Unauthorized(c, "未登录或令牌无效")
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireAdmin 管理员权限中间件，需放在 RequireAuth 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok || !identity.IsAdmin() {
			utils.Forbidden(c, "需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetIdentity 从上下文读取已验证的身份
func GetIdentity(c *gin.Context) (model.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return model.Identity{}, false
	}
	identity, ok := v.(model.Identity)
	return identity, ok
}

// Verify 解析并校验令牌
func Verify(tokenString, jwtSecret string) (model.Identity, error) {
	if tokenString == "" {
		return model.Identity{}, jwt.ErrTokenMalformed
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Identity{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return model.Identity{}, jwt.ErrTokenInvalidClaims
	}
	if claims.ExpiresAt == nil {
		return model.Identity{}, errors.New("token has no expiry")
	}
	return model.Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// tokenFromRequest 优先 Cookie，其次 Authorization Header
func tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie("token"); err == nil && cookie != "" {
		return cookie
	}
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// GenerateToken 生成 JWT Token
func GenerateToken(identity model.Identity, jwtSecret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: identity.UserID,
		Email:  identity.Email,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
