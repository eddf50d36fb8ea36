package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// AccountHeader 由上游网关注入的已认证账户 ID。
	AccountHeader = "X-Account-ID"

	accountIDKey = "account_id"
)

// Account 解析调用方账户 ID 并写入 gin.Context。
// jwtSecret 非空时只接受 HS256 Bearer Token（sub 即账户 ID），否则信任 X-Account-ID。
func Account(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			accountID string
			err       error
		)
		if jwtSecret != "" {
			accountID, err = accountFromBearer(c.GetHeader("Authorization"), []byte(jwtSecret))
		} else {
			accountID = strings.TrimSpace(c.GetHeader(AccountHeader))
			if accountID == "" {
				err = errors.New("missing " + AccountHeader)
			}
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": err.Error()})
			return
		}
		c.Set(accountIDKey, accountID)
		c.Next()
	}
}

// AccountID 返回 Account 中间件解析出的账户 ID。
func AccountID(c *gin.Context) string {
	return c.GetString(accountIDKey)
}

func accountFromBearer(header string, secret []byte) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errors.New("missing bearer token")
	}
	token, err := jwt.Parse(strings.TrimSpace(raw), func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.New("invalid token")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
