package middleware

import (
	"net/http"
	"strings"

	"PCounter/tools/errs"
	"PCounter/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxClaimsKey 鉴权通过后 claims 存在 gin.Context 的 key
const CtxClaimsKey = "opsClaims"

type AuthOptions struct {
	JWT         security.Options
	HeaderToken string // 默认 "authorization"，同时兼容 Authorization: Bearer xxx
}

func bearer(c *gin.Context, header string) string {
	token := strings.TrimSpace(c.GetHeader(header))
	if len(token) > len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	return token
}

// Auth 校验 HMAC JWT，scope 非空时要求 token 带该 scope
func Auth(opts *AuthOptions, scope string) gin.HandlerFunc {
	header := opts.HeaderToken
	if header == "" {
		header = "Authorization"
	}
	return func(c *gin.Context) {
		token := bearer(c, header)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail("missing token"))
			return
		}
		claims, err := security.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail(err.Error()))
			return
		}
		if scope != "" && !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrTokenInvalid.WithDetail("missing scope "+scope))
			return
		}
		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}
