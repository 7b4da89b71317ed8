package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	Scope  string
}

// Routes 绑定鉴权配置后注册路由
type Routes struct {
	r    gin.IRoutes
	auth *AuthOptions
}

func NewRoutes(r gin.IRoutes, auth *AuthOptions) *Routes {
	return &Routes{r: r, auth: auth}
}

func (rt *Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if !opt.IsAuth || rt.auth == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{Auth(rt.auth, opt.Scope), handler}
}

// 封装 POST
func (rt *Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.POST(path, rt.chain(handler, opt)...)
}

// 封装 GET
func (rt *Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.GET(path, rt.chain(handler, opt)...)
}
