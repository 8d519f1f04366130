package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const hstsMaxAge int64 = 60 * 60 * 24 * 365 * 100

var repeatedSlashes = regexp.MustCompile(`/+`)

// SecurityHeaders 附加区域与 HSTS 响应头
func SecurityHeaders(flyRegion string) gin.HandlerFunc {
	if flyRegion == "" {
		flyRegion = "unknown"
	}
	hsts := fmt.Sprintf("max-age=%d", hstsMaxAge)
	return func(c *gin.Context) {
		c.Header("x-fly-region", flyRegion)
		c.Header("Strict-Transport-Security", hsts)
		c.Next()
	}
}

// TrailingSlashRedirect /clean-urls/ -> /clean-urls，保留查询串
func TrailingSlashRedirect() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if len(p) > 1 && strings.HasSuffix(p, "/") {
			target := repeatedSlashes.ReplaceAllString(strings.TrimSuffix(p, "/"), "/")
			if q := c.Request.URL.RawQuery; q != "" {
				target += "?" + q
			}
			c.Redirect(http.StatusMovedPermanently, target)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ReplayWrites 只读区域收到写请求时，让边缘代理把请求重放到主区域
func ReplayWrites(primaryRegion, flyRegion string, log logrus.FieldLogger) gin.HandlerFunc {
	readOnly := flyRegion != "" && primaryRegion != "" && flyRegion != primaryRegion
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if !readOnly {
			c.Next()
			return
		}
		log.WithFields(logrus.Fields{
			"path":           c.Request.URL.Path,
			"method":         c.Request.Method,
			"primary_region": primaryRegion,
			"fly_region":     flyRegion,
		}).Info("replaying write to primary region")
		c.Header("fly-replay", "region="+primaryRegion)
		c.AbortWithStatus(http.StatusConflict)
	}
}

// BasicAuth 为整个站点增加一个简单的 Basic Auth 访问密码，/health 不做认证
func BasicAuth(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// RequestLogger 每个请求一行日志
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"bytes":   c.Writer.Size(),
			"latency": time.Since(start).String(),
		}).Info("http request")
	}
}
