package http

import (
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/truthcard/internal/domain/device"
	"github.com/yanqian/truthcard/internal/domain/usage"
)

const deviceTokenHeader = "X-Device-Token"

// deviceMiddleware attaches the caller's device claims. Browsers without a
// valid token get a fresh free tier device, returned as a cookie and header.
func deviceMiddleware(svc device.Service, cookie cookieSettings, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(deviceTokenHeader))
		if token == "" {
			token, _ = c.Cookie(cookie.Name)
		}
		if token != "" {
			claims, err := svc.Validate(c.Request.Context(), token)
			if err == nil {
				setDevice(c, claims)
				c.Next()
				return
			}
			logger.Debug("discarding device token", "error", err)
		}

		issued, err := svc.Issue(c.Request.Context(), usage.TierFree)
		if err != nil {
			fail(c, err)
			return
		}
		writeDeviceToken(c, cookie, issued)
		setDevice(c, issued.Claims)
		c.Next()
	}
}

type cookieSettings struct {
	Name   string
	MaxAge time.Duration
}

func writeDeviceToken(c *gin.Context, cookie cookieSettings, token device.Token) {
	c.Header(deviceTokenHeader, token.Token)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.Name, token.Token, int(cookie.MaxAge.Seconds()), "/", "", isSecure(c), true)
}

func isSecure(c *gin.Context) bool {
	return c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
}
