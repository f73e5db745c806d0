package http

import (
	"github.com/gin-gonic/gin"

	"github.com/yanqian/truthcard/internal/domain/device"
)

const deviceClaimsKey = "device_claims"

func setDevice(c *gin.Context, claims device.Claims) {
	c.Set(deviceClaimsKey, claims)
}

func getDevice(c *gin.Context) (device.Claims, bool) {
	value, ok := c.Get(deviceClaimsKey)
	if !ok {
		return device.Claims{}, false
	}
	claims, ok := value.(device.Claims)
	return claims, ok
}
