package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HTTPUserInfo struct {
	UID      string
	DeviceID string
}

func ExtractUserInfo(c *gin.Context) (HTTPUserInfo, bool) {
	uid := c.GetString("uid") // From JWT middleware
	if uid == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User not authenticated"})
		return HTTPUserInfo{}, false
	}

	return HTTPUserInfo{
		UID:      uid,
		DeviceID: c.GetString("deviceID"),
	}, true
}
