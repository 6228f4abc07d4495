package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tripallied/tripallied-backend/internal/services"
)

// HandleWebSocket upgrades an authenticated request into a realtime
// dispatch session.
func HandleWebSocket(db *gorm.DB, gateway *services.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		user, ok := loadUser(c, db, userID)
		if !ok {
			return
		}

		gateway.HandleWebSocket(c.Writer, c.Request, user)
	}
}
