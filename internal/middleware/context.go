package middleware

import "github.com/gin-gonic/gin"

const clientIDKey = "client_id"

// GetClientID extracts the authenticated client id from the context
func GetClientID(c *gin.Context) string {
	clientID, exists := c.Get(clientIDKey)
	if !exists {
		return ""
	}
	id, _ := clientID.(string)
	return id
}
