package ws

import (
	"net/http"
	"strconv"

	"chainpay/config"
	"chainpay/internal/auth"
	"chainpay/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UpgradeBatchWS upgrades a connection for the batch progress feed; query:
// token. Operators only. The server pushes a BatchEvent per migration
// transition until the client disconnects.
func UpgradeBatchWS(cfg *config.JWTConfig, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != domain.RoleOperator {
			c.JSON(http.StatusForbidden, gin.H{"error": "operator access required"})
			return
		}
		batchID, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := NewClient(uint(batchID), conn)
		hub.Register(client)
		defer func() {
			hub.Unregister(client)
			client.Close()
		}()
		// Block reading until the peer goes away; all writes come from the hub.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
