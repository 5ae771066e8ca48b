package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cardroll-backend/internal/services"
)

type AuthHandler struct {
	jwtService *services.JWTService
}

func NewAuthHandler(jwtService *services.JWTService) *AuthHandler {
	return &AuthHandler{jwtService: jwtService}
}

// GuestToken mints a player identity. Wallet-based auth is handled by an
// upstream service; the game only needs a stable player id.
func (h *AuthHandler) GuestToken(c *gin.Context) {
	var req struct {
		PlayerID string `json:"player_id"`
	}
	c.ShouldBindJSON(&req)

	playerID := req.PlayerID
	if playerID == "" {
		playerID = uuid.New().String()
	}

	token, err := h.jwtService.GenerateToken(playerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"player_id": playerID,
		"token":     token,
	})
}
