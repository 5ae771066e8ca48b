package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"cardroll-backend/internal/fair"
	"cardroll-backend/internal/game"
	"cardroll-backend/internal/models"
	"cardroll-backend/internal/services"
)

type GameHandler struct {
	engine       *services.Engine
	redisService *services.RedisService
}

func NewGameHandler(engine *services.Engine, redisService *services.RedisService) *GameHandler {
	return &GameHandler{
		engine:       engine,
		redisService: redisService,
	}
}

func (h *GameHandler) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	session, err := h.engine.CreateSession(time.Duration(req.StartDelaySeconds) * time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create session",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": gin.H{
			"code":           session.Code,
			"phase":          session.Phase,
			"start_deadline": session.StartDeadline,
		},
	})
}

func (h *GameHandler) JoinSession(c *gin.Context) {
	playerID := c.GetString("player_id")
	code := c.Param("code")

	var req models.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	player, err := h.engine.JoinSession(code, game.PlayerInfo{
		ID:          playerID,
		DisplayName: req.DisplayName,
		AvatarRef:   req.AvatarRef,
	})
	if err != nil {
		respondGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"player": gin.H{
			"id":           player.ID,
			"display_name": player.DisplayName,
			"join_order":   player.JoinOrder,
			"hand":         player.Hand,
		},
	})
}

func (h *GameHandler) SubmitCommitment(c *gin.Context) {
	playerID := c.GetString("player_id")
	code := c.Param("code")

	var req models.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid commitment",
			"details": err.Error(),
		})
		return
	}

	allowed, err := h.redisService.CheckRateLimit(playerID, "commit", services.DefaultRateLimitCommit, time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many commitments. Please wait."})
		return
	}

	choice := models.Commitment{Skip: req.Skip, SelectedValue: req.Value}
	if err := h.engine.SubmitCommitment(code, playerID, choice); err != nil {
		respondGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *GameHandler) GetSession(c *gin.Context) {
	playerID := c.GetString("player_id")
	code := c.Param("code")

	view, err := h.engine.GetPublicView(code, playerID)
	if err != nil {
		respondGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

// Tick lets a polling client volunteer to advance the session. It is safe
// to call redundantly; a no-op tick just returns the current view.
func (h *GameHandler) Tick(c *gin.Context) {
	playerID := c.GetString("player_id")
	code := c.Param("code")

	allowed, err := h.redisService.CheckRateLimit(playerID, "tick", services.DefaultRateLimitTick, time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many ticks. Please wait."})
		return
	}

	if err := h.engine.Tick(code, playerID); err != nil {
		respondGameError(c, err)
		return
	}

	view, err := h.engine.GetPublicView(code, playerID)
	if err != nil {
		respondGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

func (h *GameHandler) Leaderboard(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		limit = 20
	}

	entries, err := h.redisService.Leaderboard(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read leaderboard",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"leaderboard": entries,
		"count":       len(entries),
	})
}

// Verify recomputes the commitment hash from a published reveal so anyone
// can audit a round after the fact.
func (h *GameHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	reveal, err := parseHash(req.Reveal)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid reveal",
			"details": err.Error(),
		})
		return
	}
	commitment, err := parseHash(req.Commitment)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid commitment",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"verification": gin.H{
			"valid":      fair.Verify(reveal, commitment),
			"reveal":     reveal.Hex(),
			"commitment": commitment.Hex(),
			"recomputed": fair.CommitmentOf(reveal).Hex(),
		},
	})
}

// parseHash rejects anything that is not exactly a 0x-prefixed 32-byte hex
// string; HexToHash would silently zero-pad garbage.
func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d-byte hash, got %d bytes", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func respondGameError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrPlayerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidPhase),
		errors.Is(err, models.ErrCardUnavailable),
		errors.Is(err, models.ErrAlreadyCommitted):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrVersionConflict), errors.Is(err, models.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrFulfillmentTimeout):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}
