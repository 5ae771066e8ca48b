package main

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"cardroll-backend/internal/chain"
	"cardroll-backend/internal/config"
	"cardroll-backend/internal/handlers"
	"cardroll-backend/internal/middleware"
	"cardroll-backend/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisService, err := services.NewRedisService(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()

	jwtService := services.NewJWTService(cfg)

	oracle, requester, err := buildOracle(cfg)
	if err != nil {
		log.Fatalf("Failed to set up randomness oracle: %v", err)
	}

	bridge := chain.NewBridge(oracle, redisService, requester, cfg.SecretTTL)
	engine := services.NewEngine(redisService, bridge, cfg)

	wsHandler := handlers.NewWebSocketHandler(engine)
	engine.SetBroadcaster(wsHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)
	go engine.Crank(ctx, time.Second)
	if eth, ok := oracle.(*chain.EthOracle); ok {
		go eth.WatchRolled(ctx)
	}
	bridge.LogFee(ctx)

	authHandler := handlers.NewAuthHandler(jwtService)
	gameHandler := handlers.NewGameHandler(engine, redisService)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.POST("/auth/guest", authHandler.GuestToken)

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/ws", wsHandler.HandleWebSocket)
		protected.GET("/leaderboard", gameHandler.Leaderboard)
		protected.POST("/verify", gameHandler.Verify)

		sessions := protected.Group("/sessions")
		{
			sessions.POST("", gameHandler.CreateSession)
			sessions.GET("/:code", gameHandler.GetSession)
			sessions.POST("/:code/join", gameHandler.JoinSession)
			sessions.POST("/:code/commit", gameHandler.SubmitCommitment)
			sessions.POST("/:code/tick", gameHandler.Tick)
		}
	}

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildOracle picks the chain-backed oracle when an RPC endpoint is
// configured, otherwise the in-process dev oracle.
func buildOracle(cfg *config.Config) (chain.Oracle, common.Address, error) {
	if cfg.EthRPCURL == "" {
		log.Println("ETH_RPC_URL not set, using in-process dev oracle")
		return chain.NewDevOracle(2 * time.Second), common.Address{}, nil
	}

	eth, err := chain.NewEthOracle(cfg.EthRPCURL, cfg.OracleAddress, cfg.RequesterKey, cfg.ChainID)
	if err != nil {
		return nil, common.Address{}, err
	}
	return eth, eth.Requester(), nil
}
