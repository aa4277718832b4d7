package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quellen-dev/lobbyd/internal/app"
	"github.com/quellen-dev/lobbyd/internal/events"
	"github.com/quellen-dev/lobbyd/internal/gateway"
	"github.com/quellen-dev/lobbyd/internal/handlers"
	"github.com/quellen-dev/lobbyd/internal/middleware"
	"github.com/quellen-dev/lobbyd/internal/transport"
)

// NewRouter builds the Gin engine, wires middleware and registers the lobby
// routes: the admin API, the player websocket, and the observer event feed.
func NewRouter(lobby *gateway.Gateway, conns *transport.Hub, feed *events.Hub, cfg *app.Config) (*gin.Engine, error) {
	if lobby == nil {
		return nil, fmt.Errorf("lobby gateway must be provided")
	}
	if conns == nil {
		return nil, fmt.Errorf("connection hub must be provided")
	}
	if feed == nil {
		return nil, fmt.Errorf("event feed must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}

	lobbyHandler := handlers.NewLobbyHandler(lobby)

	api := r.Group("/api")
	{
		api.GET("/roster", lobbyHandler.Roster)
		api.GET("/roster/:player_id", lobbyHandler.Player)
		api.GET("/session", lobbyHandler.Session)
		api.POST("/session/start", lobbyHandler.StartSession)
		api.POST("/session/end", lobbyHandler.EndSession)
		api.POST("/server/reset", lobbyHandler.ResetServer)
	}

	// Player connections and the read-only observer feed
	r.GET("/ws", func(c *gin.Context) { conns.Serve(c.Writer, c.Request) })
	r.GET("/ws/events", func(c *gin.Context) { feed.Serve(c.Writer, c.Request) })

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
