package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studyroom-server/internal/auth"
	"github.com/vovakirdan/studyroom-server/internal/config"
	"github.com/vovakirdan/studyroom-server/internal/core"
	"github.com/vovakirdan/studyroom-server/internal/metrics"
	"github.com/vovakirdan/studyroom-server/internal/store"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server: health, metrics, the realtime endpoint
// and the read-only room API. /ws is served outside gin because gin's writer
// refuses to hijack a connection once the upgrade headers are written.
func NewServer(
	gateway *core.Gateway,
	authService *auth.Service,
	st store.Store,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	rooms := NewRoomHandlers(st, gateway, logger)
	api := router.Group("/api", AuthMiddleware(authService, logger))
	api.GET("/rooms/:id", rooms.GetRoom)
	api.GET("/rooms/:id/members", rooms.ListMembers)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(gateway, authService, cfg, logger))
	mux.Handle("/", corsHandler(cfg.AllowedOrigins).Handler(router))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
