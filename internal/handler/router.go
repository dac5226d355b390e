package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"onsei/voicegate/internal/config"
	"onsei/voicegate/internal/handler/middleware"
)

const bannerHTML = `<html>
<head><meta charset="utf-8"><title>voicegate</title></head>
<body>
<h1>voicegate</h1>
<p>Serial-code gated voice audio delivery service.</p>
<p>Point the provider's inbound voice webhook at <code>/voice</code>.</p>
</body>
</html>`

func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	voiceHandler *VoiceHandler,
	adminHandler *AdminHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))

	// Service banner + health check
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(bannerHTML))
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Locally hosted audio resources
	r.Static("/audio", cfg.Audio.Dir)

	// Provider voice webhooks
	voice := r.Group("/voice")
	if cfg.Twilio.ValidateSignature {
		voice.Use(middleware.WebhookSignature(cfg.Twilio.AuthToken, logger))
	}
	{
		// The provider console probes webhooks with GET, so both methods
		// are accepted where the original flow does.
		voice.GET("", voiceHandler.Inbound)
		voice.POST("", voiceHandler.Inbound)
		voice.POST("/verify", voiceHandler.Verify)
		voice.GET("/fulfill/:code", voiceHandler.Fulfill)
		voice.POST("/fulfill/:code", voiceHandler.Fulfill)
	}

	// Operator API
	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.CORS(cfg.CORS))
	admin.Use(middleware.AdminToken(cfg.Admin.Token))
	{
		admin.GET("/codes", adminHandler.ListCodes)
		admin.PUT("/codes/:code", adminHandler.UpsertCode)
		admin.POST("/codes/:code/reset", adminHandler.ResetCode)
		admin.POST("/codes/reset-all", adminHandler.ResetAll)
		admin.POST("/codes/sync", adminHandler.Sync)
	}

	return r
}
