package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"onsei/voicegate/pkg/twilio"
)

// WebhookSignature rejects voice webhooks whose X-Twilio-Signature does not
// verify against the auth token. The signed URL is the externally visible
// one, so the forwarded proto/host headers set by the fronting proxy take
// precedence over the local request line.
func WebhookSignature(authToken string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sig := c.GetHeader("X-Twilio-Signature")

		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		scheme := "http"
		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		host := c.GetHeader("X-Forwarded-Host")
		if host == "" {
			host = c.Request.Host
		}
		fullURL := scheme + "://" + host + c.Request.RequestURI

		if !twilio.ValidateSignature(authToken, fullURL, c.Request.PostForm, sig) {
			logger.Warn("webhook signature rejected",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
