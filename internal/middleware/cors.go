package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Export metadata headers. Browsers only let scripts read them when they are
// listed in Access-Control-Expose-Headers.
const (
	ExportTruncatedHeader    = "X-Export-Truncated"
	ExportRowLimitHeader     = "X-Export-Row-Limit"
	ExportTotalMatchesHeader = "X-Export-Total-Matches"
)

// CORS creates a middleware that handles Cross-Origin Resource Sharing (CORS).
// It uses the official gin-contrib/cors package with configuration for the allowed origins.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{
			"X-Request-ID",
			"Content-Disposition",
			ExportTruncatedHeader,
			ExportRowLimitHeader,
			ExportTotalMatchesHeader,
		},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}

	return cors.New(config)
}
