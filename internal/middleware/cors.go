package middleware

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/convo/internal/config"
)

// CORS answers preflight requests and sets the allow headers. Origins
// come from server.allowed_origins; an empty list allows everything,
// which is the development default.
func CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.GetHeader("Origin"))
		if originAllowed(origin) {
			if origin == "" {
				origin = "*"
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if string(c.Method()) == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next(ctx)
	}
}

func originAllowed(origin string) bool {
	origins := config.GlobalConfig.Server.AllowedOrigins
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}
