package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	hzserver "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/mbeoliero/convo/internal/middleware"
	"github.com/mbeoliero/convo/internal/server"
)

// SetupRouter sets up all routes
func SetupRouter(h *hzserver.Hertz, srv *server.Server) {
	// CORS middleware
	h.Use(middleware.CORS())

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	// Auth routes (no auth required)
	authGroup := h.Group("/auth")
	{
		authGroup.POST("/login", srv.Login)
	}

	// Conversation routes (auth required)
	convGroup := h.Group("/conversations", middleware.JWTAuth())
	{
		convGroup.GET("/:id", srv.GetConversation)
		convGroup.POST("/:id/messages", srv.SendMessage)
		convGroup.POST("/:id/read", srv.MarkRead)
		convGroup.POST("/:id/promote", srv.Promote)
		convGroup.POST("/:id/demote", srv.Demote)
		convGroup.POST("/:id/remove-member", srv.RemoveParticipant)
	}

	// Message routes (auth required)
	msgGroup := h.Group("/messages", middleware.JWTAuth())
	{
		msgGroup.POST("/:id/edit", srv.EditMessage)
		msgGroup.DELETE("/:id", srv.DeleteMessage)
		msgGroup.POST("/:id/react", srv.React)
		msgGroup.POST("/:id/pin", srv.Pin)
		msgGroup.POST("/:id/announce", srv.Announce)
	}
}
