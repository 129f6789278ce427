package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	hzserver "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/internal/config"
	"github.com/mbeoliero/convo/internal/router"
	"github.com/mbeoliero/convo/internal/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s", cfg.Server.Mode)

	// One conversation with development fixtures
	room := server.NewRoom("general", "General", true)
	seed := []struct {
		userId, nickname, password string
		role                       entity.Role
	}{
		{"alice", "Alice", "alice123", entity.RoleAdmin},
		{"bob", "Bob", "bob123", entity.RoleModerator},
		{"carol", "Carol", "carol123", entity.RoleMember},
		{"dave", "Dave", "dave123", entity.RoleMember},
	}
	for _, u := range seed {
		if err := room.AddUser(u.userId, u.nickname, u.password, u.role); err != nil {
			log.CtxError(ctx, "failed to seed user %s: %v", u.userId, err)
			panic(err)
		}
	}

	srv := server.NewServer(cfg, room)
	go srv.Run(ctx)
	log.CtxInfo(ctx, "hub started: conversation_id=%s, users=%d", "general", len(seed))

	// Realtime endpoint on its own listener
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", srv.WSHandler())
	wsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.WSPort),
		Handler: wsMux,
	}
	go func() {
		log.CtxInfo(ctx, "websocket server starting on port %d", cfg.Server.WSPort)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.CtxError(ctx, "websocket server error: %v", err)
		}
	}()

	// Create Hertz server
	h := hzserver.Default(
		hzserver.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
	)

	// Setup routes
	router.SetupRouter(h, srv)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")

	cancel()
	if err := wsSrv.Shutdown(context.Background()); err != nil {
		log.CtxError(ctx, "websocket server shutdown error: %v", err)
	}
	if err := h.Shutdown(context.Background()); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}

	log.CtxInfo(ctx, "server stopped")
}
