package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbeoliero/convo/internal/config"
	"github.com/mbeoliero/convo/sdk"
	"github.com/mbeoliero/convo/session"
	"github.com/mbeoliero/convo/transport"
)

// Program reference for async store updates
var (
	programRef *tea.Program
	programMu  sync.Mutex
)

func sendToProgram(msg tea.Msg) {
	programMu.Lock()
	p := programRef
	programMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	userId := flag.String("user", "", "user id to log in as")
	password := flag.String("password", "", "password")
	conversationId := flag.String("conversation", "general", "conversation id")
	flag.Parse()

	if *userId == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: convocli -user <id> -password <password> [-conversation <id>]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	api, err := sdk.NewClient(cfg.Client.BaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create client: %v\n", err)
		os.Exit(1)
	}
	login, err := api.Login(ctx, *userId, *password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	sess, err := session.Open(ctx, session.Options{
		ConversationId: *conversationId,
		UserId:         login.UserId,
		API:            api,
		NewChannel: func(onFrame func([]byte), onState func(transport.State)) session.Channel {
			return transport.NewChannel(transport.Options{
				URL:                  cfg.Client.WSURL,
				Token:                login.Token,
				WriteWait:            cfg.WebSocket.WriteWait,
				PongWait:             cfg.WebSocket.PongWait,
				MaxMessageSize:       cfg.WebSocket.MaxMessageSize,
				WriteChannelSize:     cfg.WebSocket.WriteChannelSize,
				ReconnectInterval:    cfg.WebSocket.ReconnectInterval,
				MaxReconnectAttempts: cfg.WebSocket.MaxReconnectAttempts,
			}, onFrame, onState)
		},
		ConfirmTimeout: cfg.Session.ConfirmTimeout,
		ReplayBuffer:   cfg.Session.ReplayBuffer,
		TypingTTL:      cfg.Session.TypingTTL,
		TypingInterval: cfg.Session.TypingInterval,
		OnUpdate: func() {
			sendToProgram(refreshMsg{})
		},
		OnStateChange: func(st transport.State) {
			sendToProgram(connStateMsg{state: st})
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open session: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	p := tea.NewProgram(newModel(sess, login.UserId), tea.WithAltScreen())
	programMu.Lock()
	programRef = p
	programMu.Unlock()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
}
