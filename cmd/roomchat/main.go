package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"room-chat/auth"
	"room-chat/domain"
	"room-chat/internal"
	"room-chat/moderation"
	"room-chat/realtime"
	"room-chat/repositories"
	"room-chat/runtime/workers"
	"room-chat/search"
	"room-chat/services"
	"room-chat/ui"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the shell.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until the user quits or a signal
// arrives. Returning instead of exiting lets the deferred closes run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Session store (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) && config.DebugPort > 0 {
		logger.Info("Debug session inspector available",
			"url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
		database.StartDebugServer(db, config.DebugPort, "/inspect", SessionMapper)
	}

	// 4. Auth & Realtime
	authClient, err := auth.NewClient(logger, auth.Config{
		URL:         config.SupabaseURL,
		AnonKey:     config.SupabaseAnonKey,
		CallbackURL: config.AuthCallbackURL,
	}, repositories.NewSessionRepository(db, logger), printOpener)
	if err != nil {
		return exitConfig, fmt.Errorf("auth client: %w", err)
	}

	endpoint, err := realtime.EndpointFromURL(config.SupabaseURL)
	if err != nil {
		return exitConfig, err
	}
	realtimeClient := realtime.NewClient(logger, realtime.SocketConfig{
		Endpoint:          endpoint,
		APIKey:            config.SupabaseAnonKey,
		HeartbeatInterval: config.HeartbeatInterval,
		PushTimeout:       config.PushTimeout,
		SendBufferSize:    config.EventBufferSize,
	})
	defer func() {
		logger.Info("Closing realtime socket...")
		_ = realtimeClient.Close()
	}()

	chatService := services.NewChatService(logger, authClient, realtimeClient, services.ChatConfig{
		ChannelName:  config.ChannelName,
		Provider:     config.AuthProvider,
		BroadcastAck: config.BroadcastAck,
		BufferSize:   config.EventBufferSize,
	})

	// 5. Search & Moderation
	index, err := search.NewIndex(logger, config.SearchLimit)
	if err != nil {
		return exitRuntime, fmt.Errorf("search index: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = index.Close()
	}()

	var moderator *moderation.Moderator
	if config.EnableModeration {
		data, err := moderation.NewEmbeddedLoader().LoadAll(moderation.DefaultDictionary)
		if err != nil {
			return exitRuntime, fmt.Errorf("censored dictionary: %w", err)
		}
		m, err := moderation.NewModerator(data.Words, charReplacement, logger)
		if err != nil {
			return exitRuntime, fmt.Errorf("moderator: %w", err)
		}
		logger.Debug("Moderation enabled", "words", len(data.Words), "languages", data.Languages)
		moderator = &m
	}

	// 6. Terminal view
	renderer := ui.NewRenderer(logger, os.Stdout, chatService, moderator, config.ScreenWidth, config.Colours)
	console := ui.NewConsole(logger, os.Stdin, chatService, index, renderer, stop)
	fanout := workers.NewEventFanout(logger, chatService.Events(), renderer, index)

	// 7. Supervision
	// Run blocks until /quit, end of input or a signal cancels the context.
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	capacity := workers.NewChannelCapacityWorker(logger, []workers.NamedChannel{
		{Name: "chat_events", Channel: chatService.Events()},
	}, config.MetricInterval, config.LowCapacity)
	sup.Add(chatService, fanout, console, capacity)
	logger.Debug("Starting room chat", "channel", config.ChannelName, "at", time.Now().UTC())
	sup.Run(ctx)

	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.SessionFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

// printOpener asks the user to open the authorize page. The process keeps
// listening on the callback address until the browser comes back.
func printOpener(authorizeURL string) error {
	_, err := fmt.Fprintf(os.Stdout, "Open this link to sign in:\n  %s\n", authorizeURL)
	return err
}

// SessionMapper shows who is signed in without exposing the tokens.
func SessionMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	var session domain.Session
	if err := json.Unmarshal(val, &session); err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}

	row.Type = "SESSION"
	row.Detail = fmt.Sprintf("%s (%s)", session.DisplayName(), session.User.ID)
	if session.ExpiresAt > 0 {
		row.Scores = "expires:" + time.Unix(session.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}
	return row
}
