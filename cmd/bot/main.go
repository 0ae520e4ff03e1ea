package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/chzyer/readline"
	"golang.org/x/sync/errgroup"

	"github.com/bborn/textline/internal/bot"
	"github.com/bborn/textline/internal/config"
	"github.com/bborn/textline/internal/console"
	"github.com/bborn/textline/internal/db"
	"github.com/bborn/textline/internal/estimator"
	"github.com/bborn/textline/internal/ride"
	"github.com/bborn/textline/internal/session"
	"github.com/bborn/textline/internal/telegram"
	"github.com/bborn/textline/internal/transit"
	"github.com/bborn/textline/internal/twilio"
)

func main() {
	consoleMode := flag.Bool("console", false, "chat with the bot from this terminal instead of serving webhooks")
	consoleFrom := flag.String("from", "console", "sender identity used in console mode")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if *consoleMode {
		err = runConsole(cfg, logger, *consoleFrom)
	} else {
		err = run(cfg, logger)
	}
	if err != nil {
		logger.Error("Bot error", "error", err)
		os.Exit(1)
	}
}

// app is the bot with the stores it depends on
type app struct {
	bot      *bot.Bot
	database *db.DB
	janitor  *session.Janitor
}

func setup(cfg config.Config, logger *slog.Logger) (*app, error) {
	// Initialize database
	logger.Info("Initializing database...", "path", cfg.DBPath)
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Session slots live in process memory unless asked to survive restarts
	var backend session.Backend
	var purger session.Purger
	if cfg.SessionBackend == "sqlite" {
		backend, purger = database, database
	} else {
		mem := session.NewMemoryBackend(0)
		backend, purger = mem, mem
	}
	janitor, err := session.NewJanitor(purger, cfg.CleanupCron, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	// Initialize estimator
	logger.Info("Initializing estimator...", "provider", cfg.AIProvider)
	var provider estimator.Provider
	switch cfg.AIProvider {
	case "anthropic":
		provider = estimator.NewAnthropic(cfg.AnthropicKey, cfg.AnthropicModel)
	default:
		provider = estimator.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel)
	}

	b := bot.New(bot.Config{
		Location:       cfg.Location(),
		AllowedSenders: cfg.AllowedSenders,
		Logger:         logger,
	}, bot.Services{
		Sessions:  session.New(backend),
		Calories:  database.Calories(cfg.CalorieTarget),
		Transit:   transit.New(transit.Config{APIKey: cfg.MTAKey, BaseURL: cfg.MTABaseURL}),
		Estimator: estimator.New(provider),
		Rides: ride.NewClient(ride.Config{
			BaseURL:        cfg.RideAgentURL,
			Token:          cfg.RideAgentToken,
			Timeout:        cfg.RideTimeout,
			PriceTolerance: cfg.PriceTolerance,
		}),
	})

	return &app{bot: b, database: database, janitor: janitor}, nil
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("Starting Textline...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(cfg, logger)
	if err != nil {
		return err
	}
	defer a.database.Close()
	b, database, janitor := a.bot, a.database, a.janitor

	b.RegisterChannel(twilio.NewClient(twilio.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
	}))

	var tg *telegram.Channel
	if cfg.TelegramToken != "" {
		logger.Info("Starting Telegram bot...")
		tg, err = telegram.New(telegram.Config{Token: cfg.TelegramToken, Logger: logger})
		if err != nil {
			return err
		}
		b.RegisterChannel(tg)
	}

	webhookCfg := twilio.WebhookConfig{PublicURL: cfg.PublicURL, Logger: logger}
	if cfg.ValidateSignature {
		webhookCfg.AuthToken = cfg.TwilioAuthToken
	}

	mux := http.NewServeMux()
	mux.Handle("POST /sms", twilio.NewWebhook(b, webhookCfg))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Bot is running. Press Ctrl+C to stop.", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	if tg != nil {
		g.Go(func() error {
			return tg.Run(gctx, b)
		})
	}

	err = g.Wait()

	// Ride tasks may still be talking to the agent; let them text their results
	logger.Info("Waiting for ride tasks to finish...")
	b.Wait()
	logger.Info("Stopped")
	return err
}

// runConsole reads messages from the terminal. Deferred ride replies are
// printed as they arrive.
func runConsole(cfg config.Config, logger *slog.Logger, from string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	rl, err := readline.NewEx(&readline.Config{Prompt: "> ", InterruptPrompt: "^C", EOFPrompt: "exit"})
	if err != nil {
		return err
	}
	defer rl.Close()

	// Keep logs from interleaving with the prompt
	logger = slog.New(slog.NewTextHandler(rl.Stderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	a, err := setup(cfg, logger)
	if err != nil {
		return err
	}
	defer a.database.Close()

	ch := console.New(rl.Stdout(), from)
	a.bot.RegisterChannel(ch)

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	fmt.Fprintln(rl.Stdout(), "Text HOW for commands. Ctrl+D to quit.")
	err = ch.Run(ctx, rl, a.bot)
	a.bot.Wait()
	return err
}
