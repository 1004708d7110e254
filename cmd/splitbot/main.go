package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/avoronov/splitbot/internal/api"
	"github.com/avoronov/splitbot/internal/bot"
	"github.com/avoronov/splitbot/internal/config"
	"github.com/avoronov/splitbot/internal/extract"
	"github.com/avoronov/splitbot/internal/ledger"
	"github.com/avoronov/splitbot/internal/logger"
	"github.com/avoronov/splitbot/internal/session"
	"github.com/avoronov/splitbot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	zlog := logger.Get()

	store, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		zlog.Fatal("creating upload directory", zap.Error(err))
	}

	discord, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		zlog.Fatal("creating discord session", zap.Error(err))
	}

	oauthConfig := ledger.OAuthConfig(
		cfg.LedgerClientID, cfg.LedgerClientSecret, cfg.LedgerRedirectURI, cfg.LedgerAPIBase)

	extractor := extract.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel)

	var webServer *api.API
	sessions := session.NewManager(session.Config{
		Extractor: extractor,
		NewLedger: func(token *oauth2.Token) ledger.Ledger {
			return ledger.NewClient(cfg.LedgerAPIBase, oauthConfig, token)
		},
		Store:         store,
		Messenger:     bot.NewMessenger(discord),
		AuthURL:       func(userID string) (string, error) { return webServer.AuthURL(userID) },
		CorrectionURL: func(userID string) (string, error) { return webServer.CorrectionURL(userID) },
		Logger:        zlog,
	})
	webServer = api.New(cfg, oauthConfig, sessions, zlog)

	discordBot := bot.New(discord, sessions, zlog)
	if err := discordBot.Start(); err != nil {
		zlog.Fatal("starting discord bot", zap.Error(err))
	}
	defer discordBot.Stop()

	go func() {
		if err := webServer.Start(); err != nil {
			zlog.Error("web server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zlog.Info("shutting down")
}
