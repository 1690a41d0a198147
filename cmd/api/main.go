package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/api"
	"github.com/C4T-BuT-S4D/hashchat/internal/auth"
	"github.com/C4T-BuT-S4D/hashchat/internal/backend"
	"github.com/C4T-BuT-S4D/hashchat/internal/config"
	"github.com/C4T-BuT-S4D/hashchat/internal/logging"
	"github.com/C4T-BuT-S4D/hashchat/internal/moderation"
	"github.com/C4T-BuT-S4D/hashchat/internal/notify"
	"github.com/C4T-BuT-S4D/hashchat/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	setupConfig()
	logging.Init()

	cfg, err := config.New()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	logrus.Debugf("config: %+v", cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	st, closeStore, err := backend.Open(initCtx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	authService := auth.New(st, auth.WithAdminEmails(cfg.Admins()))
	if admins := cfg.Admins(); len(admins) > 0 {
		if err := authService.EnsureAdmins(initCtx, admins); err != nil {
			logrus.Warnf("Failed to bootstrap admins: %v", err)
		}
	}

	codec, err := session.NewCodec(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logrus.Fatalf("Failed to create session codec: %v", err)
	}
	if cfg.SessionSecret == "" {
		logrus.Warn("session_secret is empty, sessions will not survive a restart")
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logrus.Fatalf("Failed to create telegram notifier: %v", err)
		}
		notifier = tg
	}

	panel := moderation.New(st, notifier)
	if err := panel.RefreshMaintenance(initCtx); err != nil {
		logrus.Fatalf("Failed to load maintenance mode: %v", err)
	}
	if _, err := panel.LoadUsers(initCtx); err != nil {
		logrus.Warnf("Failed to load users: %v", err)
	}

	service := api.NewService(cfg, st, authService, codec, panel)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(api.RequestLogger())
	service.Register(e)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		panel.RunRefresher(ctx, cfg.RefreshInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Infof("listening on %s", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("server stopped: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Failed to shut down server: %v", err)
	}

	logrus.Info("waiting for services to finish")
	wg.Wait()
}

func setupConfig() {
	config.SetupCommon()
}
