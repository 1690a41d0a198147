package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/backend"
	"github.com/C4T-BuT-S4D/hashchat/internal/config"
	"github.com/C4T-BuT-S4D/hashchat/internal/logging"
	"github.com/C4T-BuT-S4D/hashchat/internal/moderation"
	"github.com/C4T-BuT-S4D/hashchat/internal/monitor"
	"github.com/C4T-BuT-S4D/hashchat/internal/notify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/telebot.v4"
)

func main() {
	setupConfig()
	logging.Init()

	cfg, err := config.New()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	logrus.Debugf("config: %+v", cfg)

	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		logrus.Fatal("telegram_token and telegram_chat_id are required")
	}
	if kind, _ := backend.KindOf(cfg.StoreURL); kind == backend.KindMemory {
		logrus.Fatal("the moderation bot needs a shared store, memory:// is process local")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	st, closeStore, err := backend.Open(initCtx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	panel := moderation.New(st, notify.Nop{})
	if err := panel.RefreshMaintenance(initCtx); err != nil {
		logrus.Fatalf("Failed to load maintenance mode: %v", err)
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token: cfg.TelegramToken,
		Poller: &telebot.LongPoller{
			Timeout:        10 * time.Second,
			AllowedUpdates: []string{"message", "callback_query"},
		},
	})
	if err != nil {
		logrus.Fatalf("Failed to create bot: %v", err)
	}

	mon := monitor.New(cfg, panel)
	bot.Handle(telebot.OnText, mon.HandleCommand)
	bot.Handle(telebot.OnCallback, mon.HandleCallback)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		bot.Start()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		panel.RunRefresher(ctx, cfg.RefreshInterval)
	}()

	<-ctx.Done()

	bot.Stop()

	logrus.Info("waiting for services to finish")
	wg.Wait()
}

func setupConfig() {
	viper.SetDefault("bot_handle_timeout", "10s")
	config.SetupCommon()
}
