package core

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tradingcore/src/channels"
	"tradingcore/src/connectors"
	"tradingcore/src/database"
	"tradingcore/src/exchanges"
	"tradingcore/src/repository"
	"tradingcore/src/server"
)

// Core runs one exchange instance until interrupted.
type Core struct {
	// ExchangeName overrides the configured connector name when set.
	ExchangeName string

	// UseDatabase wires gorm-backed order and trade history.
	UseDatabase bool
}

func (t *Core) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	exchangeConfig := exchanges.GetConfig()
	if t.ExchangeName != "" {
		exchangeConfig.ExchangeName = t.ExchangeName
	}

	opts, err := exchanges.OptionsFromConfig(exchangeConfig)
	if err != nil {
		logrus.WithError(err).Error("Invalid exchange configuration")
		return err
	}

	if t.UseDatabase {
		if err := database.InitMainDB(repository.Migrations()...); err != nil {
			logrus.WithError(err).Fatal("Failed to connect to main database")
			return err
		}
		opts.History = repository.NewHistoryRepository()
	}

	logrus.WithFields(map[string]interface{}{
		"exchange":    opts.ExchangeName,
		"exchange_id": opts.ExchangeID,
	}).Info("Starting exchange instance")

	manager, err := exchanges.NewManager(opts)
	if err != nil {
		logrus.WithError(err).Error("Failed to build exchange instance")
		return err
	}
	if err := manager.Start(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start exchange instance")
		return err
	}
	defer manager.Stop()

	// A configured websocket stream supplements the REST polls with pushed
	// tickers and trades.
	if wsConfig := connectors.GetConfig(); wsConfig.WsURL != "" {
		feed := connectors.NewWsFeed(opts.ExchangeName, opts.ExchangeID, wsConfig, opts.Symbols)
		if ch, err := manager.Registry.GetChannel(channels.TickerChannel); err == nil {
			feed.BindTickerProducer(ch.NewProducer())
		}
		if ch, err := manager.Registry.GetChannel(channels.RecentTradesChannel); err == nil {
			feed.BindTradesProducer(ch.NewProducer())
		}
		go feed.Run(ctx)
	}

	if config.ServerEnabled {
		server.StartServer(ctx, server.GetConfig().Port)
	} else {
		<-ctx.Done()
	}

	return nil
}
