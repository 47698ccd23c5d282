package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradingcore/cmd/core"
	"tradingcore/cmd/keys"
	_ "tradingcore/src/connectors"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	app := cli.NewApp()
	app.Name = "tradingcore"
	app.Usage = "The tradingcore command line interface"

	app.Commands = []cli.Command{
		coreCMD,
		paperCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	coreCMD = cli.Command{
		Name:        "core",
		Usage:       "run the live exchange instance",
		Action:      coreAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the trading core against the configured exchange`,
	}
	paperCMD = cli.Command{
		Name:        "paper",
		Usage:       "run a simulated exchange instance",
		Action:      paperAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the trading core against the paper connector`,
	}
	keysCMD = cli.Command{
		Name:   "keys",
		Usage:  "encrypt exchange API credentials",
		Action: keysAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "api-key", Usage: "plain API key"},
			cli.StringFlag{Name: "api-secret", Usage: "plain API secret"},
		},
		Description: `Encrypt credentials for the connector configuration`,
	}
)

func coreAction(_ *cli.Context) error {
	logger.Info("Starting core CMD")

	t := &core.Core{ExchangeName: "rest", UseDatabase: true}
	if err := t.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func paperAction(_ *cli.Context) error {
	logger.Info("Starting paper CMD")

	t := &core.Core{ExchangeName: "paper"}
	if err := t.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func keysAction(c *cli.Context) error {
	logger.Info("Starting keys CMD")

	t := &keys.Keys{
		APIKey:    c.String("api-key"),
		APISecret: c.String("api-secret"),
	}
	if err := t.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
