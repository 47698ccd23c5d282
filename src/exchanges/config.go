package exchanges

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ExchangeName string   `envconfig:"EXCHANGE_NAME" default:"paper"`
	ExchangeID   string   `envconfig:"EXCHANGE_ID" default:""`
	Symbols      []string `envconfig:"TRADED_SYMBOLS" default:"BTC/USDT"`
	TimeFrames   []string `envconfig:"TIME_FRAMES" default:"1h"`

	SaveCanceledTrades bool `envconfig:"SAVE_CANCELED_TRADES" default:"false"`
	RecentTradesLimit  int  `envconfig:"RECENT_TRADES_LIMIT" default:"50"`
}

func GetConfig() Config {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		panic(err)
	}
	return cfg
}
