package updaters

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	FastRefreshPeriod   time.Duration `envconfig:"FAST_REFRESH_PERIOD" default:"10s"`
	MediumRefreshPeriod time.Duration `envconfig:"MEDIUM_REFRESH_PERIOD" default:"45s"`
	SlowRefreshPeriod   time.Duration `envconfig:"SLOW_REFRESH_PERIOD" default:"180s"`

	HistoricalCandlesCountLimit int `envconfig:"HISTORICAL_CANDLES_COUNT_LIMIT" default:"200"`
}

func GetConfig() Config {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		panic(err)
	}
	return cfg
}
