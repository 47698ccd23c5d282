package portfolio

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// AllowFundsTransfer gates every withdrawal path.
	AllowFundsTransfer bool `envconfig:"ALLOW_FUNDS_TRANSFER" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
