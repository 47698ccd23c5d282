package wallet

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// AllowFundsTransfer gates every withdrawal path.
	AllowFundsTransfer bool `envconfig:"ALLOW_FUNDS_TRANSFER" default:"true"`

	// SimulatedBlockchainNetwork is the canonical network name reserved for
	// simulated wallets. Real wallets must use a different name.
	SimulatedBlockchainNetwork string `envconfig:"SIMULATED_BLOCKCHAIN_NETWORK" default:"simulated"`
}

func GetConfig() Config {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		panic(err)
	}
	return cfg
}
