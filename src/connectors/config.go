package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RestBaseURL string        `envconfig:"REST_BASE_URL" default:"https://testnet-api.example-exchange.com"`
	RestTimeout time.Duration `envconfig:"REST_TIMEOUT" default:"15s"`

	// Credentials are stored encrypted; see src/security.
	APIKeyHash    string `envconfig:"API_KEY_HASH"`
	APISecretHash string `envconfig:"API_SECRET_HASH"`

	WsURL           string        `envconfig:"WS_URL"`
	WsPingInterval  time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WsReconnectWait time.Duration `envconfig:"WS_RECONNECT_WAIT" default:"5s"`

	GoexSymbol string `envconfig:"GOEX_SYMBOL" default:"BTC"`
	GoexQuote  string `envconfig:"GOEX_QUOTE" default:"USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
