package keys

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"tradingcore/src/security"
)

// Keys encrypts exchange API credentials for the connector configuration.
// The output goes into API_KEY_HASH and API_SECRET_HASH.
type Keys struct {
	APIKey    string
	APISecret string
}

func (t *Keys) Start() error {
	if t.APIKey == "" || t.APISecret == "" {
		return fmt.Errorf("both --api-key and --api-secret are required")
	}

	keyHash, err := security.EncryptString(t.APIKey)
	if err != nil {
		logrus.WithError(err).Error("Failed to encrypt API key")
		return err
	}
	secretHash, err := security.EncryptString(t.APISecret)
	if err != nil {
		logrus.WithError(err).Error("Failed to encrypt API secret")
		return err
	}

	fmt.Printf("API_KEY_HASH=%s\n", keyHash)
	fmt.Printf("API_SECRET_HASH=%s\n", secretHash)
	return nil
}
