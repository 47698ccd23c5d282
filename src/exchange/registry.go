package exchange

import (
	"fmt"
	"sync"
)

// ConnectorConstructor builds a connector for one exchange instance.
type ConnectorConstructor func(exchangeID string) (Connector, error)

// connectorRegistry is the explicit constructor table replacing runtime
// subclass discovery: connectors register by name at startup.
var (
	registryMu        sync.Mutex
	connectorRegistry = make(map[string]ConnectorConstructor)
)

// RegisterConnector installs a constructor under an exchange name.
// Re-registration overwrites, which tests rely on to install fakes.
func RegisterConnector(name string, constructor ConnectorConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	connectorRegistry[name] = constructor
}

// NewConnector instantiates a registered connector.
func NewConnector(name, exchangeID string) (Connector, error) {
	registryMu.Lock()
	constructor, ok := connectorRegistry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for exchange %q", name)
	}
	return constructor(exchangeID)
}

// RegisteredConnectors lists the known exchange names.
func RegisteredConnectors() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(connectorRegistry))
	for name := range connectorRegistry {
		names = append(names, name)
	}
	return names
}
