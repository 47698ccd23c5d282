package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrWalletConfiguration marks an invalid wallet setup, such as a real
	// wallet declared on the simulated network.
	ErrWalletConfiguration = errors.New("invalid blockchain wallet configuration")

	// ErrNativeCoinSymbolUndefined marks a wallet created without its
	// chain's native coin symbol.
	ErrNativeCoinSymbolUndefined = errors.New("blockchain wallet native coin symbol undefined")
)

// Wallet is the boundary to one blockchain wallet: a balance and an
// outgoing transfer. Implementations handle their own signing and chain
// access.
type Wallet interface {
	Name() string
	Network() string
	Currency() string

	GetBalance(ctx context.Context) (decimal.Decimal, error)

	// Transfer sends quantity to the given address and returns the
	// blockchain transaction ID.
	Transfer(ctx context.Context, address string, quantity decimal.Decimal) (string, error)
}

// Constructor builds a wallet for one currency.
type Constructor func(currency string) (Wallet, error)

var (
	registryMu     sync.Mutex
	walletRegistry = make(map[string]Constructor)
)

// Register installs a wallet constructor under a name. Re-registration
// overwrites, which tests rely on to install fakes.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	walletRegistry[name] = constructor
}

// New instantiates a registered wallet.
func New(name, currency string) (Wallet, error) {
	registryMu.Lock()
	constructor, ok := walletRegistry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no wallet registered under %q", name)
	}
	return constructor(currency)
}

// ValidateNetwork refuses real wallets on the canonical simulated network
// and simulated wallets off it.
func ValidateNetwork(network string, simulated bool) error {
	canonical := GetConfig().SimulatedBlockchainNetwork
	if simulated && network != canonical {
		return fmt.Errorf("%w: simulated wallet must use network %q, got %q",
			ErrWalletConfiguration, canonical, network)
	}
	if !simulated && network == canonical {
		return fmt.Errorf("%w: network %q is reserved for simulated wallets",
			ErrWalletConfiguration, network)
	}
	return nil
}
