package x402gate

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	solana "github.com/gagliardetto/solana-go"
)

// maxAssetDecimals is the largest decimal count any supported token uses.
const maxAssetDecimals = 18

// AssetDeployment describes one on-chain deployment of a token: where it
// lives and how its amounts are denominated. For EVM assets Name, Version and
// ChainID feed the EIP-712 signing domain.
type AssetDeployment struct {
	Network  Network
	Address  string
	Decimals int
	Symbol   string
	Name     string
	Version  string
	ChainID  int64
}

// Validate checks the deployment's invariants: decimals in [0,18] and an
// address well-formed for the network's chain family.
func (d AssetDeployment) Validate() error {
	if d.Decimals < 0 || d.Decimals > maxAssetDecimals {
		return fmt.Errorf("%w: %s decimals %d out of range [0,%d]", ErrInvalidDeployment, d.Symbol, d.Decimals, maxAssetDecimals)
	}
	if d.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidDeployment)
	}
	if err := ValidateAddress(d.Network, d.Address); err != nil {
		return fmt.Errorf("%w: %s on %s: %v", ErrInvalidDeployment, d.Symbol, d.Network, err)
	}
	if d.Network.Family() == ChainFamilyEVM && d.ChainID == 0 {
		return fmt.Errorf("%w: %s on %s: missing chain id", ErrInvalidDeployment, d.Symbol, d.Network)
	}
	return nil
}

// Equal reports structural equality of two deployments.
func (d AssetDeployment) Equal(o AssetDeployment) bool {
	return d == o
}

// ValidateAddress checks that an address is well-formed for the network's
// chain family: 0x-prefixed 20-byte hex for EVM, base58 32-byte for Solana.
func ValidateAddress(network Network, address string) error {
	switch network.Family() {
	case ChainFamilyEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%q is not a hex address", address)
		}
	case ChainFamilySVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("%q is not a base58 public key: %v", address, err)
		}
	default:
		return fmt.Errorf("unsupported network %q", network)
	}
	return nil
}

// Registry is a static catalogue of asset deployments keyed by network and
// symbol. It is immutable after construction and safe for concurrent lookup
// without locking.
type Registry struct {
	bySymbol  map[Network]map[string]AssetDeployment
	byAddress map[Network]map[string]AssetDeployment
}

// NewRegistry builds a registry from the given deployments. Invalid entries
// fail construction; registry errors are startup errors, never per-request.
func NewRegistry(deployments ...AssetDeployment) (*Registry, error) {
	r := &Registry{
		bySymbol:  make(map[Network]map[string]AssetDeployment),
		byAddress: make(map[Network]map[string]AssetDeployment),
	}
	for _, d := range deployments {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if r.bySymbol[d.Network] == nil {
			r.bySymbol[d.Network] = make(map[string]AssetDeployment)
			r.byAddress[d.Network] = make(map[string]AssetDeployment)
		}
		r.bySymbol[d.Network][strings.ToUpper(d.Symbol)] = d
		r.byAddress[d.Network][normalizeAddress(d.Network, d.Address)] = d
	}
	return r, nil
}

// Resolve returns the deployment of a symbol on a network.
func (r *Registry) Resolve(network Network, symbol string) (AssetDeployment, error) {
	d, ok := r.bySymbol[network][strings.ToUpper(symbol)]
	if !ok {
		return AssetDeployment{}, fmt.Errorf("%w: %s on %s", ErrUnknownAsset, symbol, network)
	}
	return d, nil
}

// ResolveByAddress returns the deployment at a contract or mint address on a
// network. Used by the payment agent to recover asset metadata from a 402
// challenge, which carries addresses rather than symbols.
func (r *Registry) ResolveByAddress(network Network, address string) (AssetDeployment, error) {
	d, ok := r.byAddress[network][normalizeAddress(network, address)]
	if !ok {
		return AssetDeployment{}, fmt.Errorf("%w: %s on %s", ErrUnknownAsset, address, network)
	}
	return d, nil
}

// equalAddress compares two addresses on a network. EVM addresses are
// case-insensitive hex; everything else compares exactly.
func equalAddress(network Network, a, b string) bool {
	return normalizeAddress(network, a) == normalizeAddress(network, b)
}

func normalizeAddress(network Network, address string) string {
	if network.Family() == ChainFamilyEVM {
		return strings.ToLower(address)
	}
	return address
}

// DefaultRegistry returns a registry of the USDC deployments this library
// knows out of the box. The addresses are the canonical Circle deployments.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		AssetDeployment{
			Network:  NetworkBase,
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Decimals: 6,
			Symbol:   "USDC",
			Name:     "USD Coin",
			Version:  "2",
			ChainID:  8453,
		},
		AssetDeployment{
			Network:  NetworkBaseSepolia,
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Decimals: 6,
			Symbol:   "USDC",
			Name:     "USDC",
			Version:  "2",
			ChainID:  84532,
		},
		AssetDeployment{
			Network:  NetworkSolana,
			Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Decimals: 6,
			Symbol:   "USDC",
			Name:     "USD Coin",
		},
		AssetDeployment{
			Network:  NetworkSolanaDevnet,
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Decimals: 6,
			Symbol:   "USDC",
			Name:     "USD Coin",
		},
	)
	if err != nil {
		// The built-in table is static; a failure here is a programming error.
		panic(err)
	}
	return r
}
