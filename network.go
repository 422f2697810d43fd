package x402gate

// Network identifies a blockchain network a payment can be made on.
type Network string

const (
	// EVM networks
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia"

	// Solana networks
	NetworkSolana       Network = "solana"
	NetworkSolanaDevnet Network = "solana-devnet"
)

// ChainFamily classifies a network into a blockchain family. Signers and
// address validation are selected by family, one implementation per family.
type ChainFamily string

const (
	ChainFamilyEVM ChainFamily = "evm"
	ChainFamilySVM ChainFamily = "svm"
)

var networkFamilies = map[Network]ChainFamily{
	NetworkBase:         ChainFamilyEVM,
	NetworkBaseSepolia:  ChainFamilyEVM,
	NetworkSolana:       ChainFamilySVM,
	NetworkSolanaDevnet: ChainFamilySVM,
}

// Family returns the chain family of the network, or an empty family for
// networks this library does not know about.
func (n Network) Family() ChainFamily {
	return networkFamilies[n]
}

// IsTestnet reports whether the network is a test network.
func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia || n == NetworkSolanaDevnet
}

func (n Network) String() string {
	return string(n)
}
