package x402gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryResolvesUSDC(t *testing.T) {
	registry := DefaultRegistry()

	for _, network := range []Network{NetworkBase, NetworkBaseSepolia, NetworkSolana, NetworkSolanaDevnet} {
		usdc, err := registry.Resolve(network, "USDC")
		require.NoError(t, err, "USDC on %s", network)
		assert.Equal(t, 6, usdc.Decimals)
		assert.Equal(t, network, usdc.Network)
	}

	_, err := registry.Resolve(NetworkBase, "DOGE")
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestRegistryResolveIsCaseInsensitiveOnSymbol(t *testing.T) {
	registry := DefaultRegistry()

	upper, err := registry.Resolve(NetworkBase, "USDC")
	require.NoError(t, err)
	lower, err := registry.Resolve(NetworkBase, "usdc")
	require.NoError(t, err)
	assert.True(t, upper.Equal(lower))
}

func TestRegistryResolveByAddress(t *testing.T) {
	registry := DefaultRegistry()

	usdc, err := registry.Resolve(NetworkBase, "USDC")
	require.NoError(t, err)

	// EVM address lookup ignores hex case.
	byAddr, err := registry.ResolveByAddress(NetworkBase, "0x833589FCD6EDB6E08F4C7C32D4F71B54BDA02913")
	require.NoError(t, err)
	assert.True(t, usdc.Equal(byAddr))

	_, err = registry.ResolveByAddress(NetworkBase, "0x0000000000000000000000000000000000000001")
	require.ErrorIs(t, err, ErrUnknownAsset)

	// Solana lookup is exact.
	mint, err := registry.ResolveByAddress(NetworkSolana, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	require.NoError(t, err)
	assert.Equal(t, "USDC", mint.Symbol)
}

func TestAssetDeploymentValidate(t *testing.T) {
	valid := AssetDeployment{
		Network:  NetworkBaseSepolia,
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals: 6,
		Symbol:   "USDC",
		Name:     "USDC",
		Version:  "2",
		ChainID:  84532,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*AssetDeployment)
	}{
		{"negative decimals", func(d *AssetDeployment) { d.Decimals = -1 }},
		{"decimals too large", func(d *AssetDeployment) { d.Decimals = 19 }},
		{"missing symbol", func(d *AssetDeployment) { d.Symbol = "" }},
		{"bad evm address", func(d *AssetDeployment) { d.Address = "not-an-address" }},
		{"missing chain id", func(d *AssetDeployment) { d.ChainID = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			require.ErrorIs(t, d.Validate(), ErrInvalidDeployment)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	require.NoError(t, ValidateAddress(NetworkBase, "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"))
	require.Error(t, ValidateAddress(NetworkBase, "9mQzQzCT6SqSmKCtXu2R1PUpnDRNEGbqaJUWJruTtcaX"))

	require.NoError(t, ValidateAddress(NetworkSolana, "9mQzQzCT6SqSmKCtXu2R1PUpnDRNEGbqaJUWJruTtcaX"))
	require.Error(t, ValidateAddress(NetworkSolana, "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"))

	require.Error(t, ValidateAddress(Network("tron"), "anything"))
}

func TestNewRegistryRejectsInvalidDeployment(t *testing.T) {
	_, err := NewRegistry(AssetDeployment{
		Network: NetworkBase,
		Address: "bogus",
		Symbol:  "BAD",
	})
	require.ErrorIs(t, err, ErrInvalidDeployment)
}
