package x402gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEVMPayee = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testSVMPayee = "9mQzQzCT6SqSmKCtXu2R1PUpnDRNEGbqaJUWJruTtcaX"
)

func testUSDC(t *testing.T, network Network) AssetDeployment {
	t.Helper()
	usdc, err := DefaultRegistry().Resolve(network, "USDC")
	require.NoError(t, err)
	return usdc
}

func testTag(t *testing.T, network Network, decimalAmount string) PriceTag {
	t.Helper()
	payee := testEVMPayee
	if network.Family() == ChainFamilySVM {
		payee = testSVMPayee
	}
	tag, err := testUSDC(t, network).Price(decimalAmount, payee)
	require.NoError(t, err)
	return tag
}

func TestNewPriceTagValidatesPayee(t *testing.T) {
	usdc := testUSDC(t, NetworkBaseSepolia)
	amount, err := AmountFromDecimalString("0.001", usdc.Decimals)
	require.NoError(t, err)

	_, err = NewPriceTag(usdc, amount, testEVMPayee)
	require.NoError(t, err)

	// Solana payee on an EVM asset fails.
	_, err = NewPriceTag(usdc, amount, testSVMPayee)
	require.ErrorIs(t, err, ErrInvalidDeployment)
}

func TestBuildPriceTagSetOrdering(t *testing.T) {
	solana := testTag(t, NetworkSolanaDevnet, "0.001")
	base := testTag(t, NetworkBaseSepolia, "0.001")

	set, err := BuildPriceTagSet().
		Or(base).
		Prefer(solana).
		Build()
	require.NoError(t, err)

	tags := set.Tags()
	require.Len(t, tags, 2)
	assert.True(t, tags[0].Equal(solana), "preferred tag first")
	assert.True(t, tags[1].Equal(base))
}

func TestBuildPriceTagSetEmpty(t *testing.T) {
	_, err := BuildPriceTagSet().Build()
	require.ErrorIs(t, err, ErrEmptyPriceTagSet)
}

func TestBuildPriceTagSetAmbiguous(t *testing.T) {
	a := testTag(t, NetworkBaseSepolia, "0.001")
	b := testTag(t, NetworkBaseSepolia, "0.002")

	_, err := BuildPriceTagSet().Or(a).Or(b).Build()
	require.ErrorIs(t, err, ErrAmbiguousPriceTagSet)
}

func TestBuildPriceTagSetCollapsesDuplicates(t *testing.T) {
	a := testTag(t, NetworkBaseSepolia, "0.001")

	set, err := BuildPriceTagSet().Or(a).Or(a).Build()
	require.NoError(t, err)
	assert.Len(t, set.Tags(), 1)
}

func TestResolvePolicy(t *testing.T) {
	usdc := testUSDC(t, NetworkBaseSepolia)
	listed := testTag(t, NetworkBaseSepolia, "0.001")
	ceiling, err := AmountFromDecimalString("0.01", usdc.Decimals)
	require.NoError(t, err)

	set, err := BuildPriceTagSet().
		Or(listed).
		Max(usdc, ceiling).
		Build()
	require.NoError(t, err)

	candidate := func(decimalAmount string) PriceTag {
		amount, err := AmountFromDecimalString(decimalAmount, usdc.Decimals)
		require.NoError(t, err)
		return PriceTag{Asset: usdc, Amount: amount, PayTo: listed.PayTo}
	}

	tests := []struct {
		name      string
		candidate PriceTag
		want      PolicyDecision
	}{
		{"exact amount", candidate("0.001"), PolicyAccept},
		{"overpayment within ceiling", candidate("0.005"), PolicyAccept},
		{"at ceiling", candidate("0.01"), PolicyAccept},
		{"below listed", candidate("0.0005"), PolicyRejectInsufficient},
		{"above ceiling", candidate("0.011"), PolicyRejectExceedsMax},
		{"unlisted payee", PriceTag{Asset: usdc, Amount: listed.Amount, PayTo: "0x0000000000000000000000000000000000000001"}, PolicyRejectUnlisted},
		{"unlisted network", PriceTag{Asset: testUSDC(t, NetworkSolana), Amount: listed.Amount, PayTo: testSVMPayee}, PolicyRejectUnlisted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, set.ResolvePolicy(tt.candidate))
		})
	}
}

func TestResolvePolicyNoCeilingAcceptsAnyOverpayment(t *testing.T) {
	usdc := testUSDC(t, NetworkBaseSepolia)
	listed := testTag(t, NetworkBaseSepolia, "0.001")

	set, err := BuildPriceTagSet().Or(listed).Build()
	require.NoError(t, err)

	huge, err := AmountFromDecimalString("1000000", usdc.Decimals)
	require.NoError(t, err)
	decision := set.ResolvePolicy(PriceTag{Asset: usdc, Amount: huge, PayTo: listed.PayTo})
	assert.Equal(t, PolicyAccept, decision)
}

func TestMatchIsCaseInsensitiveForEVMPayees(t *testing.T) {
	listed := testTag(t, NetworkBaseSepolia, "0.001")
	set, err := BuildPriceTagSet().Or(listed).Build()
	require.NoError(t, err)

	_, ok := set.match(NetworkBaseSepolia, "0x209693BC6AFC0C5328BA36FAF03C514EF312287C")
	assert.True(t, ok)

	_, ok = set.match(NetworkBase, listed.PayTo)
	assert.False(t, ok, "same payee on a different network is not listed")
}
