package x402gate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSigner struct {
	family  ChainFamily
	address string
	// short makes the signer authorize one unit less than asked, simulating
	// a client that underpays.
	short  bool
	signed atomic.Int64
}

func (s *stubSigner) Family() ChainFamily { return s.family }
func (s *stubSigner) Address() string     { return s.address }

func (s *stubSigner) SignTransfer(
	ctx context.Context,
	asset AssetDeployment,
	amount Amount,
	payTo string,
	nonce [32]byte,
	validAfter, validBefore time.Time,
) (ExactPayload, error) {
	s.signed.Add(1)
	value := amount.String()
	if s.short {
		value = new(big.Int).Sub(amount.Units(), big.NewInt(1)).String()
	}
	return ExactPayload{
		Signature: "0xstubsignature",
		Authorization: ExactAuthorization{
			From:        s.address,
			To:          payTo,
			Value:       value,
			ValidAfter:  "0",
			ValidBefore: "9999999999",
			Nonce:       hexutil.Encode(nonce[:]),
		},
	}, nil
}

func newStubEVMSigner() *stubSigner {
	return &stubSigner{family: ChainFamilyEVM, address: "0x857b06519E91e3A54538791bDbb0E22373e36b66"}
}

// paidServer responds 402 until a decodable payment header paying at least
// the listed amount arrives.
func paidServer(t *testing.T, set *PriceTagSet, attempts *atomic.Int64) *httptest.Server {
	t.Helper()
	route := RouteInfo{Resource: "http://example.com/paid"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)

		header := r.Header.Get(PaymentHeader)
		if header == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(RenderPaymentRequired(set, route, ""))
			return
		}

		payload, err := DecodePaymentHeader(header)
		require.NoError(t, err)

		candidate, err := AmountFromUnitsString(payload.Payload.Authorization.Value)
		require.NoError(t, err)
		listed, ok := set.match(payload.Network, payload.Payload.Authorization.To)
		if !ok || candidate.Cmp(listed.Amount) < 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(RenderPaymentRequired(set, route, "payment does not satisfy requirements"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"paid":true}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPaymentAgentPaysChallenge(t *testing.T) {
	set, err := BuildPriceTagSet().Or(testTag(t, NetworkBaseSepolia, "0.001")).Build()
	require.NoError(t, err)

	var attempts atomic.Int64
	server := paidServer(t, set, &attempts)

	signer := newStubEVMSigner()
	agent, err := NewPaymentAgent(AgentConfig{Signers: []Signer{signer}})
	require.NoError(t, err)

	resp, err := agent.Client(nil).Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), attempts.Load(), "one challenge, one paid retry")
	assert.Equal(t, int64(1), signer.signed.Load())
}

func TestPaymentAgentReplaysRequestBody(t *testing.T) {
	set, err := BuildPriceTagSet().Or(testTag(t, NetworkBaseSepolia, "0.001")).Build()
	require.NoError(t, err)

	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(body))

		if r.Header.Get(PaymentHeader) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(RenderPaymentRequired(set, RouteInfo{}, ""))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	agent, err := NewPaymentAgent(AgentConfig{Signers: []Signer{newStubEVMSigner()}})
	require.NoError(t, err)

	resp, err := agent.Client(nil).Post(server.URL, "application/json", strings.NewReader(`{"q":1}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, `{"q":1}`, bodies[0])
	assert.Equal(t, `{"q":1}`, bodies[1], "retry carries the same body")
}

func TestPaymentAgentPassesThroughNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	signer := newStubEVMSigner()
	agent, err := NewPaymentAgent(AgentConfig{Signers: []Signer{signer}})
	require.NoError(t, err)

	resp, err := agent.Client(nil).Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, signer.signed.Load(), "nothing to pay")
}

func TestPaymentAgentRejectedAfterRetry(t *testing.T) {
	set, err := BuildPriceTagSet().Or(testTag(t, NetworkBaseSepolia, "0.001")).Build()
	require.NoError(t, err)

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(RenderPaymentRequired(set, RouteInfo{}, "invalid_signature"))
	}))
	t.Cleanup(server.Close)

	agent, err := NewPaymentAgent(AgentConfig{Signers: []Signer{newStubEVMSigner()}})
	require.NoError(t, err)

	_, err = agent.Client(nil).Get(server.URL)
	require.ErrorIs(t, err, ErrPaymentRejectedAfterRetry)
	assert.Contains(t, err.Error(), "invalid_signature")
	assert.Equal(t, int64(2), attempts.Load(), "exactly one retry, never a loop")
}

func TestPaymentAgentNoAcceptablePriceTag(t *testing.T) {
	// The route only takes Solana; the agent only signs EVM.
	set, err := BuildPriceTagSet().Or(testTag(t, NetworkSolanaDevnet, "0.001")).Build()
	require.NoError(t, err)

	var attempts atomic.Int64
	server := paidServer(t, set, &attempts)

	agent, err := NewPaymentAgent(AgentConfig{Signers: []Signer{newStubEVMSigner()}})
	require.NoError(t, err)

	_, err = agent.Client(nil).Get(server.URL)
	require.ErrorIs(t, err, ErrNoAcceptablePriceTag)
	assert.Equal(t, int64(1), attempts.Load())
}

func TestPaymentAgentHonorsCeiling(t *testing.T) {
	set, err := BuildPriceTagSet().Or(testTag(t, NetworkBaseSepolia, "0.5")).Build()
	require.NoError(t, err)

	var attempts atomic.Int64
	server := paidServer(t, set, &attempts)

	usdc := testUSDC(t, NetworkBaseSepolia)
	ceiling, err := AmountFromDecimalString("0.1", usdc.Decimals)
	require.NoError(t, err)

	agent, err := NewPaymentAgent(AgentConfig{
		Signers:  []Signer{newStubEVMSigner()},
		Ceilings: []AssetCeiling{{Asset: usdc, Max: ceiling}},
	})
	require.NoError(t, err)

	_, err = agent.Client(nil).Get(server.URL)
	require.ErrorIs(t, err, ErrNoAcceptablePriceTag, "a price over the ceiling is not paid")
}

func TestSelectRequirementPrefersNetwork(t *testing.T) {
	agent, err := NewPaymentAgent(AgentConfig{
		Signers:          []Signer{newStubEVMSigner()},
		PreferredNetwork: NetworkBase,
	})
	require.NoError(t, err)

	route := RouteInfo{Resource: "http://example.com/r"}
	accepts := []PaymentRequirements{
		Requirement(testTag(t, NetworkBaseSepolia, "0.001"), route),
		Requirement(testTag(t, NetworkBase, "0.002"), route),
	}

	selection, err := agent.selectRequirement(accepts)
	require.NoError(t, err)
	assert.Equal(t, NetworkBase, selection.req.Network, "preferred network entries are considered first")

	// Without a preference, challenge order wins.
	agent, err = NewPaymentAgent(AgentConfig{Signers: []Signer{newStubEVMSigner()}})
	require.NoError(t, err)
	selection, err = agent.selectRequirement(accepts)
	require.NoError(t, err)
	assert.Equal(t, NetworkBaseSepolia, selection.req.Network)
}

func TestSelectRequirementSkipsUnusableEntries(t *testing.T) {
	agent, err := NewPaymentAgent(AgentConfig{Signers: []Signer{newStubEVMSigner()}})
	require.NoError(t, err)

	route := RouteInfo{Resource: "http://example.com/r"}
	unknownAsset := Requirement(testTag(t, NetworkBaseSepolia, "0.001"), route)
	unknownAsset.Asset = "0x0000000000000000000000000000000000000001"

	wrongScheme := Requirement(testTag(t, NetworkBaseSepolia, "0.001"), route)
	wrongScheme.Scheme = "deferred"

	usable := Requirement(testTag(t, NetworkBaseSepolia, "0.002"), route)

	selection, err := agent.selectRequirement([]PaymentRequirements{
		wrongScheme,
		unknownAsset,
		Requirement(testTag(t, NetworkSolanaDevnet, "0.001"), route),
		usable,
	})
	require.NoError(t, err)
	assert.Equal(t, "2000", selection.amount.String())

	_, err = agent.selectRequirement([]PaymentRequirements{wrongScheme, unknownAsset})
	require.ErrorIs(t, err, ErrNoAcceptablePriceTag)
}

func TestNewPaymentAgentValidatesConfig(t *testing.T) {
	_, err := NewPaymentAgent(AgentConfig{})
	require.Error(t, err, "at least one signer is required")

	_, err = NewPaymentAgent(AgentConfig{Signers: []Signer{newStubEVMSigner(), newStubEVMSigner()}})
	require.Error(t, err, "one signer per chain family")
}

func TestReadChallengeRejectsWrongVersion(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(rec.Body).Encode(PaymentRequired{X402Version: 7, Accepts: []PaymentRequirements{{}}})

	_, err := readChallenge(rec.Result())
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestReadChallengeRejectsEmptyAccepts(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(rec.Body).Encode(PaymentRequired{X402Version: ProtocolVersion})

	_, err := readChallenge(rec.Result())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupportedVersion))
}
