package x402gate

import "fmt"

// PriceTag is one acceptable payment requirement for a route: this asset,
// this amount, to this payee. Immutable once constructed.
type PriceTag struct {
	Asset  AssetDeployment
	Amount Amount
	PayTo  string
}

// NewPriceTag builds a price tag, validating the payee address against the
// asset's chain family.
func NewPriceTag(asset AssetDeployment, amount Amount, payTo string) (PriceTag, error) {
	if err := asset.Validate(); err != nil {
		return PriceTag{}, err
	}
	if err := ValidateAddress(asset.Network, payTo); err != nil {
		return PriceTag{}, fmt.Errorf("%w: pay-to address: %v", ErrInvalidDeployment, err)
	}
	return PriceTag{Asset: asset, Amount: amount, PayTo: payTo}, nil
}

// Price builds a price tag from a human decimal amount, e.g.
// usdc.Price("0.001", payee).
func (d AssetDeployment) Price(decimalAmount, payTo string) (PriceTag, error) {
	amount, err := AmountFromDecimalString(decimalAmount, d.Decimals)
	if err != nil {
		return PriceTag{}, err
	}
	return NewPriceTag(d, amount, payTo)
}

// Equal reports structural equality of two price tags.
func (t PriceTag) Equal(o PriceTag) bool {
	return t.Asset.Equal(o.Asset) && t.Amount.Equal(o.Amount) && t.PayTo == o.PayTo
}

// sameDestination reports whether two tags name the same (asset, payee) pair,
// regardless of amount.
func (t PriceTag) sameDestination(o PriceTag) bool {
	return t.Asset.Equal(o.Asset) && t.PayTo == o.PayTo
}

// PolicyDecision is the outcome of checking a client-proposed tag against a
// route's price tag set.
type PolicyDecision int

const (
	// PolicyAccept means the candidate matches a listed tag and satisfies
	// the amount policy.
	PolicyAccept PolicyDecision = iota
	// PolicyRejectInsufficient means the candidate pays less than the listed
	// amount. Payment must meet or exceed the listed amount, never less.
	PolicyRejectInsufficient
	// PolicyRejectExceedsMax means the candidate pays more than the recorded
	// per-asset ceiling.
	PolicyRejectExceedsMax
	// PolicyRejectUnlisted means the candidate names an (asset, payee) pair
	// the route does not accept.
	PolicyRejectUnlisted
)

func (d PolicyDecision) String() string {
	switch d {
	case PolicyAccept:
		return "accept"
	case PolicyRejectInsufficient:
		return "reject_insufficient"
	case PolicyRejectExceedsMax:
		return "reject_exceeds_max"
	case PolicyRejectUnlisted:
		return "reject_unlisted"
	default:
		return fmt.Sprintf("policy_decision(%d)", int(d))
	}
}

type assetMax struct {
	asset AssetDeployment
	max   Amount
}

// PriceTagSet is an ordered collection of acceptable price tags for one
// protected route, with optional per-asset maximum amounts. Immutable after
// Build; shared read-only across all concurrent requests.
type PriceTagSet struct {
	tags   []PriceTag
	maxima []assetMax
}

// PriceTagSetBuilder accumulates tags and ceilings before validation.
type PriceTagSetBuilder struct {
	tags   []PriceTag
	maxima []assetMax
}

// BuildPriceTagSet starts a new builder.
func BuildPriceTagSet() *PriceTagSetBuilder {
	return &PriceTagSetBuilder{}
}

// Prefer forces a tag to the front of the set's preference order.
func (b *PriceTagSetBuilder) Prefer(tag PriceTag) *PriceTagSetBuilder {
	b.tags = append([]PriceTag{tag}, b.tags...)
	return b
}

// Or appends a fallback alternative after the tags already listed.
func (b *PriceTagSetBuilder) Or(tag PriceTag) *PriceTagSetBuilder {
	b.tags = append(b.tags, tag)
	return b
}

// Max records a ceiling amount for an asset: any client-selected tag paying
// in that asset must not exceed it.
func (b *PriceTagSetBuilder) Max(asset AssetDeployment, max Amount) *PriceTagSetBuilder {
	b.maxima = append(b.maxima, assetMax{asset: asset, max: max})
	return b
}

// Build validates and freezes the set. It fails with ErrEmptyPriceTagSet when
// no tag was added, and with ErrAmbiguousPriceTagSet when two tags share an
// (asset, payee) destination with different amounts, since a client could not
// tell which one the route means. Exact duplicates are collapsed.
func (b *PriceTagSetBuilder) Build() (*PriceTagSet, error) {
	if len(b.tags) == 0 {
		return nil, ErrEmptyPriceTagSet
	}

	var tags []PriceTag
	for _, tag := range b.tags {
		dup := false
		for _, kept := range tags {
			if kept.Equal(tag) {
				dup = true
				break
			}
			if kept.sameDestination(tag) {
				return nil, fmt.Errorf("%w: two amounts for %s to %s on %s",
					ErrAmbiguousPriceTagSet, tag.Asset.Symbol, tag.PayTo, tag.Asset.Network)
			}
		}
		if !dup {
			tags = append(tags, tag)
		}
	}

	return &PriceTagSet{tags: tags, maxima: b.maxima}, nil
}

// Tags returns the tags in preference order. The returned slice is a copy.
func (s *PriceTagSet) Tags() []PriceTag {
	out := make([]PriceTag, len(s.tags))
	copy(out, s.tags)
	return out
}

// MaxFor returns the recorded ceiling for an asset, if any.
func (s *PriceTagSet) MaxFor(asset AssetDeployment) (Amount, bool) {
	for _, m := range s.maxima {
		if m.asset.Equal(asset) {
			return m.max, true
		}
	}
	return Amount{}, false
}

// match returns the listed tag accepting payments on the given network to the
// given payee. EVM addresses compare case-insensitively.
func (s *PriceTagSet) match(network Network, payTo string) (PriceTag, bool) {
	for _, tag := range s.tags {
		if tag.Asset.Network == network && equalAddress(network, tag.PayTo, payTo) {
			return tag, true
		}
	}
	return PriceTag{}, false
}

// ResolvePolicy decides whether a client-proposed tag is acceptable. The
// candidate must structurally match a listed destination, pay at least the
// listed amount, and stay within the asset's ceiling when one was recorded.
func (s *PriceTagSet) ResolvePolicy(candidate PriceTag) PolicyDecision {
	listed, ok := s.match(candidate.Asset.Network, candidate.PayTo)
	if !ok || !listed.Asset.Equal(candidate.Asset) {
		return PolicyRejectUnlisted
	}
	if candidate.Amount.Cmp(listed.Amount) < 0 {
		return PolicyRejectInsufficient
	}
	if max, has := s.MaxFor(candidate.Asset); has && candidate.Amount.Cmp(max) > 0 {
		return PolicyRejectExceedsMax
	}
	return PolicyAccept
}
