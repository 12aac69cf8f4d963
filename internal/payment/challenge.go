package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	maxChallengeDescription = 120
	betExcerptRunes         = 50
)

// Pricing is the fixed pricing policy. Currency and network are single
// constants; there is no multi-asset support.
type Pricing struct {
	Recipient         string
	Currency          string
	Network           string
	CreateFee         decimal.Decimal
	DefaultTestAmount decimal.Decimal
	// Decimals is the settlement token's precision. Prices finer than one
	// minor unit cannot be paid.
	Decimals int32
}

// Builder constructs challenges. It has no side effects.
type Builder struct {
	pricing Pricing
	now     func() time.Time
}

type BuilderOption func(*Builder)

// WithClock overrides the time source used for the metadata timestamp.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(p Pricing, opts ...BuilderOption) *Builder {
	b := &Builder{pricing: p, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Pricing returns the builder's pricing policy.
func (b *Builder) Pricing() Pricing { return b.pricing }

// Price returns the amount the payload must pay.
//   - create: flat platform fee
//   - join:   the stake being joined
//   - test:   the requested amount, or the default
func (b *Builder) Price(p Payload) decimal.Decimal {
	switch v := p.(type) {
	case CreatePayload:
		return b.pricing.CreateFee
	case JoinPayload:
		return v.Amount
	case TestPayload:
		if v.Amount.IsZero() {
			return b.pricing.DefaultTestAmount
		}
		return v.Amount
	default:
		panic(fmt.Sprintf("payment: unknown payload type %T", p))
	}
}

// CheckAmount rejects a payload whose price cannot be expressed in whole
// token minor units that fit a uint256. Only join and test prices come from
// the caller.
func (b *Builder) CheckAmount(p Payload) error {
	shifted := b.Price(p).Shift(b.pricing.Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return invalidField("amount", fmt.Sprintf("more than %d decimal places", b.pricing.Decimals))
	}
	if shifted.BigInt().BitLen() > 256 {
		return invalidField("amount", "too large")
	}
	return nil
}

// Build returns the challenge for p. Two challenges built from the same
// payload differ only in the metadata timestamp.
func (b *Builder) Build(p Payload) Challenge {
	amount := b.Price(p).String()
	c := Challenge{
		Amount:    amount,
		Currency:  b.pricing.Currency,
		Network:   b.pricing.Network,
		Recipient: b.pricing.Recipient,
		Metadata:  map[string]any{},
	}

	switch v := p.(type) {
	case CreatePayload:
		c.Description = fmt.Sprintf("Create bet: %s - %s %s fee",
			excerpt(v.Description, betExcerptRunes), amount, c.Currency)
		c.Metadata[MetaType] = "bet_creation"
		c.Metadata[MetaStakeAmount] = v.StakeAmount.String()
		c.Metadata[MetaCreatorAddress] = v.CreatorAddress
	case JoinPayload:
		c.Description = fmt.Sprintf("Join bet %s - %s %s stake", v.BetID, amount, c.Currency)
		c.Metadata[MetaType] = "bet_join"
		c.Metadata[MetaBetID] = v.BetID
		c.Metadata[MetaParticipantAddress] = v.ParticipantAddress
	case TestPayload:
		c.Description = fmt.Sprintf("Test payment - %s %s", amount, c.Currency)
		c.Metadata[MetaType] = "test_payment"
	}
	c.Description = excerpt(c.Description, maxChallengeDescription)
	c.Metadata[MetaTimestamp] = b.now().UnixMilli()
	return c
}

// Headers mirrors the challenge into transport headers for clients that
// do not inspect the body.
func Headers(c Challenge) http.Header {
	h := http.Header{}
	if raw, err := json.Marshal(c); err == nil {
		h.Set(HeaderPaymentRequired, string(raw))
	}
	h.Set(HeaderPaymentAmount, c.Amount)
	h.Set(HeaderPaymentCurrency, c.Currency)
	h.Set(HeaderPaymentNetwork, c.Network)
	return h
}

// ChallengeFromHeaders recovers a challenge from mirrored headers.
func ChallengeFromHeaders(h http.Header) (*Challenge, error) {
	raw := h.Get(HeaderPaymentRequired)
	if raw == "" {
		return nil, fmt.Errorf("missing %s header", HeaderPaymentRequired)
	}
	var c Challenge
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", HeaderPaymentRequired, err)
	}
	return &c, nil
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
