package payment

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const testRecipient = "0x742d35Cc6634C0532925a3b8D0C9e3e0C0c0c0c0"

func newTestBuilder(now time.Time) *Builder {
	return NewBuilder(Pricing{
		Recipient:         testRecipient,
		Currency:          "USDC",
		Network:           "base",
		CreateFee:         decimal.NewFromInt(1),
		DefaultTestAmount: decimal.NewFromInt(1),
		Decimals:          6,
	}, WithClock(func() time.Time { return now }))
}

var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

// ── Build ────────────────────────────────────────────────────────────────────

func TestBuild_Create(t *testing.T) {
	b := newTestBuilder(testNow)
	c := b.Build(CreatePayload{
		Description:    "Will ETH hit 5k by Friday?",
		StakeAmount:    decimal.NewFromInt(10),
		Deadline:       "2026-01-20T00:00:00Z",
		CreatorAddress: "0x1111111111111111111111111111111111111111",
	})

	if c.Amount != "1" {
		t.Errorf("Amount: got %q want %q", c.Amount, "1")
	}
	if c.Currency != "USDC" || c.Network != "base" || c.Recipient != testRecipient {
		t.Errorf("unexpected pricing fields: %+v", c)
	}
	want := "Create bet: Will ETH hit 5k by Friday? - 1 USDC fee"
	if c.Description != want {
		t.Errorf("Description: got %q want %q", c.Description, want)
	}
	if c.Metadata[MetaType] != "bet_creation" {
		t.Errorf("type: got %v", c.Metadata[MetaType])
	}
	if c.Metadata[MetaStakeAmount] != "10" {
		t.Errorf("stakeAmount: got %v", c.Metadata[MetaStakeAmount])
	}
	if c.Metadata[MetaTimestamp] != testNow.UnixMilli() {
		t.Errorf("timestamp: got %v want %d", c.Metadata[MetaTimestamp], testNow.UnixMilli())
	}
	if c.Payer() != "0x1111111111111111111111111111111111111111" {
		t.Errorf("Payer: got %q", c.Payer())
	}
}

func TestBuild_CreateLongDescriptionExcerpt(t *testing.T) {
	b := newTestBuilder(testNow)
	c := b.Build(CreatePayload{
		Description:    strings.Repeat("x", 80),
		StakeAmount:    decimal.NewFromInt(1),
		CreatorAddress: "0x1111111111111111111111111111111111111111",
	})
	want := "Create bet: " + strings.Repeat("x", 50) + "... - 1 USDC fee"
	if c.Description != want {
		t.Errorf("Description: got %q want %q", c.Description, want)
	}
}

func TestBuild_JoinChargesStake(t *testing.T) {
	b := newTestBuilder(testNow)
	c := b.Build(JoinPayload{
		BetID:              "bet_abc",
		Amount:             decimal.RequireFromString("2.5"),
		ParticipantAddress: "0x2222222222222222222222222222222222222222",
	})
	if c.Amount != "2.5" {
		t.Errorf("Amount: got %q want %q", c.Amount, "2.5")
	}
	if c.Description != "Join bet bet_abc - 2.5 USDC stake" {
		t.Errorf("Description: got %q", c.Description)
	}
	if c.Metadata[MetaType] != "bet_join" || c.Metadata[MetaBetID] != "bet_abc" {
		t.Errorf("metadata: got %v", c.Metadata)
	}
	if c.Payer() != "0x2222222222222222222222222222222222222222" {
		t.Errorf("Payer: got %q", c.Payer())
	}
}

func TestBuild_TestAmountDefault(t *testing.T) {
	b := newTestBuilder(testNow)

	c := b.Build(TestPayload{})
	if c.Amount != "1" {
		t.Errorf("default Amount: got %q want 1", c.Amount)
	}
	if c.Description != "Test payment - 1 USDC" {
		t.Errorf("Description: got %q", c.Description)
	}

	c = b.Build(TestPayload{Amount: decimal.RequireFromString("0.25")})
	if c.Amount != "0.25" {
		t.Errorf("explicit Amount: got %q want 0.25", c.Amount)
	}
	if c.Payer() != "" {
		t.Errorf("test payment has no payer, got %q", c.Payer())
	}
}

func TestBuild_DeterministicExceptTimestamp(t *testing.T) {
	p := JoinPayload{
		BetID:              "bet_abc",
		Amount:             decimal.NewFromInt(5),
		ParticipantAddress: "0x2222222222222222222222222222222222222222",
	}
	a := newTestBuilder(testNow).Build(p)
	b := newTestBuilder(testNow.Add(time.Minute)).Build(p)

	if a.Metadata[MetaTimestamp] == b.Metadata[MetaTimestamp] {
		t.Fatal("timestamps should differ")
	}
	delete(a.Metadata, MetaTimestamp)
	delete(b.Metadata, MetaTimestamp)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("challenges differ:\n%s\n%s", ja, jb)
	}
}

// ── Headers ──────────────────────────────────────────────────────────────────

func TestCheckAmount(t *testing.T) {
	b := newTestBuilder(testNow)
	tests := []struct {
		p       Payload
		wantErr bool
	}{
		{JoinPayload{Amount: decimal.RequireFromString("2.5")}, false},
		{JoinPayload{Amount: decimal.RequireFromString("0.000001")}, false},
		{JoinPayload{Amount: decimal.RequireFromString("0.0000001")}, true},
		{TestPayload{Amount: decimal.RequireFromString("1.23456789")}, true},
		{TestPayload{Amount: decimal.RequireFromString("1e80")}, true},
		{TestPayload{}, false},
		{CreatePayload{}, false},
	}
	for _, tt := range tests {
		err := b.CheckAmount(tt.p)
		if (err != nil) != tt.wantErr {
			t.Errorf("%T %+v: got %v, wantErr %v", tt.p, tt.p, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Errorf("not a validation error: %v", err)
		}
	}
}

func TestHeaders_RoundTrip(t *testing.T) {
	c := newTestBuilder(testNow).Build(TestPayload{})
	h := Headers(c)

	if h.Get(HeaderPaymentAmount) != "1" {
		t.Errorf("%s: got %q", HeaderPaymentAmount, h.Get(HeaderPaymentAmount))
	}
	if h.Get(HeaderPaymentCurrency) != "USDC" || h.Get(HeaderPaymentNetwork) != "base" {
		t.Errorf("currency/network headers: %v", h)
	}

	got, err := ChallengeFromHeaders(h)
	if err != nil {
		t.Fatalf("ChallengeFromHeaders: %v", err)
	}
	if got.Amount != c.Amount || got.Recipient != c.Recipient || got.Description != c.Description {
		t.Errorf("got %+v want %+v", got, c)
	}
}

func TestChallengeFromHeaders_Missing(t *testing.T) {
	if _, err := ChallengeFromHeaders(nil); err == nil {
		t.Fatal("expected error for missing header")
	}
}

func TestClone_DoesNotShareMetadata(t *testing.T) {
	c := newTestBuilder(testNow).Build(TestPayload{})
	cp := c.Clone()
	cp.Metadata[MetaType] = "changed"
	if c.Metadata[MetaType] != "test_payment" {
		t.Errorf("original mutated: %v", c.Metadata[MetaType])
	}
}
