package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/proof"
)

// Anvil default account #1.
const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var testDomain = proof.Domain{
	ChainID:           big.NewInt(8453),
	VerifyingContract: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
}

func testChallenge() payment.Challenge {
	return payment.Challenge{
		Amount:      "1.5",
		Currency:    "USDC",
		Network:     "base",
		Recipient:   "0x742d35Cc6634C0532925a3b8D0C9e3e0C0c0c0c0",
		Description: "Test payment - 1.5 USDC",
		Metadata:    map[string]any{payment.MetaType: "test_payment"},
	}
}

type fixedBalance struct {
	bal *big.Int
	err error
}

func (f fixedBalance) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	return f.bal, f.err
}

// ── construction ─────────────────────────────────────────────────────────────

func TestNewKeySigner_EmptyKeyNotReady(t *testing.T) {
	s, err := NewKeySigner("", testDomain, 6)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	if s.Ready() || s.Address() != "" {
		t.Errorf("empty key: ready=%v address=%q", s.Ready(), s.Address())
	}
	if _, err := s.Sign(context.Background(), testChallenge()); !errors.Is(err, payment.ErrNotInitialized) {
		t.Errorf("Sign: got %v want ErrNotInitialized", err)
	}
}

func TestNewKeySigner_BadKey(t *testing.T) {
	if _, err := NewKeySigner("0xzz", testDomain, 6); err == nil {
		t.Fatal("expected parse error")
	}
}

// ── Sign ─────────────────────────────────────────────────────────────────────

func TestSign_ProducesVerifiableAuthorization(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, err := NewKeySigner("0x"+testKeyHex, testDomain, 6, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	ch := testChallenge()
	token, err := s.Sign(context.Background(), ch)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	auth, err := proof.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if auth.Amount.Int64() != 1_500_000 {
		t.Errorf("amount: got %s", auth.Amount)
	}
	if auth.TermsHash != proof.TermsHash(ch) {
		t.Error("terms hash does not match challenge")
	}
	if auth.IssuedAt != now.Unix() {
		t.Errorf("issuedAt: got %d", auth.IssuedAt)
	}
	signer, err := proof.Recover(auth, testDomain)
	if err != nil || signer.Hex() != s.Address() {
		t.Errorf("recovered %s, %v want %s", signer.Hex(), err, s.Address())
	}
}

func TestSign_FreshNonceEachTime(t *testing.T) {
	key, _ := crypto.GenerateKey()
	s := NewKeySignerFromKey(key, testDomain, 6)
	a, _ := s.Sign(context.Background(), testChallenge())
	b, _ := s.Sign(context.Background(), testChallenge())
	if a == b {
		t.Error("two signatures over the same challenge are identical")
	}
}

func TestSign_InvalidChallenge(t *testing.T) {
	key, _ := crypto.GenerateKey()
	s := NewKeySignerFromKey(key, testDomain, 6)

	ch := testChallenge()
	ch.Recipient = "nobody"
	if _, err := s.Sign(context.Background(), ch); !errors.Is(err, payment.ErrSigningFailed) {
		t.Errorf("bad recipient: got %v", err)
	}
	ch = testChallenge()
	ch.Amount = "0.0000001"
	if _, err := s.Sign(context.Background(), ch); !errors.Is(err, payment.ErrSigningFailed) {
		t.Errorf("sub-unit amount: got %v", err)
	}
	ch = testChallenge()
	ch.Amount = "1e80"
	if _, err := s.Sign(context.Background(), ch); !errors.Is(err, payment.ErrSigningFailed) {
		t.Errorf("amount wider than uint256: got %v", err)
	}
}

func TestSign_InsufficientFunds(t *testing.T) {
	key, _ := crypto.GenerateKey()
	s := NewKeySignerFromKey(key, testDomain, 6, WithBalanceReader(fixedBalance{bal: big.NewInt(1_000_000)}))
	_, err := s.Sign(context.Background(), testChallenge())
	if !errors.Is(err, payment.ErrInsufficientFunds) {
		t.Fatalf("got %v want ErrInsufficientFunds", err)
	}
	if payment.CodeOf(err) != payment.CodeInsufficientFunds {
		t.Errorf("code: got %s", payment.CodeOf(err))
	}
}

func TestSign_Approver(t *testing.T) {
	key, _ := crypto.GenerateKey()

	declined := NewKeySignerFromKey(key, testDomain, 6, WithApprover(ApproverFunc(
		func(context.Context, payment.Challenge) (bool, error) { return false, nil },
	)))
	if _, err := declined.Sign(context.Background(), testChallenge()); !errors.Is(err, payment.ErrUserRejected) {
		t.Errorf("declined: got %v", err)
	}

	var seen payment.Challenge
	approved := NewKeySignerFromKey(key, testDomain, 6, WithApprover(ApproverFunc(
		func(_ context.Context, ch payment.Challenge) (bool, error) { seen = ch; return true, nil },
	)))
	if _, err := approved.Sign(context.Background(), testChallenge()); err != nil {
		t.Errorf("approved: %v", err)
	}
	if seen.Amount != "1.5" {
		t.Errorf("approver saw %+v", seen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	waiting := NewKeySignerFromKey(key, testDomain, 6, WithApprover(ApproverFunc(
		func(ctx context.Context, _ payment.Challenge) (bool, error) { <-ctx.Done(); return false, ctx.Err() },
	)))
	if _, err := waiting.Sign(ctx, testChallenge()); !errors.Is(err, payment.ErrUserRejected) {
		t.Errorf("cancelled: got %v", err)
	}
}
