package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/socialbet/arena/internal/client"
	"github.com/socialbet/arena/internal/config"
	"github.com/socialbet/arena/internal/gateway"
	"github.com/socialbet/arena/internal/ledger"
	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/verifier"
	"github.com/socialbet/arena/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	t.Setenv("VERIFIER_MODE", mode)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

// startArena runs the full HTTP stack against miniredis.
func startArena(t *testing.T, cfg *config.Config) (*httptest.Server, *ledger.RedisLedger) {
	t.Helper()
	rdb := newTestRedis(t)
	b, err := newBuilder(cfg)
	if err != nil {
		t.Fatalf("newBuilder: %v", err)
	}
	bets := ledger.NewRedisLedger(rdb)
	h := gateway.NewHandler(b, newVerifier(cfg, rdb), bets, zap.NewNop(), gateway.WithReader(bets))
	srv := httptest.NewServer(newRouter(h, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, bets
}

func newWallet(t *testing.T, cfg *config.Config) *wallet.KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return wallet.NewKeySignerFromKey(key, domainOf(cfg), cfg.Payment.TokenDecimals)
}

// ── wiring ────────────────────────────────────────────────────────────────────

func TestNewVerifier_ByMode(t *testing.T) {
	rdb := newTestRedis(t)
	if _, ok := newVerifier(testConfig(t, config.VerifierPresence), rdb).(verifier.Presence); !ok {
		t.Error("presence mode did not build Presence")
	}
	if _, ok := newVerifier(testConfig(t, config.VerifierSignature), rdb).(*verifier.Signature); !ok {
		t.Error("signature mode did not build Signature")
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := startArena(t, testConfig(t, config.VerifierPresence))
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d", resp.StatusCode)
	}
}

// ── end to end ────────────────────────────────────────────────────────────────

func TestE2E_SignedCreateAndJoin(t *testing.T) {
	cfg := testConfig(t, config.VerifierSignature)
	srv, bets := startArena(t, cfg)
	ctx := context.Background()

	creator := newWallet(t, cfg)
	s, err := client.NewSession(srv.URL, creator)
	if err != nil {
		t.Fatal(err)
	}

	created := s.CreateBet(ctx, payment.CreatePayload{
		Description:    "BTC closes above 100k on Friday",
		StakeAmount:    decimal.NewFromInt(10),
		Deadline:       time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		CreatorAddress: creator.Address(),
	})
	if !created.Success {
		t.Fatalf("create: %+v", created)
	}
	betID := created.PaymentResponse.BetID
	bet, err := bets.GetBet(ctx, betID)
	if err != nil || bet == nil {
		t.Fatalf("GetBet(%s): %v, %v", betID, bet, err)
	}
	if bet.TransactionHash != created.TransactionHash {
		t.Errorf("ledger tx %s != result tx %s", bet.TransactionHash, created.TransactionHash)
	}

	joiner := newWallet(t, cfg)
	js, _ := client.NewSession(srv.URL, joiner)
	joined := js.JoinBet(ctx, payment.JoinPayload{
		BetID:              betID,
		Amount:             decimal.NewFromInt(10),
		ParticipantAddress: joiner.Address(),
	})
	if !joined.Success || joined.PaymentResponse.Status != payment.StatusConfirmed {
		t.Fatalf("join: %+v", joined)
	}
	resp, err := http.Get(srv.URL + "/api/bet/" + betID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var view struct {
		Bet          ledger.Bet             `json:"bet"`
		Participants []ledger.Participation `json:"participants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("GET bet: %d, %v", resp.StatusCode, err)
	}
	if view.Bet.CreatorAddress != creator.Address() {
		t.Errorf("bet creator: got %s", view.Bet.CreatorAddress)
	}
	if len(view.Participants) != 1 || view.Participants[0].ParticipantAddress != joiner.Address() {
		t.Errorf("participants: %+v", view.Participants)
	}
}

func TestE2E_SignedJoinForSomeoneElseRejected(t *testing.T) {
	cfg := testConfig(t, config.VerifierSignature)
	srv, _ := startArena(t, cfg)

	payer := newWallet(t, cfg)
	s, _ := client.NewSession(srv.URL, payer)
	res := s.JoinBet(context.Background(), payment.JoinPayload{
		BetID:              "bet_0000000000001",
		Amount:             decimal.NewFromInt(1),
		ParticipantAddress: "0x2222222222222222222222222222222222222222",
	})
	if res.Success || res.Code != payment.CodePaymentRejected {
		t.Fatalf("result: %+v", res)
	}
}

func TestE2E_PresenceTestPayment(t *testing.T) {
	cfg := testConfig(t, config.VerifierPresence)
	srv, _ := startArena(t, cfg)

	s, _ := client.NewSession(srv.URL, newWallet(t, cfg))
	res := s.TestPayment(context.Background(), "0.5")
	if !res.Success || !res.PaymentResponse.PaymentVerified || res.PaymentResponse.Amount != "0.5" {
		t.Fatalf("result: %+v", res)
	}
}

func TestE2E_UnpaidRequestReturnsChallenge(t *testing.T) {
	srv, _ := startArena(t, testConfig(t, config.VerifierPresence))

	resp, err := http.Get(srv.URL + "/api/test-payment")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status: got %d want 402", resp.StatusCode)
	}
	var cr payment.ChallengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil || cr.PaymentChallenge == nil {
		t.Fatalf("body: %+v, %v", cr, err)
	}
	if cr.PaymentChallenge.Amount != "1" {
		t.Errorf("amount: got %q", cr.PaymentChallenge.Amount)
	}
}
