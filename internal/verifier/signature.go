package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"

	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/proof"
)

const usedProofKeyPrefix = "payment:proof:used:"

// maxClockSkew tolerates a client clock slightly ahead of ours.
const maxClockSkew = 30 * time.Second

// Signature verifies EIP-712 authorizations produced by wallet.KeySigner.
//
// The server keeps no challenge between the two calls: the gateway rebuilds
// the challenge from the restated payload and this verifier checks the
// proof's terms hash against it. A Redis SET NX on the signature hash makes
// each proof single-use for MaxAge.
type Signature struct {
	rdb      *redis.Client
	domain   proof.Domain
	decimals int32
	maxAge   time.Duration
	now      func() time.Time
}

func NewSignature(rdb *redis.Client, domain proof.Domain, decimals int32, maxAge time.Duration) *Signature {
	return &Signature{
		rdb:      rdb,
		domain:   domain,
		decimals: decimals,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

func reject(format string, args ...any) (*Verdict, error) {
	return &Verdict{Accepted: false, Reason: fmt.Sprintf(format, args...)}, nil
}

func (s *Signature) Verify(ctx context.Context, token string, ch payment.Challenge) (*Verdict, error) {
	auth, err := proof.Decode(token)
	if err != nil {
		return reject("malformed payment proof: %v", err)
	}

	if !strings.EqualFold(auth.Network, ch.Network) {
		return reject("proof targets network %q, want %q", auth.Network, ch.Network)
	}
	if !strings.EqualFold(auth.Currency, ch.Currency) {
		return reject("proof pays in %q, want %q", auth.Currency, ch.Currency)
	}
	if auth.Recipient != common.HexToAddress(ch.Recipient) {
		return reject("proof pays %s, want %s", auth.Recipient.Hex(), ch.Recipient)
	}
	required, err := proof.MinorUnits(ch.Amount, s.decimals)
	if err != nil {
		return nil, fmt.Errorf("challenge amount %q: %w", ch.Amount, err)
	}
	if auth.Amount.Cmp(required) < 0 {
		return reject("proof amount %s below required %s", auth.Amount, required)
	}
	if auth.TermsHash != proof.TermsHash(ch) {
		return reject("proof does not match the challenge terms")
	}

	now := s.now()
	issued := time.Unix(auth.IssuedAt, 0)
	if issued.After(now.Add(maxClockSkew)) {
		return reject("proof issued in the future")
	}
	if now.Sub(issued) > s.maxAge {
		return reject("proof expired")
	}

	signer, err := proof.Recover(auth, s.domain)
	if err != nil || signer != auth.Payer {
		return reject("invalid proof signature")
	}
	if want := ch.Payer(); want != "" && common.HexToAddress(want) != auth.Payer {
		return reject("proof signed by %s, want %s", auth.Payer.Hex(), want)
	}

	// Single use: only mark after every other check passed.
	sigHash := crypto.Keccak256Hash(auth.Signature)
	set, err := s.rdb.SetNX(ctx, usedProofKeyPrefix+sigHash.Hex(), auth.Payer.Hex(), s.maxAge+maxClockSkew).Result()
	if err != nil {
		return nil, fmt.Errorf("mark proof used: %w", err)
	}
	if !set {
		return reject("payment proof already used")
	}

	return &Verdict{
		Accepted:      true,
		Payer:         auth.Payer.Hex(),
		SettlementRef: sigHash.Hex(),
	}, nil
}
