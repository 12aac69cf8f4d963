// Package verifier decides whether a payment proof satisfies a challenge.
package verifier

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/socialbet/arena/internal/payment"
)

// Verdict is the outcome of verifying one proof.
type Verdict struct {
	Accepted bool
	Reason   string
	Payer    string
	// SettlementRef is the transaction reference surfaced to the caller as
	// transactionHash. Always set when Accepted.
	SettlementRef string
}

// Verifier checks a proof against the challenge the server would issue for
// the restated payload. A returned error means verification could not be
// performed at all (infrastructure failure), not that the proof is bad.
type Verifier interface {
	Verify(ctx context.Context, proof string, challenge payment.Challenge) (*Verdict, error)
}

// Presence accepts any non-empty proof. It cannot enforce payment: it does
// not bind the proof to the challenge amount, recipient or network, and it
// does nothing against replay. Use Signature for anything beyond demos.
type Presence struct{}

func (Presence) Verify(_ context.Context, proof string, _ payment.Challenge) (*Verdict, error) {
	if strings.TrimSpace(proof) == "" {
		return &Verdict{Accepted: false, Reason: "empty payment proof"}, nil
	}
	return &Verdict{
		Accepted:      true,
		SettlementRef: crypto.Keccak256Hash([]byte(proof)).Hex(),
	}, nil
}
