// Package wallet provides the signing capability the session client uses
// to turn a payment challenge into a proof.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/proof"
)

// Signer is the signing capability. Sign may block on user interaction and
// must honor ctx cancellation.
type Signer interface {
	// Ready reports whether an account is active.
	Ready() bool
	// Address returns the active account, or "" when not ready.
	Address() string
	Sign(ctx context.Context, challenge payment.Challenge) (string, error)
}

// BalanceReader returns a token balance in minor units.
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Approver asks the user to confirm a payment. Returning false declines it.
type Approver interface {
	Approve(ctx context.Context, challenge payment.Challenge) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, challenge payment.Challenge) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, c payment.Challenge) (bool, error) {
	return f(ctx, c)
}

// KeySigner signs EIP-712 payment authorizations with a local key.
type KeySigner struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	domain   proof.Domain
	decimals int32
	balance  BalanceReader
	approver Approver
	now      func() time.Time
}

type Option func(*KeySigner)

// WithBalanceReader enables the pre-sign balance check.
func WithBalanceReader(r BalanceReader) Option {
	return func(s *KeySigner) { s.balance = r }
}

// WithApprover requires user confirmation before every signature.
func WithApprover(a Approver) Option {
	return func(s *KeySigner) { s.approver = a }
}

// WithClock overrides the issuedAt time source.
func WithClock(now func() time.Time) Option {
	return func(s *KeySigner) { s.now = now }
}

// NewKeySigner builds a signer from a hex private key. An empty key yields
// a signer that is not ready, mirroring a disconnected wallet.
func NewKeySigner(privateKeyHex string, domain proof.Domain, decimals int32, opts ...Option) (*KeySigner, error) {
	s := &KeySigner{domain: domain, decimals: decimals, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	if privateKeyHex == "" {
		return s, nil
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	s.key = key
	s.address = crypto.PubkeyToAddress(key.PublicKey)
	return s, nil
}

// NewKeySignerFromKey wraps an existing key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey, domain proof.Domain, decimals int32, opts ...Option) *KeySigner {
	s := &KeySigner{domain: domain, decimals: decimals, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if key != nil {
		s.key = key
		s.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return s
}

func (s *KeySigner) Ready() bool { return s.key != nil }

func (s *KeySigner) Address() string {
	if s.key == nil {
		return ""
	}
	return s.address.Hex()
}

func (s *KeySigner) Sign(ctx context.Context, ch payment.Challenge) (string, error) {
	if s.key == nil {
		return "", payment.ErrNotInitialized
	}
	if !common.IsHexAddress(ch.Recipient) {
		return "", fmt.Errorf("%w: invalid recipient %q", payment.ErrSigningFailed, ch.Recipient)
	}
	amount, err := proof.MinorUnits(ch.Amount, s.decimals)
	if err != nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: invalid amount %q", payment.ErrSigningFailed, ch.Amount)
	}

	if s.balance != nil {
		bal, err := s.balance.BalanceOf(ctx, s.address)
		if err != nil {
			return "", fmt.Errorf("%w: read balance: %v", payment.ErrSigningFailed, err)
		}
		if bal.Cmp(amount) < 0 {
			return "", fmt.Errorf("%w: have %s, need %s", payment.ErrInsufficientFunds, bal, amount)
		}
	}

	if s.approver != nil {
		ok, err := s.approver.Approve(ctx, ch)
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return "", fmt.Errorf("%w: %v", payment.ErrUserRejected, err)
		case err != nil:
			return "", fmt.Errorf("%w: approval: %v", payment.ErrSigningFailed, err)
		case !ok:
			return "", payment.ErrUserRejected
		}
	}

	var nonce common.Hash
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", payment.ErrSigningFailed, err)
	}
	auth := &proof.Authorization{
		Payer:     s.address,
		Recipient: common.HexToAddress(ch.Recipient),
		Amount:    amount,
		Currency:  ch.Currency,
		Network:   ch.Network,
		TermsHash: proof.TermsHash(ch),
		IssuedAt:  s.now().Unix(),
		Nonce:     nonce,
	}
	if err := proof.Sign(auth, s.key, s.domain); err != nil {
		return "", fmt.Errorf("%w: %v", payment.ErrSigningFailed, err)
	}
	return proof.Encode(auth)
}
