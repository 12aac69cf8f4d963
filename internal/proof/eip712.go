package proof

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/socialbet/arena/internal/payment"
)

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	authorizationTypeHash = crypto.Keccak256Hash([]byte(
		"PaymentAuthorization(address payer,address recipient,uint256 amount,bytes32 termsHash,uint256 issuedAt,bytes32 nonce)",
	))
	domainNameHash    = crypto.Keccak256Hash([]byte("SocialBet Arena"))
	domainVersionHash = crypto.Keccak256Hash([]byte("1"))
)

// Domain binds signatures to one chain and verifying contract.
type Domain struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) separator() common.Hash {
	return crypto.Keccak256Hash(
		eip712DomainTypeHash[:],
		domainNameHash[:],
		domainVersionHash[:],
		uint256Word(d.ChainID),
		addressWord(d.VerifyingContract),
	)
}

// uint256Word left-pads v into one 32-byte ABI word. Callers bound v to
// 256 bits beforehand.
func uint256Word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// TermsHash commits to every challenge field that is a pure function of
// the business payload: everything except the metadata timestamp.
func TermsHash(c payment.Challenge) common.Hash {
	parts := []string{
		c.Amount,
		c.Currency,
		c.Network,
		strings.ToLower(c.Recipient),
		c.Description,
		strings.ToLower(c.Payer()),
	}
	return crypto.Keccak256Hash([]byte(strings.Join(parts, "\x1f")))
}

// errAmountRange is returned for amounts that do not fit a uint256 word.
var errAmountRange = errors.New("amount out of uint256 range")

// MinorUnits converts a decimal amount string to token minor units.
// Fractions below one minor unit are rejected rather than rounded, and the
// result always fits the uint256 slot it is hashed into.
func MinorUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, errors.New("amount has more precision than the token supports")
	}
	units := shifted.BigInt()
	if units.Sign() < 0 || units.BitLen() > 256 {
		return nil, errAmountRange
	}
	return units, nil
}

// Sign attaches a 65-byte signature over a's typed-data digest. The
// recovery byte is 27 or 28 so contracts can pass it to ecrecover as is.
func Sign(a *Authorization, key *ecdsa.PrivateKey, d Domain) error {
	digest := hashAuthorization(a, d)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return err
	}
	sig[crypto.RecoveryIDOffset] += 27
	a.Signature = sig
	return nil
}

// Recover returns the address that signed a.
func Recover(a *Authorization, d Domain) (common.Address, error) {
	if len(a.Signature) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	digest := hashAuthorization(a, d)
	sig := make([]byte, 65)
	copy(sig, a.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func hashAuthorization(a *Authorization, d Domain) common.Hash {
	structHash := crypto.Keccak256Hash(
		authorizationTypeHash[:],
		addressWord(a.Payer),
		addressWord(a.Recipient),
		uint256Word(a.Amount),
		a.TermsHash[:],
		uint256Word(new(big.Int).SetInt64(a.IssuedAt)),
		a.Nonce[:],
	)
	sep := d.separator()
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, sep[:], structHash[:])
}
