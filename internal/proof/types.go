package proof

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Authorization is the signed payment commitment carried in X-Payment.
// Currency and Network are metadata only (not part of the EIP-712 struct);
// they travel in JSON so the verifier can reject a proof aimed at another
// settlement network before doing any crypto.
type Authorization struct {
	Payer     common.Address `json:"payer"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"` // token minor units
	Currency  string         `json:"currency"`
	Network   string         `json:"network"`
	TermsHash common.Hash    `json:"termsHash"`
	IssuedAt  int64          `json:"issuedAt"`
	Nonce     common.Hash    `json:"nonce"`
	Signature hexutil.Bytes  `json:"signature"`
}

// Encode serializes a into the opaque header token: base64(JSON).
func Encode(a *Authorization) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal authorization: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a header token produced by Encode.
func Decode(token string) (*Authorization, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	var a Authorization
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("unmarshal authorization: %w", err)
	}
	if a.Amount == nil {
		return nil, fmt.Errorf("amount is required")
	}
	if a.Amount.Sign() < 0 || a.Amount.BitLen() > 256 {
		return nil, fmt.Errorf("amount out of range")
	}
	if len(a.Signature) != 65 {
		return nil, fmt.Errorf("invalid signature length %d", len(a.Signature))
	}
	return &a, nil
}
