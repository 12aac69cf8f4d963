// Package payment holds the HTTP 402 challenge protocol shared by the
// gateway and the session client: the challenge shape, the per-action
// payloads, the challenge builder and the error taxonomy.
package payment

import "maps"

// ActionKind identifies a protected action.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionJoin   ActionKind = "join"
	ActionTest   ActionKind = "test"
)

// Transport headers.
const (
	HeaderPayment         = "X-Payment"
	HeaderPaymentRequired = "X-Payment-Required"
	HeaderPaymentAmount   = "X-Payment-Amount"
	HeaderPaymentCurrency = "X-Payment-Currency"
	HeaderPaymentNetwork  = "X-Payment-Network"
	HeaderPaymentResponse = "X-Payment-Response"
)

// Metadata keys.
const (
	MetaType               = "type"
	MetaTimestamp          = "timestamp"
	MetaStakeAmount        = "stakeAmount"
	MetaCreatorAddress     = "creatorAddress"
	MetaBetID              = "betId"
	MetaParticipantAddress = "participantAddress"
)

// Challenge is the structured payment demand returned with a 402.
// It is built fresh for every unpaid attempt and never stored.
type Challenge struct {
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Network     string         `json:"network"`
	Recipient   string         `json:"recipient"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy: the metadata map is not shared.
func (c Challenge) Clone() Challenge {
	c.Metadata = maps.Clone(c.Metadata)
	return c
}

// Payer returns the address the challenge expects to pay, if the action
// names one.
func (c Challenge) Payer() string {
	for _, k := range []string{MetaCreatorAddress, MetaParticipantAddress} {
		if s, ok := c.Metadata[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ChallengeResponse is the 402 body.
type ChallengeResponse struct {
	Error            string     `json:"error"`
	Code             Code       `json:"code,omitempty"`
	PaymentChallenge *Challenge `json:"paymentChallenge,omitempty"`
}

// ActionResult is the 200 body of a paid call. It is created once per
// successful call and never mutated.
type ActionResult struct {
	Success            bool   `json:"success"`
	BetID              string `json:"betId,omitempty"`
	Description        string `json:"description,omitempty"`
	StakeAmount        string `json:"stakeAmount,omitempty"`
	Deadline           string `json:"deadline,omitempty"`
	CreatorAddress     string `json:"creatorAddress,omitempty"`
	ParticipantAddress string `json:"participantAddress,omitempty"`
	Amount             string `json:"amount,omitempty"`
	TransactionHash    string `json:"transactionHash"`
	Status             string `json:"status"`
	Message            string `json:"message,omitempty"`
	PaymentVerified    bool   `json:"paymentVerified,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

// Result statuses.
const (
	StatusActive    = "active"
	StatusConfirmed = "confirmed"
	StatusVerified  = "verified"
)

// SettlementReceipt is carried base64-encoded in X-Payment-Response.
type SettlementReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
}
