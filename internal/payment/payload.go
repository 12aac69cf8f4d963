package payment

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const maxDescriptionRunes = 500

// deadlineLayouts are tried in order. Layouts without a zone are UTC; the
// zoneless minute form is what HTML datetime-local inputs submit.
var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Payload is the business body of a protected action. Each action kind has
// its own concrete type and required-field set.
type Payload interface {
	Kind() ActionKind
	Validate(now time.Time) error
}

// CreatePayload is the body of POST /api/bet/create.
type CreatePayload struct {
	Description    string          `json:"description"`
	StakeAmount    decimal.Decimal `json:"stakeAmount"`
	Deadline       string          `json:"deadline"`
	CreatorAddress string          `json:"creatorAddress"`
}

// JoinPayload is the body of POST /api/bet/join.
type JoinPayload struct {
	BetID              string          `json:"betId"`
	Amount             decimal.Decimal `json:"amount"`
	ParticipantAddress string          `json:"participantAddress"`
}

// TestPayload carries the amount query parameter of GET /api/test-payment.
// A zero Amount means "use the configured default".
type TestPayload struct {
	Amount decimal.Decimal `json:"amount"`
}

func (CreatePayload) Kind() ActionKind { return ActionCreate }
func (JoinPayload) Kind() ActionKind   { return ActionJoin }
func (TestPayload) Kind() ActionKind   { return ActionTest }

func (p CreatePayload) Validate(now time.Time) error {
	var missing []string
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	if p.StakeAmount.IsZero() {
		missing = append(missing, "stakeAmount")
	}
	if p.Deadline == "" {
		missing = append(missing, "deadline")
	}
	if p.CreatorAddress == "" {
		missing = append(missing, "creatorAddress")
	}
	if len(missing) > 0 {
		return missingFields(missing)
	}
	if utf8.RuneCountInString(p.Description) > maxDescriptionRunes {
		return invalidField("description", fmt.Sprintf("longer than %d characters", maxDescriptionRunes))
	}
	if p.StakeAmount.IsNegative() {
		return invalidField("stakeAmount", "must be positive")
	}
	deadline, err := ParseDeadline(p.Deadline)
	if err != nil {
		return invalidField("deadline", "must be an ISO 8601 timestamp")
	}
	if !deadline.After(now) {
		return invalidField("deadline", "must be in the future")
	}
	if !common.IsHexAddress(p.CreatorAddress) {
		return invalidField("creatorAddress", "not a hex address")
	}
	return nil
}

// ParseDeadline parses a bet deadline in any of the accepted ISO 8601 forms.
func ParseDeadline(s string) (time.Time, error) {
	var err error
	for _, layout := range deadlineLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func (p JoinPayload) Validate(time.Time) error {
	var missing []string
	if strings.TrimSpace(p.BetID) == "" {
		missing = append(missing, "betId")
	}
	if p.Amount.IsZero() {
		missing = append(missing, "amount")
	}
	if p.ParticipantAddress == "" {
		missing = append(missing, "participantAddress")
	}
	if len(missing) > 0 {
		return missingFields(missing)
	}
	if p.Amount.IsNegative() {
		return invalidField("amount", "must be positive")
	}
	if !common.IsHexAddress(p.ParticipantAddress) {
		return invalidField("participantAddress", "not a hex address")
	}
	return nil
}

func (p TestPayload) Validate(time.Time) error {
	if p.Amount.IsNegative() {
		return invalidField("amount", "must be positive")
	}
	return nil
}

// ParseTestAmount parses the amount query parameter. An empty string
// yields the zero payload, which the builder prices at the default amount.
func ParseTestAmount(raw string) (TestPayload, error) {
	if raw == "" {
		return TestPayload{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return TestPayload{}, invalidField("amount", "not a decimal number")
	}
	if !d.IsPositive() {
		return TestPayload{}, invalidField("amount", "must be positive")
	}
	return TestPayload{Amount: d}, nil
}

func missingFields(names []string) error {
	return &Error{
		Code:    CodeValidation,
		Message: "Missing required fields: " + strings.Join(names, ", "),
		Err:     ErrValidation,
	}
}

func invalidField(name, reason string) error {
	return &Error{
		Code:    CodeValidation,
		Message: fmt.Sprintf("Invalid field %s: %s", name, reason),
		Err:     ErrValidation,
	}
}
