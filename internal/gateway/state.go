package gateway

// State is a step of the per-request gateway state machine. Nothing is
// carried between requests; the state only exists for the duration of one
// handler invocation and is reported in logs.
type State int

const (
	StateValidating State = iota
	StateCheckingProof
	StateChallengeIssued
	StateVerifying
	StatePaymentRejected
	StateExecuting
	StateSucceeded
	StateBadRequest
	StateInternalError
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateCheckingProof:
		return "checking_proof"
	case StateChallengeIssued:
		return "challenge_issued"
	case StateVerifying:
		return "verifying"
	case StatePaymentRejected:
		return "payment_rejected"
	case StateExecuting:
		return "executing"
	case StateSucceeded:
		return "succeeded"
	case StateBadRequest:
		return "bad_request"
	case StateInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the request.
func (s State) Terminal() bool {
	switch s {
	case StateChallengeIssued, StatePaymentRejected, StateSucceeded, StateBadRequest, StateInternalError:
		return true
	}
	return false
}
