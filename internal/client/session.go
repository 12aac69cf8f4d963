package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/wallet"
)

const maxBodyBytes = 1 << 20

// Result is the uniform outcome of one logical call. Failures always carry
// Success=false and a user-facing Error; nothing is returned as a raw error.
type Result struct {
	Success         bool                  `json:"success"`
	Error           string                `json:"error,omitempty"`
	Code            payment.Code          `json:"code,omitempty"`
	TransactionHash string                `json:"transactionHash,omitempty"`
	PaymentResponse *payment.ActionResult `json:"paymentResponse,omitempty"`
}

// Session drives the unpaid attempt → challenge → proof → paid retry
// sequence so callers see a single operation. It is constructed with the
// signing capability it uses; there is no shared global instance.
//
// Only one logical call runs at a time per Session. A call made while
// another is in flight fails immediately with CodeBusy.
type Session struct {
	baseURL   string
	http      *http.Client
	signer    wallet.Signer
	carrier   *Carrier
	maxAmount decimal.Decimal
	timeout   time.Duration
	log       *zap.Logger

	mu         sync.Mutex
	processing bool
	lastResult *Result
	lastErr    error
}

type Option func(*Session)

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.http = c }
}

// WithRequestTimeout bounds each HTTP request. It applies on top of any
// client passed with WithHTTPClient without mutating it.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithSignTimeout bounds how long signing may wait on the user.
func WithSignTimeout(d time.Duration) Option {
	return func(s *Session) { s.carrier.signTimeout = d }
}

// WithMaxAmount refuses challenges above amount. Zero disables the limit.
func WithMaxAmount(amount decimal.Decimal) Option {
	return func(s *Session) { s.maxAmount = amount }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

func NewSession(baseURL string, signer wallet.Signer, opts ...Option) (*Session, error) {
	if signer == nil {
		return nil, errors.New("client: signer is required")
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("client: invalid base URL %q", baseURL)
	}
	s := &Session{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		signer:    signer,
		carrier:   NewCarrier(nil, signer, 2*time.Minute),
		maxAmount: decimal.NewFromInt(100),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout > 0 {
		hc := *s.http
		hc.Timeout = s.timeout
		s.http = &hc
	}
	s.carrier.http = s.http
	return s, nil
}

// ── Public operations ────────────────────────────────────────────────────────

func (s *Session) CreateBet(ctx context.Context, p payment.CreatePayload) Result {
	return s.run(ctx, payment.ActionCreate, s.jsonRequest(http.MethodPost, "/api/bet/create", p))
}

func (s *Session) JoinBet(ctx context.Context, p payment.JoinPayload) Result {
	return s.run(ctx, payment.ActionJoin, s.jsonRequest(http.MethodPost, "/api/bet/join", p))
}

// TestPayment calls the paid test endpoint. An empty amount uses the
// server default.
func (s *Session) TestPayment(ctx context.Context, amount string) Result {
	path := "/api/test-payment"
	if amount != "" {
		path += "?" + url.Values{"amount": {amount}}.Encode()
	}
	return s.run(ctx, payment.ActionTest, s.jsonRequest(http.MethodGet, path, nil))
}

// ── Session state ────────────────────────────────────────────────────────────

func (s *Session) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// LastResult returns a copy of the most recent completed call's result.
func (s *Session) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return nil
	}
	r := *s.lastResult
	return &r
}

// LastError returns the classified error of the most recent call, or nil
// if it succeeded.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

// WalletAddress returns the signer's active account, or "".
func (s *Session) WalletAddress() string {
	return s.signer.Address()
}

func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return false
	}
	s.processing = true
	s.lastErr = nil
	return true
}

func (s *Session) end(res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	s.lastResult = &res
	s.lastErr = err
}

// ── Protocol ─────────────────────────────────────────────────────────────────

func (s *Session) run(ctx context.Context, kind payment.ActionKind, newReq RequestFunc) (res Result) {
	if !s.begin() {
		return failure(payment.NewError(payment.CodeBusy, "call already in flight", payment.ErrBusy))
	}
	var err error
	defer func() { s.end(res, err) }()

	var action *payment.ActionResult
	action, err = s.call(ctx, newReq)
	if err != nil {
		s.log.Warn("payment call failed",
			zap.String("action", string(kind)),
			zap.String("code", string(payment.CodeOf(err))),
			zap.Error(err),
		)
		return failure(err)
	}
	s.log.Info("payment call succeeded",
		zap.String("action", string(kind)),
		zap.String("tx", action.TransactionHash),
	)
	return Result{
		Success:         true,
		TransactionHash: action.TransactionHash,
		PaymentResponse: action,
	}
}

// call performs at most two HTTP requests: the unpaid attempt and, on 402,
// a single paid retry.
func (s *Session) call(ctx context.Context, newReq RequestFunc) (*payment.ActionResult, error) {
	if !s.signer.Ready() {
		return nil, payment.NewError(payment.CodeNotInitialized, "signer not initialized", payment.ErrNotInitialized)
	}

	req, err := newReq(ctx)
	if err != nil {
		return nil, payment.NewError(payment.CodeTransport, "build request", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, payment.NewError(payment.CodeTransport, "request failed", err)
	}
	status, body, err := drain(resp)
	if err != nil {
		return nil, payment.NewError(payment.CodeTransport, "read response", err)
	}

	switch {
	case status >= 200 && status < 300:
		return decodeResult(status, body)
	case status != http.StatusPaymentRequired:
		return nil, errorFromResponse(status, body)
	}

	ch, err := readChallenge(resp.Header, body)
	if err != nil {
		return nil, &payment.Error{Code: payment.CodeTransport, Message: "unreadable payment challenge", Status: status, Body: string(body), Err: err}
	}
	if err := s.checkLimit(ch); err != nil {
		return nil, err
	}

	resp, err = s.carrier.Pay(ctx, newReq, *ch)
	if err != nil {
		return nil, err
	}
	status, body, err = drain(resp)
	if err != nil {
		return nil, payment.NewError(payment.CodeTransport, "read paid response", err)
	}
	switch {
	case status >= 200 && status < 300:
		return decodeResult(status, body)
	case status == http.StatusPaymentRequired || status == http.StatusForbidden:
		return nil, &payment.Error{
			Code:    payment.CodePaymentRejected,
			Message: rejectionReason(body),
			Status:  status,
			Body:    string(body),
			Err:     payment.ErrPaymentRejected,
		}
	default:
		return nil, errorFromResponse(status, body)
	}
}

func (s *Session) checkLimit(ch *payment.Challenge) error {
	if s.maxAmount.IsZero() {
		return nil
	}
	amount, err := decimal.NewFromString(ch.Amount)
	if err != nil {
		return payment.NewError(payment.CodeTransport, "challenge amount is not a decimal", err)
	}
	if amount.GreaterThan(s.maxAmount) {
		return payment.NewError(payment.CodeAmountExceeded,
			fmt.Sprintf("challenge asks %s %s, limit is %s", ch.Amount, ch.Currency, s.maxAmount),
			payment.ErrAmountExceeded)
	}
	return nil
}

func (s *Session) jsonRequest(method, path string, body any) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			r = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

// ── Response helpers ─────────────────────────────────────────────────────────

func drain(resp *http.Response) (int, []byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, body, err
}

func decodeResult(status int, body []byte) (*payment.ActionResult, error) {
	var r payment.ActionResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &payment.Error{Code: payment.CodeTransport, Message: "unreadable result", Status: status, Body: string(body), Err: err}
	}
	return &r, nil
}

// readChallenge prefers the structured body and falls back to the
// mirrored X-Payment-Required header.
func readChallenge(h http.Header, body []byte) (*payment.Challenge, error) {
	var cr payment.ChallengeResponse
	if err := json.Unmarshal(body, &cr); err == nil && cr.PaymentChallenge != nil {
		return cr.PaymentChallenge, nil
	}
	return payment.ChallengeFromHeaders(h)
}

func serverMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		return e.Error
	}
	return ""
}

func rejectionReason(body []byte) string {
	msg := serverMessage(body)
	msg = strings.TrimPrefix(msg, "Payment rejected: ")
	if msg == "" {
		return "proof not accepted"
	}
	return msg
}

func errorFromResponse(status int, body []byte) error {
	msg := serverMessage(body)
	if status == http.StatusBadRequest {
		if msg == "" {
			msg = "invalid request"
		}
		return &payment.Error{Code: payment.CodeValidation, Message: msg, Status: status, Body: string(body), Err: payment.ErrValidation}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &payment.Error{Code: payment.CodeTransport, Message: msg, Status: status, Body: string(body), Err: payment.ErrTransport}
}

func failure(err error) Result {
	return Result{
		Success: false,
		Error:   payment.UserMessage(err),
		Code:    payment.CodeOf(err),
	}
}
