package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/socialbet/arena/internal/ledger"
	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/verifier"
)

// proofLogPrefix is how much of a proof token may appear in logs.
const proofLogPrefix = 16

const internalErrorMessage = "Internal server error"

// executor performs the paid business action once the proof was accepted.
type executor func(ctx context.Context, p payment.Payload, v *verifier.Verdict) (*payment.ActionResult, error)

// Handler serves the protected actions. One Handler backs all three
// routes; it holds no per-request state.
type Handler struct {
	builder  *payment.Builder
	verifier verifier.Verifier
	ledger   ledger.Ledger
	reader   ledger.Reader
	log      *zap.Logger
	now      func() time.Time
	newBetID func() string
}

type Option func(*Handler)

// WithClock overrides the time source used for validation and results.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithReader enables the unpaid bet lookup routes.
func WithReader(r ledger.Reader) Option {
	return func(h *Handler) { h.reader = r }
}

// WithBetIDs overrides bet ID generation.
func WithBetIDs(gen func() string) Option {
	return func(h *Handler) { h.newBetID = gen }
}

func NewHandler(b *payment.Builder, v verifier.Verifier, l ledger.Ledger, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		builder:  b,
		verifier: v,
		ledger:   l,
		log:      log,
		now:      time.Now,
		newBetID: NewBetID,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the protected routes on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/bet/create", h.handleCreate)
	rg.POST("/bet/join", h.handleJoin)
	rg.GET("/test-payment", h.handleTest)
	if h.reader != nil {
		rg.GET("/bet/:id", h.handleGetBet)
		rg.GET("/bets", h.handleListBets)
	}
}

// NewBetID returns "bet_" followed by 13 lowercase alphanumerics.
func NewBetID() string {
	return "bet_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
}

// ── Routes ───────────────────────────────────────────────────────────────────

func (h *Handler) handleCreate(c *gin.Context) {
	var p payment.CreatePayload
	err := c.ShouldBindJSON(&p)
	h.protect(c, p, err, h.execCreate)
}

func (h *Handler) handleJoin(c *gin.Context) {
	var p payment.JoinPayload
	err := c.ShouldBindJSON(&p)
	h.protect(c, p, err, h.execJoin)
}

func (h *Handler) handleTest(c *gin.Context) {
	p, err := payment.ParseTestAmount(c.Query("amount"))
	h.protect(c, p, err, h.execTest)
}

func (h *Handler) handleGetBet(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	bet, err := h.reader.GetBet(ctx, id)
	if err != nil {
		h.log.Error("gateway: read bet", zap.String("bet_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
		return
	}
	parts, err := h.reader.Participations(ctx, id)
	if err != nil {
		h.log.Error("gateway: read participations", zap.String("bet_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
		return
	}
	if bet == nil && len(parts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bet not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bet": bet, "participants": parts})
}

func (h *Handler) handleListBets(c *gin.Context) {
	creatorAddr := c.Query("creator")
	if !common.IsHexAddress(creatorAddr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid field creator: not a hex address"})
		return
	}
	ids, err := h.reader.BetsByCreator(c.Request.Context(), creatorAddr)
	if err != nil {
		h.log.Error("gateway: list bets", zap.String("creator", creatorAddr), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
		return
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, gin.H{"creator": creatorAddr, "betIds": ids})
}

// ── State machine ────────────────────────────────────────────────────────────

// protect drives one request through Validating → CheckingProof →
// (ChallengeIssued | Verifying → (PaymentRejected | Executing)).
func (h *Handler) protect(c *gin.Context, p payment.Payload, bindErr error, exec executor) {
	log := h.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("action", string(p.Kind())),
	)
	ctx := c.Request.Context()

	// Validating
	if bindErr != nil {
		h.finish(log, StateBadRequest, zap.Error(bindErr))
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(bindErr)})
		return
	}
	if err := p.Validate(h.now()); err != nil {
		h.finish(log, StateBadRequest, zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}
	if err := h.builder.CheckAmount(p); err != nil {
		h.finish(log, StateBadRequest, zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	// CheckingProof
	challenge := h.builder.Build(p)
	proofToken := c.GetHeader(payment.HeaderPayment)
	if proofToken == "" {
		h.finish(log, StateChallengeIssued, zap.String("amount", challenge.Amount))
		writeChallenge(c, challenge, payment.ChallengeResponse{
			Error:            requiredMessage(p.Kind()),
			Code:             payment.CodePaymentRequired,
			PaymentChallenge: &challenge,
		})
		return
	}

	// Verifying
	log = log.With(zap.String("proof", truncateProof(proofToken)))
	log.Info("gateway: verifying payment", payloadFields(p)...)
	verdict, err := h.verifier.Verify(ctx, proofToken, challenge)
	if err != nil {
		h.finish(log, StateInternalError, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
		return
	}
	if !verdict.Accepted {
		h.finish(log, StatePaymentRejected, zap.String("reason", verdict.Reason))
		writeChallenge(c, challenge, payment.ChallengeResponse{
			Error:            "Payment rejected: " + verdict.Reason,
			Code:             payment.CodePaymentRejected,
			PaymentChallenge: &challenge,
		})
		return
	}

	// Executing. From here the proof is consumed; no refund on failure.
	result, err := exec(ctx, p, verdict)
	if err != nil {
		h.finish(log, StateInternalError,
			zap.String("settlement_ref", verdict.SettlementRef),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
		return
	}

	if receipt, err := json.Marshal(payment.SettlementReceipt{
		TransactionHash: result.TransactionHash,
		Status:          result.Status,
	}); err == nil {
		c.Header(payment.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(receipt))
	}
	h.finish(log, StateSucceeded,
		zap.String("settlement_ref", result.TransactionHash),
		zap.String("payer", verdict.Payer),
	)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) finish(log *zap.Logger, s State, fields ...zap.Field) {
	fields = append(fields, zap.Stringer("state", s))
	switch s {
	case StateInternalError:
		log.Error("gateway: request failed", fields...)
	case StatePaymentRejected:
		log.Warn("gateway: payment rejected", fields...)
	default:
		log.Info("gateway: request done", fields...)
	}
}

// ── Executors ────────────────────────────────────────────────────────────────

func (h *Handler) execCreate(ctx context.Context, p payment.Payload, v *verifier.Verdict) (*payment.ActionResult, error) {
	cp := p.(payment.CreatePayload)
	now := h.now()
	bet := ledger.Bet{
		ID:              h.newBetID(),
		Description:     cp.Description,
		StakeAmount:     cp.StakeAmount.String(),
		Deadline:        cp.Deadline,
		CreatorAddress:  cp.CreatorAddress,
		TransactionHash: v.SettlementRef,
		Status:          payment.StatusActive,
		CreatedAt:       now.UnixMilli(),
	}
	if err := h.ledger.RecordCreated(ctx, bet); err != nil {
		return nil, err
	}
	return &payment.ActionResult{
		Success:         true,
		BetID:           bet.ID,
		Description:     bet.Description,
		StakeAmount:     bet.StakeAmount,
		Deadline:        bet.Deadline,
		CreatorAddress:  bet.CreatorAddress,
		TransactionHash: v.SettlementRef,
		Status:          payment.StatusActive,
		Message:         "Bet created successfully!",
		Timestamp:       now.UnixMilli(),
	}, nil
}

func (h *Handler) execJoin(ctx context.Context, p payment.Payload, v *verifier.Verdict) (*payment.ActionResult, error) {
	jp := p.(payment.JoinPayload)
	now := h.now()
	if err := h.ledger.RecordJoined(ctx, ledger.Participation{
		BetID:              jp.BetID,
		ParticipantAddress: jp.ParticipantAddress,
		Amount:             jp.Amount.String(),
		TransactionHash:    v.SettlementRef,
		JoinedAt:           now.UnixMilli(),
	}); err != nil {
		return nil, err
	}
	return &payment.ActionResult{
		Success:            true,
		BetID:              jp.BetID,
		ParticipantAddress: jp.ParticipantAddress,
		Amount:             jp.Amount.String(),
		TransactionHash:    v.SettlementRef,
		Status:             payment.StatusConfirmed,
		Message:            "Successfully joined bet!",
		Timestamp:          now.UnixMilli(),
	}, nil
}

func (h *Handler) execTest(_ context.Context, p payment.Payload, v *verifier.Verdict) (*payment.ActionResult, error) {
	return &payment.ActionResult{
		Success:         true,
		Amount:          h.builder.Price(p).String(),
		TransactionHash: v.SettlementRef,
		Status:          payment.StatusVerified,
		Message:         "Test payment completed successfully!",
		PaymentVerified: true,
		Timestamp:       h.now().UnixMilli(),
	}, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func writeChallenge(c *gin.Context, ch payment.Challenge, body payment.ChallengeResponse) {
	for k, vs := range payment.Headers(ch) {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.JSON(http.StatusPaymentRequired, body)
}

func requiredMessage(kind payment.ActionKind) string {
	switch kind {
	case payment.ActionCreate:
		return "Payment required to create bet"
	case payment.ActionJoin:
		return "Payment required to join bet"
	default:
		return "Payment required for test endpoint"
	}
}

func validationMessage(err error) string {
	var pe *payment.Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return "Invalid request body"
}

func truncateProof(p string) string {
	if len(p) <= proofLogPrefix {
		return p[:len(p)/2] + "..."
	}
	return p[:proofLogPrefix] + "..."
}

func payloadFields(p payment.Payload) []zap.Field {
	switch v := p.(type) {
	case payment.CreatePayload:
		return []zap.Field{
			zap.String("stake_amount", v.StakeAmount.String()),
			zap.String("creator", v.CreatorAddress),
		}
	case payment.JoinPayload:
		return []zap.Field{
			zap.String("bet_id", v.BetID),
			zap.String("amount", v.Amount.String()),
			zap.String("participant", v.ParticipantAddress),
		}
	case payment.TestPayload:
		return []zap.Field{zap.String("amount", v.Amount.String())}
	}
	return nil
}

// Recovery converts panics into the generic 500 body and logs the detail.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		log.Error("gateway: panic", zap.Any("panic", err), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
	})
}
