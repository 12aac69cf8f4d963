package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/wallet"
)

// RequestFunc builds a fresh request for one attempt. Request bodies cannot
// be replayed, so each attempt gets its own.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Carrier turns a challenge into a proof and re-issues the request with the
// proof attached. It performs exactly one retry and is not a retry loop.
type Carrier struct {
	http        *http.Client
	signer      wallet.Signer
	signTimeout time.Duration
}

func NewCarrier(httpClient *http.Client, signer wallet.Signer, signTimeout time.Duration) *Carrier {
	return &Carrier{http: httpClient, signer: signer, signTimeout: signTimeout}
}

// Pay signs ch and sends the paid request. The caller owns the response.
func (c *Carrier) Pay(ctx context.Context, newReq RequestFunc, ch payment.Challenge) (*http.Response, error) {
	if !c.signer.Ready() {
		return nil, payment.NewError(payment.CodeNotInitialized, "signer not initialized", payment.ErrNotInitialized)
	}
	token, err := c.sign(ctx, ch)
	if err != nil {
		return nil, err
	}

	req, err := newReq(ctx)
	if err != nil {
		return nil, payment.NewError(payment.CodeTransport, "build paid request", err)
	}
	req.Header.Set(payment.HeaderPayment, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, payment.NewError(payment.CodeTransport, "paid request failed", err)
	}
	return resp, nil
}

type signResult struct {
	token string
	err   error
}

// sign runs the signer under the sign timeout. The signer may wait on the
// user; if it ignores cancellation the timeout still ends the call.
func (c *Carrier) sign(ctx context.Context, ch payment.Challenge) (string, error) {
	signCtx := ctx
	if c.signTimeout > 0 {
		var cancel context.CancelFunc
		signCtx, cancel = context.WithTimeout(ctx, c.signTimeout)
		defer cancel()
	}

	done := make(chan signResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- signResult{err: fmt.Errorf("%w: signer panic: %v", payment.ErrSigningFailed, r)}
			}
		}()
		token, err := c.signer.Sign(signCtx, ch.Clone())
		done <- signResult{token, err}
	}()

	var res signResult
	select {
	case res = <-done:
	case <-signCtx.Done():
		res = signResult{err: signCtx.Err()}
	}

	if res.err == nil {
		if res.token == "" {
			return "", payment.NewError(payment.CodeSigningFailed, "signer returned an empty proof", payment.ErrSigningFailed)
		}
		return res.token, nil
	}

	// A deadline while waiting on the user counts as the user declining.
	if ctx.Err() == nil && errors.Is(signCtx.Err(), context.DeadlineExceeded) {
		return "", payment.NewError(payment.CodeUserRejected, "signing timed out", res.err)
	}
	if ctx.Err() != nil {
		return "", payment.NewError(payment.CodeUserRejected, "signing cancelled", res.err)
	}

	code := payment.CodeOf(res.err)
	switch code {
	case payment.CodeUserRejected, payment.CodeInsufficientFunds, payment.CodeNotInitialized:
	default:
		code = payment.CodeSigningFailed
	}
	return "", payment.NewError(code, "sign payment", res.err)
}
