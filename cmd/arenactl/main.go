// Command arenactl drives the paid arena endpoints from a terminal. It
// signs payment challenges with WALLET_PRIVATE_KEY and asks for
// confirmation before each payment unless --yes is given.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/socialbet/arena/internal/chain"
	"github.com/socialbet/arena/internal/client"
	"github.com/socialbet/arena/internal/config"
	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/proof"
	"github.com/socialbet/arena/internal/wallet"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdin, os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "arenactl:", err)
		os.Exit(1)
	}
}

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "arenactl",
		Usage:     "create, join and test paid SocialBet Arena actions",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "gateway base URL (default: ARENA_URL)"},
			&cli.StringFlag{Name: "max-amount", Usage: "refuse challenges above this amount (default: MAX_PAYMENT_AMOUNT)"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "pay without asking"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log protocol steps to stderr"},
			&cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a bet (pays the platform fee)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Required: true},
					&cli.StringFlag{Name: "stake", Required: true, Usage: "stake amount in USDC"},
					&cli.StringFlag{Name: "deadline", Required: true, Usage: "ISO 8601 timestamp such as 2030-06-01T12:00, or a duration such as 72h"},
					&cli.StringFlag{Name: "creator", Usage: "creator address (default: wallet address)"},
				},
				Action: func(c *cli.Context) error {
					return withSession(c, in, func(ctx context.Context, s *client.Session) client.Result {
						stake, err := decimal.NewFromString(c.String("stake"))
						if err != nil {
							return invalidFlag("stake", err)
						}
						creator := c.String("creator")
						if creator == "" {
							creator = s.WalletAddress()
						}
						return s.CreateBet(ctx, payment.CreatePayload{
							Description:    c.String("description"),
							StakeAmount:    stake,
							Deadline:       parseDeadline(c.String("deadline"), time.Now()),
							CreatorAddress: creator,
						})
					})
				},
			},
			{
				Name:  "join",
				Usage: "join a bet (pays the stake)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bet", Required: true},
					&cli.StringFlag{Name: "amount", Required: true},
					&cli.StringFlag{Name: "participant", Usage: "participant address (default: wallet address)"},
				},
				Action: func(c *cli.Context) error {
					return withSession(c, in, func(ctx context.Context, s *client.Session) client.Result {
						amount, err := decimal.NewFromString(c.String("amount"))
						if err != nil {
							return invalidFlag("amount", err)
						}
						participant := c.String("participant")
						if participant == "" {
							participant = s.WalletAddress()
						}
						return s.JoinBet(ctx, payment.JoinPayload{
							BetID:              c.String("bet"),
							Amount:             amount,
							ParticipantAddress: participant,
						})
					})
				},
			},
			{
				Name:  "test",
				Usage: "make a test payment",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "amount", Usage: "amount in USDC (default: server default)"},
				},
				Action: func(c *cli.Context) error {
					return withSession(c, in, func(ctx context.Context, s *client.Session) client.Result {
						return s.TestPayment(ctx, c.String("amount"))
					})
				},
			},
			{
				Name:  "balance",
				Usage: "show the wallet's settlement token balance",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "address", Usage: "address to query (default: wallet address)"},
				},
				Action: balance,
			},
		},
	}
}

// withSession loads config, builds the signer and session, runs fn and
// prints its result. A failed result exits non-zero.
func withSession(c *cli.Context, in io.Reader, fn func(context.Context, *client.Session) client.Result) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if v := c.String("url"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := c.String("max-amount"); v != "" {
		cfg.Client.MaxAmount = v
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	log := zap.NewNop()
	if c.Bool("verbose") {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync() //nolint:errcheck

	opts := []wallet.Option{}
	if !c.Bool("yes") {
		opts = append(opts, wallet.WithApprover(promptApprover(in, c.App.Writer)))
	}
	if cfg.Chain.RPCURL != "" {
		token, err := chain.Dial(cfg.Chain.RPCURL, cfg.Chain.TokenAddress)
		if err != nil {
			return err
		}
		defer token.Close()
		opts = append(opts, wallet.WithBalanceReader(token))
	}
	signer, err := wallet.NewKeySigner(cfg.Client.PrivateKey, domainOf(cfg), cfg.Payment.TokenDecimals, opts...)
	if err != nil {
		return err
	}

	maxAmount := decimal.Zero
	if cfg.Client.MaxAmount != "" {
		maxAmount, _ = decimal.NewFromString(cfg.Client.MaxAmount)
	}
	s, err := client.NewSession(cfg.Client.BaseURL, signer,
		client.WithSignTimeout(time.Duration(cfg.Client.SignTimeoutSec)*time.Second),
		client.WithRequestTimeout(time.Duration(cfg.Client.RequestTimeoutSec)*time.Second),
		client.WithMaxAmount(maxAmount),
		client.WithLogger(log),
	)
	if err != nil {
		return err
	}

	res := fn(c.Context, s)
	if c.Bool("json") {
		err = renderJSON(c.App.Writer, res)
	} else {
		err = renderResult(c.App.Writer, res)
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("payment failed: %s", res.Code)
	}
	return nil
}

func balance(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("required config missing: RPC_URL")
	}

	addr := c.String("address")
	if addr == "" {
		signer, err := wallet.NewKeySigner(cfg.Client.PrivateKey, domainOf(cfg), cfg.Payment.TokenDecimals)
		if err != nil {
			return err
		}
		if !signer.Ready() {
			return fmt.Errorf("no --address given and WALLET_PRIVATE_KEY is not set")
		}
		addr = signer.Address()
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid address %q", addr)
	}

	token, err := chain.Dial(cfg.Chain.RPCURL, cfg.Chain.TokenAddress)
	if err != nil {
		return err
	}
	defer token.Close()

	bal, err := token.BalanceOf(c.Context, common.HexToAddress(addr))
	if err != nil {
		return err
	}
	decimals, err := token.Decimals(c.Context)
	if err != nil {
		return err
	}
	return renderBalance(c.App.Writer, addr, cfg.Payment.Currency, bal, int32(decimals))
}

// promptApprover asks on out and reads y/N from in. An unanswered prompt
// is cut off by the sign timeout.
func promptApprover(in io.Reader, out io.Writer) wallet.Approver {
	r := bufio.NewReader(in)
	return wallet.ApproverFunc(func(ctx context.Context, ch payment.Challenge) (bool, error) {
		fmt.Fprintf(out, "%s\nPay %s %s on %s to %s? [y/N] ",
			ch.Description, ch.Amount, ch.Currency, ch.Network, ch.Recipient)

		answer := make(chan string, 1)
		go func() {
			line, _ := r.ReadString('\n')
			answer <- strings.ToLower(strings.TrimSpace(line))
		}()
		select {
		case a := <-answer:
			return a == "y" || a == "yes", nil
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, ctx.Err()
		}
	})
}

// parseDeadline turns a duration into a timestamp from now.
// Anything else is passed through for the server to reject.
func parseDeadline(raw string, now time.Time) string {
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(d).UTC().Format(time.RFC3339)
	}
	return raw
}

func invalidFlag(name string, err error) client.Result {
	return client.Result{
		Error: fmt.Sprintf("invalid --%s: %v", name, err),
		Code:  payment.CodeValidation,
	}
}

func domainOf(cfg *config.Config) proof.Domain {
	return proof.Domain{
		ChainID:           big.NewInt(cfg.Verifier.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Verifier.VerifyingContract),
	}
}
