package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/socialbet/arena/internal/config"
	"github.com/socialbet/arena/internal/gateway"
	"github.com/socialbet/arena/internal/health"
	"github.com/socialbet/arena/internal/ledger"
	"github.com/socialbet/arena/internal/payment"
	"github.com/socialbet/arena/internal/proof"
	"github.com/socialbet/arena/internal/verifier"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Challenge builder, verifier, ledger ───────────────────────────────────
	builder, err := newBuilder(cfg)
	if err != nil {
		log.Fatal("pricing config invalid", zap.Error(err))
	}
	v := newVerifier(cfg, rdb)
	if cfg.Verifier.Mode == config.VerifierPresence {
		log.Warn("presence verifier active: any non-empty proof is accepted")
	}
	bets := ledger.NewRedisLedger(rdb)

	// ── Health (gRPC) ─────────────────────────────────────────────────────────
	monitor := health.NewMonitor(health.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}), 5*time.Second, log)
	go monitor.Run(ctx)
	grpcSrv, err := monitor.Serve(cfg.Server.GRPCPort)
	if err != nil {
		log.Fatal("health server failed", zap.Error(err))
	}
	log.Info("gRPC health server starting", zap.Int("port", cfg.Server.GRPCPort))

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: newRouter(gateway.NewHandler(builder, v, bets, log, gateway.WithReader(bets)), log),
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("verifier", cfg.Verifier.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	if err := rdb.Close(); err != nil {
		log.Warn("redis close", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newRouter(h *gateway.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gateway.Recovery(log))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	h.Register(r.Group("/api"))
	return r
}

func newBuilder(cfg *config.Config) (*payment.Builder, error) {
	fee, err := decimal.NewFromString(cfg.Payment.CreateFee)
	if err != nil {
		return nil, fmt.Errorf("CREATE_FEE: %w", err)
	}
	testAmount, err := decimal.NewFromString(cfg.Payment.DefaultTestAmount)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TEST_AMOUNT: %w", err)
	}
	return payment.NewBuilder(payment.Pricing{
		Recipient:         cfg.Payment.Recipient,
		Currency:          cfg.Payment.Currency,
		Network:           cfg.Payment.Network,
		CreateFee:         fee,
		DefaultTestAmount: testAmount,
		Decimals:          cfg.Payment.TokenDecimals,
	}), nil
}

func newVerifier(cfg *config.Config, rdb *redis.Client) verifier.Verifier {
	if cfg.Verifier.Mode != config.VerifierSignature {
		return verifier.Presence{}
	}
	return verifier.NewSignature(rdb, domainOf(cfg), cfg.Payment.TokenDecimals,
		time.Duration(cfg.Verifier.MaxProofAgeSec)*time.Second)
}

func domainOf(cfg *config.Config) proof.Domain {
	return proof.Domain{
		ChainID:           big.NewInt(cfg.Verifier.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Verifier.VerifyingContract),
	}
}
