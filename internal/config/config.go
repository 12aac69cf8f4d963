package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Payment  PaymentConfig
	Verifier VerifierConfig
	Chain    ChainConfig
	Client   ClientConfig
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// PaymentConfig holds the pricing policy the challenge builder applies.
// Amounts are decimal strings in whole currency units.
type PaymentConfig struct {
	Recipient         string `mapstructure:"recipient"`
	Currency          string `mapstructure:"currency"`
	Network           string `mapstructure:"network"`
	CreateFee         string `mapstructure:"create_fee"`
	DefaultTestAmount string `mapstructure:"default_test_amount"`
	TokenDecimals     int32  `mapstructure:"token_decimals"`
}

type VerifierConfig struct {
	// Mode is "presence" (any non-empty proof is accepted) or "signature".
	Mode              string `mapstructure:"mode"`
	ChainID           int64  `mapstructure:"chain_id"`
	VerifyingContract string `mapstructure:"verifying_contract"`
	MaxProofAgeSec    int64  `mapstructure:"max_proof_age_sec"`
}

type ChainConfig struct {
	RPCURL       string `mapstructure:"rpc_url"`
	TokenAddress string `mapstructure:"token_address"`
}

type ClientConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	PrivateKey        string `mapstructure:"private_key"`
	SignTimeoutSec    int64  `mapstructure:"sign_timeout_sec"`
	RequestTimeoutSec int64  `mapstructure:"request_timeout_sec"`
	MaxAmount         string `mapstructure:"max_amount"`
}

const (
	VerifierPresence  = "presence"
	VerifierSignature = "signature"
)

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("payment.recipient", "0x742d35Cc6634C0532925a3b8D0C9e3e0C0c0c0c0")
	v.SetDefault("payment.currency", "USDC")
	v.SetDefault("payment.network", "base")
	v.SetDefault("payment.create_fee", "1")
	v.SetDefault("payment.default_test_amount", "1")
	v.SetDefault("payment.token_decimals", 6)
	v.SetDefault("verifier.mode", VerifierPresence)
	v.SetDefault("verifier.chain_id", 8453)
	v.SetDefault("verifier.verifying_contract", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	v.SetDefault("verifier.max_proof_age_sec", 600)
	v.SetDefault("chain.token_address", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.sign_timeout_sec", 120)
	v.SetDefault("client.request_timeout_sec", 30)
	v.SetDefault("client.max_amount", "100")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                 "PORT",
		"server.grpc_port":            "GRPC_PORT",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"payment.recipient":           "PAYMENT_RECIPIENT",
		"payment.currency":            "PAYMENT_CURRENCY",
		"payment.network":             "PAYMENT_NETWORK",
		"payment.create_fee":          "CREATE_FEE",
		"payment.default_test_amount": "DEFAULT_TEST_AMOUNT",
		"payment.token_decimals":      "TOKEN_DECIMALS",
		"verifier.mode":               "VERIFIER_MODE",
		"verifier.chain_id":           "CHAIN_ID",
		"verifier.verifying_contract": "VERIFYING_CONTRACT",
		"verifier.max_proof_age_sec":  "MAX_PROOF_AGE_SEC",
		"chain.rpc_url":               "RPC_URL",
		"chain.token_address":         "TOKEN_ADDRESS",
		"client.base_url":             "ARENA_URL",
		"client.private_key":          "WALLET_PRIVATE_KEY",
		"client.sign_timeout_sec":     "SIGN_TIMEOUT_SEC",
		"client.request_timeout_sec":  "REQUEST_TIMEOUT_SEC",
		"client.max_amount":           "MAX_PAYMENT_AMOUNT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Payment.Recipient, "PAYMENT_RECIPIENT"},
		{c.Payment.Currency, "PAYMENT_CURRENCY"},
		{c.Payment.Network, "PAYMENT_NETWORK"},
		{c.Payment.CreateFee, "CREATE_FEE"},
		{c.Payment.DefaultTestAmount, "DEFAULT_TEST_AMOUNT"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if !common.IsHexAddress(c.Payment.Recipient) {
		return fmt.Errorf("invalid PAYMENT_RECIPIENT: %q", c.Payment.Recipient)
	}
	if c.Payment.TokenDecimals < 0 || c.Payment.TokenDecimals > 36 {
		return fmt.Errorf("invalid TOKEN_DECIMALS: %d", c.Payment.TokenDecimals)
	}
	for _, a := range []req{
		{c.Payment.CreateFee, "CREATE_FEE"},
		{c.Payment.DefaultTestAmount, "DEFAULT_TEST_AMOUNT"},
	} {
		d, err := decimal.NewFromString(a.val)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("invalid %s: %q", a.name, a.val)
		}
		if units := d.Shift(c.Payment.TokenDecimals); !units.Equal(units.Truncate(0)) {
			return fmt.Errorf("invalid %s: %q has more than %d decimal places", a.name, a.val, c.Payment.TokenDecimals)
		}
	}
	switch c.Verifier.Mode {
	case VerifierPresence:
	case VerifierSignature:
		if c.Verifier.ChainID == 0 {
			return fmt.Errorf("required config missing: CHAIN_ID")
		}
		if !common.IsHexAddress(c.Verifier.VerifyingContract) {
			return fmt.Errorf("invalid VERIFYING_CONTRACT: %q", c.Verifier.VerifyingContract)
		}
		if c.Verifier.MaxProofAgeSec <= 0 {
			return fmt.Errorf("invalid MAX_PROOF_AGE_SEC: %d", c.Verifier.MaxProofAgeSec)
		}
	default:
		return fmt.Errorf("invalid VERIFIER_MODE: %q", c.Verifier.Mode)
	}
	return nil
}

// ValidateClient checks the settings arenactl needs before it can sign.
func (c *Config) ValidateClient() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("required config missing: ARENA_URL")
	}
	if c.Client.SignTimeoutSec <= 0 {
		return fmt.Errorf("invalid SIGN_TIMEOUT_SEC: %d", c.Client.SignTimeoutSec)
	}
	if c.Client.MaxAmount != "" {
		if _, err := decimal.NewFromString(c.Client.MaxAmount); err != nil {
			return fmt.Errorf("invalid MAX_PAYMENT_AMOUNT: %q", c.Client.MaxAmount)
		}
	}
	return nil
}
