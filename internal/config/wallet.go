package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// PayoutMode selects whether payouts are sent inline or through the job queue
type PayoutMode string

const (
	PayoutSync  PayoutMode = "sync"
	PayoutAsync PayoutMode = "async"
)

type WalletConfig struct {
	Currency          string
	MinDeposit        decimal.Decimal
	MinWithdrawal     decimal.Decimal
	WithdrawalFee     decimal.Decimal
	ReleaseFeePercent decimal.Decimal
	ReconcileAfter    time.Duration
	ReconcileInterval time.Duration
	ReconcileBatch    int
	LockTTL           time.Duration
	PayoutMode        PayoutMode
}

// GatewayConfig describes the card/bank-transfer payment gateway used for deposits
type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration
}

// BankConfig describes the banking partner used for account lookup and payouts
type BankConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	SourceAccount string
	SourceBIC     string
	Timeout       time.Duration
	BankListTTL   time.Duration
}

// Init wires viper to the environment and an optional .env file.
// Nested keys map to env vars with dots replaced by underscores (wallet.min_deposit -> WALLET_MIN_DEPOSIT).
func Init(envFile string) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	viper.SetConfigFile(envFile)
	viper.SetConfigType("env")
	if err := viper.ReadInConfig(); err != nil {
		return err
	}

	// Real environment wins over the file
	for _, key := range viper.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); !set {
			os.Setenv(name, viper.GetString(key))
		}
	}
	return nil
}

func LoadWalletConfig() *WalletConfig {
	viper.SetDefault("wallet.currency", "NGN")
	viper.SetDefault("wallet.min_deposit", "100")
	viper.SetDefault("wallet.min_withdrawal", "1000")
	viper.SetDefault("wallet.withdrawal_fee", "50")
	viper.SetDefault("wallet.release_fee_percent", "0")
	viper.SetDefault("wallet.reconcile_after", 30*time.Minute)
	viper.SetDefault("wallet.reconcile_interval", 5*time.Minute)
	viper.SetDefault("wallet.reconcile_batch", 100)
	viper.SetDefault("wallet.lock_ttl", 30*time.Second)
	viper.SetDefault("wallet.payout_mode", string(PayoutSync))

	mode := PayoutMode(strings.ToLower(viper.GetString("wallet.payout_mode")))
	if mode != PayoutAsync {
		mode = PayoutSync
	}

	return &WalletConfig{
		Currency:          viper.GetString("wallet.currency"),
		MinDeposit:        getDecimal("wallet.min_deposit"),
		MinWithdrawal:     getDecimal("wallet.min_withdrawal"),
		WithdrawalFee:     getDecimal("wallet.withdrawal_fee"),
		ReleaseFeePercent: getDecimal("wallet.release_fee_percent"),
		ReconcileAfter:    viper.GetDuration("wallet.reconcile_after"),
		ReconcileInterval: viper.GetDuration("wallet.reconcile_interval"),
		ReconcileBatch:    viper.GetInt("wallet.reconcile_batch"),
		LockTTL:           viper.GetDuration("wallet.lock_ttl"),
		PayoutMode:        mode,
	}
}

func LoadGatewayConfig() *GatewayConfig {
	viper.SetDefault("gateway.base_url", "https://api.gateway.local")
	viper.SetDefault("gateway.secret_key", "")
	viper.SetDefault("gateway.webhook_secret", "")
	viper.SetDefault("gateway.callback_url", "http://localhost:8080/wallet/callback")
	viper.SetDefault("gateway.timeout", 15*time.Second)

	return &GatewayConfig{
		BaseURL:       strings.TrimRight(viper.GetString("gateway.base_url"), "/"),
		SecretKey:     viper.GetString("gateway.secret_key"),
		WebhookSecret: viper.GetString("gateway.webhook_secret"),
		CallbackURL:   viper.GetString("gateway.callback_url"),
		Timeout:       viper.GetDuration("gateway.timeout"),
	}
}

func LoadBankConfig() *BankConfig {
	viper.SetDefault("bank.base_url", "https://api.bank.local")
	viper.SetDefault("bank.secret_key", "")
	viper.SetDefault("bank.webhook_secret", "")
	viper.SetDefault("bank.source_account", "0000000000")
	viper.SetDefault("bank.source_bic", "CMRTNGLA")
	viper.SetDefault("bank.timeout", 20*time.Second)
	viper.SetDefault("bank.bank_list_ttl", 24*time.Hour)

	return &BankConfig{
		BaseURL:       strings.TrimRight(viper.GetString("bank.base_url"), "/"),
		SecretKey:     viper.GetString("bank.secret_key"),
		WebhookSecret: viper.GetString("bank.webhook_secret"),
		SourceAccount: viper.GetString("bank.source_account"),
		SourceBIC:     viper.GetString("bank.source_bic"),
		Timeout:       viper.GetDuration("bank.timeout"),
		BankListTTL:   viper.GetDuration("bank.bank_list_ttl"),
	}
}

// getDecimal parses a money value; a malformed one falls back to zero
func getDecimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(viper.GetString(key)))
	if err != nil {
		return decimal.Zero
	}
	return d
}
