package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ChainConfig describes one chain to watch.
type ChainConfig struct {
	Name            string `mapstructure:"-"`
	RPC             string `mapstructure:"rpc"`
	Dialect         string `mapstructure:"dialect"`
	WrappedNative   string `mapstructure:"wrapped-native"`
	ReferenceSymbol string `mapstructure:"reference-symbol"`
	PrefetchWindow  int    `mapstructure:"prefetch-window"`
	StartBlock      uint64 `mapstructure:"start-block"`
	Explorer        string `mapstructure:"explorer"`
}

// WalletConfig describes one watched wallet.
type WalletConfig struct {
	Name             string   `mapstructure:"name"`
	Address          string   `mapstructure:"address"`
	Builder          string   `mapstructure:"builder"`
	OtherAddresses   []string `mapstructure:"other-addresses"`
	IncludeRecipient bool     `mapstructure:"include-recipient"`
	Chains           []string `mapstructure:"chains"`
}

// FieldRefConfig points at a topic or data word of a log.
type FieldRefConfig struct {
	Source string `mapstructure:"source"`
	Index  int    `mapstructure:"index"`
}

// TokenRuleConfig is a declarative token transfer decode rule.
type TokenRuleConfig struct {
	Name      string         `mapstructure:"name"`
	Topic0    string         `mapstructure:"topic0"`
	Signature string         `mapstructure:"signature"`
	Topics    int            `mapstructure:"topics"`
	Contracts []string       `mapstructure:"contracts"`
	From      FieldRefConfig `mapstructure:"from"`
	To        FieldRefConfig `mapstructure:"to"`
	Amount    FieldRefConfig `mapstructure:"amount"`
}

// StaticPriceConfig is a fixed price per whole token in the reference currency.
type StaticPriceConfig struct {
	Price    string `mapstructure:"price"`
	Decimals uint8  `mapstructure:"decimals"`
}

// PriceConfig holds the price sources of one chain.
type PriceConfig struct {
	Static map[string]StaticPriceConfig `mapstructure:"static"`
	Pairs  map[string]string            `mapstructure:"pairs"`
}

// TelegramConfig holds the Telegram sink settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot-token"`
	ChatID   string `mapstructure:"chat-id"`
	ThreadID int    `mapstructure:"thread-id"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel           string
	Chains             map[string]ChainConfig
	Wallets            []WalletConfig
	TokenRules         []TokenRuleConfig
	Prices             map[string]PriceConfig
	PriceWorkers       int
	BuilderPolicy      string
	SelfDestructPolicy string
	ToleranceWei       string
	Sinks              []string
	Telegram           TelegramConfig
	JsonlOut           string
	PGDSN              string
	RedisAddr          string
	DedupTTL           time.Duration
	StateBackend       string
	StatePath          string
	MetricsAddr        string
	MaxRetries         int
	RetryBackoff       time.Duration
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("builder.policy", "strict-gas")
	v.SetDefault("self-destruct.policy", "observed")
	v.SetDefault("accounting.tolerance-wei", "0")
	v.SetDefault("pricing.workers", 8)
	v.SetDefault("notify.sinks", []string{"log"})
	v.SetDefault("notify.jsonl", "./data/pnl.jsonl")
	v.SetDefault("storage.dedup-ttl", 24*time.Hour)
	v.SetDefault("storage.state.backend", "file")
	v.SetDefault("storage.state.path", "./data/state")
	v.SetDefault("retry.max-retries", 5)
	v.SetDefault("retry.backoff", 500*time.Millisecond)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:           v.GetString("log-level"),
		PriceWorkers:       v.GetInt("pricing.workers"),
		BuilderPolicy:      v.GetString("builder.policy"),
		SelfDestructPolicy: v.GetString("self-destruct.policy"),
		ToleranceWei:       v.GetString("accounting.tolerance-wei"),
		Sinks:              getStringSlice(v, "notify.sinks"),
		JsonlOut:           v.GetString("notify.jsonl"),
		PGDSN:              v.GetString("storage.pg-dsn"),
		RedisAddr:          v.GetString("storage.redis-addr"),
		DedupTTL:           v.GetDuration("storage.dedup-ttl"),
		StateBackend:       v.GetString("storage.state.backend"),
		StatePath:          v.GetString("storage.state.path"),
		MetricsAddr:        v.GetString("metrics.addr"),
		MaxRetries:         v.GetInt("retry.max-retries"),
		RetryBackoff:       v.GetDuration("retry.backoff"),
	}

	if err := v.UnmarshalKey("chains", &cfg.Chains); err != nil {
		return Config{}, fmt.Errorf("parse chains: %w", err)
	}
	for name, chain := range cfg.Chains {
		chain.Name = name
		if chain.Dialect == "" {
			chain.Dialect = "auto"
		}
		if chain.PrefetchWindow <= 0 {
			chain.PrefetchWindow = 4
		}
		cfg.Chains[name] = chain
	}
	if err := v.UnmarshalKey("wallets", &cfg.Wallets); err != nil {
		return Config{}, fmt.Errorf("parse wallets: %w", err)
	}
	if err := v.UnmarshalKey("token-rules", &cfg.TokenRules); err != nil {
		return Config{}, fmt.Errorf("parse token rules: %w", err)
	}
	if err := v.UnmarshalKey("prices", &cfg.Prices); err != nil {
		return Config{}, fmt.Errorf("parse prices: %w", err)
	}
	if err := v.UnmarshalKey("notify.telegram", &cfg.Telegram); err != nil {
		return Config{}, fmt.Errorf("parse telegram: %w", err)
	}

	return cfg, nil
}

// Validate checks the invariants that must hold before the watcher starts.
func (c Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	for name, chain := range c.Chains {
		if chain.RPC == "" {
			return fmt.Errorf("chain %s: rpc url is required", name)
		}
		switch chain.Dialect {
		case "auto", "calltracer", "flattracer":
		default:
			return fmt.Errorf("chain %s: unknown dialect %q", name, chain.Dialect)
		}
		if chain.WrappedNative != "" {
			if _, err := ParseAddress(chain.WrappedNative); err != nil {
				return fmt.Errorf("chain %s: wrapped native: %w", name, err)
			}
		}
	}

	if len(c.Wallets) == 0 {
		return fmt.Errorf("at least one wallet is required")
	}
	// Records and running totals are keyed by wallet name.
	names := make(map[string]int, len(c.Wallets))
	for i, w := range c.Wallets {
		label := w.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		address, err := ParseAddress(w.Address)
		if err != nil {
			return fmt.Errorf("wallet %s: %w", label, err)
		}
		name := w.Name
		if name == "" {
			name = address.Hex()
		}
		if prev, dup := names[name]; dup {
			return fmt.Errorf("wallet %s: name already used by wallet #%d", name, prev)
		}
		names[name] = i
		if w.Builder != "" {
			if _, err := ParseAddress(w.Builder); err != nil {
				return fmt.Errorf("wallet %s builder: %w", label, err)
			}
		}
		if _, err := ParseAddresses(w.OtherAddresses); err != nil {
			return fmt.Errorf("wallet %s other addresses: %w", label, err)
		}
		for _, chain := range w.Chains {
			if _, ok := c.Chains[chain]; !ok {
				return fmt.Errorf("wallet %s: unknown chain %s", label, chain)
			}
		}
	}

	for i, rule := range c.TokenRules {
		if rule.Topic0 == "" && rule.Signature == "" {
			return fmt.Errorf("token rule %d: topic0 or signature is required", i)
		}
		for _, ref := range []FieldRefConfig{rule.From, rule.To, rule.Amount} {
			switch ref.Source {
			case "topic", "data", "none", "":
			default:
				return fmt.Errorf("token rule %d: unknown field source %q", i, ref.Source)
			}
		}
		if rule.Amount.Source == "none" || rule.Amount.Source == "" {
			return fmt.Errorf("token rule %d: amount field is required", i)
		}
	}

	switch c.BuilderPolicy {
	case "strict-gas", "disabled":
	default:
		return fmt.Errorf("unknown builder policy %q", c.BuilderPolicy)
	}
	switch c.SelfDestructPolicy {
	case "observed", "flag":
	default:
		return fmt.Errorf("unknown self-destruct policy %q", c.SelfDestructPolicy)
	}
	if _, err := ParseAmount(c.ToleranceWei); err != nil {
		return fmt.Errorf("accounting tolerance: %w", err)
	}
	switch c.StateBackend {
	case "file", "pebble", "none":
	case "postgres":
		if c.PGDSN == "" {
			return fmt.Errorf("postgres state backend requires storage.pg-dsn")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}

	return nil
}

// WalletsForChain returns the configured wallets watched on chain.
func (c Config) WalletsForChain(chain string) []WalletConfig {
	out := make([]WalletConfig, 0, len(c.Wallets))
	for _, w := range c.Wallets {
		if len(w.Chains) == 0 {
			out = append(out, w)
			continue
		}
		for _, name := range w.Chains {
			if name == chain {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
