// Package config loads indexer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/gateway"
	"github.com/TeneoProtocolAI/agent-network/pkg/memo"
)

const (
	DefaultFlaunchAPI     = "https://api.flayerlabs.xyz/v1/base"
	DefaultBaseRPC        = "https://mainnet.base.org"
	DefaultRevenueManager = "0x3Bc08524d9DaaDEC9d1Af87818d809611F0fD669"
	DefaultFlaunchURL     = "https://flaunch.gg/base"
	DefaultHTTPAddr       = ":8787"
)

// Config holds every setting of the daemon and the simulate CLI.
type Config struct {
	FlaunchAPI      string
	BaseRPC         string
	AlchemyRPC      string
	RevenueManager  string
	MemoMagicPrefix string
	FlaunchURL      string

	AdminToken  string
	RedisURL    string
	DatabaseURL string
	HTTPAddr    string

	// GatewayMaxAttempts is the retry budget of every upstream request.
	GatewayMaxAttempts int

	PipelineInterval time.Duration
	PipelineTimeout  time.Duration
	LookBack         time.Duration
	StateTTL         time.Duration

	LogLevel  string
	LogPretty bool
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}
	return FromEnv()
}

// FromEnv builds a validated Config from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		FlaunchAPI:      getenv("FLAUNCH_API", DefaultFlaunchAPI),
		BaseRPC:         getenv("BASE_RPC", DefaultBaseRPC),
		RevenueManager:  getenv("RM_ADDRESS", DefaultRevenueManager),
		MemoMagicPrefix: getenv("MEMO_MAGIC_PREFIX", memo.DefaultPrefix),
		FlaunchURL:      getenv("FLAUNCH_URL", DefaultFlaunchURL),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        getenv("HTTP_ADDR", DefaultHTTPAddr),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}
	cfg.AlchemyRPC = getenv("ALCHEMY_RPC", cfg.BaseRPC)

	var err error
	if cfg.GatewayMaxAttempts, err = getenvInt("GATEWAY_MAX_ATTEMPTS", gateway.DefaultMaxAttempts); err != nil {
		errs = append(errs, err)
	}
	if cfg.PipelineInterval, err = getenvDuration("PIPELINE_INTERVAL", 2*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.PipelineTimeout, err = getenvDuration("PIPELINE_TIMEOUT", 90*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.LookBack, err = getenvDuration("LOOKBACK_WINDOW", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.StateTTL, err = getenvDuration("STATE_TTL", time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.LogPretty, err = getenvBool("LOG_PRETTY", false); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.raiseStateTTL()
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.RevenueManager) {
		errs = append(errs, fmt.Errorf("RM_ADDRESS %q is not an address", c.RevenueManager))
	}
	if _, err := memo.New(c.MemoMagicPrefix); err != nil {
		errs = append(errs, fmt.Errorf("MEMO_MAGIC_PREFIX: %w", err))
	}
	for name, url := range map[string]string{
		"FLAUNCH_API": c.FlaunchAPI,
		"BASE_RPC":    c.BaseRPC,
		"ALCHEMY_RPC": c.AlchemyRPC,
	} {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			errs = append(errs, fmt.Errorf("%s %q must be an http(s) URL", name, url))
		}
	}
	if c.GatewayMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1, got %d", c.GatewayMaxAttempts))
	}
	for name, d := range map[string]time.Duration{
		"PIPELINE_INTERVAL": c.PipelineInterval,
		"PIPELINE_TIMEOUT":  c.PipelineTimeout,
		"LOOKBACK_WINDOW":   c.LookBack,
		"STATE_TTL":         c.StateTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

// raiseStateTTL keeps the snapshot alive across at least one missed run.
func (c *Config) raiseStateTTL() {
	if floor := 2 * c.PipelineInterval; c.StateTTL < floor {
		log.Warn().Dur("state_ttl", c.StateTTL).Dur("raised_to", floor).Msg("STATE_TTL below twice the interval")
		c.StateTTL = floor
	}
}

// AdminEnabled reports whether goal management routes are served.
func (c *Config) AdminEnabled() bool {
	return c.AdminToken != ""
}

// Codec returns the memo codec for the configured prefix.
func (c *Config) Codec() *memo.Codec {
	codec, err := memo.New(c.MemoMagicPrefix)
	if err != nil {
		return memo.Default()
	}
	return codec
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getenvDuration accepts Go durations ("90s") and plain seconds ("90").
func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := getenvInt(key, 0); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
