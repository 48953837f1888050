package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stakeledger/native/stake"
)

const (
	// DefaultTokenEnv names the environment variable holding the static
	// RPC bearer token.
	DefaultTokenEnv = "STAKED_RPC_TOKEN"
	// DefaultJWTSecretEnv names the environment variable holding the HS256
	// secret when JWT auth is selected.
	DefaultJWTSecretEnv = "STAKED_RPC_JWT_SECRET"

	// AuthModeToken selects static bearer-token authentication.
	AuthModeToken = "token"
	// AuthModeJWT selects HS256 JWT authentication.
	AuthModeJWT = "jwt"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	OpsAddress  string `toml:"OpsAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	GenesisFile string `toml:"GenesisFile"`

	Auth      AuthConfig      `toml:"Auth"`
	RateLimit RateLimitConfig `toml:"RateLimit"`
	Stake     StakeConfig     `toml:"Stake"`
}

// AuthConfig selects how mutating RPC methods authenticate callers. Secrets
// are never stored in the file itself, only the names of the environment
// variables carrying them.
type AuthConfig struct {
	Mode         string `toml:"Mode"`
	TokenEnv     string `toml:"TokenEnv"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	Issuer       string `toml:"Issuer"`
	Audience     string `toml:"Audience"`
}

// RateLimitConfig bounds mutating request rates per source address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// StakeConfig overrides the accrual parameters. Zero fields keep the
// defaults.
type StakeConfig struct {
	RatePerUnitPerDay uint64 `toml:"RatePerUnitPerDay"`
	UnitsPerToken     uint64 `toml:"UnitsPerToken"`
	PrecisionFactor   uint64 `toml:"PrecisionFactor"`
	Paused            bool   `toml:"Paused"`
}

// Params converts the configured overrides into engine parameters.
func (s StakeConfig) Params() stake.Params {
	return stake.Params{
		RatePerUnitPerDay: s.RatePerUnitPerDay,
		UnitsPerToken:     s.UnitsPerToken,
		PrecisionFactor:   s.PrecisionFactor,
	}.Normalize()
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8645",
		OpsAddress:  "127.0.0.1:9645",
		DataDir:     "./staked-data",
		NetworkName: "stakeledger-local",
		Auth: AuthConfig{
			Mode:     AuthModeToken,
			TokenEnv: DefaultTokenEnv,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
		},
	}
}

// Load loads the configuration from the given path, writing a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create default config: %w", err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot serve with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	switch c.Auth.Mode {
	case "", AuthModeToken, AuthModeJWT:
	default:
		return fmt.Errorf("config: unknown auth mode %q", c.Auth.Mode)
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("config: RequestsPerMinute must be non-negative")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: Burst must be non-negative")
	}
	return c.Stake.Params().Validate()
}

// AuthToken resolves the static bearer token from the environment.
func (c *Config) AuthToken() string {
	env := c.Auth.TokenEnv
	if env == "" {
		env = DefaultTokenEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}

// JWTSecret resolves the HS256 secret from the environment.
func (c *Config) JWTSecret() []byte {
	env := c.Auth.JWTSecretEnv
	if env == "" {
		env = DefaultJWTSecretEnv
	}
	secret := strings.TrimSpace(os.Getenv(env))
	if secret == "" {
		return nil
	}
	return []byte(secret)
}
