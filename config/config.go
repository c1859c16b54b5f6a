package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress        string  `toml:"RPCAddress"`
	GatewayAddress    string  `toml:"GatewayAddress"`
	DataDir           string  `toml:"DataDir"`
	Environment       string  `toml:"Environment"`
	FeeRateBps        uint32  `toml:"FeeRateBps"`
	OracleMaxAge      int64   `toml:"OracleMaxAgeSeconds"`
	TreasuryOwner     string  `toml:"TreasuryOwner"`
	OracleAdmin       string  `toml:"OracleAdmin"`
	OracleFeedURL     string  `toml:"OracleFeedURL"`
	OracleFeedAPIKey  string  `toml:"OracleFeedAPIKey"`
	GatewayRatePerMin float64 `toml:"GatewayRatePerMinute"`
	GatewayRateBurst  int     `toml:"GatewayRateBurst"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
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
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.GatewayAddress) == "" {
		cfg.GatewayAddress = ":8081"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./omen-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.FeeRateBps == 0 {
		cfg.FeeRateBps = 500
	}
	if cfg.OracleMaxAge == 0 {
		cfg.OracleMaxAge = 300
	}
	if cfg.GatewayRatePerMin == 0 {
		cfg.GatewayRatePerMin = 600
	}
	if cfg.GatewayRateBurst == 0 {
		cfg.GatewayRateBurst = 30
	}
}

// Validate rejects configurations the node cannot safely run with.
func (c *Config) Validate() error {
	if c.FeeRateBps > 2000 {
		return fmt.Errorf("config: FeeRateBps %d exceeds maximum 2000", c.FeeRateBps)
	}
	if c.OracleMaxAge <= 0 {
		return fmt.Errorf("config: OracleMaxAgeSeconds must be positive")
	}
	if c.GatewayRatePerMin < 0 {
		return fmt.Errorf("config: GatewayRatePerMinute must not be negative")
	}
	if c.TreasuryOwner != "" {
		if _, err := ParseAddress(c.TreasuryOwner); err != nil {
			return fmt.Errorf("config: TreasuryOwner: %w", err)
		}
	}
	if c.OracleAdmin != "" {
		if _, err := ParseAddress(c.OracleAdmin); err != nil {
			return fmt.Errorf("config: OracleAdmin: %w", err)
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address with optional 0x prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address %q: want %d bytes", raw, len(addr))
	}
	copy(addr[:], decoded)
	return addr, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
