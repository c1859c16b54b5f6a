package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, ":8081", cfg.GatewayAddress)
	require.Equal(t, uint32(500), cfg.FeeRateBps)
	require.Equal(t, int64(300), cfg.OracleMaxAge)

	// The default file must be written and loadable again.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		`RPCAddress = ":9090"`,
		`FeeRateBps = 250`,
		`OracleMaxAgeSeconds = 60`,
		`TreasuryOwner = "0x` + strings.Repeat("aa", 20) + `"`,
	}, "\n"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Equal(t, uint32(250), cfg.FeeRateBps)
	require.Equal(t, int64(60), cfg.OracleMaxAge)
	// Unset fields still receive defaults.
	require.Equal(t, ":8081", cfg.GatewayAddress)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `Bootnodes = ["host:1234"]`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestValidateBounds(t *testing.T) {
	path := writeConfig(t, `FeeRateBps = 2500`)
	_, err := Load(path)
	require.Error(t, err)

	path = writeConfig(t, `OracleMaxAgeSeconds = -5`)
	_, err = Load(path)
	require.Error(t, err)

	path = writeConfig(t, `TreasuryOwner = "0x1234"`)
	_, err = Load(path)
	require.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x" + strings.Repeat("ab", 20))
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), addr[0])

	_, err = ParseAddress("0xzz")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}
