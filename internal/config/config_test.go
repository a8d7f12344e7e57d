package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Raydium AMM authority, a program-derived (off-curve) address.
const offCurvePool = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"

var envKeys = []string{
	"RPC_HTTP_URL", "RPC_WS_URL", "POOL_ADDRESS", "COMMITMENT", "RPC_MAX_RETRIES",
	"DATABASE_URL", "STATE_FILE", "LISTEN_ADDR", "PORT",
	"DEDUP_CAPACITY", "HEARTBEAT_INTERVAL", "HEARTBEAT_SILENCE", "RESOLVE_DELAY", "INGEST_DEBUG",
	"DECAY_INTERVAL", "DECAY_AFTER", "LOG_CAP", "WRITE_DEBOUNCE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	return &Config{
		RPCHTTPURL:        "https://rpc.example",
		RPCWSURL:          "wss://rpc.example",
		PoolAddress:       offCurvePool,
		Commitment:        "confirmed",
		DatabaseURL:       "postgres://localhost/tower",
		StateFile:         DefaultStateFile,
		DedupCapacity:     DefaultDedupCapacity,
		HeartbeatInterval: DefaultHeartbeatInterval,
		DecayInterval:     DefaultDecayInterval,
		DecayAfter:        DefaultDecayAfter,
		LogCap:            DefaultLogCap,
		WriteDebounce:     DefaultWriteDebounce,
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "confirmed", cfg.Commitment)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultStateFile, cfg.StateFile)
	assert.Equal(t, 5000, cfg.DedupCapacity)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, time.Duration(0), cfg.HeartbeatSilence)
	assert.Equal(t, 500*time.Millisecond, cfg.ResolveDelay)
	assert.Equal(t, 10*time.Second, cfg.DecayInterval)
	assert.Equal(t, 5*time.Minute, cfg.DecayAfter)
	assert.Equal(t, 100, cfg.LogCap)
	assert.Equal(t, 500*time.Millisecond, cfg.WriteDebounce)
	assert.Equal(t, 0, cfg.RPCMaxRetries)
	assert.False(t, cfg.IngestDebug)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestParse_EnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RPC_HTTP_URL", "https://rpc.example")
	t.Setenv("RPC_WS_URL", "wss://rpc.example")
	t.Setenv("POOL_ADDRESS", offCurvePool)
	t.Setenv("COMMITMENT", "finalized")
	t.Setenv("PORT", "9000")
	t.Setenv("DEDUP_CAPACITY", "10")
	t.Setenv("DECAY_AFTER", "1m")
	t.Setenv("INGEST_DEBUG", "true")
	t.Setenv("RPC_MAX_RETRIES", "3")

	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example", cfg.RPCHTTPURL)
	assert.Equal(t, "wss://rpc.example", cfg.RPCWSURL)
	assert.Equal(t, offCurvePool, cfg.PoolAddress)
	assert.Equal(t, "finalized", cfg.Commitment)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.DedupCapacity)
	assert.Equal(t, time.Minute, cfg.DecayAfter)
	assert.True(t, cfg.IngestDebug)
	assert.Equal(t, 3, cfg.RPCMaxRetries)
	require.NoError(t, cfg.Validate())
}

func TestParse_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMMITMENT", "finalized")
	t.Setenv("PORT", "9000")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:7000")

	cfg, err := Parse([]string{"-commitment", "processed", "-log-cap", "5", "-resolve-delay", "-1s"})
	require.NoError(t, err)

	assert.Equal(t, "processed", cfg.Commitment)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr, "LISTEN_ADDR wins over PORT")
	assert.Equal(t, 5, cfg.LogCap)
	assert.Equal(t, -time.Second, cfg.ResolveDelay)
}

func TestParse_MalformedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEDUP_CAPACITY", "many")
	t.Setenv("DECAY_AFTER", "soon")

	_, err := Parse(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEDUP_CAPACITY")
	assert.Contains(t, err.Error(), "DECAY_AFTER")
}

func TestParse_UnknownFlag(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv treats a variable set to "" as present.
	os.Unsetenv("RPC_HTTP_URL")
	os.Unsetenv("POOL_ADDRESS")
	t.Setenv("COMMITMENT", "finalized")

	path := filepath.Join(t.TempDir(), ".env")
	content := "# tower settings\nRPC_HTTP_URL=https://from.file\nPOOL_ADDRESS=" + offCurvePool + "\nCOMMITMENT=processed\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, LoadEnvFile(path))

	assert.Equal(t, "https://from.file", os.Getenv("RPC_HTTP_URL"))
	assert.Equal(t, offCurvePool, os.Getenv("POOL_ADDRESS"))
	assert.Equal(t, "finalized", os.Getenv("COMMITMENT"), "existing variables are not overridden")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://from.file", cfg.RPCHTTPURL)
}

func TestLoadEnvFile_Missing(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing rpc url", func(c *Config) { c.RPCHTTPURL = "" }, "rpc-http-url"},
		{"missing ws url", func(c *Config) { c.RPCWSURL = "" }, "rpc-ws-url"},
		{"missing pool", func(c *Config) { c.PoolAddress = "" }, "pool"},
		{"pool not base58", func(c *Config) { c.PoolAddress = "0OIl" }, "invalid pool address"},
		{"pool wrong length", func(c *Config) { c.PoolAddress = "abc" }, "invalid pool address"},
		{"bad commitment", func(c *Config) { c.Commitment = "max" }, "invalid commitment"},
		{"zero dedup capacity", func(c *Config) { c.DedupCapacity = 0 }, "dedup capacity"},
		{"zero log cap", func(c *Config) { c.LogCap = 0 }, "log cap"},
		{"negative retries", func(c *Config) { c.RPCMaxRetries = -1 }, "retries"},
		{"zero decay after", func(c *Config) { c.DecayAfter = 0 }, "decay after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.RPCHTTPURL = ""
	cfg.Commitment = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc-http-url")
	assert.Contains(t, err.Error(), "invalid commitment")
}

func TestWarnings(t *testing.T) {
	assert.Empty(t, validConfig().Warnings())

	onCurve := validConfig()
	onCurve.PoolAddress = "11111111111111111111111111111111"
	warnings := onCurve.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ed25519 curve")

	noDB := validConfig()
	noDB.DatabaseURL = ""
	warnings = noDB.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], DefaultStateFile)
}
