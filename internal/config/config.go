// Package config builds the server configuration from flags, with defaults
// taken from the environment and an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"tower-feed/internal/solana"
)

// Defaults
const (
	DefaultListenAddr        = ":8080"
	DefaultStateFile         = "state.json"
	DefaultDedupCapacity     = 5000
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultResolveDelay      = 500 * time.Millisecond
	DefaultDecayInterval     = 10 * time.Second
	DefaultDecayAfter        = 5 * time.Minute
	DefaultLogCap            = 100
	DefaultWriteDebounce     = 500 * time.Millisecond
)

// Config holds all server settings.
type Config struct {
	RPCHTTPURL    string
	RPCWSURL      string
	PoolAddress   string
	Commitment    string
	RPCMaxRetries int

	DatabaseURL string
	StateFile   string
	ListenAddr  string

	DedupCapacity     int
	HeartbeatInterval time.Duration
	HeartbeatSilence  time.Duration // 0 means HeartbeatInterval
	ResolveDelay      time.Duration // negative disables the delay
	IngestDebug       bool

	DecayInterval time.Duration
	DecayAfter    time.Duration
	LogCap        int
	WriteDebounce time.Duration
}

// LoadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads .env from the working directory and parses args.
func Load(args []string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	return Parse(args)
}

// Parse parses args into a Config. Every flag defaults to its environment
// variable, then to the built-in default.
func Parse(args []string) (*Config, error) {
	env := &envReader{}

	listenDefault := env.str("LISTEN_ADDR", "")
	if listenDefault == "" {
		if port := os.Getenv("PORT"); port != "" {
			listenDefault = ":" + port
		} else {
			listenDefault = DefaultListenAddr
		}
	}

	cfg := &Config{}
	flags := flag.NewFlagSet("tower-feed", flag.ContinueOnError)

	flags.StringVar(&cfg.RPCHTTPURL, "rpc-http-url", env.str("RPC_HTTP_URL", ""), "Solana RPC HTTP endpoint")
	flags.StringVar(&cfg.RPCWSURL, "rpc-ws-url", env.str("RPC_WS_URL", ""), "Solana WebSocket endpoint")
	flags.StringVar(&cfg.PoolAddress, "pool", env.str("POOL_ADDRESS", ""), "Pool vault owner address to watch")
	flags.StringVar(&cfg.Commitment, "commitment", env.str("COMMITMENT", solana.CommitmentConfirmed), "Commitment level (processed, confirmed, finalized)")
	flags.IntVar(&cfg.RPCMaxRetries, "rpc-max-retries", env.integer("RPC_MAX_RETRIES", 0), "Retries for failed RPC calls")

	flags.StringVar(&cfg.DatabaseURL, "database-url", env.str("DATABASE_URL", ""), "PostgreSQL connection string (empty uses the state file)")
	flags.StringVar(&cfg.StateFile, "state-file", env.str("STATE_FILE", DefaultStateFile), "State file used without a database")
	flags.StringVar(&cfg.ListenAddr, "listen-addr", listenDefault, "HTTP listen address for viewers, /health and /metrics")

	flags.IntVar(&cfg.DedupCapacity, "dedup-capacity", env.integer("DEDUP_CAPACITY", DefaultDedupCapacity), "Signatures remembered for duplicate suppression")
	flags.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", env.duration("HEARTBEAT_INTERVAL", DefaultHeartbeatInterval), "Feed liveness check interval")
	flags.DurationVar(&cfg.HeartbeatSilence, "heartbeat-silence", env.duration("HEARTBEAT_SILENCE", 0), "Idle time before the feed logs a waiting message (0 = heartbeat interval)")
	flags.DurationVar(&cfg.ResolveDelay, "resolve-delay", env.duration("RESOLVE_DELAY", DefaultResolveDelay), "Delay before fetching a notified transaction (negative disables)")
	flags.BoolVar(&cfg.IngestDebug, "ingest-debug", env.boolean("INGEST_DEBUG", false), "Log every ignored or classified transaction")

	flags.DurationVar(&cfg.DecayInterval, "decay-interval", env.duration("DECAY_INTERVAL", DefaultDecayInterval), "Decay check interval")
	flags.DurationVar(&cfg.DecayAfter, "decay-after", env.duration("DECAY_AFTER", DefaultDecayAfter), "Silence before the tower decays")
	flags.IntVar(&cfg.LogCap, "log-cap", env.integer("LOG_CAP", DefaultLogCap), "Tower log entries kept")
	flags.DurationVar(&cfg.WriteDebounce, "write-debounce", env.duration("WRITE_DEBOUNCE", DefaultWriteDebounce), "Persistence write coalescing window")

	if err := env.err(); err != nil {
		return nil, err
	}
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.RPCHTTPURL == "" {
		errs = append(errs, errors.New("--rpc-http-url (RPC_HTTP_URL) is required"))
	}
	if c.RPCWSURL == "" {
		errs = append(errs, errors.New("--rpc-ws-url (RPC_WS_URL) is required"))
	}
	if c.PoolAddress == "" {
		errs = append(errs, errors.New("--pool (POOL_ADDRESS) is required"))
	} else if _, err := solana.DecodePublicKey(c.PoolAddress); err != nil {
		errs = append(errs, fmt.Errorf("invalid pool address: %w", err))
	}

	if !solana.ValidCommitment(c.Commitment) {
		errs = append(errs, fmt.Errorf("invalid commitment %q: want processed, confirmed or finalized", c.Commitment))
	}

	if c.DedupCapacity <= 0 {
		errs = append(errs, fmt.Errorf("dedup capacity must be positive, got %d", c.DedupCapacity))
	}
	if c.LogCap <= 0 {
		errs = append(errs, fmt.Errorf("log cap must be positive, got %d", c.LogCap))
	}
	if c.RPCMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("rpc max retries must not be negative, got %d", c.RPCMaxRetries))
	}
	for name, d := range map[string]time.Duration{
		"heartbeat interval": c.HeartbeatInterval,
		"decay interval":     c.DecayInterval,
		"decay after":        c.DecayAfter,
		"write debounce":     c.WriteDebounce,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}

	return errors.Join(errs...)
}

// Warnings returns non-fatal configuration problems.
func (c *Config) Warnings() []string {
	var warnings []string
	if onCurve, err := solana.IsOnCurve(c.PoolAddress); err == nil && onCurve {
		warnings = append(warnings, fmt.Sprintf(
			"pool address %s is on the ed25519 curve; pool vaults are usually owned by an off-curve program authority", c.PoolAddress))
	}
	if c.DatabaseURL == "" {
		warnings = append(warnings, fmt.Sprintf("no database configured, state is kept in %s", c.StateFile))
	}
	return warnings
}

// envReader reads typed environment defaults and remembers the first
// malformed value.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
