// Package config loads chainsyncd's configuration from environment
// variables (and an optional .env file), per spec.md §6. It follows the
// teacher's pkg/config loader contract but drops the package-level mutable
// AppConfig in favor of an immutable value threaded explicitly into
// constructors (spec.md §9: "Global mutable config").
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chainsyncd/internal/envutil"
)

// Config is the unified, immutable configuration for a chainsyncd process.
type Config struct {
	DB struct {
		Host     string
		Port     int
		Database string
		Username string
		Password string
	}

	NodeID string

	SyncAPIToken    string
	BroadcastSecret string

	SyncTxPageLimit             int
	SyncMaxTransactionsPerRun   int
	SyncTxEarlyStopPages        int
	SyncTxNoNewStreak           int
	SyncMaxReorgDepth           uint64

	LoggingEnabled bool

	// Network peers supplied out-of-band when the `nodes` table is empty
	// (spec.md §4.C point 1, "fall back to config list").
	NetworkNodes []string

	// Quorum / reputation tuning (spec.md §4.G).
	QuorumDepth          uint64
	QuorumPeerSample     int
	QuorumReputationUp   int
	QuorumReputationDown int

	// Mempool janitor tuning (spec.md §4.H).
	MempoolTTL              time.Duration
	MempoolProcessingStall  time.Duration
	MempoolFailedRetention  time.Duration

	// Mining tuning (spec.md §4.I).
	MiningSlotSeconds   int64
	MiningIntervalS     int
	MiningMaxTx         int
	MiningMinValidatorBalance int64

	// Fan-out concurrency for peer I/O (spec.md §5, default K=8).
	Concurrency int

	// HTTP timeouts (spec.md §5).
	ProbeTimeout   time.Duration
	FetchTimeout   time.Duration
	TriggerTimeout time.Duration
}

// Load reads chainsyncd's configuration from environment variables,
// optionally preceded by loading a .env file from the working directory
// (mirrors cmd/explorer/main.go's godotenv.Load(".env") idiom). Missing DB
// credentials or an empty peer set is a fatal ConfigError at startup
// (spec.md §7), surfaced by the caller via Validate.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	viper.AutomaticEnv()

	var c Config
	c.DB.Host = envutil.EnvOrDefault("DB_HOST", "")
	c.DB.Port = envutil.EnvOrDefaultInt("DB_PORT", 3306)
	c.DB.Database = envutil.EnvOrDefault("DB_DATABASE", "")
	c.DB.Username = envutil.EnvOrDefault("DB_USERNAME", "")
	c.DB.Password = envutil.EnvOrDefault("DB_PASSWORD", "")

	c.NodeID = envutil.EnvOrDefault("NODE_ID", "")

	c.SyncAPIToken = envutil.EnvOrDefault("SYNC_API_TOKEN", "")
	c.BroadcastSecret = firstNonEmpty(
		envutil.EnvOrDefault("BROADCAST_SECRET", ""),
		envutil.EnvOrDefault("NETWORK_BROADCAST_SECRET", ""),
	)

	c.SyncTxPageLimit = clamp(envutil.EnvOrDefaultInt("SYNC_TX_PAGE_LIMIT", 1000), 10, 1000)
	c.SyncMaxTransactionsPerRun = clamp(envutil.EnvOrDefaultInt("SYNC_MAX_TRANSACTIONS_PER_RUN", 10000), 0, 200000)
	c.SyncTxEarlyStopPages = envutil.EnvOrDefaultInt("SYNC_TX_EARLY_STOP_PAGES", 20)
	c.SyncTxNoNewStreak = 5
	c.SyncMaxReorgDepth = envutil.EnvOrDefaultUint64("SYNC_MAX_REORG_DEPTH", 1000)

	c.LoggingEnabled = envutil.EnvOrDefaultBool(firstNonEmptyKey(
		"SYNC_LOGGING_ENABLED", "SYNC_LOGGING",
	), true)

	if raw := viper.GetString("NETWORK_NODES"); raw != "" {
		c.NetworkNodes = splitList(raw)
	}

	c.QuorumDepth = 20
	c.QuorumPeerSample = 3
	c.QuorumReputationUp = 1
	c.QuorumReputationDown = 10

	c.MempoolTTL = 24 * time.Hour
	c.MempoolProcessingStall = time.Hour
	c.MempoolFailedRetention = 7 * 24 * time.Hour

	c.MiningSlotSeconds = 300
	c.MiningIntervalS = 15
	c.MiningMaxTx = 200
	c.MiningMinValidatorBalance = 1000

	c.Concurrency = 8

	c.ProbeTimeout = 6 * time.Second
	c.FetchTimeout = 30 * time.Second
	c.TriggerTimeout = 5 * time.Second

	return &c, nil
}

// splitList accepts newline- or comma-separated peer lists, per spec.md §4.C
// ("newline/CSV").
func splitList(raw string) []string {
	raw = strings.ReplaceAll(raw, "\n", ",")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// firstNonEmptyKey returns the first key in keys whose environment value is
// non-empty, or the first key if none are set (so the fallback on the
// eventual EnvOrDefaultBool lookup still applies).
func firstNonEmptyKey(keys ...string) string {
	for _, k := range keys {
		if envutil.EnvOrDefault(k, "") != "" {
			return k
		}
	}
	return keys[0]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
