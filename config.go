package mongolite

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mongolite/dberr"
	"mongolite/internal/metrics"
	"mongolite/internal/txpool"

	"github.com/rs/zerolog"
)

// Defaults per spec.md §5's database-level configuration surface.
const (
	DefaultMaxBytes       int64 = 1 << 30 // 1 GiB
	DefaultMaxSubTrees    int   = 256
	DefaultMaxCollections int   = 128

	DefaultCacheMaxEntries int   = 10000
	DefaultCacheMaxBytes   int64 = 64 << 20
	DefaultCacheTTL              = 5 * time.Minute
)

// IOFlag selects the durability/performance tradeoff for write commits,
// per spec.md §5's `io_flags` ∈ {sync, async, mapped-write}.
type IOFlag int

const (
	// IOSync fsyncs on every commit (the default: durable, slowest).
	IOSync IOFlag = iota
	// IOAsync never fsyncs explicitly, relying on the OS to flush mmap'd
	// pages eventually — faster, but a crash can lose recent commits.
	IOAsync
	// IOMappedWrite is the same relaxed-durability tradeoff as IOAsync,
	// named separately because spec.md lists it as a distinct mode; both
	// skip the explicit fsync Commit would otherwise perform.
	IOMappedWrite
)

// Config configures a Database Open. Open fills in the defaults and then
// applies functional options; OpenConfig takes a Config built by hand or
// loaded from a YAML file with LoadConfig.
type Config struct {
	Path string

	MaxBytes       int64
	MaxSubTrees    int
	MaxCollections int
	IOFlags        IOFlag

	CacheMaxEntries int
	CacheMaxBytes   int64
	CacheTTL        time.Duration

	TxPoolSize int

	Metadata map[string]string

	Metrics  *metrics.Collectors
	LogLevel zerolog.Level
}

// Option mutates a Config being built by Open.
type Option func(*Config)

// WithMaxBytes overrides the page-store size budget.
func WithMaxBytes(n int64) Option { return func(c *Config) { c.MaxBytes = n } }

// WithMaxSubTrees overrides the catalog entry-count budget (collections
// plus indexes together).
func WithMaxSubTrees(n int) Option { return func(c *Config) { c.MaxSubTrees = n } }

// WithMaxCollections overrides the collection-count budget.
func WithMaxCollections(n int) Option { return func(c *Config) { c.MaxCollections = n } }

// WithIOFlags selects the commit durability mode.
func WithIOFlags(f IOFlag) Option { return func(c *Config) { c.IOFlags = f } }

// WithCache overrides the document cache's caps.
func WithCache(maxEntries int, maxBytes int64, ttl time.Duration) Option {
	return func(c *Config) {
		c.CacheMaxEntries = maxEntries
		c.CacheMaxBytes = maxBytes
		c.CacheTTL = ttl
	}
}

// WithTxPoolSize overrides the read-transaction pool's capacity (default
// txpool.DefaultSize).
func WithTxPoolSize(n int) Option { return func(c *Config) { c.TxPoolSize = n } }

// WithMetadata attaches an opaque user metadata blob, persisted alongside
// the boot id in the database's "__catalog__" record.
func WithMetadata(m map[string]string) Option { return func(c *Config) { c.Metadata = m } }

// WithMetrics registers a prometheus collector set.
func WithMetrics(m *metrics.Collectors) Option { return func(c *Config) { c.Metrics = m } }

// WithLogLevel sets the minimum zerolog level for this database's loggers.
func WithLogLevel(l zerolog.Level) Option { return func(c *Config) { c.LogLevel = l } }

// defaultConfig returns a Config with every spec.md-named default filled
// in, for path.
func defaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxBytes:        DefaultMaxBytes,
		MaxSubTrees:     DefaultMaxSubTrees,
		MaxCollections:  DefaultMaxCollections,
		IOFlags:         IOSync,
		CacheMaxEntries: DefaultCacheMaxEntries,
		CacheMaxBytes:   DefaultCacheMaxBytes,
		CacheTTL:        DefaultCacheTTL,
		TxPoolSize:      txpool.DefaultSize,
		LogLevel:        zerolog.InfoLevel,
	}
}

// yamlConfig mirrors Config's fields in their on-disk shape, since
// Config itself carries unexported-incompatible types (zerolog.Level,
// *metrics.Collectors) that have no sensible YAML encoding.
type yamlConfig struct {
	Path           string            `yaml:"path"`
	MaxBytes       int64             `yaml:"max_bytes"`
	MaxSubTrees    int               `yaml:"max_sub_trees"`
	MaxCollections int               `yaml:"max_collections"`
	IOFlags        string            `yaml:"io_flags"`
	CacheMaxEntries int              `yaml:"cache_max_entries"`
	CacheMaxBytes  int64             `yaml:"cache_max_bytes"`
	CacheTTLMs     int64             `yaml:"cache_ttl_ms"`
	TxPoolSize     int               `yaml:"tx_pool_size"`
	LogLevel       string            `yaml:"log_level"`
	Metadata       map[string]string `yaml:"metadata"`
}

// LoadConfig reads a YAML configuration file, applying spec.md's defaults
// for any field the file omits.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, dberr.Wrap(dberr.CodeIo, "mongolite", err, "read config %s", path)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return Config{}, dberr.Wrap(dberr.CodeInvalidArgument, "mongolite", err, "parse config %s", path)
	}

	cfg := defaultConfig(y.Path)
	if y.MaxBytes > 0 {
		cfg.MaxBytes = y.MaxBytes
	}
	if y.MaxSubTrees > 0 {
		cfg.MaxSubTrees = y.MaxSubTrees
	}
	if y.MaxCollections > 0 {
		cfg.MaxCollections = y.MaxCollections
	}
	if y.CacheMaxEntries > 0 {
		cfg.CacheMaxEntries = y.CacheMaxEntries
	}
	if y.CacheMaxBytes > 0 {
		cfg.CacheMaxBytes = y.CacheMaxBytes
	}
	if y.CacheTTLMs > 0 {
		cfg.CacheTTL = time.Duration(y.CacheTTLMs) * time.Millisecond
	}
	if y.TxPoolSize > 0 {
		cfg.TxPoolSize = y.TxPoolSize
	}
	if y.Metadata != nil {
		cfg.Metadata = y.Metadata
	}
	if lvl, err := zerolog.ParseLevel(y.LogLevel); err == nil && y.LogLevel != "" {
		cfg.LogLevel = lvl
	}
	switch y.IOFlags {
	case "async":
		cfg.IOFlags = IOAsync
	case "mapped-write":
		cfg.IOFlags = IOMappedWrite
	default:
		cfg.IOFlags = IOSync
	}
	return cfg, nil
}
