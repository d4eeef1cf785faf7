// config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dalemusser/dupkey/logging"
	pmongo "github.com/dalemusser/dupkey/pantry/mongo"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable, e.g. DUPKEY_MONGO_URI.
const EnvPrefix = "DUPKEY"

// MongoConfig groups the MongoDB connection settings.
type MongoConfig struct {
	URI            string        `mapstructure:"mongo_uri" json:"mongo_uri"`
	Database       string        `mapstructure:"mongo_database" json:"mongo_database"`
	MaxPoolSize    uint64        `mapstructure:"mongo_max_pool_size" json:"mongo_max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"-" json:"db_connect_timeout"`
}

// RedisConfig groups the optional shared registry tier settings. An empty
// Addr disables the tier.
type RedisConfig struct {
	Addr     string `mapstructure:"redis_addr" json:"redis_addr"`
	Password string `mapstructure:"redis_password" json:"redis_password"`
	DB       int    `mapstructure:"redis_db" json:"redis_db"`
}

// Config holds the configuration of uniqued.
type Config struct {
	// runtime
	Env      string `mapstructure:"env" json:"env"`             // "dev" | "prod"
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug, info, warn, error …

	// HTTP
	HTTPPort            int           `mapstructure:"http_port" json:"http_port"`
	MaxRequestBodyBytes int64         `mapstructure:"max_request_body_bytes" json:"max_request_body_bytes"`
	ShutdownTimeout     time.Duration `mapstructure:"-" json:"shutdown_timeout"`

	Mongo MongoConfig `mapstructure:",squash" json:"mongo"`
	Redis RedisConfig `mapstructure:",squash" json:"redis"`

	// schema and translation
	SchemaFile     string `mapstructure:"schema_file" json:"schema_file"`
	DefaultMessage string `mapstructure:"default_message" json:"default_message"`

	IndexBootTimeout   time.Duration `mapstructure:"-" json:"index_boot_timeout"`
	IndexLookupTimeout time.Duration `mapstructure:"-" json:"index_lookup_timeout"`
	RegistrySharedTTL  time.Duration `mapstructure:"-" json:"registry_shared_ttl"`
}

// Dump returns a pretty, redacted JSON string of the config for debugging.
func (c Config) Dump() string {
	s := c.redactedCopy()
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

func (c Config) redactedCopy() Config {
	cp := c
	cp.Mongo.URI = redactURI(c.Mongo.URI)
	if cp.Redis.Password != "" {
		cp.Redis.Password = "REDACTED"
	}
	return cp
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}
	return u.String()
}

// durationKeys are parsed with parseDurationFlexible after unmarshalling.
var durationKeys = []struct {
	key string
	def time.Duration
	set func(*Config, time.Duration)
}{
	{"shutdown_timeout", 15 * time.Second, func(c *Config, d time.Duration) { c.ShutdownTimeout = d }},
	{"db_connect_timeout", 10 * time.Second, func(c *Config, d time.Duration) { c.Mongo.ConnectTimeout = d }},
	{"index_boot_timeout", 120 * time.Second, func(c *Config, d time.Duration) { c.IndexBootTimeout = d }},
	{"index_lookup_timeout", 10 * time.Second, func(c *Config, d time.Duration) { c.IndexLookupTimeout = d }},
	{"registry_shared_ttl", 10 * time.Minute, func(c *Config, d time.Duration) { c.RegistrySharedTTL = d }},
}

// Load reads configuration from the process arguments.
func Load(logger *zap.Logger) (*Config, error) {
	return LoadArgs(logger, os.Args[1:])
}

// LoadArgs merges defaults → config.* file(s) → env vars → explicit flags into one Config.
// Final precedence (highest wins): flags(explicit) > env > config > defaults.
func LoadArgs(logger *zap.Logger, args []string) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// 0) Optionally load .env (safe: real env still wins over .env)
	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded .env file")
	}

	// 1) Define flags (only *explicitly set* flags will override)
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// 2) Viper + env
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range allKeys() {
		_ = v.BindEnv(k)
	}

	// 3) Optional config.* files (yaml|yml|json|toml)
	mergeConfigFiles(logger, v)

	// 4) Defaults (lowest precedence)
	setDefaults(v)

	// 5) Apply *explicit* flags (highest precedence)
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	// 6) Build struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	for _, dk := range durationKeys {
		d, err := parseDurationFlexible(v.Get(dk.key), dk.def)
		if err != nil {
			logger.Warn("invalid duration; using default",
				zap.String("key", dk.key), zap.Any("value", v.Get(dk.key)),
				zap.Duration("default", dk.def), zap.Error(err))
		}
		dk.set(&cfg, d)
	}

	// 7) Validate
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("uniqued", pflag.ContinueOnError)

	fs.String("env", "dev", `Runtime environment "dev"|"prod"`)
	fs.String("log_level", "info", "Log level")

	fs.Int("http_port", 8080, "HTTP port")
	fs.Int64("max_request_body_bytes", 1<<20, "Max HTTP request body size in bytes (0 = unlimited)")
	fs.String("shutdown_timeout", "15s", "Graceful shutdown timeout")

	fs.String("mongo_uri", "mongodb://localhost:27017", "MongoDB connection string")
	fs.String("mongo_database", "dupkey", "MongoDB database holding the schema's collections")
	fs.Uint64("mongo_max_pool_size", 100, "MongoDB connection pool size")
	fs.String("db_connect_timeout", "10s", "Startup timeout for DB connection (e.g., \"10s\", \"30s\")")
	fs.String("index_boot_timeout", "120s", "Startup timeout for building DB indexes (e.g., \"90s\", \"2m\")")
	fs.String("index_lookup_timeout", "10s", "Timeout for one listIndexes introspection")

	fs.String("schema_file", "schema.yaml", "Collection schema (YAML)")
	fs.String("default_message", "", "Duplicate message template; {PATH} and {VALUE} are substituted")

	fs.String("redis_addr", "", "Redis address for the shared index cache (empty disables it)")
	fs.String("redis_password", "", "Redis password")
	fs.Int("redis_db", 0, "Redis database number")
	fs.String("registry_shared_ttl", "10m", "TTL of index sets in the shared cache")

	return fs
}

func mergeConfigFiles(logger *zap.Logger, v *viper.Viper) {
	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "config." + ext
		if _, err := os.Stat(file); err != nil {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			continue
		}
		logger.Info("Loaded config file", zap.String("file", file))
	}
}

func allKeys() []string {
	return []string{
		"env", "log_level",
		"http_port", "max_request_body_bytes", "shutdown_timeout",
		"mongo_uri", "mongo_database", "mongo_max_pool_size",
		"db_connect_timeout", "index_boot_timeout", "index_lookup_timeout",
		"schema_file", "default_message",
		"redis_addr", "redis_password", "redis_db", "registry_shared_ttl",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")

	v.SetDefault("http_port", 8080)
	v.SetDefault("max_request_body_bytes", int64(1<<20))
	v.SetDefault("shutdown_timeout", "15s")

	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "dupkey")
	v.SetDefault("mongo_max_pool_size", 100)
	v.SetDefault("db_connect_timeout", "10s")
	v.SetDefault("index_boot_timeout", "120s")
	v.SetDefault("index_lookup_timeout", "10s")

	v.SetDefault("schema_file", "schema.yaml")
	v.SetDefault("default_message", "")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("registry_shared_ttl", "10m")
}

func validateConfig(cfg Config) error {
	var missing []string
	var invalid []string

	if e := cfg.Env; e != "dev" && e != "prod" {
		invalid = append(invalid, `env must be "dev" or "prod"`)
	}
	if !logging.IsValidLogLevel(cfg.LogLevel) {
		invalid = append(invalid, fmt.Sprintf("log_level %q is not a zap level", cfg.LogLevel))
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		invalid = append(invalid, "http_port must be in 1..65535")
	}
	if cfg.MaxRequestBodyBytes < 0 {
		invalid = append(invalid, "max_request_body_bytes must be >= 0")
	}

	if strings.TrimSpace(cfg.Mongo.URI) == "" {
		missing = append(missing, EnvPrefix+"_MONGO_URI (or --mongo_uri)")
	} else if err := pmongo.ValidateURI(cfg.Mongo.URI); err != nil {
		invalid = append(invalid, "mongo_uri: "+err.Error())
	}
	if strings.TrimSpace(cfg.Mongo.Database) == "" {
		missing = append(missing, EnvPrefix+"_MONGO_DATABASE (or --mongo_database)")
	} else if err := pmongo.ValidateDatabaseName(cfg.Mongo.Database); err != nil {
		invalid = append(invalid, "mongo_database: "+err.Error())
	}

	if strings.TrimSpace(cfg.SchemaFile) == "" {
		missing = append(missing, EnvPrefix+"_SCHEMA_FILE (or --schema_file)")
	}
	if cfg.DefaultMessage != "" && !strings.Contains(cfg.DefaultMessage, "{PATH}") {
		invalid = append(invalid, "default_message should reference {PATH}")
	}

	if cfg.Redis.DB < 0 {
		invalid = append(invalid, "redis_db must be >= 0")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("configuration errors: %s", strings.Join(parts, " | "))
}
