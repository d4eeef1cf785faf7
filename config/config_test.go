package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseDurationFlexible(t *testing.T) {
	def := 7 * time.Second
	tests := []struct {
		name    string
		raw     any
		want    time.Duration
		wantErr bool
	}{
		{"duration string", "90s", 90 * time.Second, false},
		{"minutes", "2m", 2 * time.Minute, false},
		{"plain seconds string", "120", 120 * time.Second, false},
		{"int seconds", 30, 30 * time.Second, false},
		{"int64 seconds", int64(5), 5 * time.Second, false},
		{"float seconds", 1.5, 1500 * time.Millisecond, false},
		{"time.Duration", 3 * time.Second, 3 * time.Second, false},
		{"empty", "", def, false},
		{"nil", nil, def, false},
		{"garbage", "soon", def, true},
		{"zero", "0s", def, true},
		{"negative int", -4, def, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDurationFlexible(tt.raw, def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadArgs_FlagsOverrideDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadArgs(nil, []string{
		"--http_port=9090",
		"--mongo_database=shop",
		"--index_lookup_timeout=3s",
		"--default_message={PATH} is taken",
	})
	if err != nil {
		t.Fatalf("LoadArgs: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d", cfg.HTTPPort)
	}
	if cfg.Mongo.Database != "shop" {
		t.Errorf("Database = %q", cfg.Mongo.Database)
	}
	if cfg.IndexLookupTimeout != 3*time.Second {
		t.Errorf("IndexLookupTimeout = %v", cfg.IndexLookupTimeout)
	}
	if cfg.DefaultMessage != "{PATH} is taken" {
		t.Errorf("DefaultMessage = %q", cfg.DefaultMessage)
	}
	if cfg.IndexBootTimeout != 120*time.Second {
		t.Errorf("IndexBootTimeout default = %v", cfg.IndexBootTimeout)
	}
	if cfg.Mongo.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout default = %v", cfg.Mongo.ConnectTimeout)
	}
}

func TestLoadArgs_EnvBeatsDefault(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DUPKEY_REDIS_ADDR", "localhost:6379")
	t.Setenv("DUPKEY_REGISTRY_SHARED_TTL", "1h")

	cfg, err := LoadArgs(nil, nil)
	if err != nil {
		t.Fatalf("LoadArgs: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.RegistrySharedTTL != time.Hour {
		t.Errorf("RegistrySharedTTL = %v", cfg.RegistrySharedTTL)
	}
}

func TestValidateConfig(t *testing.T) {
	base := Config{
		Env:            "dev",
		LogLevel:       "info",
		HTTPPort:       8080,
		Mongo:          MongoConfig{URI: "mongodb://localhost:27017", Database: "dupkey"},
		SchemaFile:     "schema.yaml",
		DefaultMessage: "",
	}
	if err := validateConfig(base); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.HTTPPort = 0 }, "http_port"},
		{"bad uri", func(c *Config) { c.Mongo.URI = "postgres://x" }, "mongo_uri"},
		{"missing database", func(c *Config) { c.Mongo.Database = "" }, "MONGO_DATABASE"},
		{"dotted database", func(c *Config) { c.Mongo.Database = "a.b" }, "mongo_database"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"template without path", func(c *Config) { c.DefaultMessage = "taken" }, "default_message"},
		{"missing schema", func(c *Config) { c.SchemaFile = " " }, "SCHEMA_FILE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := validateConfig(c)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDumpRedacts(t *testing.T) {
	c := Config{
		Mongo: MongoConfig{URI: "mongodb://app:s3cret@db:27017/app"},
		Redis: RedisConfig{Password: "hunter2"},
	}
	out := c.Dump()
	if strings.Contains(out, "s3cret") || strings.Contains(out, "hunter2") {
		t.Errorf("Dump leaked a secret: %s", out)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
