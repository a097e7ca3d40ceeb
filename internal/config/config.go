package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DialectSnowflake = "snowflake"
	DialectPostgres  = "postgres"
	DialectDuckDB    = "duckdb"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	PromptSourceDir         = "dir"
	PromptSourceObjectStore = "objectstore"
)

// Config is built once at startup and passed by value into constructors.
// Nothing in the pipeline reads the process environment after Load returns.
type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Warehouse     WarehouseConfig
	ObjectStore   ObjectStoreConfig
	Prompts       PromptsConfig
	AI            AIConfig
	Sandbox       SandboxConfig
	Session       SessionConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type WarehouseConfig struct {
	Dialect       string
	User          string
	Password      string
	Account       string
	Warehouse     string
	Database      string
	Schema        string
	Role          string
	DSN           string
	MaxRows       int
	QueryTimeout  time.Duration
	ParquetPrefix string
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type PromptsConfig struct {
	Source string
	Dir    string
}

type AIConfig struct {
	Provider        string
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	CacheMaxEntries int
	CacheTTL        time.Duration
}

type SandboxConfig struct {
	Timeout        time.Duration
	MaxSteps       uint64
	MaxOutputBytes int
	MaxSourceBytes int
}

type SessionConfig struct {
	IdleTimeout      time.Duration
	SchemaPreviewRow int
}

// AuthConfig guards the session routes of the HTTP API. StaticKeys holds
// comma separated key:user:role|role entries.
type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// AuditConfig points at the Postgres database that keeps the turn audit log.
// An empty DSN disables auditing.
type AuditConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

func (c AuditConfig) Enabled() bool {
	return c.DSN != ""
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

// Error reports a missing or malformed configuration value.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SNOWCHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, &Error{Key: "SNOWCHAT_PROFILE", Reason: fmt.Sprintf("invalid profile %q", profile)}
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "SNOWCHAT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SNOWCHAT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SNOWCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SNOWCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SNOWCHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_DIALECT", &cfg.Warehouse.Dialect) },
		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_USER", &cfg.Warehouse.User) },
		func() error { return applyRaw(lookup, "SNOWCHAT_WAREHOUSE_PASSWORD", &cfg.Warehouse.Password) },
		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_ACCOUNT", &cfg.Warehouse.Account) },
		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_WAREHOUSE", &cfg.Warehouse.Warehouse) },
		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_DATABASE", &cfg.Warehouse.Database) },
		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_SCHEMA", &cfg.Warehouse.Schema) },
		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_ROLE", &cfg.Warehouse.Role) },
		func() error { return applyString(lookup, "SNOWCHAT_WAREHOUSE_DSN", &cfg.Warehouse.DSN) },
		func() error { return applyInt(lookup, "SNOWCHAT_WAREHOUSE_MAX_ROWS", &cfg.Warehouse.MaxRows) },
		func() error {
			return applyDuration(lookup, "SNOWCHAT_WAREHOUSE_QUERY_TIMEOUT", &cfg.Warehouse.QueryTimeout)
		},
		func() error {
			return applyString(lookup, "SNOWCHAT_WAREHOUSE_PARQUET_PREFIX", &cfg.Warehouse.ParquetPrefix)
		},

		func() error { return applyBool(lookup, "SNOWCHAT_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "SNOWCHAT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SNOWCHAT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SNOWCHAT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error {
			return applyString(lookup, "SNOWCHAT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "SNOWCHAT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "SNOWCHAT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SNOWCHAT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "SNOWCHAT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyString(lookup, "SNOWCHAT_PROMPTS_SOURCE", &cfg.Prompts.Source) },
		func() error { return applyString(lookup, "SNOWCHAT_PROMPTS_DIR", &cfg.Prompts.Dir) },

		func() error { return applyString(lookup, "SNOWCHAT_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "SNOWCHAT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "SNOWCHAT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "SNOWCHAT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "SNOWCHAT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "SNOWCHAT_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "SNOWCHAT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "SNOWCHAT_AI_CACHE_MAX_ENTRIES", &cfg.AI.CacheMaxEntries) },
		func() error { return applyDuration(lookup, "SNOWCHAT_AI_CACHE_TTL", &cfg.AI.CacheTTL) },

		func() error { return applyDuration(lookup, "SNOWCHAT_SANDBOX_TIMEOUT", &cfg.Sandbox.Timeout) },
		func() error { return applyUint64(lookup, "SNOWCHAT_SANDBOX_MAX_STEPS", &cfg.Sandbox.MaxSteps) },
		func() error {
			return applyInt(lookup, "SNOWCHAT_SANDBOX_MAX_OUTPUT_BYTES", &cfg.Sandbox.MaxOutputBytes)
		},
		func() error {
			return applyInt(lookup, "SNOWCHAT_SANDBOX_MAX_SOURCE_BYTES", &cfg.Sandbox.MaxSourceBytes)
		},

		func() error { return applyDuration(lookup, "SNOWCHAT_SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout) },
		func() error { return applyInt(lookup, "SNOWCHAT_SCHEMA_PREVIEW_ROWS", &cfg.Session.SchemaPreviewRow) },

		func() error { return applyBool(lookup, "SNOWCHAT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyRaw(lookup, "SNOWCHAT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },

		func() error { return applyRaw(lookup, "SNOWCHAT_AUDIT_DSN", &cfg.Audit.DSN) },
		func() error { return applyInt(lookup, "SNOWCHAT_AUDIT_MAX_OPEN_CONNS", &cfg.Audit.MaxOpenConns) },
		func() error { return applyInt(lookup, "SNOWCHAT_AUDIT_MAX_IDLE_CONNS", &cfg.Audit.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "SNOWCHAT_AUDIT_CONN_MAX_IDLE_TIME", &cfg.Audit.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "SNOWCHAT_AUDIT_CONN_MAX_LIFETIME", &cfg.Audit.ConnMaxLifetime)
		},
		func() error { return applyDuration(lookup, "SNOWCHAT_AUDIT_TIMEOUT", &cfg.Audit.Timeout) },

		func() error { return applyBool(lookup, "SNOWCHAT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SNOWCHAT_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.Warehouse.Dialect = strings.ToLower(cfg.Warehouse.Dialect)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	cfg.Prompts.Source = strings.ToLower(cfg.Prompts.Source)
	applyDialectDefaults(&cfg.Warehouse)

	if cfg.Service.Name == "" {
		return Config{}, &Error{Key: "SNOWCHAT_SERVICE_NAME", Reason: "service name is required"}
	}
	if cfg.HTTP.Address == "" {
		return Config{}, &Error{Key: "SNOWCHAT_HTTP_ADDR", Reason: "http address is required"}
	}
	switch cfg.Warehouse.Dialect {
	case DialectSnowflake, DialectPostgres, DialectDuckDB:
	default:
		return Config{}, &Error{Key: "SNOWCHAT_WAREHOUSE_DIALECT", Reason: fmt.Sprintf("unsupported dialect %q", cfg.Warehouse.Dialect)}
	}
	switch cfg.AI.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return Config{}, &Error{Key: "SNOWCHAT_AI_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", cfg.AI.Provider)}
	}
	switch cfg.Prompts.Source {
	case PromptSourceDir, PromptSourceObjectStore:
	default:
		return Config{}, &Error{Key: "SNOWCHAT_PROMPTS_SOURCE", Reason: fmt.Sprintf("unsupported prompt source %q", cfg.Prompts.Source)}
	}
	if cfg.Auth.Required && strings.TrimSpace(cfg.Auth.StaticKeys) == "" {
		return Config{}, &Error{Key: "SNOWCHAT_AUTH_STATIC_KEYS", Reason: "at least one key is required when auth is required"}
	}
	if cfg.AI.Timeout <= 0 {
		return Config{}, &Error{Key: "SNOWCHAT_AI_TIMEOUT", Reason: "must be positive"}
	}
	if cfg.Sandbox.Timeout <= 0 {
		return Config{}, &Error{Key: "SNOWCHAT_SANDBOX_TIMEOUT", Reason: "must be positive"}
	}
	if cfg.Sandbox.MaxSteps == 0 {
		return Config{}, &Error{Key: "SNOWCHAT_SANDBOX_MAX_STEPS", Reason: "must be positive"}
	}
	return cfg, nil
}

// Validate checks that everything a session needs before its first network
// call is present. Load does not call it so that tooling which never opens a
// session (template upload, health checks) can run with partial settings.
func (c Config) Validate() error {
	w := c.Warehouse
	switch w.Dialect {
	case DialectSnowflake:
		if w.DSN == "" {
			for _, required := range []struct{ key, value string }{
				{"SNOWCHAT_WAREHOUSE_USER", w.User},
				{"SNOWCHAT_WAREHOUSE_PASSWORD", w.Password},
				{"SNOWCHAT_WAREHOUSE_ACCOUNT", w.Account},
				{"SNOWCHAT_WAREHOUSE_WAREHOUSE", w.Warehouse},
			} {
				if strings.TrimSpace(required.value) == "" {
					return &Error{Key: required.key, Reason: "credential is required for snowflake"}
				}
			}
		}
	case DialectPostgres:
		if w.DSN == "" && (w.User == "" || w.Account == "") {
			return &Error{Key: "SNOWCHAT_WAREHOUSE_DSN", Reason: "dsn or user and account (host) are required for postgres"}
		}
	}
	if w.Database == "" {
		return &Error{Key: "SNOWCHAT_WAREHOUSE_DATABASE", Reason: "database is required"}
	}
	if w.Schema == "" {
		return &Error{Key: "SNOWCHAT_WAREHOUSE_SCHEMA", Reason: "schema is required"}
	}
	if strings.TrimSpace(c.AI.APIKey) == "" {
		return &Error{Key: "SNOWCHAT_AI_API_KEY", Reason: "api key is required"}
	}
	if c.Prompts.Source == PromptSourceDir && c.Prompts.Dir == "" {
		return &Error{Key: "SNOWCHAT_PROMPTS_DIR", Reason: "prompt directory is required"}
	}
	if c.Prompts.Source == PromptSourceObjectStore && !c.ObjectStore.Enabled {
		return &Error{Key: "SNOWCHAT_OBJECTSTORE_ENABLED", Reason: "object store must be enabled to read prompts from it"}
	}
	if w.ParquetPrefix != "" && !c.ObjectStore.Enabled {
		return &Error{Key: "SNOWCHAT_WAREHOUSE_PARQUET_PREFIX", Reason: "object store must be enabled to load parquet tables"}
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "snowchat-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Warehouse: WarehouseConfig{
			Dialect:      DialectSnowflake,
			MaxRows:      10000,
			QueryTimeout: 60 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "snowchat",
			UseSSL:           false,
			AutoCreateBucket: false,
		},
		Prompts: PromptsConfig{
			Source: PromptSourceDir,
			Dir:    "prompts",
		},
		AI: AIConfig{
			Provider:        ProviderOpenAI,
			BaseURL:         "",
			Model:           "gpt-4o",
			Temperature:     0,
			MaxTokens:       1024,
			Timeout:         60 * time.Second,
			CacheMaxEntries: 256,
			CacheTTL:        0,
		},
		Sandbox: SandboxConfig{
			Timeout:        5 * time.Second,
			MaxSteps:       5_000_000,
			MaxOutputBytes: 1 << 20,
			MaxSourceBytes: 64 * 1024,
		},
		Session: SessionConfig{
			IdleTimeout:      30 * time.Minute,
			SchemaPreviewRow: 10,
		},
		Audit: AuditConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			Timeout:         2 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Warehouse.Dialect = DialectDuckDB
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Sandbox.Timeout = time.Second
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.Auth.Required = true
	}

	return cfg
}

func applyDialectDefaults(w *WarehouseConfig) {
	if w.Dialect != DialectDuckDB {
		return
	}
	if w.Database == "" {
		w.Database = "memory"
	}
	if w.Schema == "" {
		w.Schema = "main"
	}
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyRaw keeps surrounding whitespace; passwords may legitimately contain it.
func applyRaw(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = raw
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return &Error{Key: key, Reason: err.Error()}
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return &Error{Key: key, Reason: err.Error()}
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return &Error{Key: key, Reason: err.Error()}
	}
	*dst = value
	return nil
}

func applyUint64(lookup LookupFunc, key string, dst *uint64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return &Error{Key: key, Reason: err.Error()}
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return &Error{Key: key, Reason: err.Error()}
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return &Error{Key: key, Reason: fmt.Sprintf("invalid log level %q", raw)}
	}
	return nil
}
