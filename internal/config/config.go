package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Record sources.
const (
	DataSourceFile     = "file"
	DataSourcePostgres = "postgres"
	DataSourceHTTP     = "http"
)

// Report text stores.
const (
	ReportStoreData  = "data"
	ReportStoreMinio = "minio"
)

// Auth modes.
const (
	AuthModeDevelopment = "development"
	AuthModeExternal    = "external"
	AuthModeStatic      = "static"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	DataSource          string        `mapstructure:"DATA_SOURCE"`
	DataDir             string        `mapstructure:"DATA_DIR"`
	RemoteDataURL       string        `mapstructure:"REMOTE_DATA_URL"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	CacheTTL            time.Duration `mapstructure:"CACHE_TTL"`
	RegionMappingFile   string        `mapstructure:"REGION_MAPPING_FILE"`
	ExamTypeMappingFile string        `mapstructure:"EXAM_TYPE_MAPPING_FILE"`
	FindingInfoFile     string        `mapstructure:"FINDING_INFO_FILE"`
	WatchMappings       bool          `mapstructure:"WATCH_MAPPINGS"`
	StatusVocabulary    string        `mapstructure:"STATUS_VOCABULARY"`
	ReportStore         string        `mapstructure:"REPORT_STORE"`
	MinioEndpoint       string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey      string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey      string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket         string        `mapstructure:"MINIO_BUCKET"`
	MinioRegion         string        `mapstructure:"MINIO_REGION"`
	MinioUseSSL         bool          `mapstructure:"MINIO_USE_SSL"`
	AuthMode            string        `mapstructure:"AUTH_MODE"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL         string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "DATA_SOURCE", "DATA_DIR", "REMOTE_DATA_URL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CACHE_TTL",
	"REGION_MAPPING_FILE", "EXAM_TYPE_MAPPING_FILE", "FINDING_INFO_FILE", "WATCH_MAPPINGS",
	"STATUS_VOCABULARY", "REPORT_STORE",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_REGION", "MINIO_USE_SSL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_SOURCE", DataSourceFile)
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("WATCH_MAPPINGS", true)
	v.SetDefault("STATUS_VOCABULARY", "longitudinal")
	v.SetDefault("REPORT_STORE", ReportStoreData)
	v.SetDefault("MINIO_BUCKET", "ipl-reports")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.DataSource = strings.ToLower(cfg.DataSource)
	cfg.ReportStore = strings.ToLower(cfg.ReportStore)

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development           -> "development" (no auth, all requests get admin)
//   - only AUTH_SIGNING_KEY set -> "static" (HMAC-signed tokens)
//   - Otherwise                 -> "external" (OIDC provider, JWKS-verified tokens)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey != "" {
		return AuthModeStatic
	}
	return AuthModeExternal
}

// Validate checks cross-field rules: each record source and report store
// needs its connection settings, and every non-development auth mode needs
// a way to verify tokens.
func (c *Config) Validate() error {
	switch c.DataSource {
	case DataSourceFile:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required when DATA_SOURCE is %q", DataSourceFile)
		}
	case DataSourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATA_SOURCE is %q", DataSourcePostgres)
		}
	case DataSourceHTTP:
		if c.RemoteDataURL == "" {
			return fmt.Errorf("REMOTE_DATA_URL is required when DATA_SOURCE is %q", DataSourceHTTP)
		}
	default:
		return fmt.Errorf("DATA_SOURCE must be \"file\", \"postgres\", or \"http\", got %q", c.DataSource)
	}

	switch c.ReportStore {
	case ReportStoreData:
	case ReportStoreMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required when REPORT_STORE is %q", ReportStoreMinio)
		}
		if c.MinioAccessKey == "" || c.MinioSecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when REPORT_STORE is %q", ReportStoreMinio)
		}
	default:
		return fmt.Errorf("REPORT_STORE must be \"data\" or \"minio\", got %q", c.ReportStore)
	}

	switch strings.ToLower(c.StatusVocabulary) {
	case "", "longitudinal", "simple":
	default:
		return fmt.Errorf("STATUS_VOCABULARY must be \"longitudinal\" or \"simple\", got %q", c.StatusVocabulary)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed in production")
		}
	case AuthModeExternal:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
					"Refusing to start without authentication configuration", c.Env)
		}
	case AuthModeStatic:
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is \"static\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"external\", or \"static\", got %q", mode)
	}

	return nil
}
