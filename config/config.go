package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the BYOI bridge. It is loaded once at
// startup and passed by parameter into every component; no component reads the
// process environment directly.
type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	// PublicOrigin is the externally visible origin of this service. It takes
	// precedence over request-derived origins when building the OAuth redirect
	// URI, because reverse proxies commonly present an internal origin.
	PublicOrigin string `mapstructure:"public_origin"`

	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Platform PlatformConfig `mapstructure:"platform"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// OAuthConfig configures the remote provider's authorization-code flow.
type OAuthConfig struct {
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	AuthorizeURL    string        `mapstructure:"authorize_url"`
	TokenURL        string        `mapstructure:"token_url"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
	// NeuralClientID is the client id of the second, PKCE-based flow run
	// against the tenant's own project auth endpoint.
	NeuralClientID string `mapstructure:"neural_client_id"`
}

// PlatformConfig configures the management API and project creation defaults.
type PlatformConfig struct {
	APIBaseURL      string        `mapstructure:"api_base_url"`
	TenantDomain    string        `mapstructure:"tenant_domain"`
	ProjectName     string        `mapstructure:"project_name"`
	Region          string        `mapstructure:"region"`
	Plan            string        `mapstructure:"plan"`
	OrgProjectQuota int           `mapstructure:"org_project_quota"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// MongoConfig configures the master identity store.
type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"db_name"`
}

// PostgresConfig configures the secondary authorization registry. An empty DSN
// disables the registry; the vault synchronizer then skips its write step.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig configures the handoff session token cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PipelineConfig bounds the provisioning pipeline's retry loops.
type PipelineConfig struct {
	OverallTimeout    time.Duration `mapstructure:"overall_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollAttempts      int           `mapstructure:"poll_attempts"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ConnectAttempts   int           `mapstructure:"connect_attempts"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	HandoffTTL        time.Duration `mapstructure:"handoff_ttl"`
	StateTTL          time.Duration `mapstructure:"state_ttl"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetConfigName("byoi_config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/byoi/")

	viper.SetEnvPrefix("BYOI") // BYOI_HTTP_ADDR, BYOI_OAUTH_CLIENT_ID, ...
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("http_addr", "0.0.0.0:8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_pretty", false)

	// Secrets have no meaningful defaults, but the keys must be registered for
	// AutomaticEnv to surface them through Unmarshal.
	viper.SetDefault("oauth.client_id", "")
	viper.SetDefault("oauth.client_secret", "")
	viper.SetDefault("oauth.neural_client_id", "")
	viper.SetDefault("public_origin", "")
	viper.SetDefault("postgres.dsn", "")
	viper.SetDefault("redis.password", "")

	viper.SetDefault("oauth.authorize_url", "https://api.supabase.com/v1/oauth/authorize")
	viper.SetDefault("oauth.token_url", "https://api.supabase.com/v1/oauth/token")
	viper.SetDefault("oauth.exchange_timeout", "10s")

	viper.SetDefault("platform.api_base_url", "https://api.supabase.com")
	viper.SetDefault("platform.tenant_domain", "supabase.co")
	viper.SetDefault("platform.project_name", "Tryliate Studio")
	viper.SetDefault("platform.region", "us-east-1")
	viper.SetDefault("platform.plan", "free")
	viper.SetDefault("platform.org_project_quota", 2)
	viper.SetDefault("platform.request_timeout", "30s")

	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.db_name", "byoi_bridge")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.prefix", "byoi")

	viper.SetDefault("pipeline.overall_timeout", "2m")
	viper.SetDefault("pipeline.poll_interval", "5s")
	viper.SetDefault("pipeline.poll_attempts", 40)
	viper.SetDefault("pipeline.connect_timeout", "15s")
	viper.SetDefault("pipeline.connect_attempts", 10)
	viper.SetDefault("pipeline.connect_retry_delay", "5s")
	viper.SetDefault("pipeline.handoff_ttl", "1h")
	viper.SetDefault("pipeline.state_ttl", "10m")

	if errRead := viper.ReadInConfig(); errRead != nil {
		if _, ok := errRead.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, errRead
		}
		// No config file; defaults and env vars apply.
	}

	err = viper.Unmarshal(&config)
	return
}
