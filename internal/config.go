package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env            string               `mapstructure:"env"`
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Security       SecurityConfig       `mapstructure:"security" validate:"required"`
	Vendor         VendorConfig         `mapstructure:"vendor"`
	PaymentGateway PaymentGatewayConfig `mapstructure:"payment_gateway"`
	Vault          VaultConfig          `mapstructure:"vault"`
	Quota          QuotaConfig          `mapstructure:"quota"`
	Pricing        PricingConfig        `mapstructure:"pricing"`
	Mail           MailConfig           `mapstructure:"mail"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Jobs           JobsConfig           `mapstructure:"jobs"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source" validate:"required"`
}

// RedisConfig is optional. An empty Addr disables the credential hot cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SecurityConfig struct {
	JWTSecret            string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m,max=24h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"required,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
	OperatorKey          string        `mapstructure:"operator_key" validate:"required,min=16"`
	IdentifierPepper     string        `mapstructure:"identifier_pepper" validate:"required,min=16"`
}

type VendorConfig struct {
	BaseURL                   string              `mapstructure:"base_url" validate:"required,url"`
	ClientID                  string              `mapstructure:"client_id" validate:"required"`
	ClientSecret              string              `mapstructure:"client_secret" validate:"required"`
	DistributorID             string              `mapstructure:"distributor_id" validate:"required"`
	EncryptionKey             string              `mapstructure:"encryption_key" validate:"required"`
	EncryptionIV              string              `mapstructure:"encryption_iv"`
	Strategy                  string              `mapstructure:"strategy" validate:"oneof=raw hex-key digest hex-iv hex-both"`
	TokenPath                 string              `mapstructure:"token_path"`
	BrandsPath                string              `mapstructure:"brands_path"`
	StoresPath                string              `mapstructure:"stores_path"`
	OrderPath                 string              `mapstructure:"order_path"`
	Timeout                   time.Duration       `mapstructure:"timeout"`
	TokenTimeout              time.Duration       `mapstructure:"token_timeout"`
	DefaultTokenTTL           time.Duration       `mapstructure:"default_token_ttl"`
	EarlyExpirySkew           time.Duration       `mapstructure:"early_expiry_skew"`
	StorePlainToken           bool                `mapstructure:"store_plain_token"`
	MockOnInsufficientBalance bool                `mapstructure:"mock_on_insufficient_balance"`
	Rules                     []OutcomeRuleConfig `mapstructure:"rules" validate:"dive"`
}

// OutcomeRuleConfig is a single entry of the vendor response rule table.
// Expr is a CEL boolean expression.
type OutcomeRuleConfig struct {
	Outcome string `mapstructure:"outcome" validate:"required,oneof=approved rejected credential_expired insufficient_balance"`
	Expr    string `mapstructure:"expr" validate:"required"`
}

type PaymentGatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	KeyID     string        `mapstructure:"key_id" validate:"required"`
	KeySecret string        `mapstructure:"key_secret" validate:"required"`
	Currency  string        `mapstructure:"currency" validate:"len=3"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type VaultConfig struct {
	Secret string `mapstructure:"secret" validate:"required,min=16"`
}

type QuotaConfig struct {
	Timezone string                  `mapstructure:"timezone"`
	Rules    []QuotaRuleConfig       `mapstructure:"rules" validate:"dive"`
	Policies map[string]PolicyConfig `mapstructure:"policies"`
}

type QuotaRuleConfig struct {
	Match  []string `mapstructure:"match" validate:"required,min=1"`
	Policy string   `mapstructure:"policy" validate:"required"`
}

type PolicyConfig struct {
	UPIOnly               bool  `mapstructure:"upi_only"`
	MonthlySpendCap       int64 `mapstructure:"monthly_spend_cap" validate:"min=0"`
	MaxDiscountPercentBps int64 `mapstructure:"max_discount_percent_bps" validate:"min=0,max=10000"`
	MonthlyDiscountCap    int64 `mapstructure:"monthly_discount_cap" validate:"min=0"`
}

type PricingConfig struct {
	FloorAmount     int64         `mapstructure:"floor_amount" validate:"min=0"`
	MaxQuantity     int           `mapstructure:"max_quantity" validate:"min=1"`
	ProcessingLease time.Duration `mapstructure:"processing_lease"`
}

type MailConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	From      string `mapstructure:"from" validate:"required_if=Enabled true"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
}

// KafkaConfig is optional. No brokers means order events stay in process.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type JobsConfig struct {
	RunInServer                bool          `mapstructure:"run_in_server"`
	CredentialRefreshInterval  time.Duration `mapstructure:"credential_refresh_interval"`
	CredentialRefreshThreshold time.Duration `mapstructure:"credential_refresh_threshold"`
	CatalogSyncInterval        time.Duration `mapstructure:"catalog_sync_interval"`
	RunTimeout                 time.Duration `mapstructure:"run_timeout"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name" validate:"required_if=Enabled true"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"min=0,max=1"`
	JaegerURL    string  `mapstructure:"jaeger_url" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// ApplyDefaults fills every optional knob that was left zero.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnMaxIdleTime == 0 {
		c.Database.ConnMaxIdleTime = 5 * time.Minute
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "giftcard"
	}

	if c.Security.AccessTokenDuration == 0 {
		c.Security.AccessTokenDuration = 15 * time.Minute
	}
	if c.Security.RefreshTokenDuration == 0 {
		c.Security.RefreshTokenDuration = 7 * 24 * time.Hour
	}
	if c.Security.BCryptCost == 0 {
		c.Security.BCryptCost = 12
	}

	if c.Vendor.Strategy == "" {
		c.Vendor.Strategy = "raw"
	}
	if c.Vendor.TokenPath == "" {
		c.Vendor.TokenPath = "/api/v1/token"
	}
	if c.Vendor.BrandsPath == "" {
		c.Vendor.BrandsPath = "/api/v1/brands"
	}
	if c.Vendor.StoresPath == "" {
		c.Vendor.StoresPath = "/api/v1/stores"
	}
	if c.Vendor.OrderPath == "" {
		c.Vendor.OrderPath = "/api/v1/orders"
	}
	if c.Vendor.Timeout == 0 {
		c.Vendor.Timeout = 30 * time.Second
	}
	if c.Vendor.TokenTimeout == 0 {
		c.Vendor.TokenTimeout = 10 * time.Second
	}
	if c.Vendor.DefaultTokenTTL == 0 {
		c.Vendor.DefaultTokenTTL = 5 * 24 * time.Hour
	}
	if c.Vendor.EarlyExpirySkew == 0 {
		c.Vendor.EarlyExpirySkew = 5 * time.Minute
	}

	if c.PaymentGateway.Currency == "" {
		c.PaymentGateway.Currency = "INR"
	}
	if c.PaymentGateway.Timeout == 0 {
		c.PaymentGateway.Timeout = 10 * time.Second
	}

	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "Asia/Kolkata"
	}

	if c.Pricing.MaxQuantity == 0 {
		c.Pricing.MaxQuantity = 10
	}
	if c.Pricing.FloorAmount == 0 {
		c.Pricing.FloorAmount = 100
	}
	if c.Pricing.ProcessingLease == 0 {
		c.Pricing.ProcessingLease = 2 * time.Minute
	}

	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Mail.Workers == 0 {
		c.Mail.Workers = 2
	}
	if c.Mail.QueueSize == 0 {
		c.Mail.QueueSize = 100
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "giftcard.orders"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "giftcard-notifications"
	}

	if c.Jobs.CredentialRefreshInterval == 0 {
		c.Jobs.CredentialRefreshInterval = 30 * time.Minute
	}
	if c.Jobs.CredentialRefreshThreshold == 0 {
		c.Jobs.CredentialRefreshThreshold = 24 * time.Hour
	}
	if c.Jobs.CatalogSyncInterval == 0 {
		c.Jobs.CatalogSyncInterval = 6 * time.Hour
	}
	if c.Jobs.RunTimeout == 0 {
		c.Jobs.RunTimeout = 2 * time.Minute
	}

	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "giftcard-fulfillment"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
		if c.Env == "production" {
			c.Observability.Logging.Format = "json"
		}
	}
}

// LoadConfigFromEnv builds the configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func LoadConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:           getEnvAsInt("PORT", 8080),
			BaseURL:        getEnv("BASE_URL", ""),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
		},
		Database: DatabaseConfig{
			Source:       getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", ""),
		},
		Security: SecurityConfig{
			JWTSecret:            getEnv("JWT_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", 0),
			RefreshTokenDuration: getEnvAsDuration("REFRESH_TOKEN_DURATION", 0),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
			OperatorKey:          getEnv("OPERATOR_KEY", ""),
			IdentifierPepper:     getEnv("IDENTIFIER_PEPPER", ""),
		},
		Vendor: VendorConfig{
			BaseURL:                   getEnv("VENDOR_BASE_URL", ""),
			ClientID:                  getEnv("VENDOR_CLIENT_ID", ""),
			ClientSecret:              getEnv("VENDOR_CLIENT_SECRET", ""),
			DistributorID:             getEnv("VENDOR_DISTRIBUTOR_ID", ""),
			EncryptionKey:             getEnv("VENDOR_ENCRYPTION_KEY", ""),
			EncryptionIV:              getEnv("VENDOR_ENCRYPTION_IV", ""),
			Strategy:                  getEnv("VENDOR_STRATEGY", ""),
			Timeout:                   getEnvAsDuration("VENDOR_TIMEOUT", 0),
			TokenTimeout:              getEnvAsDuration("VENDOR_TOKEN_TIMEOUT", 0),
			DefaultTokenTTL:           getEnvAsDuration("VENDOR_DEFAULT_TOKEN_TTL", 0),
			StorePlainToken:           getEnvAsBool("VENDOR_STORE_PLAIN_TOKEN", false),
			MockOnInsufficientBalance: getEnvAsBool("VENDOR_MOCK_ON_INSUFFICIENT_BALANCE", false),
		},
		PaymentGateway: PaymentGatewayConfig{
			BaseURL:   getEnv("PAYMENT_GATEWAY_BASE_URL", ""),
			KeyID:     getEnv("PAYMENT_GATEWAY_KEY_ID", ""),
			KeySecret: getEnv("PAYMENT_GATEWAY_KEY_SECRET", ""),
			Currency:  getEnv("PAYMENT_GATEWAY_CURRENCY", ""),
		},
		Vault: VaultConfig{
			Secret: getEnv("VAULT_SECRET", ""),
		},
		Quota: QuotaConfig{
			Timezone: getEnv("QUOTA_TIMEZONE", ""),
		},
		Pricing: PricingConfig{
			FloorAmount: getEnvAsInt64("PRICING_FLOOR_AMOUNT", 0),
			MaxQuantity: getEnvAsInt("PRICING_MAX_QUANTITY", 0),
		},
		Mail: MailConfig{
			Enabled:  getEnvAsBool("MAIL_ENABLED", false),
			Host:     getEnv("MAIL_HOST", ""),
			Port:     getEnvAsInt("MAIL_PORT", 0),
			Username: getEnv("MAIL_USERNAME", ""),
			Password: getEnv("MAIL_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", ""),
			GroupID: getEnv("KAFKA_GROUP_ID", ""),
		},
		Jobs: JobsConfig{
			RunInServer: getEnvAsBool("JOBS_RUN_IN_SERVER", false),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
			},
			Tracing: TracingConfig{
				Enabled:      getEnvAsBool("TRACING_ENABLED", false),
				ServiceName:  getEnv("TRACING_SERVICE_NAME", ""),
				SamplingRate: getEnvAsFloat("TRACING_SAMPLING_RATE", 1),
				JaegerURL:    getEnv("JAEGER_URL", ""),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", ""),
				Format: getEnv("LOG_FORMAT", ""),
			},
		},
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

var configValidator = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	var errs []string

	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Quota.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("quota config: %v", err))
	}

	if c.Observability.Tracing.Enabled && c.Observability.Tracing.JaegerURL == "" {
		errs = append(errs, "observability config: jaeger_url is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *QuotaConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	for _, rule := range c.Rules {
		if rule.Policy == "default" {
			continue
		}
		if _, ok := c.Policies[rule.Policy]; !ok && rule.Policy != "amazon" && rule.Policy != "flipkart" {
			return fmt.Errorf("rule references unknown policy %q", rule.Policy)
		}
	}
	return nil
}
