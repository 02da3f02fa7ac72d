package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server         ServerConfig
	Logging        LoggingConfig
	Queue          QueueConfig
	Worker         WorkerConfig
	Spreadsheet    SpreadsheetConfig
	SMS            SMSConfig
	Warehouse      WarehouseConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
	Interests      []InterestConfig
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// QueueConfig holds one DSN per queue: a bare path, file://path, memory://
// or redis://host:port/db?key=name.
type QueueConfig struct {
	Leads               string `mapstructure:"leads"`
	Warehouse           string `mapstructure:"warehouse"`
	LeadsDeadLetter     string `mapstructure:"leads_dead_letter"`
	WarehouseDeadLetter string `mapstructure:"warehouse_dead_letter"`
}

type WorkerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	// MaxAttempts of 0 retries forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

type SpreadsheetConfig struct {
	SpreadsheetID     string               `mapstructure:"spreadsheet_id"`
	Title             string               `mapstructure:"title"`
	SheetTitle        string               `mapstructure:"sheet_title"`
	AlertRule         string               `mapstructure:"alert_rule"`
	RequestsPerSecond float64              `mapstructure:"requests_per_second"`
	Timeout           time.Duration        `mapstructure:"timeout"`
	SheetsURL         string               `mapstructure:"sheets_url"`
	DriveURL          string               `mapstructure:"drive_url"`
	Credentials       ServiceAccountConfig `mapstructure:"credentials"`
}

type ServiceAccountConfig struct {
	Type                    string `mapstructure:"type" json:"type"`
	ProjectID               string `mapstructure:"project_id" json:"project_id"`
	PrivateKeyID            string `mapstructure:"private_key_id" json:"private_key_id"`
	PrivateKey              string `mapstructure:"private_key" json:"private_key"`
	ClientEmail             string `mapstructure:"client_email" json:"client_email"`
	ClientID                string `mapstructure:"client_id" json:"client_id"`
	AuthURI                 string `mapstructure:"auth_uri" json:"auth_uri"`
	TokenURI                string `mapstructure:"token_uri" json:"token_uri"`
	AuthProviderX509CertURL string `mapstructure:"auth_provider_x509_cert_url" json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `mapstructure:"client_x509_cert_url" json:"client_x509_cert_url"`
}

// Configured reports whether enough of the service account is present to
// mint tokens.
func (c ServiceAccountConfig) Configured() bool {
	return c.ClientEmail != "" && c.PrivateKey != ""
}

type SMSConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	From      string        `mapstructure:"from"`
	Endpoint  string        `mapstructure:"endpoint"`
	Template  string        `mapstructure:"template"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (c SMSConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

type WarehouseConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	DBName        string        `mapstructure:"dbname"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Schema        string        `mapstructure:"schema"`
	Table         string        `mapstructure:"table"`
	SSLMode       string        `mapstructure:"sslmode"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns"`
	InlineTimeout time.Duration `mapstructure:"inline_timeout"`
	RunMigrations bool          `mapstructure:"run_migrations"`
}

// Configured reports whether the warehouse sink can be enabled. A partial
// configuration disables it rather than failing startup.
func (c WarehouseConfig) Configured() bool {
	return c.Host != "" && c.DBName != "" && c.User != "" && c.Table != ""
}

// DSN renders a lib/pq URL connection string.
func (c WarehouseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

// InterestConfig assigns departments to an agent; the list replaces the
// built-in interest table when non-empty.
type InterestConfig struct {
	Agent       string   `mapstructure:"agent"`
	Departments []string `mapstructure:"departments"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
