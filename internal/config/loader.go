package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"leadpipe/internal/constants"
)

// LoadConfig reads configFile when given, then layers environment variables
// on top. The deployment environment historically used bare names such as
// PRIVATE_KEY and WAREHOUSE_HOST; those are bound explicitly.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := bindEnvVariables(); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if configFile != "" {
		viper.SetConfigType("yaml")
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", constants.DefaultPort)
	viper.SetDefault("server.read_timeout", constants.DefaultReadTimeout)
	viper.SetDefault("server.write_timeout", constants.DefaultWriteTimeout)
	viper.SetDefault("server.allowed_origins", []string{"*"})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("queue.leads", constants.DefaultLeadQueuePath)
	viper.SetDefault("queue.warehouse", constants.DefaultWarehouseQueuePath)
	viper.SetDefault("queue.leads_dead_letter", "")
	viper.SetDefault("queue.warehouse_dead_letter", "")

	viper.SetDefault("worker.poll_interval", constants.DefaultPollInterval)
	viper.SetDefault("worker.initial_backoff", constants.DefaultInitialBackoff)
	viper.SetDefault("worker.max_backoff", constants.DefaultMaxBackoff)
	viper.SetDefault("worker.max_attempts", 0)

	viper.SetDefault("spreadsheet.spreadsheet_id", "")
	viper.SetDefault("spreadsheet.title", constants.DefaultSpreadsheetTitle)
	viper.SetDefault("spreadsheet.sheet_title", "")
	viper.SetDefault("spreadsheet.alert_rule", constants.DefaultAlertRule)
	viper.SetDefault("spreadsheet.requests_per_second", 1.0)
	viper.SetDefault("spreadsheet.timeout", constants.DefaultHTTPTimeout)
	viper.SetDefault("spreadsheet.sheets_url", constants.SheetsAPIURL)
	viper.SetDefault("spreadsheet.drive_url", constants.DriveAPIURL)
	viper.SetDefault("spreadsheet.credentials.type", "service_account")
	viper.SetDefault("spreadsheet.credentials.token_uri", constants.GoogleTokenURI)

	viper.SetDefault("sms.from", constants.DefaultSMSFrom)
	viper.SetDefault("sms.endpoint", constants.VonageSMSURL)
	viper.SetDefault("sms.template", constants.DefaultSMSTemplate)
	viper.SetDefault("sms.timeout", constants.DefaultHTTPTimeout)

	viper.SetDefault("warehouse.port", 5432)
	viper.SetDefault("warehouse.schema", "public")
	viper.SetDefault("warehouse.table", constants.DefaultWarehouseTable)
	viper.SetDefault("warehouse.sslmode", "require")
	viper.SetDefault("warehouse.max_open_conns", constants.WarehouseMaxOpenConns)
	viper.SetDefault("warehouse.max_idle_conns", constants.WarehouseMaxIdleConns)
	viper.SetDefault("warehouse.inline_timeout", constants.DefaultInlineTimeout)
	viper.SetDefault("warehouse.run_migrations", false)

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.rps", 10.0)
	viper.SetDefault("ratelimit.burst", 20)
	viper.SetDefault("ratelimit.cleanup_interval", 300)
	viper.SetDefault("ratelimit.max_age", 600)

	viper.SetDefault("circuitbreaker.enabled", true)
	viper.SetDefault("circuitbreaker.max_requests", 3)
	viper.SetDefault("circuitbreaker.interval", "60s")
	viper.SetDefault("circuitbreaker.timeout", "60s")
	viper.SetDefault("circuitbreaker.failure_ratio", 0.5)
	viper.SetDefault("circuitbreaker.min_requests", 3)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", constants.ServiceName)
	viper.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	viper.SetDefault("tracing.otlp.insecure", true)
	viper.SetDefault("tracing.sampler.type", "parentbased_always_on")
	viper.SetDefault("tracing.sampler.param", 1.0)
}

func bindEnvVariables() error {
	bindings := map[string]string{
		"spreadsheet.credentials.type":                        "TYPE",
		"spreadsheet.credentials.project_id":                  "PROJECT_ID",
		"spreadsheet.credentials.private_key_id":              "PRIVATE_KEY_ID",
		"spreadsheet.credentials.private_key":                 "PRIVATE_KEY",
		"spreadsheet.credentials.client_email":                "CLIENT_EMAIL",
		"spreadsheet.credentials.client_id":                   "CLIENT_ID",
		"spreadsheet.credentials.auth_uri":                    "AUTH_URI",
		"spreadsheet.credentials.token_uri":                   "TOKEN_URI",
		"spreadsheet.credentials.auth_provider_x509_cert_url": "AUTH_PROVIDER_X509_CERT_URL",
		"spreadsheet.credentials.client_x509_cert_url":        "CLIENT_X509_CERT_URL",
		"spreadsheet.spreadsheet_id":                          "SPREADSHEET_ID",
		"spreadsheet.title":                                   "SPREADSHEET_TITLE",

		"sms.api_key":    "KEY_VONAGE",
		"sms.api_secret": "KEY_VONAGE_SECRET",
		"sms.from":       "SMS_FROM",

		"warehouse.host":     "WAREHOUSE_HOST",
		"warehouse.port":     "WAREHOUSE_PORT",
		"warehouse.dbname":   "WAREHOUSE_DBNAME",
		"warehouse.user":     "WAREHOUSE_USER",
		"warehouse.password": "WAREHOUSE_PASSWORD",
		"warehouse.schema":   "WAREHOUSE_SCHEMA",
		"warehouse.table":    "WAREHOUSE_TABLE",
		"warehouse.sslmode":  "WAREHOUSE_SSLMODE",

		"server.port": "PORT",

		"queue.leads":     "QUEUE_LEADS",
		"queue.warehouse": "QUEUE_WAREHOUSE",

		"logging.level":  "LOGGING_LEVEL",
		"logging.format": "LOGGING_FORMAT",

		"tracing.otlp.endpoint": "TRACING_OTLP_ENDPOINT",
		"tracing.otlp.insecure": "TRACING_OTLP_INSECURE",
		"tracing.enabled":       "TRACING_ENABLED",
		"tracing.service_name":  "TRACING_SERVICE_NAME",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Private keys pasted into a single env line carry literal "\n".
	cfg.Spreadsheet.Credentials.PrivateKey = strings.ReplaceAll(cfg.Spreadsheet.Credentials.PrivateKey, `\n`, "\n")

	if originsEnv := viper.GetString("ALLOWED_ORIGINS"); originsEnv != "" {
		origins := strings.Split(originsEnv, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.Server.AllowedOrigins = origins
	}
}
