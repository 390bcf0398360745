package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Server       ServerConfig            `mapstructure:"server"`
	Flow         FlowConfig              `mapstructure:"flow"`
	Camunda      CamundaConfig           `mapstructure:"camunda"`
	Database     DatabaseConfig          `mapstructure:"database"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Integrations IntegrationConfig       `mapstructure:"integrations"`
	Logging      LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig configures the session HTTP API.
type ServerConfig struct {
	Address            string `mapstructure:"address"`
	SessionIdleTimeout int    `mapstructure:"session_idle_timeout_ms"` // milliseconds
	CleanupInterval    int    `mapstructure:"cleanup_interval_ms"`     // milliseconds
	ShutdownTimeout    int    `mapstructure:"shutdown_timeout_ms"`     // milliseconds
}

// FlowConfig tunes the eligibility wizard and its verification collaborators.
type FlowConfig struct {
	CollaboratorTimeout int    `mapstructure:"collaborator_timeout_ms"` // milliseconds
	OTPExpiry           int    `mapstructure:"otp_expiry_ms"`           // milliseconds
	OTPMaxAttempts      int    `mapstructure:"otp_max_attempts"`
	OTPSecret           string `mapstructure:"otp_secret"`          // HMAC key for stored codes
	MobileCacheTTL      int    `mapstructure:"mobile_cache_ttl_ms"` // milliseconds
}

type CamundaConfig struct {
	BrokerAddress     string `mapstructure:"broker_address"`
	RequestTimeout    int    `mapstructure:"request_timeout"` // milliseconds
	SanctionProcessID string `mapstructure:"sanction_process_id"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses     []string `mapstructure:"addresses"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	HoldingsIndex string   `mapstructure:"holdings_index"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// IntegrationConfig holds settings for the PAN registry and AWS messaging.
type IntegrationConfig struct {
	PANRegistry struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"pan_registry"`

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled           bool   `mapstructure:"enabled"`
			FromEmail         string `mapstructure:"from_email"`
			SanctionDeskEmail string `mapstructure:"sanction_desk_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			SenderID string `mapstructure:"sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
