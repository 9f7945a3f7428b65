package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Live      LiveConfig      `mapstructure:"live"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Typeform  TypeformConfig  `mapstructure:"typeform"`
	Email     EmailConfig     `mapstructure:"email"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	PublicURL string `mapstructure:"public_url"`
	// TrustedProxies lists CIDRs or IPs whose X-Forwarded-For is believed.
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max_connections"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type AuthConfig struct {
	BcryptCost     int            `mapstructure:"bcrypt_cost"`
	BootstrapAdmin BootstrapAdmin `mapstructure:"bootstrap_admin"`
}

type BootstrapAdmin struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	ReceivePerMinute int `mapstructure:"receive_per_minute"`
	LoginPerMinute   int `mapstructure:"login_per_minute"`
}

// IngestionConfig controls the inbound delivery endpoint.
type IngestionConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// SigningSecret enables Typeform-Signature verification when non-empty.
	SigningSecret string `mapstructure:"signing_secret"`
	// DedupeByCaseNumber turns repeated provider event ids into a no-op instead of a new record.
	DedupeByCaseNumber bool `mapstructure:"dedupe_by_case_number"`
}

type LiveConfig struct {
	Path                 string        `mapstructure:"path"`
	SendTimeout          time.Duration `mapstructure:"send_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	BroadcastConcurrency int           `mapstructure:"broadcast_concurrency"`
	RequireAuth          bool          `mapstructure:"require_auth"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type TypeformConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIToken  string        `mapstructure:"api_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	VerifySSL bool          `mapstructure:"verify_ssl"`
}

type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

// WorkersConfig drives cmd/worker.
type WorkersConfig struct {
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
	ReconcileConcurrency int           `mapstructure:"reconcile_concurrency"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/formhook.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_token_ttl", 168*time.Hour)

	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.bootstrap_admin.username", "")
	v.SetDefault("auth.bootstrap_admin.password", "")

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("rate_limit.receive_per_minute", 600)
	v.SetDefault("rate_limit.login_per_minute", 20)

	v.SetDefault("ingestion.max_body_bytes", 1<<20)
	v.SetDefault("ingestion.signing_secret", "")
	v.SetDefault("ingestion.dedupe_by_case_number", false)

	v.SetDefault("live.path", "/ws")
	v.SetDefault("live.send_timeout", 5*time.Second)
	v.SetDefault("live.ping_interval", 30*time.Second)
	v.SetDefault("live.pong_wait", 60*time.Second)
	v.SetDefault("live.broadcast_concurrency", 32)
	v.SetDefault("live.require_auth", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "formhook:live")

	v.SetDefault("typeform.base_url", "https://api.typeform.com")
	v.SetDefault("typeform.api_token", "")
	v.SetDefault("typeform.timeout", 10*time.Second)
	v.SetDefault("typeform.verify_ssl", true)

	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from_address", "")
	v.SetDefault("email.smtp.from_name", "Webhook Notifier")

	v.SetDefault("workers.reconcile_interval", 15*time.Minute)
	v.SetDefault("workers.reconcile_concurrency", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")
}

// Load reads .env (if present), the YAML file at path (if it exists) and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FORMHOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("config: jwt.secret must be set")
	}
	if c.Server.Port <= 0 {
		return errors.New("config: server.port must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return errors.New("config: auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Ingestion.MaxBodyBytes <= 0 {
		return errors.New("config: ingestion.max_body_bytes must be positive")
	}
	if c.Live.SendTimeout <= 0 {
		return errors.New("config: live.send_timeout must be positive")
	}
	if c.Live.BroadcastConcurrency <= 0 {
		c.Live.BroadcastConcurrency = 1
	}
	if c.Workers.ReconcileInterval <= 0 {
		c.Workers.ReconcileInterval = 15 * time.Minute
	}
	return nil
}
