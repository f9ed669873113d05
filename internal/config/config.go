package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
	QueueBackendNATS   = "nats"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"1"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	CORSOrigin  string `env:"CORS_ORIGIN"`

	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	VerificationTTL time.Duration `env:"VERIFICATION_TTL" envDefault:"24h"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"10"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	AuthRateWindow  time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"10m"`
	AuthRateMax     int           `env:"AUTH_RATE_MAX" envDefault:"5"`

	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string        `env:"SMTP_USER"`
	SMTPPass     string        `env:"SMTP_PASS"`
	SMTPFrom     string        `env:"SMTP_FROM"`
	SMTPFromName string        `env:"SMTP_FROM_NAME" envDefault:"TaskPilot"`
	SMTPUseTLS   bool          `env:"SMTP_USE_TLS" envDefault:"false"`
	MailTimeout  time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	QueueBackend      string        `env:"QUEUE_BACKEND" envDefault:"memory"`
	NATSURL           string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	MailWorkers       int           `env:"MAIL_WORKERS" envDefault:"1"`
	MailRatePerSecond float64       `env:"MAIL_RATE_PER_SECOND" envDefault:"5"`
	MailMaxAttempts   uint64        `env:"MAIL_MAX_ATTEMPTS" envDefault:"5"`
	MailRetryBase     time.Duration `env:"MAIL_RETRY_BASE" envDefault:"1s"`
	EmbedDispatcher   bool          `env:"EMBED_DISPATCHER" envDefault:"true"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// AllowedOrigin devuelve el origen CORS; por defecto el frontend.
func (c *Config) AllowedOrigin() string {
	if c.CORSOrigin != "" {
		return c.CORSOrigin
	}
	return c.FrontendURL
}
