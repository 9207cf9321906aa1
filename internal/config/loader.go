package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration for the client tools.
type Config struct {
	APIURL   string
	APIToken string
	// PushURL selects the push transport by scheme: ws(s)/http(s) for the
	// backend websocket, redis:// for Redis Pub/Sub, amqp(s):// for RabbitMQ.
	PushURL      string
	UserID       string
	ChurchID     string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
	Location     *time.Location
}

// ServerConfig captures environment driven configuration for the development
// backend.
type ServerConfig struct {
	HTTPPort        int
	SQLiteDSN       string
	JWTSecret       string
	TokenTTL        time.Duration
	RedisAddr       string
	RedisNamespace  string
	AMQPURL         string
	AMQPExchange    string
	ShutdownTimeout time.Duration
}

// LoadDotEnv reads KEY=value pairs from the given files, or ./.env when none
// are named, into the process environment. Variables already set win, and
// missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses client configuration from the current process environment.
//
// The loader applies defaults for optional fields while validating required
// values and reporting every missing or invalid entry at once.
func Load() (Config, error) {
	cfg := Config{
		PollInterval: 10 * time.Second,
		HTTPTimeout:  10 * time.Second,
		Location:     time.Local,
	}

	var l loader
	cfg.APIURL = strings.TrimRight(l.required("PARISH_API_URL"), "/")
	cfg.APIToken = strings.TrimSpace(os.Getenv("PARISH_API_TOKEN"))
	cfg.UserID = strings.TrimSpace(os.Getenv("PARISH_USER_ID"))
	cfg.ChurchID = strings.TrimSpace(os.Getenv("PARISH_CHURCH_ID"))

	cfg.PushURL = strings.TrimSpace(os.Getenv("PARISH_PUSH_URL"))
	if cfg.PushURL == "" && cfg.APIURL != "" {
		cfg.PushURL = cfg.APIURL + "/ws"
	}

	l.duration("PARISH_POLL_INTERVAL", &cfg.PollInterval)
	l.duration("PARISH_HTTP_TIMEOUT", &cfg.HTTPTimeout)

	if name := strings.TrimSpace(os.Getenv("PARISH_TIMEZONE")); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			l.invalid = append(l.invalid, "PARISH_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}

	if err := l.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadServer parses development backend configuration from the current
// process environment.
func LoadServer() (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPPort:        8080,
		SQLiteDSN:       "file:parish.db",
		TokenTTL:        24 * time.Hour,
		ShutdownTimeout: 10 * time.Second,
	}

	var l loader
	if portValue := strings.TrimSpace(os.Getenv("PARISH_DEV_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			l.invalid = append(l.invalid, "PARISH_DEV_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("PARISH_DEV_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}
	cfg.JWTSecret = l.required("PARISH_DEV_JWT_SECRET")
	l.duration("PARISH_DEV_TOKEN_TTL", &cfg.TokenTTL)
	l.duration("PARISH_DEV_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("PARISH_DEV_REDIS_ADDR"))
	cfg.RedisNamespace = strings.TrimSpace(os.Getenv("PARISH_DEV_REDIS_NAMESPACE"))
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("PARISH_DEV_AMQP_URL"))
	cfg.AMQPExchange = strings.TrimSpace(os.Getenv("PARISH_DEV_AMQP_EXCHANGE"))

	if err := l.err(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

type loader struct {
	missing []string
	invalid []string
}

func (l *loader) required(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		l.missing = append(l.missing, key)
	}
	return value
}

func (l *loader) duration(key string, target *time.Duration) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		l.invalid = append(l.invalid, key)
		return
	}
	*target = d
}

func (l *loader) err() error {
	if len(l.missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		return fmt.Errorf("invalid environment variable values: %s", strings.Join(l.invalid, ", "))
	}
	return nil
}
