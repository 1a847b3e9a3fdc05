package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const defaultConfigPath = "src/internal/config/cfg.yml"

type Configuration struct {
	Logs     LogsSettings     `mapstructure:"logs"`
	App      Application      `mapstructure:"app"`
	Database Database         `mapstructure:"database"`
	Queue    QueueConfig      `mapstructure:"queue"`
	Redis    Redis            `mapstructure:"redis"`
	Events   EventsConfig     `mapstructure:"events"`
	Security SecuritySettings `mapstructure:"security"`
	Server   ServerSettings   `mapstructure:"server"`
	Session  SessionConfig    `mapstructure:"session"`
	Login    LoginConfig      `mapstructure:"login"`
	Cache    CacheConfig      `mapstructure:"cache"`
}

type LogsSettings struct {
	Level            string `mapstructure:"level"`
	Path             string `mapstructure:"log-path"`
	EnableJSONOutput bool   `mapstructure:"enable-json-output"`
}

type Application struct {
	Name    string `mapstructure:"name"`
	Timeout int    `mapstructure:"timeout"`
	Version string `mapstructure:"version"`
}

type Database struct {
	Url               string `mapstructure:"url"`
	DbName            string `mapstructure:"dbname"`
	UserCollection    string `mapstructure:"user-collection"`
	AttemptCollection string `mapstructure:"attempt-collection"`
	Timeout           int    `mapstructure:"timeout"`
}

type QueueConfig struct {
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	Url            string `mapstructure:"url"`
	Exchange       string `mapstructure:"exchange"`
	ExchangeType   string `mapstructure:"exchange-type"`
	ReconnectDelay int    `mapstructure:"reconnect-delay"`
	Durable        bool   `mapstructure:"durable"`
	AutoDelete     bool   `mapstructure:"auto-delete"`
	Internal       bool   `mapstructure:"internal"`
	NoWait         bool   `mapstructure:"no-wait"`
	Consumer       string `mapstructure:"consumer"`
}

type Redis struct {
	Url          string `mapstructure:"url"`
	Password     string `mapstructure:"password"`
	Db           int    `mapstructure:"db"`
	DialTimeout  int    `mapstructure:"dial-timeout"`
	ReadTimeout  int    `mapstructure:"read-timeout"`
	WriteTimeout int    `mapstructure:"write-timeout"`
}

type EventsConfig struct {
	// Driver is one of redis, rabbitmq or memory.
	Driver  string `mapstructure:"driver"`
	Channel string `mapstructure:"channel"`
}

type SecuritySettings struct {
	JwtKey                   string `mapstructure:"jwt-key"`
	Issuer                   string `mapstructure:"issuer"`
	AccessTTLMinutes         int    `mapstructure:"access-ttl-minutes"`
	RefreshTTLHours          int    `mapstructure:"refresh-ttl-hours"`
	RequireEmailVerification bool   `mapstructure:"require-email-verification"`
}

type ServerSettings struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read-timeout"`
	WriteTimeout int    `mapstructure:"write-timeout"`
	IdleTimeout  int    `mapstructure:"idle-timeout"`
	CookieDomain string `mapstructure:"cookie-domain"`
	// AuthRateLimit is the per-address request budget per minute on auth routes.
	AuthRateLimit int `mapstructure:"auth-rate-limit"`
}

type SessionConfig struct {
	TTLMinutes            int `mapstructure:"ttl-minutes"`
	MaxConcurrentSessions int `mapstructure:"max-concurrent-sessions"`
}

type LoginConfig struct {
	WindowMinutes          int `mapstructure:"window-minutes"`
	MaxAccountFailures     int `mapstructure:"max-account-failures"`
	MaxAddressAttempts     int `mapstructure:"max-address-attempts"`
	LockoutDurationMinutes int `mapstructure:"lockout-duration-minutes"`
}

type CacheConfig struct {
	// ProfileTTLMinutes of 0 disables the admin profile cache.
	ProfileTTLMinutes int `mapstructure:"profile-ttl-minutes"`
}

func (c CacheConfig) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLMinutes) * time.Minute
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

func (s SecuritySettings) AccessTTL() time.Duration {
	return time.Duration(s.AccessTTLMinutes) * time.Minute
}

func (s SecuritySettings) RefreshTTL() time.Duration {
	return time.Duration(s.RefreshTTLHours) * time.Hour
}

func (l LoginConfig) Window() time.Duration {
	return time.Duration(l.WindowMinutes) * time.Minute
}

func (l LoginConfig) LockoutDuration() time.Duration {
	return time.Duration(l.LockoutDurationMinutes) * time.Minute
}

func Load() *Configuration {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		logrus.Panicf("Error loading configuration: %s", err)
	}
	logrus.Info("Configuration loaded")
	return cfg
}

// LoadFrom reads the yml file at path and applies environment overrides.
func LoadFrom(path string) (*Configuration, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Configuration) {
	mongoUri := os.Getenv("MONGODB_URL")
	if mongoUri != "" {
		cfg.Database.Url = mongoUri
	}

	dbName := os.Getenv("DB_NAME")
	if dbName != "" {
		cfg.Database.DbName = dbName
	}

	redisUrl := os.Getenv("REDIS_URL")
	if redisUrl != "" {
		cfg.Redis.Url = redisUrl
	}

	redisDB := os.Getenv("REDIS_DB")
	if redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			cfg.Redis.Db = db
		}
	}

	rabbitmqUrl := os.Getenv("RABBITMQ_URL")
	if rabbitmqUrl != "" {
		cfg.Queue.RabbitMQ.Url = rabbitmqUrl
	}

	eventsDriver := os.Getenv("EVENTS_DRIVER")
	if eventsDriver != "" {
		cfg.Events.Driver = eventsDriver
	}

	jwtKey := os.Getenv("JWT_KEY")
	if jwtKey != "" {
		cfg.Security.JwtKey = jwtKey
	}

	if os.Getenv("REQUIRE_EMAIL_VERIFICATION") == "true" {
		cfg.Security.RequireEmailVerification = true
	}
}

func applyDefaults(cfg *Configuration) {
	if cfg.App.Timeout <= 0 {
		cfg.App.Timeout = 10
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "redis"
	}
	if cfg.Events.Channel == "" {
		cfg.Events.Channel = "session:events"
	}
	if cfg.Security.Issuer == "" {
		cfg.Security.Issuer = "sso-session-svc"
	}
	if cfg.Security.AccessTTLMinutes <= 0 {
		cfg.Security.AccessTTLMinutes = 15
	}
	if cfg.Security.RefreshTTLHours <= 0 {
		cfg.Security.RefreshTTLHours = 168
	}
	if cfg.Session.TTLMinutes <= 0 {
		cfg.Session.TTLMinutes = 24 * 60
	}
	if cfg.Session.MaxConcurrentSessions <= 0 {
		cfg.Session.MaxConcurrentSessions = 5
	}
	if cfg.Login.WindowMinutes <= 0 {
		cfg.Login.WindowMinutes = 15
	}
	if cfg.Login.MaxAccountFailures <= 0 {
		cfg.Login.MaxAccountFailures = 5
	}
	if cfg.Login.MaxAddressAttempts <= 0 {
		cfg.Login.MaxAddressAttempts = 20
	}
	if cfg.Login.LockoutDurationMinutes <= 0 {
		cfg.Login.LockoutDurationMinutes = 30
	}
}

func read(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetConfigType("yml")

	var config Configuration

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}

	return &config, nil
}
