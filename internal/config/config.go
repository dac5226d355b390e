package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	State      StateConfig      `mapstructure:"state"`
	Twilio     TwilioConfig     `mapstructure:"twilio"`
	Voice      VoiceConfig      `mapstructure:"voice"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Seed       SeedConfig       `mapstructure:"seed"`
	Redemption RedemptionConfig `mapstructure:"redemption"`
	Admin      AdminConfig      `mapstructure:"admin"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	Mode                    string        `mapstructure:"mode"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	// PublicURL overrides request-derived absolute URLs when set, e.g.
	// "https://voice.example.com". Needed behind tunnels whose Host header
	// does not match the externally reachable name.
	PublicURL string `mapstructure:"public_url"`
}

type DatabaseConfig struct {
	// Driver selects the code store backend: "postgres", "sqlite" or
	// "memory" (no durability; local experiments only).
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DB              string        `mapstructure:"db"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type SQLiteConfig struct {
	Path        string `mapstructure:"path"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend"` // "redis" | "memory"
}

type TwilioConfig struct {
	AccountSID        string `mapstructure:"account_sid"`
	AuthToken         string `mapstructure:"auth_token"`
	PhoneNumber       string `mapstructure:"phone_number"`
	ValidateSignature bool   `mapstructure:"validate_signature"`
}

type VoiceConfig struct {
	Language      string `mapstructure:"language"`
	NumDigits     int    `mapstructure:"num_digits"`
	GatherTimeout int    `mapstructure:"gather_timeout"`
}

type AudioConfig struct {
	Dir string `mapstructure:"dir"`
}

type SeedConfig struct {
	File        string `mapstructure:"file"`
	LoadOnStart bool   `mapstructure:"load_on_start"`
}

type RedemptionConfig struct {
	// ConsumeBeforePlay withholds audio until the quota consume succeeds.
	// False keeps play-then-count order: the caller always hears the audio
	// and a lost consume race is only logged.
	ConsumeBeforePlay bool          `mapstructure:"consume_before_play"`
	ConsumeDedupTTL   time.Duration `mapstructure:"consume_dedup_ttl"`
}

type AdminConfig struct {
	// Token guards the admin API; an empty token leaves it open.
	Token string `mapstructure:"token"`
}

type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.yaml, overlays environment variables, and returns Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment variable override: TWILIO_ACCOUNT_SID -> twilio.account_sid
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_shutdown_timeout", "15s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "local_dev.db")
	v.SetDefault("database.sqlite.auto_migrate", true)
	v.SetDefault("state.backend", "memory")
	v.SetDefault("voice.language", "ja-JP")
	v.SetDefault("voice.num_digits", 4)
	v.SetDefault("voice.gather_timeout", 10)
	v.SetDefault("audio.dir", "audio")
	v.SetDefault("seed.file", "serial_codes.json")
	v.SetDefault("seed.load_on_start", true)
	v.SetDefault("redemption.consume_dedup_ttl", "24h")
	v.SetDefault("log.format", "console")
}
