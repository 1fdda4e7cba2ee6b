package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	AdminKey        string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64         `mapstructure:"MAX_UPLOAD_MB"`

	LocalStore     string `mapstructure:"LOCAL_STORE"`
	LocalStorePath string `mapstructure:"LOCAL_STORE_PATH"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`

	RoleCacheTTL time.Duration `mapstructure:"ROLE_CACHE_TTL"`
	DraftTTL     time.Duration `mapstructure:"DRAFT_TTL"`
	PollSchedule string        `mapstructure:"POLL_SCHEDULE"`

	GeocoderEnabled bool   `mapstructure:"GEOCODER_ENABLED"`
	GeocoderURL     string `mapstructure:"GEOCODER_URL"`
	CountryDefault  string `mapstructure:"COUNTRY_DEFAULT"`
}

func Load() (Config, error) {
	return load(".env")
}

func load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 20)
	v.SetDefault("LOCAL_STORE", "badger")
	v.SetDefault("LOCAL_STORE_PATH", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ROLE_CACHE_TTL", "5m")
	v.SetDefault("DRAFT_TTL", "30m")
	v.SetDefault("POLL_SCHEDULE", "@every 30s")
	v.SetDefault("GEOCODER_ENABLED", false)
	v.SetDefault("GEOCODER_URL", "https://nominatim.openstreetmap.org")
	v.SetDefault("COUNTRY_DEFAULT", "대한민국")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
