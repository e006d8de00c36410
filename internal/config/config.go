package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// JWTConfig defines JWT specific configuration
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// UploadConfig tunes the chunked-upload coordinator.
type UploadConfig struct {
	// SessionTTL is how long an uploading session may sit idle before it
	// is marked expired.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// MaxDirectSize caps the single-request upload path, checked after
	// the bytes are durably stored.
	MaxDirectSize int64 `mapstructure:"max_direct_size"`
	// MaxChunkSize caps the declared per-chunk byte length.
	MaxChunkSize int64 `mapstructure:"max_chunk_size"`
}

type LoggingConfig struct {
	Mode string `mapstructure:"mode"` // "production" or "development"
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	// Nested keys map to env vars, e.g. upload.session_ttl -> UPLOAD_SESSION_TTL
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("database.uri", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "witchly")
	viper.SetDefault("s3.use_ssl", true)
	viper.SetDefault("jwt.expiration", "1h")
	viper.SetDefault("upload.session_ttl", "30m")
	viper.SetDefault("upload.sweep_interval", "5m")
	viper.SetDefault("upload.max_direct_size", 25*1024*1024)
	viper.SetDefault("upload.max_chunk_size", 16*1024*1024)
	viper.SetDefault("logging.mode", "development")

	err = viper.ReadInConfig()
	// Missing config file is fine; env vars and defaults still apply.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}
